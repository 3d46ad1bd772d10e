// Package scratch stages one upload in its own temporary directory.
package scratch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

type Dir struct {
	dir  string
	path string
}

// New writes r into a fresh directory under baseDir (the OS temp dir when
// empty). The caller must call Cleanup on every exit path.
func New(baseDir, fileName string, r io.Reader) (*Dir, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	dir := filepath.Join(baseDir, "whisperx-"+uuid.NewString())
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	d := &Dir{dir: dir, path: filepath.Join(dir, SafeName(fileName))}

	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		_ = d.Cleanup()
		return nil, fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = d.Cleanup()
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = d.Cleanup()
		return nil, fmt.Errorf("write upload: %w", err)
	}
	return d, nil
}

// Path is the staged upload.
func (d *Dir) Path() string { return d.path }

// Dir is the directory holding the upload and anything derived from it.
func (d *Dir) Dir() string { return d.dir }

// Cleanup removes the directory and everything in it.
func (d *Dir) Cleanup() error {
	if d == nil || d.dir == "" {
		return nil
	}
	return os.RemoveAll(d.dir)
}

// SafeName reduces a client-supplied file name to a single path element.
func SafeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	switch name {
	case "", ".", "..", "/":
		return "upload"
	}
	return name
}
