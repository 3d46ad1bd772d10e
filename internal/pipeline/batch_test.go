package pipeline

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"whisperx-api/internal/audio"
)

func openString(s string) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(s)), nil
	}
}

type selectiveDecoder struct {
	fail string
	next Decoder
}

func (d *selectiveDecoder) Decode(ctx context.Context, path string) (*audio.Buffer, error) {
	if filepath.Base(path) == d.fail {
		return nil, errors.New("invalid data found when processing input")
	}
	return d.next.Decode(ctx, path)
}

func TestProcessBatchIsolatesFailures(t *testing.T) {
	h := newHarness(t)
	unreadable := errors.New("multipart: file part truncated")
	files := []BatchFile{
		{FileName: "one.wav", Open: openString("1")},
		{FileName: "two.wav", Open: func() (io.ReadCloser, error) { return nil, unreadable }},
		{FileName: "three.wav", Open: openString("3")},
		{FileName: "", Open: openString("4")},
	}

	items := h.service("").ProcessBatch(context.Background(), files, Options{Align: true})

	if len(items) != len(files) {
		t.Fatalf("expected %d items, got %d", len(files), len(items))
	}
	for i, want := range []string{"one.wav", "two.wav", "three.wav", ""} {
		if items[i].FileName != want {
			t.Fatalf("item %d out of order: %q", i, items[i].FileName)
		}
	}
	if items[0].Err != nil || items[2].Err != nil {
		t.Fatalf("unexpected errors: %v %v", items[0].Err, items[2].Err)
	}
	if items[0].Result.Text == "" || len(items[2].Result.WordSegments) != 4 {
		t.Fatalf("unexpected successful results: %+v", items[0].Result)
	}
	if !errors.Is(items[1].Err, unreadable) {
		t.Fatalf("expected open error, got %v", items[1].Err)
	}
	if !errors.Is(items[3].Err, ErrNoFile) {
		t.Fatalf("expected ErrNoFile, got %v", items[3].Err)
	}
	h.assertScratchEmpty(t)
}

func TestProcessBatchDecodeFailureOnlyAffectsThatFile(t *testing.T) {
	h := newHarness(t)
	svc := h.service("")
	svc.decoder = &selectiveDecoder{fail: "broken.mp3", next: h.decoder}

	items := svc.ProcessBatch(context.Background(), []BatchFile{
		{FileName: "ok.wav", Open: openString("a")},
		{FileName: "broken.mp3", Open: openString("b")},
	}, Options{})

	if items[0].Err != nil || items[1].Err == nil {
		t.Fatalf("unexpected statuses: %v / %v", items[0].Err, items[1].Err)
	}
}
