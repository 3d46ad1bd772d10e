package pipeline

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"
)

type BatchFile struct {
	FileName string
	Open     func() (io.ReadCloser, error)
}

// BatchItem is one file's outcome: Result when Err is nil.
type BatchItem struct {
	FileName string
	Result   Result
	Err      error
}

// ProcessBatch runs Process for each file with the same options. Items come
// back in input order and a failing file never affects its siblings.
func (s *Service) ProcessBatch(ctx context.Context, files []BatchFile, opts Options) []BatchItem {
	items := make([]BatchItem, len(files))

	var g errgroup.Group
	g.SetLimit(s.cfg.BatchConcurrency)
	for i, f := range files {
		g.Go(func() error {
			items[i] = s.processBatchFile(ctx, f, opts)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, item := range items {
		if item.Err != nil {
			failed++
		}
	}
	s.logger.Info("batch processed", "files", len(files), "failed", failed)
	return items
}

func (s *Service) processBatchFile(ctx context.Context, f BatchFile, opts Options) BatchItem {
	item := BatchItem{FileName: f.FileName}
	if f.Open == nil {
		item.Err = ErrNoFile
		return item
	}
	file, err := f.Open()
	if err != nil {
		item.Err = err
		return item
	}
	defer func() { _ = file.Close() }()

	item.Result, item.Err = s.Process(ctx, Input{File: file, FileName: f.FileName, Options: opts})
	if item.Err != nil {
		s.logger.Warn("batch file failed", "file", f.FileName, "error", item.Err)
	}
	return item
}
