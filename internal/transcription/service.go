package transcription

import (
	"context"
	"strings"

	"whisperx-api/internal/asr"
	"whisperx-api/internal/audio"
	"whisperx-api/internal/transcript"
)

const unknownLanguage = "unknown"

// Service fronts the shared transcription model. It is constructed once at
// startup and handed to every request.
type Service struct {
	model     asr.Transcriber
	batchSize int
}

func New(model asr.Transcriber, batchSize int) *Service {
	return &Service{model: model, batchSize: batchSize}
}

func (s *Service) Transcribe(ctx context.Context, buf *audio.Buffer, language string) (transcript.Result, error) {
	res, err := s.model.Transcribe(ctx, buf, asr.TranscribeOptions{
		BatchSize: s.batchSize,
		Language:  strings.TrimSpace(language),
	})
	if err != nil {
		return transcript.Result{}, err
	}

	if res.Language == "" {
		res.Language = unknownLanguage
	}
	if res.Segments == nil {
		res.Segments = []transcript.Segment{}
	}
	if res.Text == "" {
		res.Text = transcript.JoinText(res.Segments)
	}
	return res, nil
}
