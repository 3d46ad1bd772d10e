// Package asr defines the contracts of the external speech models. The
// transcription model is loaded once and shared; alignment and diarization
// models are acquired per request and must be released after use.
package asr

import (
	"context"

	"whisperx-api/internal/audio"
	"whisperx-api/internal/transcript"
)

type TranscribeOptions struct {
	BatchSize int
	// Language forces the decoding language; empty means auto-detect.
	Language string
}

// Transcriber is safe for concurrent use by many requests.
type Transcriber interface {
	Transcribe(ctx context.Context, buf *audio.Buffer, opts TranscribeOptions) (transcript.Result, error)
}

type AlignModel interface {
	Align(ctx context.Context, segments []transcript.Segment, buf *audio.Buffer) (transcript.Alignment, error)
	Release(ctx context.Context) error
}

type AlignLoader interface {
	LoadAlignModel(ctx context.Context, language string) (AlignModel, error)
}

type DiarizeModel interface {
	Diarize(ctx context.Context, buf *audio.Buffer) ([]transcript.SpeakerTurn, error)
	Release(ctx context.Context) error
}

type DiarizeLoader interface {
	LoadDiarizeModel(ctx context.Context, authToken string) (DiarizeModel, error)
}
