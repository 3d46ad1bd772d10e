package worker

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"whisperx-api/internal/asr"
	"whisperx-api/internal/audio"
	"whisperx-api/internal/transcript"
)

const (
	kindTranscription = "transcription"
	kindAlignment     = "alignment"
	kindDiarization   = "diarization"
)

// Loader loads models on the worker for one runtime.
type Loader struct {
	client  *Client
	runtime asr.Runtime
}

func (c *Client) Loader(rt asr.Runtime) *Loader {
	return &Loader{client: c, runtime: rt}
}

// LoadTranscriber loads the long-lived transcription model.
func (l *Loader) LoadTranscriber(ctx context.Context, name string) (*Transcriber, error) {
	resp, err := l.client.loadModel(ctx, loadRequest{
		Kind:        kindTranscription,
		Name:        name,
		Device:      l.runtime.Device,
		ComputeType: l.runtime.ComputeType,
	})
	if err != nil {
		return nil, err
	}
	return &Transcriber{handle: handle{client: l.client, kind: kindTranscription, id: resp.ID}}, nil
}

func (l *Loader) LoadAlignModel(ctx context.Context, language string) (asr.AlignModel, error) {
	resp, err := l.client.loadModel(ctx, loadRequest{
		Kind:     kindAlignment,
		Language: language,
		Device:   l.runtime.Device,
	})
	if err != nil {
		return nil, err
	}
	return &alignModel{handle: handle{client: l.client, kind: kindAlignment, id: resp.ID}}, nil
}

func (l *Loader) LoadDiarizeModel(ctx context.Context, authToken string) (asr.DiarizeModel, error) {
	resp, err := l.client.loadModel(ctx, loadRequest{
		Kind:      kindDiarization,
		Device:    l.runtime.Device,
		AuthToken: authToken,
	})
	if err != nil {
		return nil, err
	}
	return &diarizeModel{handle: handle{client: l.client, kind: kindDiarization, id: resp.ID}}, nil
}

// handle is a model resident on the worker. Release frees it, including any
// accelerator memory it holds; later calls are no-ops.
type handle struct {
	client *Client
	kind   string
	id     string

	once       sync.Once
	releaseErr error
}

func (h *handle) ID() string { return h.id }

func (h *handle) Release(ctx context.Context) error {
	h.once.Do(func() {
		h.releaseErr = h.client.releaseModel(ctx, h.kind, h.id)
	})
	return h.releaseErr
}

type Transcriber struct {
	handle
}

type transcribeResponse struct {
	Language string               `json:"language"`
	Text     string               `json:"text"`
	Segments []transcript.Segment `json:"segments"`
}

func (t *Transcriber) Transcribe(ctx context.Context, buf *audio.Buffer, opts asr.TranscribeOptions) (transcript.Result, error) {
	wav, err := buf.WAV()
	if err != nil {
		return transcript.Result{}, err
	}
	fields := map[string]string{"batch_size": strconv.Itoa(opts.BatchSize)}
	if lang := strings.TrimSpace(opts.Language); lang != "" {
		fields["language"] = lang
	}

	var resp transcribeResponse
	if err := t.client.runModel(ctx, "transcribe", t.id, fields, wav, &resp); err != nil {
		return transcript.Result{}, err
	}
	return transcript.Result{Language: resp.Language, Text: resp.Text, Segments: resp.Segments}, nil
}

type alignModel struct {
	handle
}

func (m *alignModel) Align(ctx context.Context, segments []transcript.Segment, buf *audio.Buffer) (transcript.Alignment, error) {
	wav, err := buf.WAV()
	if err != nil {
		return transcript.Alignment{}, err
	}
	encoded, err := json.Marshal(segments)
	if err != nil {
		return transcript.Alignment{}, err
	}
	fields := map[string]string{
		"segments":               string(encoded),
		"return_char_alignments": "false",
	}

	var resp transcript.Alignment
	if err := m.client.runModel(ctx, "align", m.id, fields, wav, &resp); err != nil {
		return transcript.Alignment{}, err
	}
	return resp, nil
}

type diarizeModel struct {
	handle
}

type diarizeResponse struct {
	Segments []transcript.SpeakerTurn `json:"segments"`
}

func (m *diarizeModel) Diarize(ctx context.Context, buf *audio.Buffer) ([]transcript.SpeakerTurn, error) {
	wav, err := buf.WAV()
	if err != nil {
		return nil, err
	}
	var resp diarizeResponse
	if err := m.client.runModel(ctx, "diarize", m.id, nil, wav, &resp); err != nil {
		return nil, err
	}
	return resp.Segments, nil
}
