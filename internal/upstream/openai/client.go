// Package openai serves the transcription stage from an OpenAI-compatible
// /audio/transcriptions endpoint.
package openai

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"whisperx-api/internal/asr"
	"whisperx-api/internal/audio"
	"whisperx-api/internal/transcript"
)

type ObserverFunc func(endpoint string, status int, duration time.Duration)

type Option func(*Client)

type Client struct {
	api      *goopenai.Client
	model    string
	observer ObserverFunc
}

func WithObserver(observer ObserverFunc) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

func New(baseURL, apiKey, model string, httpClient *http.Client, opts ...Option) *Client {
	cfg := goopenai.DefaultConfig(strings.TrimSpace(apiKey))
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	c := &Client{
		api:   goopenai.NewClientWithConfig(cfg),
		model: strings.TrimSpace(model),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Transcribe implements asr.Transcriber. Batch size has no meaning for a
// remote endpoint and is ignored.
func (c *Client) Transcribe(ctx context.Context, buf *audio.Buffer, opts asr.TranscribeOptions) (transcript.Result, error) {
	wav, err := buf.WAV()
	if err != nil {
		return transcript.Result{}, err
	}

	started := time.Now()
	resp, err := c.api.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:    c.model,
		FilePath: "audio.wav",
		Reader:   bytes.NewReader(wav),
		Format:   goopenai.AudioResponseFormatVerboseJSON,
		Language: strings.TrimSpace(opts.Language),
	})
	c.observe("audio_transcriptions", err, time.Since(started))
	if err != nil {
		return transcript.Result{}, err
	}

	segments := make([]transcript.Segment, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		segments = append(segments, transcript.Segment{Start: seg.Start, End: seg.End, Text: seg.Text})
	}
	return transcript.Result{
		Language: LanguageCode(resp.Language),
		Text:     strings.TrimSpace(resp.Text),
		Segments: segments,
	}, nil
}

func (c *Client) CheckModels(ctx context.Context) error {
	started := time.Now()
	_, err := c.api.ListModels(ctx)
	c.observe("models", err, time.Since(started))
	return err
}

func (c *Client) observe(endpoint string, err error, duration time.Duration) {
	if c.observer == nil {
		return
	}
	c.observer(endpoint, StatusCode(err), duration)
}

// StatusCode extracts the HTTP status from a go-openai error; 200 for nil and
// 0 when no response was received.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
