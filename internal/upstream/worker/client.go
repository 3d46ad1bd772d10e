// Package worker talks to the model worker: the process that hosts the
// transcription, alignment and diarization models and owns the accelerator.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type ObserverFunc func(endpoint string, status int, duration time.Duration)

type Option func(*Client)

type Client struct {
	baseURL    string
	httpClient *http.Client
	observer   ObserverFunc
}

type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("worker request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("worker request failed with status %d: %s", e.StatusCode, e.Body)
}

type Health struct {
	Status        string `json:"status"`
	CUDAAvailable bool   `json:"cuda_available"`
}

func WithObserver(observer ObserverFunc) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

func New(baseURL string, httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	if err := c.doJSON(ctx, "health", http.MethodGet, "/health", nil, &out); err != nil {
		return Health{}, err
	}
	return out, nil
}

type loadRequest struct {
	Kind        string `json:"kind"`
	Name        string `json:"name,omitempty"`
	Language    string `json:"language,omitempty"`
	Device      string `json:"device"`
	ComputeType string `json:"compute_type,omitempty"`
	AuthToken   string `json:"auth_token,omitempty"`
}

type loadResponse struct {
	ID     string `json:"id"`
	Device string `json:"device"`
}

func (c *Client) loadModel(ctx context.Context, req loadRequest) (loadResponse, error) {
	var out loadResponse
	if err := c.doJSON(ctx, "load_"+req.Kind, http.MethodPost, "/v1/models", req, &out); err != nil {
		return loadResponse{}, err
	}
	if out.ID == "" {
		return loadResponse{}, fmt.Errorf("worker returned no model id for %s", req.Kind)
	}
	return out, nil
}

func (c *Client) releaseModel(ctx context.Context, kind, id string) error {
	err := c.doJSON(ctx, "release_"+kind, http.MethodDelete, "/v1/models/"+url.PathEscape(id), nil, nil)
	if upErr, ok := err.(*Error); ok && upErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *Client) runModel(ctx context.Context, endpoint, id string, fields map[string]string, wav []byte, out any) error {
	started := time.Now()
	statusCode := 0
	defer func() { c.observe(endpoint, statusCode, time.Since(started)) }()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return err
		}
	}
	part, err := writer.CreateFormFile("audio", "audio.wav")
	if err != nil {
		return err
	}
	if _, err := part.Write(wav); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	path := "/v1/models/" + url.PathEscape(id) + "/" + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body.Bytes()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	statusCode, err = c.do(req, out)
	return err
}

func (c *Client) doJSON(ctx context.Context, endpoint, method, path string, in, out any) error {
	started := time.Now()
	statusCode := 0
	defer func() { c.observe(endpoint, statusCode, time.Since(started)) }()

	var reqBody io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	statusCode, err = c.do(req, out)
	return err
}

func (c *Client) do(req *http.Request, out any) (int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &Error{StatusCode: resp.StatusCode, Body: errorDetail(respBody)}
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return resp.StatusCode, fmt.Errorf("invalid worker response from %s: %w", req.URL.Path, err)
	}
	return resp.StatusCode, nil
}

func (c *Client) observe(endpoint string, status int, duration time.Duration) {
	if c.observer != nil {
		c.observer("worker_"+endpoint, status, duration)
	}
}

// errorDetail prefers a {"detail": "..."} message over the raw body.
func errorDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Detail != "" {
		return truncateBody(parsed.Detail)
	}
	return truncateBody(string(body))
}

func truncateBody(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4096 {
		return s
	}
	return s[:4096] + "..."
}
