package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"whisperx-api/internal/model"
	"whisperx-api/internal/transcript"
)

func TestTranscribeWritesResponse(t *testing.T) {
	var query string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file part: %v", err)
		}
		_, _ = io.WriteString(w, `{"text":"hi","segments":[],"language":"en"}`)
	}))
	defer ts.Close()

	dir := t.TempDir()
	audioPath := filepath.Join(dir, "a.wav")
	if err := os.WriteFile(audioPath, []byte("RIFF"), 0o600); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "result.json")

	if err := transcribe(context.Background(), ts.Client(), ts.URL, audioPath, true, false, out); err != nil {
		t.Fatalf("transcribe() error = %v", err)
	}
	if query != "align=true&diarize=false" {
		t.Fatalf("unexpected query: %q", query)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if !strings.Contains(string(data), `"language": "en"`) {
		t.Fatalf("unexpected saved JSON: %s", data)
	}
}

func TestTranscribeReportsErrorBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"detail":"Diarization requires HF_TOKEN environment variable to be set"}`)
	}))
	defer ts.Close()

	audioPath := filepath.Join(t.TempDir(), "a.wav")
	_ = os.WriteFile(audioPath, []byte("RIFF"), 0o600)

	err := transcribe(context.Background(), ts.Client(), ts.URL, audioPath, true, true, filepath.Join(t.TempDir(), "r.json"))
	if err == nil || !strings.Contains(err.Error(), "HF_TOKEN") {
		t.Fatalf("expected detail in error, got %v", err)
	}
}

func TestPrintSummaryListsSortedSpeakers(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, model.TranscriptionResponse{
		Text:     "a b",
		Language: "en",
		Segments: make([]transcript.Segment, 3),
		Diarization: []transcript.Segment{
			{Speaker: "SPEAKER_01"}, {Speaker: "SPEAKER_00"}, {Speaker: "SPEAKER_01"},
		},
	})
	if !strings.Contains(buf.String(), "speakers: 2 (SPEAKER_00, SPEAKER_01)") {
		t.Fatalf("unexpected summary:\n%s", buf.String())
	}
}

func TestConnectionErrorDetection(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	err := printHealth(context.Background(), http.DefaultClient, url)
	if err == nil || !isConnectionError(err) {
		t.Fatalf("expected connection error, got %v", err)
	}
}
