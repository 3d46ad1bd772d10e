package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger, sync, err := newWithWriter(Config{Level: "info", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("newWithWriter() error = %v", err)
	}
	logger.Debug("hidden")
	logger.Info("transcription finished", "language", "en", "segments", 3)
	_ = sync()

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %s", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal(lines[0], &entry); err != nil {
		t.Fatalf("invalid json line: %v", err)
	}
	if entry["msg"] != "transcription finished" || entry["language"] != "en" || entry["level"] != "info" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestRejectsUnknownLevelAndFormat(t *testing.T) {
	if _, _, err := New(Config{Level: "loud", Format: "json"}); err == nil {
		t.Fatal("expected level error")
	}
	if _, _, err := New(Config{Level: "info", Format: "xml"}); err == nil {
		t.Fatal("expected format error")
	}
}
