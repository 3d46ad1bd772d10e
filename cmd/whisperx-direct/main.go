// Command whisperx-direct runs transcription, alignment and diarization for
// one file straight against the model worker, without the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"whisperx-api/internal/asr"
	"whisperx-api/internal/audio"
	"whisperx-api/internal/config"
	"whisperx-api/internal/transcript"
	"whisperx-api/internal/transcription"
	"whisperx-api/internal/upstream/worker"

	"github.com/joho/godotenv"
)

const (
	previewSegments = 3
	previewWords    = 10
)

type output struct {
	Language     string               `json:"language"`
	Text         string               `json:"text"`
	Segments     []transcript.Segment `json:"segments"`
	WordSegments []transcript.Word    `json:"word_segments"`
}

func main() {
	_ = godotenv.Load()

	hfToken := flag.String("hf-token", os.Getenv("HF_TOKEN"), "diarization credential; diarization is skipped when empty")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-hf-token TOKEN] <audio-file>\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, flag.Arg(0), strings.TrimSpace(*hfToken), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("done")
}

func run(ctx context.Context, cfg config.Config, path, hfToken string, w io.Writer) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("file %q not found", path)
	}

	client := worker.New(cfg.WorkerBaseURL, &http.Client{Timeout: cfg.UpstreamTimeout})
	health, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("probe model worker at %s: %w", cfg.WorkerBaseURL, err)
	}
	rt := asr.SelectRuntime(health.CUDAAvailable, cfg.Device, cfg.ComputeType)
	loader := client.Loader(rt)

	fmt.Fprintf(w, "device: %s\ncompute type: %s\n\n", rt.Device, rt.ComputeType)
	if hfToken == "" {
		fmt.Fprintln(w, "warning: no HF_TOKEN provided, diarization will be skipped")
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "audio file: %s\n%s\n\n", path, strings.Repeat("=", 60))

	buf, err := audio.NewDecoder(cfg.FFmpegPath).Decode(ctx, path)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "step 1: transcribing")
	model, err := loader.LoadTranscriber(ctx, cfg.WhisperModel)
	if err != nil {
		return fmt.Errorf("load transcription model: %w", err)
	}
	defer release(model)

	raw, err := transcription.New(model, cfg.BatchSize).Transcribe(ctx, buf, "")
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "  language detected: %s\n  segments: %d\n\n", raw.Language, len(raw.Segments))
	fmt.Fprintln(w, "raw segments (before alignment):")
	for _, seg := range raw.Segments[:min(previewSegments, len(raw.Segments))] {
		fmt.Fprintf(w, "  [%.2fs - %.2fs] %s\n", seg.Start, seg.End, seg.Text)
	}
	if n := len(raw.Segments) - previewSegments; n > 0 {
		fmt.Fprintf(w, "  ... and %d more\n", n)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "step 2: aligning")
	aligned, err := align(ctx, loader, raw, buf)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "  word-level timestamps: %d words\n\n", len(aligned.WordSegments))
	fmt.Fprintf(w, "word segments (first %d words):\n", previewWords)
	for _, word := range aligned.WordSegments[:min(previewWords, len(aligned.WordSegments))] {
		fmt.Fprintf(w, "  [%.2fs - %.2fs] %s (score: %.2f)\n", deref(word.Start), deref(word.End), word.Word, deref(word.Score))
	}
	if n := len(aligned.WordSegments) - previewWords; n > 0 {
		fmt.Fprintf(w, "  ... and %d more words\n", n)
	}
	fmt.Fprintln(w)

	final := output{
		Language:     raw.Language,
		Text:         raw.Text,
		Segments:     aligned.Segments,
		WordSegments: aligned.WordSegments,
	}

	var speakers []string
	if hfToken != "" {
		fmt.Fprintln(w, "step 3: diarizing")
		turns, err := diarize(ctx, loader, hfToken, buf)
		if err != nil {
			return err
		}
		final.Segments, final.WordSegments = transcript.AssignSpeakers(turns, final.Segments, final.WordSegments)
		speakers = transcript.Speakers(final.Segments)
		fmt.Fprintf(w, "  speakers detected: %d (%s)\n\n", len(speakers), strings.Join(speakers, ", "))
		fmt.Fprintln(w, "final segments with speakers:")
		for _, seg := range final.Segments {
			speaker := seg.Speaker
			if speaker == "" {
				speaker = "UNKNOWN"
			}
			fmt.Fprintf(w, "  [%.2fs - %.2fs] [%s] %s\n", seg.Start, seg.End, speaker, seg.Text)
		}
	} else {
		fmt.Fprintln(w, "step 3: skipped (no HF_TOKEN)")
	}

	fmt.Fprintf(w, "\n%s\nlanguage: %s\ntext:\n  %s\n\n", strings.Repeat("=", 60), final.Language, final.Text)
	fmt.Fprintf(w, "total segments: %d\ntotal words: %d\n", len(final.Segments), len(final.WordSegments))
	if hfToken != "" {
		fmt.Fprintf(w, "speakers: %d\n", len(speakers))
	}

	outPath := path + ".json"
	data, err := json.MarshalIndent(final, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nfull result saved to %s\n", outPath)
	return nil
}

func align(ctx context.Context, loader asr.AlignLoader, raw transcript.Result, buf *audio.Buffer) (transcript.Alignment, error) {
	model, err := loader.LoadAlignModel(ctx, raw.Language)
	if err != nil {
		return transcript.Alignment{}, fmt.Errorf("load align model: %w", err)
	}
	defer release(model)
	return model.Align(ctx, raw.Segments, buf)
}

func diarize(ctx context.Context, loader asr.DiarizeLoader, token string, buf *audio.Buffer) ([]transcript.SpeakerTurn, error) {
	model, err := loader.LoadDiarizeModel(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("load diarization model: %w", err)
	}
	defer release(model)
	return model.Diarize(ctx, buf)
}

func release(m interface{ Release(context.Context) error }) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.Release(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: release model: %v\n", err)
	}
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
