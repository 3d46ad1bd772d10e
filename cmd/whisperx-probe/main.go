// Command whisperx-probe checks a running API and transcribes one file through it.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"whisperx-api/internal/model"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	defaultURL := os.Getenv("WHISPERX_API_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8000"
	}
	apiURL := flag.String("url", defaultURL, "base URL of the API")
	diarize := flag.Bool("diarize", false, "request speaker diarization")
	noAlign := flag.Bool("no-align", false, "skip word alignment")
	out := flag.String("out", "result.json", "where to write the full JSON response")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [audio-file]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	base := strings.TrimRight(*apiURL, "/")
	client := &http.Client{}

	if err := printHealth(ctx, client, base); err != nil {
		if isConnectionError(err) {
			fmt.Fprintf(os.Stderr, "cannot connect to %s: is the API running?\n", base)
			fmt.Fprintln(os.Stderr, "start it with: docker compose up")
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
		os.Exit(1)
	}

	if flag.NArg() < 1 {
		flag.Usage()
		return
	}

	if err := transcribe(ctx, client, base, flag.Arg(0), !*noAlign, *diarize, *out); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printHealth(ctx context.Context, client *http.Client, base string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Printf("health: %d\n", resp.StatusCode)
	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(body))
	}
	fmt.Println()
	return nil
}

func transcribe(ctx context.Context, client *http.Client, base, path string, align, diarize bool, out string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	q := url.Values{}
	q.Set("align", strconv.FormatBool(align))
	q.Set("diarize", strconv.FormatBool(diarize))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/transcribe/?"+q.Encode(), &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	fmt.Printf("transcribing %s (align=%t, diarize=%t)\n", path, align, diarize)
	fmt.Println("processing, this may take a while...")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Printf("status: %d\n", resp.StatusCode)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed: %s", strings.TrimSpace(string(raw)))
	}

	var result model.TranscriptionResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	printSummary(os.Stdout, result)

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return err
	}
	if err := os.WriteFile(out, pretty.Bytes(), 0o644); err != nil {
		return err
	}
	fmt.Printf("full JSON response saved to %s\n", out)
	return nil
}

func printSummary(w io.Writer, result model.TranscriptionResponse) {
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "text:\n%s\n\n", strings.TrimSpace(result.Text))
	language := result.Language
	if language == "" {
		language = "N/A"
	}
	fmt.Fprintf(w, "language: %s\n", language)
	fmt.Fprintf(w, "segments: %d\n", len(result.Segments))
	if len(result.WordSegments) > 0 {
		fmt.Fprintf(w, "words:    %d\n", len(result.WordSegments))
	}
	if speakers := sortedSpeakers(result); len(speakers) > 0 {
		fmt.Fprintf(w, "speakers: %d (%s)\n", len(speakers), strings.Join(speakers, ", "))
	}
	fmt.Fprintln(w, strings.Repeat("=", 60))
}

func sortedSpeakers(result model.TranscriptionResponse) []string {
	seen := map[string]struct{}{}
	for _, seg := range result.Diarization {
		if seg.Speaker != "" {
			seen[seg.Speaker] = struct{}{}
		}
	}
	speakers := make([]string, 0, len(seen))
	for s := range seen {
		speakers = append(speakers, s)
	}
	sort.Strings(speakers)
	return speakers
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
