package worker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"whisperx-api/internal/asr"
	"whisperx-api/internal/audio"
	"whisperx-api/internal/transcript"
)

type fakeWorker struct {
	t *testing.T

	mu       sync.Mutex
	loads    []loadRequest
	released []string
	fields   map[string]string
	audioLen int
}

func (f *fakeWorker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/health":
		_, _ = io.WriteString(w, `{"status":"ok","cuda_available":true}`)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/models":
		var req loadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			f.t.Fatalf("decode load request: %v", err)
		}
		f.loads = append(f.loads, req)
		if req.Kind == kindDiarization && req.AuthToken == "" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"detail":"auth token required"}`)
			return
		}
		_, _ = io.WriteString(w, `{"id":"`+req.Kind+`-1","device":"`+req.Device+`"}`)
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/v1/models/"):
		f.released = append(f.released, strings.TrimPrefix(r.URL.Path, "/v1/models/"))
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/v1/models/"):
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			f.t.Fatalf("ParseMultipartForm: %v", err)
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()
		f.fields = map[string]string{}
		for key, values := range r.MultipartForm.Value {
			f.fields[key] = values[0]
		}
		file, _, err := r.FormFile("audio")
		if err != nil {
			f.t.Fatalf("missing audio part: %v", err)
		}
		data, _ := io.ReadAll(file)
		f.audioLen = len(data)

		switch {
		case strings.HasSuffix(r.URL.Path, "/transcribe"):
			_, _ = io.WriteString(w, `{"language":"en","segments":[{"start":0.0,"end":1.5,"text":" Hello there."}]}`)
		case strings.HasSuffix(r.URL.Path, "/align"):
			_, _ = io.WriteString(w, `{"segments":[{"start":0.1,"end":1.4,"text":" Hello there.","words":[{"word":"Hello","start":0.1,"end":0.5,"score":0.9},{"word":"there.","start":0.6,"end":1.4,"score":0.8}]}],"word_segments":[{"word":"Hello","start":0.1,"end":0.5,"score":0.9},{"word":"there.","start":0.6,"end":1.4,"score":0.8}]}`)
		case strings.HasSuffix(r.URL.Path, "/diarize"):
			_, _ = io.WriteString(w, `{"segments":[{"start":0.0,"end":2.0,"speaker":"SPEAKER_00"}]}`)
		default:
			http.NotFound(w, r)
		}
	default:
		http.NotFound(w, r)
	}
}

func testBuffer() *audio.Buffer {
	return audio.NewBuffer(make([]int16, 1600))
}

func TestHealthReportsCUDA(t *testing.T) {
	ts := httptest.NewServer(&fakeWorker{t: t})
	defer ts.Close()

	var observed []string
	c := New(ts.URL, ts.Client(), WithObserver(func(endpoint string, status int, _ time.Duration) {
		observed = append(observed, endpoint)
		if status != http.StatusOK {
			t.Fatalf("unexpected observed status: %d", status)
		}
	}))
	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if !h.CUDAAvailable {
		t.Fatal("expected cuda_available")
	}
	if len(observed) != 1 || observed[0] != "worker_health" {
		t.Fatalf("unexpected observations: %v", observed)
	}
}

func TestTranscriberSendsAudioAndOptions(t *testing.T) {
	fw := &fakeWorker{t: t}
	ts := httptest.NewServer(fw)
	defer ts.Close()

	loader := New(ts.URL, ts.Client()).Loader(asr.Runtime{Device: "cuda", ComputeType: "float16"})
	tr, err := loader.LoadTranscriber(context.Background(), "large-v3")
	if err != nil {
		t.Fatalf("LoadTranscriber() error = %v", err)
	}
	if tr.ID() != "transcription-1" {
		t.Fatalf("unexpected id: %q", tr.ID())
	}
	if fw.loads[0].Name != "large-v3" || fw.loads[0].ComputeType != "float16" {
		t.Fatalf("unexpected load request: %+v", fw.loads[0])
	}

	res, err := tr.Transcribe(context.Background(), testBuffer(), asr.TranscribeOptions{BatchSize: 16, Language: "en"})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if res.Language != "en" || len(res.Segments) != 1 || res.Segments[0].End != 1.5 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if fw.fields["batch_size"] != "16" || fw.fields["language"] != "en" {
		t.Fatalf("unexpected fields: %v", fw.fields)
	}
	if fw.audioLen != 44+1600*2 {
		t.Fatalf("unexpected audio payload size: %d", fw.audioLen)
	}
}

func TestAlignModelLifecycle(t *testing.T) {
	fw := &fakeWorker{t: t}
	ts := httptest.NewServer(fw)
	defer ts.Close()

	loader := New(ts.URL, ts.Client()).Loader(asr.Runtime{Device: "cpu", ComputeType: "int8"})
	model, err := loader.LoadAlignModel(context.Background(), "en")
	if err != nil {
		t.Fatalf("LoadAlignModel() error = %v", err)
	}
	if fw.loads[0].Language != "en" || fw.loads[0].Kind != kindAlignment {
		t.Fatalf("unexpected load request: %+v", fw.loads[0])
	}

	aligned, err := model.Align(context.Background(), []transcript.Segment{{Start: 0, End: 1.5, Text: " Hello there."}}, testBuffer())
	if err != nil {
		t.Fatalf("Align() error = %v", err)
	}
	if len(aligned.WordSegments) != 2 || *aligned.WordSegments[1].Score != 0.8 {
		t.Fatalf("unexpected alignment: %+v", aligned)
	}
	if fw.fields["return_char_alignments"] != "false" || !strings.Contains(fw.fields["segments"], "Hello there.") {
		t.Fatalf("unexpected fields: %v", fw.fields)
	}

	if err := model.Release(context.Background()); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := model.Release(context.Background()); err != nil {
		t.Fatalf("second Release() error = %v", err)
	}
	if len(fw.released) != 1 || fw.released[0] != "alignment-1" {
		t.Fatalf("expected exactly one release, got %v", fw.released)
	}
}

func TestDiarizeLoadErrorCarriesDetail(t *testing.T) {
	ts := httptest.NewServer(&fakeWorker{t: t})
	defer ts.Close()

	loader := New(ts.URL, ts.Client()).Loader(asr.Runtime{Device: "cpu"})
	_, err := loader.LoadDiarizeModel(context.Background(), "")
	if err == nil {
		t.Fatal("expected error")
	}
	upErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if upErr.StatusCode != http.StatusUnauthorized || upErr.Body != "auth token required" {
		t.Fatalf("unexpected error: %+v", upErr)
	}
}

func TestDiarizeReturnsTurns(t *testing.T) {
	ts := httptest.NewServer(&fakeWorker{t: t})
	defer ts.Close()

	loader := New(ts.URL, ts.Client()).Loader(asr.Runtime{Device: "cpu"})
	model, err := loader.LoadDiarizeModel(context.Background(), "hf_token")
	if err != nil {
		t.Fatalf("LoadDiarizeModel() error = %v", err)
	}
	defer model.Release(context.Background())

	turns, err := model.Diarize(context.Background(), testBuffer())
	if err != nil {
		t.Fatalf("Diarize() error = %v", err)
	}
	if len(turns) != 1 || turns[0].Speaker != "SPEAKER_00" {
		t.Fatalf("unexpected turns: %+v", turns)
	}
}
