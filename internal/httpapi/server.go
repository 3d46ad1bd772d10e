package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"whisperx-api/internal/config"
	"whisperx-api/internal/model"
	"whisperx-api/internal/pipeline"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const serviceName = "WhisperX API"

var features = []string{"transcription", "alignment", "diarization"}

type PipelineService interface {
	Process(ctx context.Context, in pipeline.Input) (pipeline.Result, error)
	ProcessBatch(ctx context.Context, files []pipeline.BatchFile, opts pipeline.Options) []pipeline.BatchItem
	DiarizationAvailable() bool
}

type MetricsObserver interface {
	ObserveHTTP(route, method string, status int, duration time.Duration)
	IncBatchItem(status string)
}

// Status is what the service reports about its runtime on / and /health.
type Status struct {
	Device        string
	Model         string
	CUDAAvailable bool
	ModelLoaded   bool
}

type Dependencies struct {
	Pipeline       PipelineService
	Status         Status
	Metrics        MetricsObserver
	MetricsHandler http.Handler
}

type server struct {
	cfg          config.Config
	logger       *slog.Logger
	pipeline     PipelineService
	status       Status
	metrics      MetricsObserver
	metricsRoute http.Handler
}

type ctxKey string

const (
	requestIDHeader  = "X-Request-Id"
	requestIDContext = ctxKey("request_id")
	maxMemoryBytes   = 8 << 20

	diarizationUnavailableDetail = "Diarization requires HF_TOKEN environment variable to be set"
)

func NewServer(cfg config.Config, logger *slog.Logger, deps Dependencies) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Pipeline == nil {
		panic("httpapi: pipeline is required")
	}

	s := &server{
		cfg:          cfg,
		logger:       logger,
		pipeline:     deps.Pipeline,
		status:       deps.Status,
		metrics:      deps.Metrics,
		metricsRoute: deps.MetricsHandler,
	}

	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	if s.metricsRoute != nil {
		r.Handle("/metrics", s.metricsRoute)
	}
	r.Post("/transcribe/", s.handleTranscribe)
	r.Post("/transcribe/batch/", s.handleTranscribeBatch)

	return r
}

func (s *server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.RootResponse{
		Status:   "healthy",
		Service:  serviceName,
		Device:   s.status.Device,
		Model:    s.status.Model,
		Features: features,
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.HealthResponse{
		Status:               "healthy",
		CUDAAvailable:        s.status.CUDAAvailable,
		Device:               s.status.Device,
		ModelLoaded:          s.status.ModelLoaded,
		DiarizationAvailable: s.pipeline.DiarizationAvailable(),
	})
}

func (s *server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	opts, err := parseOptions(r)
	if err != nil {
		s.writeError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}

	file, header, form, err := s.readMultipartAudio(w, r)
	if err != nil {
		cleanupMultipartForm(form)
		s.handleMultipartReadError(w, r, err)
		return
	}
	defer cleanupMultipartForm(form)
	defer func() { _ = file.Close() }()

	result, err := s.pipeline.Process(r.Context(), pipeline.Input{
		File:     file,
		FileName: header.Filename,
		Options:  opts,
	})
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTranscriptionResponse(result))
}

func (s *server) handleTranscribeBatch(w http.ResponseWriter, r *http.Request) {
	opts, err := parseOptions(r)
	if err != nil {
		s.writeError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(min(s.cfg.MaxUploadBytes, maxMemoryBytes)); err != nil {
		s.handleMultipartReadError(w, r, err)
		return
	}
	defer cleanupMultipartForm(r.MultipartForm)

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		s.writeError(w, r, http.StatusBadRequest, "No files provided")
		return
	}

	files := make([]pipeline.BatchFile, 0, len(headers))
	for _, fh := range headers {
		files = append(files, pipeline.BatchFile{
			FileName: fh.Filename,
			Open: func() (io.ReadCloser, error) {
				return fh.Open()
			},
		})
	}

	items := s.pipeline.ProcessBatch(r.Context(), files, opts)

	resp := model.BatchResponse{Results: make([]model.BatchResult, 0, len(items))}
	for _, item := range items {
		entry := model.BatchResult{Filename: item.FileName}
		if item.Err != nil {
			_, detail := errorResponse(item.Err)
			entry.Status = model.BatchStatusError
			entry.Error = detail
		} else {
			result := toTranscriptionResponse(item.Result)
			entry.Status = model.BatchStatusSuccess
			entry.Result = &result
		}
		if s.metrics != nil {
			s.metrics.IncBatchItem(entry.Status)
		}
		resp.Results = append(resp.Results, entry)
	}

	writeJSON(w, http.StatusOK, resp)
}

func toTranscriptionResponse(res pipeline.Result) model.TranscriptionResponse {
	return model.TranscriptionResponse{
		Text:         res.Text,
		Segments:     res.Segments,
		WordSegments: res.WordSegments,
		Diarization:  res.Diarization,
		Language:     res.Language,
	}
}

// parseOptions reads align (default true), diarize (default false) and
// language from the query string.
func parseOptions(r *http.Request) (pipeline.Options, error) {
	q := r.URL.Query()
	align, err := parseOptionalBool(q.Get("align"), true)
	if err != nil {
		return pipeline.Options{}, errors.New("align must be a boolean")
	}
	diarize, err := parseOptionalBool(q.Get("diarize"), false)
	if err != nil {
		return pipeline.Options{}, errors.New("diarize must be a boolean")
	}
	return pipeline.Options{
		Align:    align,
		Diarize:  diarize,
		Language: strings.TrimSpace(q.Get("language")),
	}, nil
}

func (s *server) readMultipartAudio(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, *multipart.Form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(min(s.cfg.MaxUploadBytes, maxMemoryBytes)); err != nil {
		return nil, nil, nil, err
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, nil, r.MultipartForm, err
	}
	return file, header, r.MultipartForm, nil
}

func (s *server) handleMultipartReadError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		s.writeError(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request exceeds %d bytes", s.cfg.MaxUploadBytes))
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		s.writeError(w, r, http.StatusBadRequest, "No file provided")
	default:
		s.writeError(w, r, http.StatusBadRequest, "Invalid multipart form data")
	}
}

func (s *server) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := errorResponse(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "request_id", requestIDFromContext(r.Context()), "error", err)
	}
	s.writeError(w, r, status, detail)
}

// errorResponse maps a pipeline error to its status and detail text.
func errorResponse(err error) (int, string) {
	var stageErr *pipeline.StageError
	switch {
	case errors.Is(err, pipeline.ErrNoFile):
		return http.StatusBadRequest, "No file provided"
	case errors.Is(err, pipeline.ErrDiarizationUnavailable):
		return http.StatusBadRequest, diarizationUnavailableDetail
	case errors.As(err, &stageErr) && stageErr.Stage == pipeline.StageDiarization:
		return http.StatusInternalServerError, "Diarization failed: " + stageErr.Err.Error()
	case errors.Is(err, context.Canceled):
		return 499, "Request canceled"
	default:
		return http.StatusInternalServerError, "Processing failed: " + err.Error()
	}
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, status int, detail string) {
	if rid := requestIDFromContext(r.Context()); rid != "" {
		w.Header().Set(requestIDHeader, rid)
	}
	writeJSON(w, status, model.ErrorResponse{Detail: detail})
}

func (s *server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), requestIDContext, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		duration := time.Since(started)
		if s.metrics != nil {
			s.metrics.ObserveHTTP(route, r.Method, status, duration)
		}

		s.logger.Info("http_request",
			"request_id", requestIDFromContext(r.Context()),
			"method", r.Method,
			"route", route,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", duration.Milliseconds(),
		)
	})
}

func (s *server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", "request_id", requestIDFromContext(r.Context()), "panic", rec)
				s.writeError(w, r, http.StatusInternalServerError, "Internal Server Error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// parseOptionalBool reads a query boolean, returning fallback when it is absent.
func parseOptionalBool(value string, fallback bool) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return fallback, nil
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", value)
	}
}

func cleanupMultipartForm(form *multipart.Form) {
	if form != nil {
		_ = form.RemoveAll()
	}
}

func requestIDFromContext(ctx context.Context) string {
	value, _ := ctx.Value(requestIDContext).(string)
	return value
}
