package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whisperx-api/internal/asr"
	"whisperx-api/internal/audio"
	"whisperx-api/internal/config"
	"whisperx-api/internal/httpapi"
	"whisperx-api/internal/logging"
	"whisperx-api/internal/observability"
	"whisperx-api/internal/pipeline"
	"whisperx-api/internal/transcription"
	"whisperx-api/internal/upstream/openai"
	"whisperx-api/internal/upstream/worker"

	"github.com/joho/godotenv"
)

const (
	probeTimeout    = 10 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, syncLogs, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = syncLogs() }()

	metrics := observability.NewMetrics()

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	upstreamHTTPClient := &http.Client{Timeout: cfg.UpstreamTimeout, Transport: transport}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := loadBackends(ctx, cfg, logger, metrics, upstreamHTTPClient)
	if err != nil {
		logger.Error("startup failed", "error", err)
		_ = syncLogs()
		os.Exit(1)
	}
	defer backends.release(logger)

	transcriptionService := transcription.New(backends.transcriber, cfg.BatchSize)
	deps := pipeline.Dependencies{
		Transcriber: transcriptionService,
		Decoder:     audio.NewDecoder(cfg.FFmpegPath),
		Observer:    metrics,
		Logger:      logger,
	}
	if backends.loader != nil {
		deps.Aligner = backends.loader
		deps.Diarizer = backends.loader
	}
	pipelineService := pipeline.New(pipeline.Config{
		TempDir:          cfg.TempDir,
		DiarizationToken: cfg.HFToken,
		BatchConcurrency: cfg.BatchConcurrency,
	}, deps)

	handler := httpapi.NewServer(cfg, logger, httpapi.Dependencies{
		Pipeline: pipelineService,
		Status: httpapi.Status{
			Device:        backends.runtime.Device,
			Model:         cfg.WhisperModel,
			CUDAAvailable: backends.runtime.CUDAAvailable,
			ModelLoaded:   true,
		},
		Metrics:        metrics,
		MetricsHandler: metrics.Handler(),
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"addr", cfg.ListenAddr,
			"backend", cfg.TranscriptionBackend,
			"model", cfg.WhisperModel,
			"device", backends.runtime.Device,
			"compute_type", backends.runtime.ComputeType,
			"diarization_available", pipelineService.DiarizationAvailable(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server exited", "error", err)
			backends.release(logger)
			_ = syncLogs()
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("server stopped")
}

type releaser interface {
	Release(ctx context.Context) error
}

// backends are the models shared by every request for the process lifetime.
type backends struct {
	runtime     asr.Runtime
	transcriber asr.Transcriber
	loader      *worker.Loader
	shared      releaser
}

func loadBackends(ctx context.Context, cfg config.Config, logger *slog.Logger, metrics *observability.Metrics, httpClient *http.Client) (*backends, error) {
	b := &backends{runtime: asr.SelectRuntime(false, cfg.Device, cfg.ComputeType)}

	var workerClient *worker.Client
	if cfg.WorkerConfigured() {
		workerClient = worker.New(cfg.WorkerBaseURL, httpClient, worker.WithObserver(metrics.ObserveUpstream))

		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		health, err := workerClient.Health(probeCtx)
		cancel()
		switch {
		case err == nil:
			b.runtime = asr.SelectRuntime(health.CUDAAvailable, cfg.Device, cfg.ComputeType)
			b.loader = workerClient.Loader(b.runtime)
		case cfg.TranscriptionBackend == config.BackendWorker:
			return nil, fmt.Errorf("probe model worker: %w", err)
		default:
			logger.Warn("model worker unreachable, alignment and diarization disabled", "url", cfg.WorkerBaseURL, "error", err)
		}
	}

	switch cfg.TranscriptionBackend {
	case config.BackendOpenAI:
		client := openai.New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.WhisperModel, httpClient, openai.WithObserver(metrics.ObserveUpstream))
		checkCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		if err := client.CheckModels(checkCtx); err != nil {
			logger.Warn("openai upstream check failed", "url", cfg.OpenAIBaseURL, "status", openai.StatusCode(err), "error", err)
		}
		cancel()
		b.transcriber = client
		logger.Info("using openai transcription backend", "url", cfg.OpenAIBaseURL, "model", cfg.WhisperModel)
	default:
		logger.Info("loading transcription model", "model", cfg.WhisperModel, "device", b.runtime.Device, "compute_type", b.runtime.ComputeType)
		model, err := b.loader.LoadTranscriber(ctx, cfg.WhisperModel)
		if err != nil {
			return nil, fmt.Errorf("load transcription model %s: %w", cfg.WhisperModel, err)
		}
		b.transcriber = model
		b.shared = model
		logger.Info("transcription model loaded", "id", model.ID())
	}

	if !cfg.DiarizationConfigured() {
		logger.Warn("HF_TOKEN not set, diarization will be unavailable")
	}
	return b, nil
}

func (b *backends) release(logger *slog.Logger) {
	if b.shared == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := b.shared.Release(ctx); err != nil {
		logger.Warn("release transcription model", "error", err)
	}
}
