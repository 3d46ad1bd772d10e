package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	cenv "github.com/caarlos0/env/v11"
)

const (
	BackendWorker = "worker"
	BackendOpenAI = "openai"
)

type Config struct {
	ListenAddr           string
	WhisperModel         string
	HFToken              string
	TranscriptionBackend string
	WorkerBaseURL        string
	OpenAIBaseURL        string
	OpenAIAPIKey         string
	Device               string
	ComputeType          string
	BatchSize            int
	BatchConcurrency     int
	MaxUploadBytes       int64
	UpstreamTimeout      time.Duration
	TempDir              string
	FFmpegPath           string
	LogLevel             string
	LogFormat            string
}

// fileConfig is filled from defaults, then the optional TOML file, then the
// environment. Fields carry no envDefault so unset variables keep the value
// the earlier layers gave them.
type fileConfig struct {
	ListenAddr             string `toml:"listen_addr" env:"LISTEN_ADDR"`
	WhisperModel           string `toml:"whisper_model" env:"WHISPER_MODEL"`
	HFToken                string `toml:"hf_token" env:"HF_TOKEN"`
	TranscriptionBackend   string `toml:"transcription_backend" env:"TRANSCRIPTION_BACKEND"`
	WorkerBaseURL          string `toml:"worker_base_url" env:"WORKER_BASE_URL"`
	OpenAIBaseURL          string `toml:"openai_base_url" env:"OPENAI_BASE_URL"`
	OpenAIAPIKey           string `toml:"openai_api_key" env:"OPENAI_API_KEY"`
	Device                 string `toml:"device" env:"DEVICE"`
	ComputeType            string `toml:"compute_type" env:"COMPUTE_TYPE"`
	BatchSize              int    `toml:"batch_size" env:"BATCH_SIZE"`
	BatchConcurrency       int    `toml:"batch_concurrency" env:"BATCH_CONCURRENCY"`
	MaxUploadBytes         int64  `toml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES"`
	UpstreamTimeoutSeconds int    `toml:"upstream_timeout_seconds" env:"UPSTREAM_TIMEOUT_SECONDS"`
	TempDir                string `toml:"temp_dir" env:"TEMP_DIR"`
	FFmpegPath             string `toml:"ffmpeg_path" env:"FFMPEG_PATH"`
	LogLevel               string `toml:"log_level" env:"LOG_LEVEL"`
	LogFormat              string `toml:"log_format" env:"LOG_FORMAT"`
}

func defaults() fileConfig {
	return fileConfig{
		ListenAddr:             ":8000",
		WhisperModel:           "large-v3",
		TranscriptionBackend:   BackendWorker,
		WorkerBaseURL:          "http://127.0.0.1:9000",
		OpenAIBaseURL:          "https://api.openai.com/v1",
		Device:                 "auto",
		BatchSize:              16,
		BatchConcurrency:       1,
		MaxUploadBytes:         1 << 30,
		UpstreamTimeoutSeconds: 1800,
		FFmpegPath:             "ffmpeg",
		LogLevel:               "info",
		LogFormat:              "json",
	}
}

// Load reads CONFIG_FILE (if set) and the process environment.
func Load() (Config, error) {
	return load(strings.TrimSpace(os.Getenv("CONFIG_FILE")))
}

func load(path string) (Config, error) {
	raw := defaults()
	if path != "" {
		if _, err := toml.DecodeFile(path, &raw); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	if err := cenv.Parse(&raw); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:           strings.TrimSpace(raw.ListenAddr),
		WhisperModel:         strings.TrimSpace(raw.WhisperModel),
		HFToken:              strings.TrimSpace(raw.HFToken),
		TranscriptionBackend: strings.ToLower(strings.TrimSpace(raw.TranscriptionBackend)),
		WorkerBaseURL:        strings.TrimRight(strings.TrimSpace(raw.WorkerBaseURL), "/"),
		OpenAIBaseURL:        strings.TrimRight(strings.TrimSpace(raw.OpenAIBaseURL), "/"),
		OpenAIAPIKey:         strings.TrimSpace(raw.OpenAIAPIKey),
		Device:               strings.ToLower(strings.TrimSpace(raw.Device)),
		ComputeType:          strings.ToLower(strings.TrimSpace(raw.ComputeType)),
		BatchSize:            raw.BatchSize,
		BatchConcurrency:     raw.BatchConcurrency,
		MaxUploadBytes:       raw.MaxUploadBytes,
		UpstreamTimeout:      time.Duration(raw.UpstreamTimeoutSeconds) * time.Second,
		TempDir:              strings.TrimSpace(raw.TempDir),
		FFmpegPath:           strings.TrimSpace(raw.FFmpegPath),
		LogLevel:             strings.ToLower(strings.TrimSpace(raw.LogLevel)),
		LogFormat:            strings.ToLower(strings.TrimSpace(raw.LogFormat)),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("LISTEN_ADDR must not be empty")
	}
	if c.WhisperModel == "" {
		return errors.New("WHISPER_MODEL must not be empty")
	}
	switch c.TranscriptionBackend {
	case BackendWorker:
		if c.WorkerBaseURL == "" {
			return errors.New("WORKER_BASE_URL must not be empty for the worker backend")
		}
	case BackendOpenAI:
		if c.OpenAIBaseURL == "" {
			return errors.New("OPENAI_BASE_URL must not be empty for the openai backend")
		}
		if c.OpenAIAPIKey == "" {
			return errors.New("OPENAI_API_KEY is required for the openai backend")
		}
	default:
		return fmt.Errorf("TRANSCRIPTION_BACKEND must be %q or %q", BackendWorker, BackendOpenAI)
	}
	switch c.Device {
	case "auto", "cuda", "cpu":
	default:
		return errors.New("DEVICE must be one of auto, cuda, cpu")
	}
	if c.BatchSize <= 0 {
		return errors.New("BATCH_SIZE must be > 0")
	}
	if c.BatchConcurrency <= 0 {
		return errors.New("BATCH_CONCURRENCY must be > 0")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be > 0")
	}
	if c.UpstreamTimeout <= 0 {
		return errors.New("UPSTREAM_TIMEOUT_SECONDS must be > 0")
	}
	if c.FFmpegPath == "" {
		return errors.New("FFMPEG_PATH must not be empty")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return errors.New("LOG_FORMAT must be json or console")
	}
	return nil
}

// DiarizationConfigured reports whether a diarization credential is present.
func (c Config) DiarizationConfigured() bool {
	return c.HFToken != ""
}

// WorkerConfigured reports whether alignment and diarization have a worker to
// run on.
func (c Config) WorkerConfigured() bool {
	return c.WorkerBaseURL != ""
}
