package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"whisperx-api/internal/asr"
	"whisperx-api/internal/audio"
	"whisperx-api/internal/scratch"
	"whisperx-api/internal/transcript"
)

const (
	StageTranscription = "transcription"
	StageAlignment     = "alignment"
	StageDiarization   = "diarization"

	releaseTimeout = 30 * time.Second
)

var (
	ErrNoFile                 = errors.New("no file provided")
	ErrDiarizationUnavailable = errors.New("diarization requires a configured credential")

	errAlignmentUnavailable = errors.New("no alignment backend configured")
)

// StageError is a fatal failure inside one model stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

type Transcriber interface {
	Transcribe(ctx context.Context, buf *audio.Buffer, language string) (transcript.Result, error)
}

type Decoder interface {
	Decode(ctx context.Context, path string) (*audio.Buffer, error)
}

type Observer interface {
	ObserveStage(stage, outcome string, duration time.Duration)
	IncCleanupFailure()
}

type Dependencies struct {
	Transcriber Transcriber
	Decoder     Decoder
	// Aligner may be nil, in which case every alignment degrades.
	Aligner asr.AlignLoader
	// Diarizer may be nil, in which case diarization is unavailable.
	Diarizer asr.DiarizeLoader
	Observer Observer
	Logger   *slog.Logger
}

type Config struct {
	TempDir          string
	DiarizationToken string
	BatchConcurrency int
}

type Service struct {
	cfg         Config
	transcriber Transcriber
	decoder     Decoder
	aligner     asr.AlignLoader
	diarizer    asr.DiarizeLoader
	observer    Observer
	logger      *slog.Logger
}

type Options struct {
	Align    bool
	Diarize  bool
	Language string
}

type Input struct {
	File     io.Reader
	FileName string
	Options
}

type Outcomes struct {
	Transcription Outcome
	Alignment     Outcome
	Diarization   Outcome
}

type Timings struct {
	Transcription time.Duration
	Alignment     time.Duration
	Diarization   time.Duration
	Total         time.Duration
}

// Result is the response document for one file. Segments always come from the
// most refined stage that produced them: diarized, then aligned, then raw.
type Result struct {
	Text     string
	Language string
	Segments []transcript.Segment
	// WordSegments is nil unless alignment was requested, and empty when it degraded.
	WordSegments []transcript.Word
	// Diarization is nil unless diarization ran.
	Diarization []transcript.Segment
	Outcomes    Outcomes
	Timings     Timings
}

func New(cfg Config, deps Dependencies) *Service {
	if deps.Transcriber == nil || deps.Decoder == nil {
		panic("pipeline: transcriber and decoder are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 1
	}
	cfg.DiarizationToken = strings.TrimSpace(cfg.DiarizationToken)
	return &Service{
		cfg:         cfg,
		transcriber: deps.Transcriber,
		decoder:     deps.Decoder,
		aligner:     deps.Aligner,
		diarizer:    deps.Diarizer,
		observer:    deps.Observer,
		logger:      deps.Logger,
	}
}

func (s *Service) DiarizationAvailable() bool {
	return s.cfg.DiarizationToken != "" && s.diarizer != nil
}

func (s *Service) Process(ctx context.Context, in Input) (Result, error) {
	if strings.TrimSpace(in.FileName) == "" {
		return Result{}, ErrNoFile
	}
	if in.Diarize && !s.DiarizationAvailable() {
		return Result{}, ErrDiarizationUnavailable
	}

	started := time.Now()
	logger := s.logger.With("file", in.FileName)

	dir, err := scratch.New(s.cfg.TempDir, in.FileName, in.File)
	if err != nil {
		return Result{}, err
	}
	defer s.cleanup(logger, dir)

	logger.Info("processing file", "align", in.Align, "diarize", in.Diarize, "language", in.Language)

	buf, err := s.decoder.Decode(ctx, dir.Path())
	if err != nil {
		return Result{}, err
	}

	transcriptionStarted := time.Now()
	raw, err := s.transcriber.Transcribe(ctx, buf, in.Language)
	transcriptionDuration := time.Since(transcriptionStarted)
	if err != nil {
		s.observeStage(StageTranscription, Failed, transcriptionDuration)
		return Result{}, err
	}
	s.observeStage(StageTranscription, Succeeded, transcriptionDuration)
	logger.Info("transcription completed", "language", raw.Language, "segments", len(raw.Segments))

	res := Result{
		Text:     raw.Text,
		Language: raw.Language,
		Segments: raw.Segments,
		Outcomes: Outcomes{Transcription: Succeeded},
		Timings:  Timings{Transcription: transcriptionDuration},
	}

	if in.Align {
		alignStarted := time.Now()
		aligned, err := s.runAlignment(ctx, logger, raw, buf)
		res.Timings.Alignment = time.Since(alignStarted)
		if err != nil {
			logger.Warn("alignment failed, continuing with unaligned segments", "language", raw.Language, "error", err)
			res.Outcomes.Alignment = Degraded
			res.WordSegments = []transcript.Word{}
		} else {
			res.Outcomes.Alignment = Succeeded
			if aligned.Segments != nil {
				res.Segments = aligned.Segments
			}
			res.WordSegments = aligned.WordSegments
			if res.WordSegments == nil {
				res.WordSegments = []transcript.Word{}
			}
			logger.Info("alignment completed", "words", len(res.WordSegments))
		}
		s.observeStage(StageAlignment, res.Outcomes.Alignment, res.Timings.Alignment)
	}

	if in.Diarize {
		diarizeStarted := time.Now()
		turns, err := s.runDiarization(ctx, logger, buf)
		res.Timings.Diarization = time.Since(diarizeStarted)
		if err != nil {
			s.observeStage(StageDiarization, Failed, res.Timings.Diarization)
			logger.Error("diarization failed", "error", err)
			return Result{}, &StageError{Stage: StageDiarization, Err: err}
		}
		s.observeStage(StageDiarization, Succeeded, res.Timings.Diarization)

		res.Segments, res.WordSegments = transcript.AssignSpeakers(turns, res.Segments, res.WordSegments)
		res.Diarization = res.Segments
		res.Outcomes.Diarization = Succeeded
		logger.Info("diarization completed", "speakers", len(transcript.Speakers(res.Segments)))
	}

	res.Timings.Total = time.Since(started)
	logger.Info("file processed", "duration_ms", res.Timings.Total.Milliseconds())
	return res, nil
}

func (s *Service) runAlignment(ctx context.Context, logger *slog.Logger, raw transcript.Result, buf *audio.Buffer) (transcript.Alignment, error) {
	if s.aligner == nil {
		return transcript.Alignment{}, errAlignmentUnavailable
	}
	model, err := s.aligner.LoadAlignModel(ctx, raw.Language)
	if err != nil {
		return transcript.Alignment{}, fmt.Errorf("load align model: %w", err)
	}
	defer s.release(ctx, logger, StageAlignment, model)

	return model.Align(ctx, raw.Segments, buf)
}

func (s *Service) runDiarization(ctx context.Context, logger *slog.Logger, buf *audio.Buffer) ([]transcript.SpeakerTurn, error) {
	model, err := s.diarizer.LoadDiarizeModel(ctx, s.cfg.DiarizationToken)
	if err != nil {
		return nil, fmt.Errorf("load diarization model: %w", err)
	}
	defer s.release(ctx, logger, StageDiarization, model)

	return model.Diarize(ctx, buf)
}

type releaser interface {
	Release(ctx context.Context) error
}

// release frees a stage model even when the request context is already done.
func (s *Service) release(ctx context.Context, logger *slog.Logger, stage string, model releaser) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := model.Release(ctx); err != nil {
		logger.Warn("model release failed", "stage", stage, "error", err)
	}
}

func (s *Service) cleanup(logger *slog.Logger, dir *scratch.Dir) {
	if err := dir.Cleanup(); err != nil {
		logger.Warn("could not remove temporary file", "path", dir.Path(), "error", err)
		if s.observer != nil {
			s.observer.IncCleanupFailure()
		}
		return
	}
	logger.Debug("cleaned up temporary file", "path", dir.Path())
}

func (s *Service) observeStage(stage string, outcome Outcome, d time.Duration) {
	if s.observer != nil {
		s.observer.ObserveStage(stage, outcome.String(), d)
	}
}
