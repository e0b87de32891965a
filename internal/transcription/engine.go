package transcription

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Strategy selects the decoding configuration for a request
type Strategy int

const (
	// StrategyFast uses greedy decoding for low-latency previews
	StrategyFast Strategy = iota
	// StrategyAccurate uses beam search for final transcripts
	StrategyAccurate
	// StrategyPrompted uses greedy decoding biased by an initial prompt
	StrategyPrompted
)

// accurateBeamSize is the beam width used by StrategyAccurate
const accurateBeamSize = 5

// String returns the strategy name
func (s Strategy) String() string {
	switch s {
	case StrategyFast:
		return "fast"
	case StrategyAccurate:
		return "accurate"
	case StrategyPrompted:
		return "prompted"
	default:
		return "unknown"
	}
}

// Request describes one decode call. Samples must be mono float32 at the
// model rate (16 kHz).
type Request struct {
	Samples  []float32
	Language string // overrides the engine language when non-empty
	Prompt   string // only used by StrategyPrompted
	Strategy Strategy
}

// Engine wraps a whisper model. The model is loaded once; every Decode call
// gets a fresh context so no decoder state leaks between calls.
type Engine struct {
	model     whisper.Model
	modelPath string
	language  string
	threads   int
	logger    *slog.Logger

	decodes       uint64
	totalAudioSec float64
	lastDecode    time.Time

	mu sync.Mutex
}

// EngineStats represents engine statistics
type EngineStats struct {
	ModelPath     string    `json:"model_path"`
	Decodes       uint64    `json:"decodes"`
	TotalAudioSec float64   `json:"total_audio_seconds"`
	LastDecode    time.Time `json:"last_decode"`
}

// NewEngine loads a whisper model from the given path. The caller must call
// Close when done.
func NewEngine(modelPath, language string, threads int, logger *slog.Logger) (*Engine, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("model path cannot be empty")
	}

	if language == "" {
		return nil, fmt.Errorf("language cannot be empty")
	}

	if threads < 0 {
		return nil, fmt.Errorf("threads cannot be negative, got %d", threads)
	}

	start := time.Now()
	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", modelPath, err)
	}

	logger.Info("Model loaded",
		slog.String("path", modelPath),
		slog.Duration("load_time", time.Since(start)))

	return &Engine{
		model:     model,
		modelPath: modelPath,
		language:  language,
		threads:   threads,
		logger:    logger,
	}, nil
}

// Close releases the model resources
func (e *Engine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}

// ModelPath returns the path the model was loaded from
func (e *Engine) ModelPath() string {
	return e.modelPath
}

// Decode preprocesses and transcribes the request audio. Audio that is
// empty after normalization and trimming returns "" without touching the
// model. Decodes are serialized: the engine runs one at a time.
func (e *Engine) Decode(req Request) (string, error) {
	samples := Preprocess(req.Samples, modelRate, defaultTrimThreshold)
	if len(samples) == 0 {
		return "", nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, err := e.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("failed to create context: %w", err)
	}

	language := req.Language
	if language == "" {
		language = e.language
	}
	if err := ctx.SetLanguage(language); err != nil {
		return "", fmt.Errorf("failed to set language %s: %w", language, err)
	}
	ctx.SetTranslate(false)

	if e.threads > 0 {
		ctx.SetThreads(uint(e.threads))
	}

	switch req.Strategy {
	case StrategyAccurate:
		ctx.SetBeamSize(accurateBeamSize)
	case StrategyPrompted:
		ctx.SetInitialPrompt(req.Prompt)
	}

	start := time.Now()
	if err := ctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("failed to process audio: %w", err)
	}

	var segments []string
	for {
		seg, err := ctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read segment: %w", err)
		}
		segments = append(segments, seg.Text)
	}

	text := strings.TrimSpace(strings.Join(segments, " "))

	audioSec := float64(len(samples)) / float64(modelRate)
	e.decodes++
	e.totalAudioSec += audioSec
	e.lastDecode = time.Now()

	e.logger.Debug("Decode finished",
		slog.String("strategy", req.Strategy.String()),
		slog.Float64("audio_sec", audioSec),
		slog.Duration("decode_time", time.Since(start)),
		slog.Int("text_len", len(text)))

	return text, nil
}

// GetStats returns current engine statistics
func (e *Engine) GetStats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	return EngineStats{
		ModelPath:     e.modelPath,
		Decodes:       e.decodes,
		TotalAudioSec: e.totalAudioSec,
		LastDecode:    e.lastDecode,
	}
}
