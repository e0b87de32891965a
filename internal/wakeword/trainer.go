package wakeword

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/koompiai/kiri/internal/audio"
	"github.com/koompiai/kiri/internal/vad"
)

// minAcceptedTakes is the smallest number of usable takes a template
// can be built from
const minAcceptedTakes = 3

// trimPadding is how much audio is kept around the phrase when trimming
// a take, so hard cuts do not clip the onset
const trimPadding = 250 * time.Millisecond

// ErrTooFewTakes indicates training ended with fewer usable takes than
// required; no template file is written in that case
var ErrTooFewTakes = errors.New("too few usable takes")

// Recorder captures one bounded take. Satisfied by *audio.Capture.
type Recorder interface {
	RecordUntilSilence(ctx context.Context, silenceAfter, maxDuration time.Duration) ([]float32, error)
	SampleRate() int
}

// TrainerConfig contains wake phrase training parameters
type TrainerConfig struct {
	Takes        int           // prompted repetitions
	TemplatesDir string        // where takes and the template are written
	SilenceAfter time.Duration // silence that ends one take
	MaxTake      time.Duration // hard cap per take
	TrimThresh   float32       // RMS threshold for take trimming
	MinTakeAudio time.Duration // takes shorter than this after trimming are rejected
	Threshold    float64       // match threshold stored in the template
}

// Validate checks trainer parameters
func (c *TrainerConfig) Validate() error {
	if c.Takes < minAcceptedTakes {
		return fmt.Errorf("takes must be at least %d, got %d", minAcceptedTakes, c.Takes)
	}

	if c.TemplatesDir == "" {
		return fmt.Errorf("templates dir cannot be empty")
	}

	if c.SilenceAfter <= 0 {
		return fmt.Errorf("silence duration must be positive, got %v", c.SilenceAfter)
	}

	if c.MaxTake <= 0 {
		return fmt.Errorf("maximum take duration must be positive, got %v", c.MaxTake)
	}

	if c.TrimThresh <= 0 || c.TrimThresh > 1 {
		return fmt.Errorf("trim threshold must be between 0 and 1, got %f", c.TrimThresh)
	}

	if c.MinTakeAudio <= 0 {
		return fmt.Errorf("minimum take audio must be positive, got %v", c.MinTakeAudio)
	}

	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", c.Threshold)
	}

	return nil
}

// Trainer records prompted repetitions of a wake phrase and builds an
// acoustic template from the usable ones
type Trainer struct {
	config   TrainerConfig
	recorder Recorder
	logger   *slog.Logger

	// Prompt is called before each take so the caller can instruct the
	// user; optional.
	Prompt func(take, total int)
}

// NewTrainer creates a wake phrase trainer
func NewTrainer(config TrainerConfig, recorder Recorder, logger *slog.Logger) (*Trainer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid trainer config: %w", err)
	}

	if recorder == nil {
		return nil, fmt.Errorf("recorder cannot be nil")
	}

	return &Trainer{
		config:   config,
		recorder: recorder,
		logger:   logger,
	}, nil
}

// Train records the configured number of takes for phrase, persists each
// accepted take as a 16 kHz float WAV, and writes one template file named
// after the phrase. Returns the template path. With fewer than three
// usable takes it returns ErrTooFewTakes and writes no template.
func (t *Trainer) Train(ctx context.Context, phrase string) (string, error) {
	slug := slugify(phrase)
	if slug == "" {
		return "", fmt.Errorf("phrase %q is empty after normalization", phrase)
	}

	if err := os.MkdirAll(t.config.TemplatesDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create templates dir: %w", err)
	}

	var takes [][]float32

	for i := 1; i <= t.config.Takes; i++ {
		if t.Prompt != nil {
			t.Prompt(i, t.config.Takes)
		}

		samples, err := t.recorder.RecordUntilSilence(ctx, t.config.SilenceAfter, t.config.MaxTake)
		if err != nil {
			return "", fmt.Errorf("failed to record take %d: %w", i, err)
		}

		take, ok := t.prepareTake(samples)
		if !ok {
			t.logger.Warn("Take rejected as too short", slog.Int("take", i))
			continue
		}

		wavPath := filepath.Join(t.config.TemplatesDir,
			fmt.Sprintf("%s-%s.wav", slug, uuid.New().String()))
		if err := audio.WriteWAVFile(wavPath, take, audio.ModelRate); err != nil {
			return "", fmt.Errorf("failed to persist take %d: %w", i, err)
		}

		t.logger.Info("Take accepted",
			slog.Int("take", i),
			slog.Float64("duration_sec", float64(len(take))/float64(audio.ModelRate)),
			slog.String("file", wavPath))

		takes = append(takes, take)
	}

	if len(takes) < minAcceptedTakes {
		return "", fmt.Errorf("%w: got %d, need %d", ErrTooFewTakes, len(takes), minAcceptedTakes)
	}

	template, err := BuildTemplate(phrase, takes, audio.ModelRate, t.config.Threshold)
	if err != nil {
		return "", fmt.Errorf("failed to build template: %w", err)
	}

	templatePath := filepath.Join(t.config.TemplatesDir, slug+".json")
	if err := template.Save(templatePath); err != nil {
		return "", err
	}

	t.logger.Info("Template written",
		slog.String("phrase", phrase),
		slog.Int("takes", len(takes)),
		slog.String("file", templatePath))

	return templatePath, nil
}

// prepareTake resamples, trims, and length-checks one recorded take
func (t *Trainer) prepareTake(samples []float32) ([]float32, bool) {
	if t.recorder.SampleRate() == audio.CaptureRate {
		samples = audio.Resample48kTo16k(samples)
	}

	minSamples := int(float64(audio.ModelRate) * t.config.MinTakeAudio.Seconds())
	if len(samples) < minSamples {
		return nil, false
	}

	trimmed := vad.TrimSilencePadded(samples, audio.ModelRate, t.config.TrimThresh, trimPadding)
	if len(trimmed) < minSamples {
		return nil, false
	}

	return trimmed, true
}

// slugify turns a phrase into a safe file name fragment
func slugify(phrase string) string {
	var b strings.Builder
	lastSep := true
	for _, r := range strings.ToLower(strings.TrimSpace(phrase)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSep = false
		case !lastSep:
			b.WriteRune('_')
			lastSep = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
