package wakeword

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/koompiai/kiri/internal/audio"
	"github.com/koompiai/kiri/internal/metrics"
	"github.com/koompiai/kiri/internal/vad"
)

// Microphone is the audio source the detector listens on
type Microphone interface {
	StartContinuous() (io.Closer, error)
	Snapshot() []float32
	ClearBuffer()
	SampleRate() int
}

// Config contains wake word detection parameters
type Config struct {
	Stride      time.Duration // time between analysis cycles
	Cooldown    time.Duration // audio is discarded for this long after a detection
	MinWindow   time.Duration // shortest window worth analyzing
	EnergyFloor float64       // windows quieter than this are skipped
}

// Validate checks detector parameters
func (c *Config) Validate() error {
	if c.Stride <= 0 {
		return fmt.Errorf("stride must be positive, got %v", c.Stride)
	}

	if c.Cooldown < 0 {
		return fmt.Errorf("cooldown cannot be negative, got %v", c.Cooldown)
	}

	if c.MinWindow <= 0 {
		return fmt.Errorf("minimum window must be positive, got %v", c.MinWindow)
	}

	if c.EnergyFloor < 0 || c.EnergyFloor > 1 {
		return fmt.Errorf("energy floor must be between 0 and 1, got %f", c.EnergyFloor)
	}

	return nil
}

// Detector runs an always-on loop over continuous capture. Every stride it
// takes the buffered audio, applies the energy gate, and hands the window
// to the matcher. On a match the callback runs synchronously before the
// cooldown starts, so the triggered action owns the microphone next.
type Detector struct {
	config  Config
	mic     Microphone
	matcher Matcher
	onWake  func(phrase string)
	metrics *metrics.Metrics
	logger  *slog.Logger

	windows    uint64
	skipped    uint64
	detections uint64

	mu sync.Mutex
}

// DetectorStats represents detector statistics
type DetectorStats struct {
	Windows    uint64 `json:"windows"`
	Skipped    uint64 `json:"skipped"`
	Detections uint64 `json:"detections"`
}

// NewDetector creates a wake word detector
func NewDetector(config Config, mic Microphone, matcher Matcher, onWake func(phrase string), m *metrics.Metrics, logger *slog.Logger) (*Detector, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detector config: %w", err)
	}

	if mic == nil {
		return nil, fmt.Errorf("microphone cannot be nil")
	}

	if matcher == nil {
		return nil, fmt.Errorf("matcher cannot be nil")
	}

	if onWake == nil {
		return nil, fmt.Errorf("wake callback cannot be nil")
	}

	if m == nil {
		return nil, fmt.Errorf("metrics cannot be nil")
	}

	return &Detector{
		config:  config,
		mic:     mic,
		matcher: matcher,
		onWake:  onWake,
		metrics: m,
		logger:  logger,
	}, nil
}

// Run listens until the context is cancelled
func (d *Detector) Run(ctx context.Context) error {
	stream, err := d.mic.StartContinuous()
	if err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}
	defer stream.Close()

	d.logger.Info("Wake word detection started",
		slog.Duration("stride", d.config.Stride),
		slog.Duration("cooldown", d.config.Cooldown))

	ticker := time.NewTicker(d.config.Stride)
	defer ticker.Stop()

	var cooldownUntil time.Time

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Wake word detection stopped")
			return ctx.Err()
		case <-ticker.C:
		}

		now := time.Now()
		if now.Before(cooldownUntil) {
			// Audio heard during the cooldown never reaches the matcher.
			d.mic.ClearBuffer()
			continue
		}

		cooldownUntil = d.analyze(now)
	}
}

// analyze runs one detection cycle and returns the new cooldown deadline
// (zero when nothing matched)
func (d *Detector) analyze(now time.Time) time.Time {
	minSamples := int(float64(d.mic.SampleRate()) * d.config.MinWindow.Seconds())

	window := d.mic.Snapshot()
	if len(window) < minSamples {
		// Too little audio; let the buffer keep filling.
		return time.Time{}
	}
	d.mic.ClearBuffer()

	d.mu.Lock()
	d.windows++
	d.mu.Unlock()

	if float64(vad.RMS(window)) < d.config.EnergyFloor {
		d.mu.Lock()
		d.skipped++
		d.mu.Unlock()
		d.metrics.RecordWakeWindowSkipped()
		return time.Time{}
	}

	if d.mic.SampleRate() == audio.CaptureRate {
		window = audio.Resample48kTo16k(window)
	}

	phrase, matched, err := d.matcher.Match(window)
	if err != nil {
		// A failed decode skips this window, not the loop.
		d.logger.Warn("Window match failed", slog.String("error", err.Error()))
		return time.Time{}
	}

	if !matched {
		return time.Time{}
	}

	d.mu.Lock()
	d.detections++
	d.mu.Unlock()

	d.metrics.RecordWakeDetection(phrase)
	d.logger.Info("Wake phrase detected", slog.String("phrase", phrase))

	d.onWake(phrase)
	d.mic.ClearBuffer()

	return time.Now().Add(d.config.Cooldown)
}

// GetStats returns current detector statistics
func (d *Detector) GetStats() DetectorStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return DetectorStats{
		Windows:    d.windows,
		Skipped:    d.skipped,
		Detections: d.detections,
	}
}
