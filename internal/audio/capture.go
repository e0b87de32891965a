package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/koompiai/kiri/internal/vad"
)

// framesPerBuffer is the portaudio callback frame count
const framesPerBuffer = 1024

// pollInterval is how often bounded recordings check for completion
const pollInterval = 50 * time.Millisecond

var (
	// ErrNoInputDevice indicates no usable microphone was found
	ErrNoInputDevice = errors.New("no input device available")

	// ErrCaptureBusy indicates a recording is already in progress
	ErrCaptureBusy = errors.New("capture already in progress")
)

// Capture records mono float32 audio from the default input device.
// Samples accumulate in an internal buffer; the portaudio callback only
// appends and updates the level meter, so it never blocks.
type Capture struct {
	sampleRate int
	channels   int
	gate       *vad.Gate
	logger     *slog.Logger

	buffer  []float32
	level   float64
	running bool

	stopRequested atomic.Bool

	recordings     uint64
	framesCaptured uint64

	mu sync.Mutex
}

// CaptureStats represents capture statistics
type CaptureStats struct {
	Recordings     uint64  `json:"recordings"`
	FramesCaptured uint64  `json:"frames_captured"`
	BufferedSec    float64 `json:"buffered_seconds"`
	Level          float64 `json:"level"`
}

// NewCapture creates a new microphone capture. It initializes portaudio and
// verifies that an input device exists; the caller must call Close when done.
func NewCapture(sampleRate, channels int, gate *vad.Gate, logger *slog.Logger) (*Capture, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	if channels != 1 {
		return nil, fmt.Errorf("channels must be 1 (mono), got %d", channels)
	}

	if gate == nil {
		return nil, fmt.Errorf("vad gate cannot be nil")
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	if _, err := portaudio.DefaultInputDevice(); err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: %v", ErrNoInputDevice, err)
	}

	return &Capture{
		sampleRate: sampleRate,
		channels:   channels,
		gate:       gate,
		logger:     logger,
	}, nil
}

// Close releases portaudio resources
func (c *Capture) Close() error {
	return portaudio.Terminate()
}

// SampleRate returns the capture sample rate in Hz
func (c *Capture) SampleRate() int {
	return c.sampleRate
}

// Reset clears the buffer and any pending stop request so the capture can
// be reused for a fresh recording
func (c *Capture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buffer = c.buffer[:0]
	c.level = 0
	c.stopRequested.Store(false)
}

// Stop requests that an in-progress bounded recording end early. The
// recording returns whatever audio was captured so far.
func (c *Capture) Stop() {
	c.stopRequested.Store(true)
}

// Level returns the RMS level of the most recent callback frame
func (c *Capture) Level() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// Snapshot returns a copy of the buffered samples without clearing them
func (c *Capture) Snapshot() []float32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]float32, len(c.buffer))
	copy(out, c.buffer)
	return out
}

// ClearBuffer discards all buffered samples
func (c *Capture) ClearBuffer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffer = c.buffer[:0]
}

// BufferedDuration returns how much audio is currently buffered
func (c *Capture) BufferedDuration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(float64(len(c.buffer)) / float64(c.sampleRate) * float64(time.Second))
}

// GetStats returns current capture statistics
func (c *Capture) GetStats() CaptureStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CaptureStats{
		Recordings:     c.recordings,
		FramesCaptured: c.framesCaptured,
		BufferedSec:    float64(len(c.buffer)) / float64(c.sampleRate),
		Level:          c.level,
	}
}

// appendFrame stores one callback frame and updates the level meter
func (c *Capture) appendFrame(in []float32, rms float32) {
	c.mu.Lock()
	c.buffer = append(c.buffer, in...)
	c.level = float64(rms)
	c.framesCaptured++
	c.mu.Unlock()
}

// RecordUntilSilence records from the microphone until the VAD gate reports
// that confirmed speech was followed by silenceAfter of quiet, the maximum
// duration elapses, Stop is called, or the context is cancelled. Returns the
// captured samples at the capture rate.
func (c *Capture) RecordUntilSilence(ctx context.Context, silenceAfter, maxDuration time.Duration) ([]float32, error) {
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.end()

	var done atomic.Bool
	var stMu sync.Mutex
	st := &vad.FrameState{}

	stream, err := portaudio.OpenDefaultStream(c.channels, 0, float64(c.sampleRate), framesPerBuffer,
		func(in []float32) {
			rms := vad.RMS(in)
			c.appendFrame(in, rms)

			stMu.Lock()
			if c.gate.ProcessFrame(st, rms, time.Now(), silenceAfter) {
				done.Store(true)
			}
			stMu.Unlock()
		})
	if err != nil {
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, fmt.Errorf("failed to start input stream: %w", err)
	}
	defer stream.Stop()

	c.logger.Debug("Recording started",
		slog.Int("sample_rate", c.sampleRate),
		slog.Duration("silence_after", silenceAfter),
		slog.Duration("max_duration", maxDuration))

	start := time.Now()
	for {
		if done.Load() || c.stopRequested.Load() {
			break
		}
		if time.Since(start) >= maxDuration {
			c.logger.Warn("Recording reached maximum duration",
				slog.Duration("max_duration", maxDuration))
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}

	samples := c.Snapshot()
	c.logger.Debug("Recording finished",
		slog.Float64("duration_sec", float64(len(samples))/float64(c.sampleRate)))

	return samples, nil
}

// RecordFixed records exactly the given duration of audio, or less if Stop
// is called or the context is cancelled
func (c *Capture) RecordFixed(ctx context.Context, duration time.Duration) ([]float32, error) {
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.end()

	stream, err := portaudio.OpenDefaultStream(c.channels, 0, float64(c.sampleRate), framesPerBuffer,
		func(in []float32) {
			c.appendFrame(in, vad.RMS(in))
		})
	if err != nil {
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, fmt.Errorf("failed to start input stream: %w", err)
	}
	defer stream.Stop()

	start := time.Now()
	for time.Since(start) < duration && !c.stopRequested.Load() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}

	return c.Snapshot(), nil
}

// ContinuousStream is a handle to an open-ended capture started by
// StartContinuous. Samples accumulate in the owning Capture's buffer and
// are consumed with Snapshot and ClearBuffer.
type ContinuousStream struct {
	capture *Capture
	stream  *portaudio.Stream
	once    sync.Once
	err     error
}

// Close stops the stream and releases it
func (s *ContinuousStream) Close() error {
	s.once.Do(func() {
		if err := s.stream.Stop(); err != nil {
			s.err = fmt.Errorf("failed to stop input stream: %w", err)
		}
		if err := s.stream.Close(); err != nil && s.err == nil {
			s.err = fmt.Errorf("failed to close input stream: %w", err)
		}
		s.capture.end()
	})
	return s.err
}

// StartContinuous opens an input stream that keeps appending to the buffer
// until the returned handle is closed. Used by the streaming session and the
// wake word detector, which read via Snapshot and ClearBuffer.
func (c *Capture) StartContinuous() (*ContinuousStream, error) {
	if err := c.begin(); err != nil {
		return nil, err
	}

	stream, err := portaudio.OpenDefaultStream(c.channels, 0, float64(c.sampleRate), framesPerBuffer,
		func(in []float32) {
			c.appendFrame(in, vad.RMS(in))
		})
	if err != nil {
		c.end()
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		c.end()
		return nil, fmt.Errorf("failed to start input stream: %w", err)
	}

	c.logger.Debug("Continuous capture started", slog.Int("sample_rate", c.sampleRate))

	return &ContinuousStream{capture: c, stream: stream}, nil
}

// begin marks the capture busy and prepares a fresh buffer
func (c *Capture) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrCaptureBusy
	}

	c.running = true
	c.recordings++
	c.buffer = c.buffer[:0]
	c.level = 0
	c.stopRequested.Store(false)
	return nil
}

// end marks the capture idle
func (c *Capture) end() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}
