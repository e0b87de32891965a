package wakeword

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/koompiai/kiri/internal/metrics"
)

// loopMic is a Microphone whose snapshot the test controls. The buffer
// refills itself: clearing does not empty the next snapshot.
type loopMic struct {
	mu     sync.Mutex
	window []float32
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func (m *loopMic) StartContinuous() (io.Closer, error) { return nopCloser{}, nil }

func (m *loopMic) Snapshot() []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float32, len(m.window))
	copy(out, m.window)
	return out
}

func (m *loopMic) ClearBuffer() {}

func (m *loopMic) SampleRate() int { return 16000 }

func (m *loopMic) set(window []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window = window
}

// constant returns a window of the given duration and amplitude at 16 kHz
func constant(amplitude float32, d time.Duration) []float32 {
	out := make([]float32, int(16000*d.Seconds()))
	for i := range out {
		out[i] = amplitude
	}
	return out
}

// alwaysMatcher matches every window it sees
type alwaysMatcher struct {
	mu    sync.Mutex
	calls int
}

func (m *alwaysMatcher) Match(samples []float32) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return "hey kiri", true, nil
}

func testDetectorConfig() Config {
	return Config{
		Stride:      5 * time.Millisecond,
		Cooldown:    200 * time.Millisecond,
		MinWindow:   50 * time.Millisecond,
		EnergyFloor: 0.02,
	}
}

func TestDetectorCooldownLimitsInvocations(t *testing.T) {
	mic := &loopMic{}
	mic.set(constant(0.3, 500*time.Millisecond))

	matcher := &alwaysMatcher{}

	var wakeMu sync.Mutex
	wakes := 0

	detector, err := NewDetector(testDetectorConfig(), mic, matcher, func(phrase string) {
		wakeMu.Lock()
		wakes++
		wakeMu.Unlock()
		if phrase != "hey kiri" {
			t.Errorf("Unexpected phrase %q", phrase)
		}
	}, metrics.NewMetrics(), testLogger())
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}

	// Run for well under the cooldown: the matcher fires many times but
	// the callback must run exactly once.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := detector.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}

	wakeMu.Lock()
	defer wakeMu.Unlock()
	if wakes != 1 {
		t.Errorf("Expected exactly 1 wake invocation within the cooldown, got %d", wakes)
	}

	stats := detector.GetStats()
	if stats.Detections != 1 {
		t.Errorf("Expected 1 detection in stats, got %d", stats.Detections)
	}
}

func TestDetectorSkipsQuietWindows(t *testing.T) {
	mic := &loopMic{}
	mic.set(constant(0.001, 500*time.Millisecond)) // below the energy floor

	matcher := &alwaysMatcher{}

	detector, err := NewDetector(testDetectorConfig(), mic, matcher, func(string) {
		t.Errorf("Wake callback must not run for quiet audio")
	}, metrics.NewMetrics(), testLogger())
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	detector.Run(ctx)

	matcher.mu.Lock()
	defer matcher.mu.Unlock()
	if matcher.calls != 0 {
		t.Errorf("Matcher must not see quiet windows, got %d calls", matcher.calls)
	}

	if stats := detector.GetStats(); stats.Skipped == 0 {
		t.Errorf("Expected skipped windows in stats")
	}
}

func TestDetectorWaitsForMinimumWindow(t *testing.T) {
	mic := &loopMic{}
	mic.set(constant(0.3, 10*time.Millisecond)) // shorter than MinWindow

	matcher := &alwaysMatcher{}

	detector, err := NewDetector(testDetectorConfig(), mic, matcher, func(string) {},
		metrics.NewMetrics(), testLogger())
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	detector.Run(ctx)

	matcher.mu.Lock()
	defer matcher.mu.Unlock()
	if matcher.calls != 0 {
		t.Errorf("Matcher must not see under-length windows, got %d calls", matcher.calls)
	}
}

// failingMatcher errors on every window
type failingMatcher struct {
	mu    sync.Mutex
	calls int
}

func (m *failingMatcher) Match(samples []float32) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return "", false, errors.New("decode failed")
}

func TestDetectorSurvivesMatcherErrors(t *testing.T) {
	mic := &loopMic{}
	mic.set(constant(0.3, 500*time.Millisecond))

	matcher := &failingMatcher{}

	detector, err := NewDetector(testDetectorConfig(), mic, matcher, func(string) {
		t.Errorf("Wake callback must not run when matching fails")
	}, metrics.NewMetrics(), testLogger())
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}

	// The loop outlives individual match failures; only the context
	// stops it.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := detector.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}

	matcher.mu.Lock()
	defer matcher.mu.Unlock()
	if matcher.calls < 2 {
		t.Errorf("Expected matching to continue after a failure, got %d calls", matcher.calls)
	}

	if stats := detector.GetStats(); stats.Detections != 0 {
		t.Errorf("Expected no detections, got %d", stats.Detections)
	}
}

func TestDetectorConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero stride", func(c *Config) { c.Stride = 0 }},
		{"negative cooldown", func(c *Config) { c.Cooldown = -time.Second }},
		{"zero min window", func(c *Config) { c.MinWindow = 0 }},
		{"energy floor above one", func(c *Config) { c.EnergyFloor = 1.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testDetectorConfig()
			tt.mutate(&config)
			_, err := NewDetector(config, &loopMic{}, &alwaysMatcher{}, func(string) {},
				metrics.NewMetrics(), testLogger())
			if err == nil {
				t.Errorf("Expected error but got none")
			}
		})
	}
}
