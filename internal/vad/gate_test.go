package vad

import (
	"testing"
	"time"
)

func TestNewGateValidation(t *testing.T) {
	tests := []struct {
		name      string
		threshold float32
		minSpeech time.Duration
		valid     bool
	}{
		{"valid", 0.015, 500 * time.Millisecond, true},
		{"zero threshold", 0, 500 * time.Millisecond, false},
		{"threshold above one", 1.5, 500 * time.Millisecond, false},
		{"zero min speech", 0.015, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGate(tt.threshold, tt.minSpeech)
			if tt.valid && err != nil {
				t.Errorf("Expected valid gate but got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected error but got none")
			}
		})
	}
}

func TestGateStopsAfterSilence(t *testing.T) {
	gate, err := NewGate(0.015, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("NewGate failed: %v", err)
	}

	base := time.Now()
	st := &FrameState{}
	silenceAfter := 2500 * time.Millisecond

	// 1 second of loud frames at 100ms spacing confirms speech.
	for i := 0; i < 10; i++ {
		now := base.Add(time.Duration(i) * 100 * time.Millisecond)
		if gate.ProcessFrame(st, 0.05, now, silenceAfter) {
			t.Fatalf("Gate stopped during speech at frame %d", i)
		}
	}

	if !st.SpeechDetected {
		t.Fatalf("Expected speech to be confirmed after 1s of loud frames")
	}

	// Silence just under the limit must not stop.
	quietStart := base.Add(time.Second)
	if gate.ProcessFrame(st, 0.001, quietStart, silenceAfter) {
		t.Errorf("Gate stopped on first quiet frame")
	}
	if gate.ProcessFrame(st, 0.001, quietStart.Add(2400*time.Millisecond), silenceAfter) {
		t.Errorf("Gate stopped before silence duration elapsed")
	}

	// Silence at the limit stops.
	if !gate.ProcessFrame(st, 0.001, quietStart.Add(2500*time.Millisecond), silenceAfter) {
		t.Errorf("Gate did not stop after silence duration elapsed")
	}
}

func TestGateIgnoresShortBlips(t *testing.T) {
	gate, err := NewGate(0.015, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("NewGate failed: %v", err)
	}

	base := time.Now()
	st := &FrameState{}
	silenceAfter := 2500 * time.Millisecond

	// A 200ms blip, shorter than the dwell, must not confirm speech.
	gate.ProcessFrame(st, 0.05, base, silenceAfter)
	gate.ProcessFrame(st, 0.05, base.Add(200*time.Millisecond), silenceAfter)
	gate.ProcessFrame(st, 0.001, base.Add(300*time.Millisecond), silenceAfter)

	if st.SpeechDetected {
		t.Errorf("Short blip confirmed speech")
	}

	// Long silence without confirmed speech never stops the recording.
	if gate.ProcessFrame(st, 0.001, base.Add(time.Minute), silenceAfter) {
		t.Errorf("Gate stopped without confirmed speech")
	}
}

func TestGateSpeechResetsSilenceClock(t *testing.T) {
	gate, err := NewGate(0.015, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("NewGate failed: %v", err)
	}

	base := time.Now()
	st := &FrameState{}
	silenceAfter := time.Second

	gate.ProcessFrame(st, 0.05, base, silenceAfter)
	gate.ProcessFrame(st, 0.05, base.Add(100*time.Millisecond), silenceAfter)
	if !st.SpeechDetected {
		t.Fatalf("Expected speech confirmed")
	}

	// Quiet, then loud again before the limit, then quiet.
	gate.ProcessFrame(st, 0.001, base.Add(200*time.Millisecond), silenceAfter)
	gate.ProcessFrame(st, 0.05, base.Add(900*time.Millisecond), silenceAfter)
	if gate.ProcessFrame(st, 0.001, base.Add(1300*time.Millisecond), silenceAfter) {
		t.Errorf("Gate stopped even though speech reset the silence clock")
	}
	if !gate.ProcessFrame(st, 0.001, base.Add(2300*time.Millisecond), silenceAfter) {
		t.Errorf("Gate did not stop after fresh silence elapsed")
	}
}

func TestTrackerConfirmsAfterDwell(t *testing.T) {
	base := time.Now()
	tracker, err := NewTracker(0.015, 500*time.Millisecond, base)
	if err != nil {
		t.Fatalf("NewTracker failed: %v", err)
	}

	// Loud ticks at 100ms spacing.
	for i := 0; i < 4; i++ {
		tracker.Observe(0.05, base.Add(time.Duration(i)*100*time.Millisecond))
	}
	if tracker.SpeechConfirmed() {
		t.Errorf("Speech confirmed before dwell elapsed")
	}

	tracker.Observe(0.05, base.Add(500*time.Millisecond))
	if !tracker.SpeechConfirmed() {
		t.Errorf("Speech not confirmed after dwell elapsed")
	}
}

func TestTrackerSilenceClock(t *testing.T) {
	base := time.Now()
	tracker, err := NewTracker(0.015, 100*time.Millisecond, base)
	if err != nil {
		t.Fatalf("NewTracker failed: %v", err)
	}

	// Nothing loud yet: silence runs from the start anchor.
	if got := tracker.SilenceFor(base.Add(3 * time.Second)); got != 3*time.Second {
		t.Errorf("Expected 3s silence from start, got %v", got)
	}

	tracker.Observe(0.05, base.Add(time.Second))
	if got := tracker.SilenceFor(base.Add(4 * time.Second)); got != 3*time.Second {
		t.Errorf("Expected 3s silence since last speech, got %v", got)
	}

	// Quiet observations do not move the speech clock.
	tracker.Observe(0.001, base.Add(2*time.Second))
	if got := tracker.SilenceFor(base.Add(4 * time.Second)); got != 3*time.Second {
		t.Errorf("Quiet observation moved the speech clock: %v", got)
	}
}

func TestTrackerReset(t *testing.T) {
	base := time.Now()
	tracker, err := NewTracker(0.015, 100*time.Millisecond, base)
	if err != nil {
		t.Fatalf("NewTracker failed: %v", err)
	}

	tracker.Observe(0.05, base)
	tracker.Observe(0.05, base.Add(200*time.Millisecond))
	if !tracker.SpeechConfirmed() {
		t.Fatalf("Expected speech confirmed before reset")
	}

	tracker.Reset()

	if tracker.SpeechConfirmed() {
		t.Errorf("Speech still confirmed after reset")
	}

	// The silence clock keeps running from the last loud observation, so a
	// reset at a segment boundary never extends the quiet time needed to
	// end a session.
	lastLoud := base.Add(200 * time.Millisecond)
	if got := tracker.SilenceFor(lastLoud.Add(time.Second)); got != time.Second {
		t.Errorf("Expected silence measured from last speech across reset, got %v", got)
	}

	// New speech after the reset must go through the dwell again.
	tracker.Observe(0.05, base.Add(time.Second))
	if tracker.SpeechConfirmed() {
		t.Errorf("Speech confirmed without a fresh dwell after reset")
	}

	stats := tracker.GetStats()
	if stats.Observations != 3 {
		t.Errorf("Reset should preserve observation counters, got %d", stats.Observations)
	}
}
