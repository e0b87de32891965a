package vad

import (
	"math"
	"testing"
	"time"
)

const testRate = 16000

// tone generates a constant-amplitude sine of the given duration
func tone(amplitude float64, duration time.Duration) []float32 {
	n := int(float64(testRate) * duration.Seconds())
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(amplitude * math.Sin(2*math.Pi*440*float64(i)/testRate))
	}
	return samples
}

// quiet generates near-silence of the given duration
func quiet(duration time.Duration) []float32 {
	n := int(float64(testRate) * duration.Seconds())
	return make([]float32, n)
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Errorf("RMS of empty input should be 0, got %f", got)
	}

	if got := RMS([]float32{0, 0, 0}); got != 0 {
		t.Errorf("RMS of silence should be 0, got %f", got)
	}

	// RMS of a sine with amplitude a is a/sqrt(2).
	got := RMS(tone(0.5, 100*time.Millisecond))
	want := 0.5 / math.Sqrt2
	if math.Abs(float64(got)-want) > 0.01 {
		t.Errorf("Expected RMS near %f, got %f", want, got)
	}
}

func TestTrimSilence(t *testing.T) {
	threshold := float32(0.01)

	t.Run("removes leading and trailing silence", func(t *testing.T) {
		speech := tone(0.3, 500*time.Millisecond)
		samples := append(append(quiet(time.Second), speech...), quiet(time.Second)...)

		trimmed := TrimSilence(samples, testRate, threshold)

		// Window granularity allows up to one 20ms window of slop per side.
		slop := int(float64(testRate) * 0.02)
		if len(trimmed) < len(speech)-2*slop || len(trimmed) > len(speech)+2*slop {
			t.Errorf("Expected roughly %d samples after trim, got %d", len(speech), len(trimmed))
		}
	})

	t.Run("all silence returns empty", func(t *testing.T) {
		trimmed := TrimSilence(quiet(2*time.Second), testRate, threshold)
		if len(trimmed) != 0 {
			t.Errorf("Expected empty result for all-silent input, got %d samples", len(trimmed))
		}
	})

	t.Run("empty input returns empty", func(t *testing.T) {
		trimmed := TrimSilence(nil, testRate, threshold)
		if len(trimmed) != 0 {
			t.Errorf("Expected empty result for empty input, got %d samples", len(trimmed))
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		samples := append(append(quiet(500*time.Millisecond), tone(0.3, 300*time.Millisecond)...), quiet(500*time.Millisecond)...)

		once := TrimSilence(samples, testRate, threshold)
		twice := TrimSilence(once, testRate, threshold)

		if len(once) != len(twice) {
			t.Errorf("Trim not idempotent: %d then %d samples", len(once), len(twice))
		}
	})

	t.Run("interior silence is preserved", func(t *testing.T) {
		inner := append(append(tone(0.3, 200*time.Millisecond), quiet(300*time.Millisecond)...), tone(0.3, 200*time.Millisecond)...)
		samples := append(append(quiet(time.Second), inner...), quiet(time.Second)...)

		trimmed := TrimSilence(samples, testRate, threshold)

		slop := int(float64(testRate) * 0.04)
		if len(trimmed) < len(inner)-slop || len(trimmed) > len(inner)+slop {
			t.Errorf("Expected interior silence kept (%d samples), got %d", len(inner), len(trimmed))
		}
	})
}

func TestTrimSilencePadded(t *testing.T) {
	threshold := float32(0.01)
	pad := 250 * time.Millisecond
	padSamples := int(float64(testRate) * pad.Seconds())

	t.Run("keeps padding around speech", func(t *testing.T) {
		speech := tone(0.3, 500*time.Millisecond)
		samples := append(append(quiet(time.Second), speech...), quiet(time.Second)...)

		hard := TrimSilence(samples, testRate, threshold)
		padded := TrimSilencePadded(samples, testRate, threshold, pad)

		want := len(hard) + 2*padSamples
		slop := int(float64(testRate) * 0.02)
		if len(padded) < want-slop || len(padded) > want+slop {
			t.Errorf("Expected roughly %d samples with padding, got %d", want, len(padded))
		}
	})

	t.Run("padding clamps at input bounds", func(t *testing.T) {
		// Speech starts immediately: no room for leading padding.
		samples := append(tone(0.3, 300*time.Millisecond), quiet(100*time.Millisecond)...)

		padded := TrimSilencePadded(samples, testRate, threshold, pad)
		if len(padded) > len(samples) {
			t.Errorf("Padded trim exceeded input length: %d > %d", len(padded), len(samples))
		}
	})

	t.Run("all silence returns empty", func(t *testing.T) {
		padded := TrimSilencePadded(quiet(time.Second), testRate, threshold, pad)
		if len(padded) != 0 {
			t.Errorf("Expected empty result for all-silent input, got %d samples", len(padded))
		}
	})
}
