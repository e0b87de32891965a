package vad

import (
	"math"
	"time"
)

// trimWindow is the analysis window used by silence trimming (20ms)
const trimWindow = 20 * time.Millisecond

// RMS returns the root mean square level of samples. Empty input returns 0.
func RMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}

	var energy float64
	for _, s := range samples {
		energy += float64(s) * float64(s)
	}

	return float32(math.Sqrt(energy / float64(len(samples))))
}

// TrimSilence removes leading and trailing silence from samples using 20ms
// analysis windows. A window is silent when its RMS is at or below threshold.
// All-silent input returns an empty slice. Trimming is idempotent: applying
// it twice yields the same result as applying it once.
func TrimSilence(samples []float32, sampleRate int, threshold float32) []float32 {
	start, end := speechBounds(samples, sampleRate, threshold)
	if start >= end {
		return []float32{}
	}
	return samples[start:end]
}

// TrimSilencePadded trims like TrimSilence but keeps up to pad of audio on
// each side of the speech region, clamped to the input bounds. Used for
// wake word training where hard cuts clip phrase onsets.
func TrimSilencePadded(samples []float32, sampleRate int, threshold float32, pad time.Duration) []float32 {
	start, end := speechBounds(samples, sampleRate, threshold)
	if start >= end {
		return []float32{}
	}

	padSamples := int(float64(sampleRate) * pad.Seconds())
	start -= padSamples
	if start < 0 {
		start = 0
	}
	end += padSamples
	if end > len(samples) {
		end = len(samples)
	}

	return samples[start:end]
}

// speechBounds returns the [start, end) sample range covering all windows
// whose RMS exceeds threshold. Returns (0, 0) when nothing exceeds it.
func speechBounds(samples []float32, sampleRate int, threshold float32) (int, int) {
	if len(samples) == 0 || sampleRate <= 0 {
		return 0, 0
	}

	windowSize := int(float64(sampleRate) * trimWindow.Seconds())
	if windowSize <= 0 {
		windowSize = 1
	}

	start := -1
	end := 0
	for offset := 0; offset < len(samples); offset += windowSize {
		limit := offset + windowSize
		if limit > len(samples) {
			limit = len(samples)
		}

		if RMS(samples[offset:limit]) > threshold {
			if start < 0 {
				start = offset
			}
			end = limit
		}
	}

	if start < 0 {
		return 0, 0
	}
	return start, end
}
