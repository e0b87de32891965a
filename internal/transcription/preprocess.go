package transcription

import (
	"github.com/koompiai/kiri/internal/vad"
)

// modelRate is the sample rate decode audio must arrive at
const modelRate = 16000

const (
	// normalizeTarget is the peak that quiet audio gets scaled up to
	normalizeTarget = 0.95
	// normalizeFloor protects near-digital-silence from amplification
	normalizeFloor = 0.001

	// defaultTrimThreshold is the window RMS below which audio is trimmed
	defaultTrimThreshold = 0.01
)

// Normalize scales samples so the peak reaches the target amplitude, but
// only when the peak lies strictly between the floor and the target.
// Audio that is already loud enough, or so quiet that it is effectively
// silence, is returned unchanged.
func Normalize(samples []float32) []float32 {
	var peak float32
	for _, s := range samples {
		v := s
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}

	if peak <= normalizeFloor || peak >= normalizeTarget {
		return samples
	}

	gain := normalizeTarget / peak
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = s * gain
	}

	return out
}

// Preprocess normalizes and then trims leading/trailing silence. Returns an
// empty slice when nothing but silence remains.
func Preprocess(samples []float32, sampleRate int, trimThreshold float32) []float32 {
	return vad.TrimSilence(Normalize(samples), sampleRate, trimThreshold)
}
