package audio

import (
	"math"
	"path/filepath"
	"testing"
)

func TestEncodeDecodeWAV(t *testing.T) {
	samples := sine(440, ModelRate, 1600) // 100ms

	data, err := EncodeWAV(samples, ModelRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	if len(data) != 44+len(samples)*4 {
		t.Errorf("Expected %d bytes, got %d", 44+len(samples)*4, len(data))
	}

	decoded, rate, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if rate != ModelRate {
		t.Errorf("Expected sample rate %d, got %d", ModelRate, rate)
	}

	if len(decoded) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(decoded))
	}

	for i := range samples {
		if decoded[i] != samples[i] {
			t.Fatalf("Sample %d mismatch: %f vs %f", i, samples[i], decoded[i])
		}
	}
}

func TestEncodeWAVValidation(t *testing.T) {
	tests := []struct {
		name       string
		samples    []float32
		sampleRate int
	}{
		{"empty samples", nil, ModelRate},
		{"zero sample rate", []float32{0.1}, 0},
		{"negative sample rate", []float32{0.1}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodeWAV(tt.samples, tt.sampleRate); err == nil {
				t.Errorf("Expected error but got none")
			}
		})
	}
}

func TestDecodeWAVRejectsMalformed(t *testing.T) {
	valid, err := EncodeWAV([]float32{0.1, 0.2, 0.3}, ModelRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{
			name:   "too short",
			mutate: func(d []byte) []byte { return d[:20] },
		},
		{
			name: "bad RIFF magic",
			mutate: func(d []byte) []byte {
				d[0] = 'X'
				return d
			},
		},
		{
			name: "integer PCM format rejected",
			mutate: func(d []byte) []byte {
				d[20] = 1 // AudioFormat
				return d
			},
		},
		{
			name: "stereo rejected",
			mutate: func(d []byte) []byte {
				d[22] = 2 // NumChannels
				return d
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, len(valid))
			copy(data, valid)
			if _, _, err := DecodeWAV(tt.mutate(data)); err == nil {
				t.Errorf("Expected error but got none")
			}
		})
	}
}

func TestWAVFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.wav")

	samples := sine(220, ModelRate, 800)
	if err := WriteWAVFile(path, samples, ModelRate); err != nil {
		t.Fatalf("WriteWAVFile failed: %v", err)
	}

	decoded, rate, err := ReadWAVFile(path)
	if err != nil {
		t.Fatalf("ReadWAVFile failed: %v", err)
	}

	if rate != ModelRate || len(decoded) != len(samples) {
		t.Errorf("Round trip mismatch: rate=%d samples=%d", rate, len(decoded))
	}
}

func TestGetWAVDuration(t *testing.T) {
	samples := make([]float32, ModelRate*2) // 2 seconds
	data, err := EncodeWAV(samples, ModelRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	duration, err := GetWAVDuration(data)
	if err != nil {
		t.Fatalf("GetWAVDuration failed: %v", err)
	}

	if math.Abs(duration-2.0) > 0.001 {
		t.Errorf("Expected 2.0 seconds, got %f", duration)
	}
}
