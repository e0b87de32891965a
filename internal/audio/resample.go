package audio

import "math"

// CaptureRate is the microphone sample rate in Hz
const CaptureRate = 48000

// ModelRate is the sample rate the acoustic model expects in Hz
const ModelRate = 16000

const (
	resampleFactor = CaptureRate / ModelRate // 3
	kernelTaps     = 63
)

// resampleKernel is a windowed-sinc low-pass filter with cutoff at the
// target Nyquist (8 kHz), unity DC gain
var resampleKernel = buildResampleKernel()

func buildResampleKernel() []float64 {
	taps := make([]float64, kernelTaps)
	center := (kernelTaps - 1) / 2
	cutoff := 1.0 / float64(resampleFactor)

	for i := range taps {
		n := float64(i - center)
		var v float64
		if n == 0 {
			v = cutoff
		} else {
			v = math.Sin(math.Pi*cutoff*n) / (math.Pi * n)
		}
		// Hann window
		w := 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(kernelTaps-1))
		taps[i] = v * w
	}

	var sum float64
	for _, t := range taps {
		sum += t
	}
	for i := range taps {
		taps[i] /= sum
	}

	return taps
}

// Resample48kTo16k converts 48 kHz mono samples to 16 kHz by low-pass
// filtering and decimating by 3. The call is stateless: no filter state is
// carried between calls, so each buffer is resampled independently. Empty
// input yields empty output; the result always has len(in)/3 samples.
func Resample48kTo16k(in []float32) []float32 {
	outLen := len(in) / resampleFactor
	out := make([]float32, outLen)
	if outLen == 0 {
		return out
	}

	center := (kernelTaps - 1) / 2
	for i := 0; i < outLen; i++ {
		pos := i * resampleFactor
		var acc float64
		for k, tap := range resampleKernel {
			idx := pos + k - center
			if idx < 0 || idx >= len(in) {
				continue
			}
			acc += tap * float64(in[idx])
		}
		out[i] = float32(acc)
	}

	return out
}
