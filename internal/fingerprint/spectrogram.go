package fingerprint

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

const dbEpsilon = 1e-10

// Spectrogram computes a short-time Fourier transform over overlapping
// Hann-windowed frames and converts the magnitudes to decibels relative to
// the buffer's peak magnitude. Returns one []float64 of len WindowSize/2
// per frame; nil when the input is shorter than one window.
func Spectrogram(samples []float64, cfg Config) [][]float64 {
	cfg = cfg.withDefaults()

	if len(samples) < cfg.WindowSize {
		return nil
	}

	window := hann(cfg.WindowSize)
	hop := cfg.hopSize()
	half := cfg.WindowSize / 2

	frames := make([][]float64, 0, (len(samples)-cfg.WindowSize)/hop+1)
	peakMag := 0.0

	frame := make([]float64, cfg.WindowSize)
	for start := 0; start+cfg.WindowSize <= len(samples); start += hop {
		copy(frame, samples[start:start+cfg.WindowSize])
		for i := range frame {
			frame[i] *= window[i]
		}

		spectrum := fft.FFTReal(frame)
		mags := make([]float64, half)
		for i := 0; i < half; i++ {
			mags[i] = cmplx.Abs(spectrum[i])
			if mags[i] > peakMag {
				peakMag = mags[i]
			}
		}
		frames = append(frames, mags)
	}

	// Silent input has no peak to reference; callers treat an
	// all-floor spectrogram as "no identification possible".
	if peakMag == 0 {
		peakMag = dbEpsilon
	}

	for _, mags := range frames {
		for i, m := range mags {
			mags[i] = 20 * math.Log10(m/peakMag+dbEpsilon)
		}
	}

	return frames
}

func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}
