package fingerprint

import (
	"errors"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/dsp/window"
)

// Analysis defaults: 1024-sample Hann window with 50% overlap.
const (
	DefaultWindowSize = 1024
	DefaultHopSize    = 512
)

// MagnitudeSpectrum converts a complex spectrum into a magnitude spectrum
// keeping only the positive-frequency half.
func MagnitudeSpectrum(spectrum []complex128) []float64 {
	half := len(spectrum) / 2
	mag := make([]float64, half)
	for i := 0; i < half; i++ {
		mag[i] = cmplx.Abs(spectrum[i])
	}
	return mag
}

// STFT computes a time-major magnitude spectrogram: spec[frame][freqBin].
// A Hann window is applied to each frame before the FFT.
func STFT(samples []float64, windowSize, hopSize int) ([][]float64, error) {
	if windowSize <= 0 || hopSize <= 0 {
		return nil, errors.New("window and hop sizes must be positive")
	}
	if len(samples) < windowSize {
		return nil, errors.New("input shorter than window size")
	}

	nFrames := (len(samples)-windowSize)/hopSize + 1
	spec := make([][]float64, 0, nFrames)
	frame := make([]float64, windowSize)
	for start := 0; start+windowSize <= len(samples); start += hopSize {
		copy(frame, samples[start:start+windowSize])
		window.Hann(frame)
		spec = append(spec, MagnitudeSpectrum(fft.FFTReal(frame)))
	}
	return spec, nil
}

// RMS returns the root-mean-square energy of the samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
