package dsp

import (
	"math"

	"github.com/mjibson/go-dsp/fft"
)

// FFT wraps mjibson/go-dsp for the extractors that need true spectra,
// currently the pitch tracker's salience computation. The reduced-bin
// frame extractor does not use it.
type FFT struct{}

// NewFFT creates a new FFT calculator
func NewFFT() *FFT {
	return &FFT{}
}

// Compute computes the forward FFT of a real signal.
// mjibson/go-dsp handles all sizes, including non-power-of-2.
func (f *FFT) Compute(x []float64) []complex128 {
	if len(x) == 0 {
		return []complex128{}
	}
	return fft.FFTReal(x)
}

// Magnitudes computes the one-sided magnitude spectrum of a real signal.
// The result has len(x)/2+1 bins; bin k covers frequency k*sampleRate/len(x).
func (f *FFT) Magnitudes(x []float64) []float64 {
	if len(x) == 0 {
		return []float64{}
	}

	spectrum := fft.FFTReal(x)
	half := len(x)/2 + 1
	mags := make([]float64, half)
	for i := 0; i < half; i++ {
		re := real(spectrum[i])
		im := imag(spectrum[i])
		mags[i] = math.Sqrt(re*re + im*im)
	}
	return mags
}
