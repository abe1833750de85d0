// Package dsp holds the signal-processing primitives shared by the feature
// extractors: windowing, FFT, and a DC blocking filter.
package dsp

import (
	"fmt"
	"math"
)

// HannWindow precomputes Hann coefficients of a fixed size.
type HannWindow struct {
	size         int
	coefficients []float64
}

// NewHannWindow creates a periodic Hann window of the given size.
func NewHannWindow(size int) *HannWindow {
	h := &HannWindow{size: size}
	h.generate()
	return h
}

func (h *HannWindow) generate() {
	h.coefficients = make([]float64, h.size)
	denominator := float64(h.size)
	for i := 0; i < h.size; i++ {
		h.coefficients[i] = 0.5 * (1.0 - math.Cos(2*math.Pi*float64(i)/denominator))
	}
}

// Apply applies the window to a signal (creates new array)
func (h *HannWindow) Apply(signal []float64) []float64 {
	if len(signal) != h.size {
		return nil
	}

	windowed := make([]float64, h.size)
	for i := 0; i < h.size; i++ {
		windowed[i] = signal[i] * h.coefficients[i]
	}
	return windowed
}

// ApplyInPlace applies the window to a signal in-place
func (h *HannWindow) ApplyInPlace(signal []float64) error {
	if len(signal) != h.size {
		return fmt.Errorf("signal length (%d) doesn't match window size (%d)", len(signal), h.size)
	}

	for i := 0; i < h.size; i++ {
		signal[i] *= h.coefficients[i]
	}
	return nil
}

// Coefficients returns a copy of the window coefficients.
func (h *HannWindow) Coefficients() []float64 {
	coeffs := make([]float64, len(h.coefficients))
	copy(coeffs, h.coefficients)
	return coeffs
}

// Size returns the window size.
func (h *HannWindow) Size() int {
	return h.size
}
