package dsp

import (
	"math"
	"testing"
)

func TestHannWindowShape(t *testing.T) {
	h := NewHannWindow(8)
	coeffs := h.Coefficients()

	if len(coeffs) != 8 {
		t.Fatalf("coefficient count = %d, want 8", len(coeffs))
	}
	if coeffs[0] != 0 {
		t.Errorf("periodic Hann must start at 0, got %v", coeffs[0])
	}
	for i, c := range coeffs {
		if c < 0 || c > 1 {
			t.Errorf("coefficient %d = %v, want [0,1]", i, c)
		}
	}
	// Periodic window: w[k] == w[N-k] for 0 < k < N.
	for k := 1; k < 8; k++ {
		if diff := coeffs[k] - coeffs[8-k]; math.Abs(diff) > 1e-12 {
			t.Errorf("coefficients not symmetric at %d: %v vs %v", k, coeffs[k], coeffs[8-k])
		}
	}
}

func TestHannWindowApply(t *testing.T) {
	h := NewHannWindow(4)
	signal := []float64{1, 1, 1, 1}

	windowed := h.Apply(signal)
	if windowed == nil {
		t.Fatal("Apply on matching length returned nil")
	}
	for i, c := range h.Coefficients() {
		if windowed[i] != c {
			t.Errorf("windowed[%d] = %v, want coefficient %v", i, windowed[i], c)
		}
	}
	if signal[1] != 1 {
		t.Error("Apply modified the input slice")
	}

	if got := h.Apply([]float64{1, 2}); got != nil {
		t.Errorf("Apply on wrong length = %v, want nil", got)
	}
}

func TestHannWindowApplyInPlace(t *testing.T) {
	h := NewHannWindow(4)
	signal := []float64{2, 2, 2, 2}

	if err := h.ApplyInPlace(signal); err != nil {
		t.Fatalf("ApplyInPlace failed: %v", err)
	}
	for i, c := range h.Coefficients() {
		if signal[i] != 2*c {
			t.Errorf("signal[%d] = %v, want %v", i, signal[i], 2*c)
		}
	}

	if err := h.ApplyInPlace([]float64{1}); err == nil {
		t.Error("ApplyInPlace on wrong length returned nil error")
	}
}

func TestDCBlockerRemovesOffset(t *testing.T) {
	dc := NewDCBlocker()

	// A constant input must decay toward zero output.
	input := make([]float64, 2000)
	for i := range input {
		input[i] = 0.5
	}
	output := dc.ProcessBuffer(input)

	tail := output[len(output)-100:]
	var maxTail float64
	for _, v := range tail {
		if a := math.Abs(v); a > maxTail {
			maxTail = a
		}
	}
	if maxTail > 0.01 {
		t.Errorf("DC tail amplitude = %v, want near 0", maxTail)
	}
}

func TestDCBlockerPreservesTone(t *testing.T) {
	dc := NewDCBlocker()

	n := 4096
	input := make([]float64, n)
	for i := range input {
		input[i] = 0.3 + 0.5*math.Sin(2*math.Pi*440*float64(i)/22050)
	}
	output := dc.ProcessBuffer(input)

	var peak float64
	for _, v := range output[n/2:] {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	if peak < 0.4 || peak > 0.6 {
		t.Errorf("tone peak after DC removal = %v, want near 0.5", peak)
	}
}

func TestDCBlockerReset(t *testing.T) {
	dc := NewDCBlocker()
	first := dc.Process(1.0)

	dc.Process(0.5)
	dc.Reset()
	if got := dc.Process(1.0); got != first {
		t.Errorf("Process after Reset = %v, want %v", got, first)
	}
}

func TestFFTMagnitudesPeak(t *testing.T) {
	f := NewFFT()

	n := 1024
	sampleRate := 22050.0
	bin := 64
	freq := float64(bin) * sampleRate / float64(n)
	signal := make([]float64, n)
	for i := range signal {
		signal[i] = math.Sin(2 * math.Pi * freq * float64(i) / sampleRate)
	}

	mags := f.Magnitudes(signal)
	if len(mags) != n/2+1 {
		t.Fatalf("magnitude count = %d, want %d", len(mags), n/2+1)
	}

	peak := 0
	for k, v := range mags {
		if v > mags[peak] {
			peak = k
		}
	}
	if peak != bin {
		t.Errorf("peak bin = %d, want %d", peak, bin)
	}
}

func TestFFTEmptyInput(t *testing.T) {
	f := NewFFT()
	if got := f.Magnitudes(nil); len(got) != 0 {
		t.Errorf("Magnitudes(nil) = %d bins, want 0", len(got))
	}
	if got := f.Compute(nil); len(got) != 0 {
		t.Errorf("Compute(nil) = %d values, want 0", len(got))
	}
}
