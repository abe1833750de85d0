package analysis

import (
	"math"
	"reflect"
	"testing"
)

func newTestSpectral() *SpectralFrameExtractor {
	cfg := DefaultConfig()
	return NewSpectralFrameExtractor(cfg.Spectral, cfg.SampleRate)
}

func TestSpectralFrameDeterministic(t *testing.T) {
	e := newTestSpectral()
	sig := makeSine(440.0, 0.1, 22050)

	first := e.Frame(sig.Samples)
	second := e.Frame(sig.Samples)
	if !reflect.DeepEqual(first, second) {
		t.Error("identical input produced different spectra")
	}
}

func TestSpectralFrameDiscardsShortWindow(t *testing.T) {
	e := newTestSpectral()

	if got := e.Frame(make([]float64, 1023)); got != nil {
		t.Errorf("Frame on short window = %d bins, want nil", len(got))
	}
	if got := e.Frame(nil); got != nil {
		t.Errorf("Frame on nil input = %d bins, want nil", len(got))
	}
}

func TestSpectralFrameSize(t *testing.T) {
	e := newTestSpectral()
	got := e.Frame(make([]float64, 1024))
	if len(got) != 128 {
		t.Errorf("Frame returned %d bins, want 128", len(got))
	}
}

func TestSpectralPeakBin(t *testing.T) {
	e := newTestSpectral()

	// A sine at the center frequency of bin 16 should put the spectral
	// maximum exactly there.
	freq := e.BinFrequency(16)
	sig := makeSine(freq, 0.1, 22050)
	mags := e.Frame(sig.Samples)

	peak := 0
	for k, v := range mags {
		if v > mags[peak] {
			peak = k
		}
	}
	if peak != 16 {
		t.Errorf("peak bin = %d (%.1f Hz), want 16 (%.1f Hz)", peak, e.BinFrequency(peak), freq)
	}
}

func TestBinFrequencySpacing(t *testing.T) {
	e := newTestSpectral()

	if got := e.BinFrequency(0); got != 0 {
		t.Errorf("BinFrequency(0) = %v, want 0", got)
	}

	nyquist := 22050.0 / 2.0
	spacing := nyquist / 128.0
	for k := 1; k < 4; k++ {
		want := float64(k) * spacing
		if got := e.BinFrequency(k); math.Abs(got-want) > 1e-9 {
			t.Errorf("BinFrequency(%d) = %v, want %v", k, got, want)
		}
	}
}
