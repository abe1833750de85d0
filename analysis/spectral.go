package analysis

import (
	"math"

	"chromascope/dsp"
)

// SpectralFrameExtractor turns fixed-size sample windows into reduced
// magnitude spectra. It evaluates the transform by direct summation at a
// configurable bin count rather than a full FFT: frequency resolution is
// traded for a spectrum size that stays constant as the window grows.
// Identical input always yields identical output.
type SpectralFrameExtractor struct {
	cfg        SpectralConfig
	sampleRate int
	window     *dsp.HannWindow

	// Per-bin oscillator tables, precomputed once per configuration.
	cos [][]float64
	sin [][]float64
}

// NewSpectralFrameExtractor precomputes the Hann window and the per-bin
// oscillator tables for the configured window size and bin count.
func NewSpectralFrameExtractor(cfg SpectralConfig, sampleRate int) *SpectralFrameExtractor {
	e := &SpectralFrameExtractor{
		cfg:        cfg,
		sampleRate: sampleRate,
		window:     dsp.NewHannWindow(cfg.WindowSize),
	}
	e.generateTables()
	return e
}

func (e *SpectralFrameExtractor) generateTables() {
	e.cos = make([][]float64, e.cfg.Bins)
	e.sin = make([][]float64, e.cfg.Bins)
	for k := 0; k < e.cfg.Bins; k++ {
		omega := 2 * math.Pi * e.BinFrequency(k) / float64(e.sampleRate)
		e.cos[k] = make([]float64, e.cfg.WindowSize)
		e.sin[k] = make([]float64, e.cfg.WindowSize)
		for n := 0; n < e.cfg.WindowSize; n++ {
			e.cos[k][n] = math.Cos(omega * float64(n))
			e.sin[k][n] = math.Sin(omega * float64(n))
		}
	}
}

// BinFrequency returns the center frequency of reduced bin k. Bins are
// linearly spaced from 0 to Nyquist.
func (e *SpectralFrameExtractor) BinFrequency(k int) float64 {
	nyquist := float64(e.sampleRate) / 2.0
	return float64(k) * nyquist / float64(e.cfg.Bins)
}

// WindowSize returns the fixed analysis window length in samples.
func (e *SpectralFrameExtractor) WindowSize() int {
	return e.cfg.WindowSize
}

// Bins returns the reduced spectrum size.
func (e *SpectralFrameExtractor) Bins() int {
	return e.cfg.Bins
}

// Frame computes the reduced magnitude spectrum of one window. Windows
// shorter than the configured size are discarded (nil return), never
// zero-padded. Magnitudes are amplitude-normalized by the window length.
func (e *SpectralFrameExtractor) Frame(samples []float64) []float64 {
	if len(samples) < e.cfg.WindowSize {
		return nil
	}

	windowed := e.window.Apply(samples[:e.cfg.WindowSize])
	if windowed == nil {
		return nil
	}

	norm := 2.0 / float64(e.cfg.WindowSize)
	mags := make([]float64, e.cfg.Bins)
	for k := 0; k < e.cfg.Bins; k++ {
		var re, im float64
		cosK, sinK := e.cos[k], e.sin[k]
		for n, s := range windowed {
			re += s * cosK[n]
			im -= s * sinK[n]
		}
		mags[k] = math.Sqrt(re*re+im*im) * norm
	}
	return mags
}
