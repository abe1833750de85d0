package analysis

import (
	"math"
)

// MelBandExtractor folds reduced spectra into a fixed number of band
// energies with log compression. Bands are contiguous linear groups of
// spectrum bins, a deliberately coarse stand-in for a perceptual mel
// filterbank that is cheap and stable for visualization.
//
// Frames are emitted at a fixed wall-clock cadence independent of the
// spectral window size, so output volume is bounded by recording length
// alone.
type MelBandExtractor struct {
	cfg      MelConfig
	spectral *SpectralFrameExtractor
}

// NewMelBandExtractor creates a band-energy extractor over the given
// spectral frame source.
func NewMelBandExtractor(cfg MelConfig, spectral *SpectralFrameExtractor) *MelBandExtractor {
	return &MelBandExtractor{cfg: cfg, spectral: spectral}
}

// Extract walks the signal at the configured cadence and emits one frame
// per complete window. A trailing window with too few samples is dropped.
func (m *MelBandExtractor) Extract(sig *Signal) []MelFrame {
	if sig == nil || len(sig.Samples) == 0 || m.cfg.Cadence <= 0 {
		return nil
	}

	var frames []MelFrame
	for i := 0; ; i++ {
		t := float64(i) * m.cfg.Cadence
		start := int(t * float64(sig.SampleRate))
		if start+m.spectral.WindowSize() > len(sig.Samples) {
			break
		}

		spectrum := m.spectral.Frame(sig.Samples[start:])
		if spectrum == nil {
			break
		}

		frames = append(frames, MelFrame{
			Time:  t,
			Bands: m.bands(spectrum),
		})
	}
	return frames
}

// bands groups the spectrum into contiguous bins and log-compresses each
// group with log10(1 + sum*scale)*gain.
func (m *MelBandExtractor) bands(spectrum []float64) []float64 {
	out := make([]float64, m.cfg.Bands)
	if len(spectrum) == 0 || m.cfg.Bands == 0 {
		return out
	}

	binsPerBand := float64(len(spectrum)) / float64(m.cfg.Bands)
	for b := 0; b < m.cfg.Bands; b++ {
		lo := int(float64(b) * binsPerBand)
		hi := int(float64(b+1) * binsPerBand)
		if b == m.cfg.Bands-1 {
			hi = len(spectrum)
		}
		if hi <= lo {
			hi = lo + 1
		}
		if hi > len(spectrum) {
			hi = len(spectrum)
		}

		var sum float64
		for _, v := range spectrum[lo:hi] {
			sum += v
		}
		out[b] = math.Log10(1.0+sum*m.cfg.Scale) * m.cfg.Gain
	}
	return out
}
