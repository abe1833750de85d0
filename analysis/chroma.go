package analysis

import (
	"math"
)

const chromaEpsilon = 1e-10

// ChromaExtractor folds spectral energy into a 12-bin pitch-class profile.
// Bins outside the configured pitch range are ignored; each remaining
// bin's energy lands on the class of its nearest equal-tempered note.
// Frames are normalized so the dominant class equals 1.0, which makes
// successive frames comparable regardless of overall level.
//
// Runs at a faster cadence than the band extractor so harmonic changes
// register quickly.
type ChromaExtractor struct {
	cfg      ChromaConfig
	spectral *SpectralFrameExtractor
}

// NewChromaExtractor creates a pitch-class extractor over the given
// spectral frame source.
func NewChromaExtractor(cfg ChromaConfig, spectral *SpectralFrameExtractor) *ChromaExtractor {
	return &ChromaExtractor{cfg: cfg, spectral: spectral}
}

// Extract walks the signal at the chroma cadence. Incomplete trailing
// windows are dropped, matching the spectral extractor's contract.
func (c *ChromaExtractor) Extract(sig *Signal) []ChromaFrame {
	if sig == nil || len(sig.Samples) == 0 || c.cfg.Cadence <= 0 {
		return nil
	}

	var frames []ChromaFrame
	for i := 0; ; i++ {
		t := float64(i) * c.cfg.Cadence
		start := int(t * float64(sig.SampleRate))
		if start+c.spectral.WindowSize() > len(sig.Samples) {
			break
		}

		spectrum := c.spectral.Frame(sig.Samples[start:])
		if spectrum == nil {
			break
		}

		frames = append(frames, ChromaFrame{
			Time:    t,
			Classes: c.classes(spectrum),
		})
	}
	return frames
}

// classes accumulates per-class energy and normalizes against the frame
// maximum. A frame with no energy above the epsilon floor stays all-zero.
func (c *ChromaExtractor) classes(spectrum []float64) [12]float64 {
	var out [12]float64
	for k, mag := range spectrum {
		freq := c.spectral.BinFrequency(k)
		if freq < c.cfg.MinFreq || freq > c.cfg.MaxFreq {
			continue
		}
		out[c.PitchClass(freq)] += mag * mag
	}

	maxVal := 0.0
	for _, v := range out {
		if v > maxVal {
			maxVal = v
		}
	}
	if maxVal < chromaEpsilon {
		return [12]float64{}
	}
	for i := range out {
		out[i] /= maxVal
	}
	return out
}

// PitchClass maps a frequency to its pitch class (0=C .. 11=B) via the
// MIDI note number: round(12*log2(f/ref) + 69) mod 12.
func (c *ChromaExtractor) PitchClass(freq float64) int {
	midi := 12.0*math.Log2(freq/c.cfg.RefFreq) + 69.0
	class := int(math.Round(midi)) % 12
	if class < 0 {
		class += 12
	}
	return class
}
