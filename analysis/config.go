package analysis

// SpectralConfig parameterizes the reduced-bin spectral frame extractor.
type SpectralConfig struct {
	WindowSize int `json:"window_size"` // samples per analysis window
	Bins       int `json:"bins"`        // reduced magnitude-spectrum size
}

// MelConfig parameterizes the band-energy extractor.
type MelConfig struct {
	Bands   int     `json:"bands"`
	Cadence float64 `json:"cadence"` // seconds between frames
	Scale   float64 `json:"scale"`   // pre-log multiplier
	Gain    float64 `json:"gain"`    // post-log multiplier
}

// ChromaConfig parameterizes the pitch-class extractor.
type ChromaConfig struct {
	Cadence float64 `json:"cadence"`
	MinFreq float64 `json:"min_freq"`
	MaxFreq float64 `json:"max_freq"`
	RefFreq float64 `json:"ref_freq"` // tuning reference for A4
}

// PitchConfig parameterizes the fundamental-frequency tracker.
type PitchConfig struct {
	FrameRate        float64 `json:"frame_rate"` // output frames per second
	WindowSize       int     `json:"window_size"`
	MinFreq          float64 `json:"min_freq"`
	MaxFreq          float64 `json:"max_freq"`
	Harmonics        int     `json:"harmonics"`         // partials summed for salience
	MaxDeviation     float64 `json:"max_deviation"`     // continuity constraint, Hz
	ContinuityWeight float64 `json:"continuity_weight"` // 0 disables continuity scoring
	MinConfidence    float64 `json:"min_confidence"`    // below this a frame is unvoiced
}

// RhythmConfig parameterizes tempo and beat extraction.
type RhythmConfig struct {
	DWTLevels      int     `json:"dwt_levels"`      // wavelet decomposition depth
	PeakSeparation float64 `json:"peak_separation"` // minimum beat spacing, seconds
	DensityBucket  float64 `json:"density_bucket"`  // beat-density bucket width, seconds
}

// Config aggregates all extractor parameter sets for one pipeline.
type Config struct {
	SampleRate int            `json:"sample_rate"`
	Spectral   SpectralConfig `json:"spectral"`
	Mel        MelConfig      `json:"mel"`
	Chroma     ChromaConfig   `json:"chroma"`
	Pitch      PitchConfig    `json:"pitch"`
	Rhythm     RhythmConfig   `json:"rhythm"`
}

// DefaultConfig returns analysis parameters tuned for visualization use:
// coarse spectral resolution, fast chroma cadence, bounded output sizes.
func DefaultConfig() Config {
	return Config{
		SampleRate: 22050,
		Spectral: SpectralConfig{
			WindowSize: 1024,
			Bins:       128,
		},
		Mel: MelConfig{
			Bands:   40,
			Cadence: 0.1,
			Scale:   10.0,
			Gain:    1.0,
		},
		Chroma: ChromaConfig{
			Cadence: 0.033,
			MinFreq: 60.0,
			MaxFreq: 4000.0,
			RefFreq: 440.0,
		},
		Pitch: PitchConfig{
			FrameRate:        20.0,
			WindowSize:       2048,
			MinFreq:          55.0,
			MaxFreq:          1760.0,
			Harmonics:        5,
			MaxDeviation:     50.0,
			ContinuityWeight: 0.3,
			MinConfidence:    0.15,
		},
		Rhythm: RhythmConfig{
			DWTLevels:      4,
			PeakSeparation: 0.25,
			DensityBucket:  0.1,
		},
	}
}
