package analysis

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary condenses a timeline into scalar statistics for display
// surfaces. Every value derives from the published series; an empty
// series leaves its fields at zero.
type Summary struct {
	Duration  float64 `json:"duration"`
	Tempo     float64 `json:"tempo"`
	BeatCount int     `json:"beat_count"`

	// Band-energy statistics over the mel series. A frame's level is the
	// mean of its bands; these aggregate the per-frame levels.
	MeanLevel   float64 `json:"mean_level"`
	PeakLevel   float64 `json:"peak_level"`
	LevelStdDev float64 `json:"level_std_dev"`

	// Voiced-pitch statistics. VoicedRatio is the fraction of pitch
	// frames with a nonzero frequency; the mean and deviation cover only
	// those frames.
	VoicedRatio float64 `json:"voiced_ratio"`
	MeanPitch   float64 `json:"mean_pitch"`
	PitchStdDev float64 `json:"pitch_std_dev"`

	// Mean beat count per density bucket.
	BeatDensity float64 `json:"beat_density"`
}

// Summarize computes display statistics for the timeline.
func (tl *Timeline) Summarize() Summary {
	s := Summary{
		Duration:  tl.Duration,
		Tempo:     tl.Rhythm.Tempo,
		BeatCount: len(tl.Rhythm.Beats),
	}

	levels := make([]float64, 0, len(tl.Mel))
	for _, f := range tl.Mel {
		if len(f.Bands) == 0 {
			continue
		}
		levels = append(levels, stat.Mean(f.Bands, nil))
	}
	if len(levels) > 0 {
		s.MeanLevel = stat.Mean(levels, nil)
		s.PeakLevel = floats.Max(levels)
		if len(levels) > 1 {
			s.LevelStdDev = stat.StdDev(levels, nil)
		}
	}

	if len(tl.Pitch) > 0 {
		voiced := make([]float64, 0, len(tl.Pitch))
		for _, f := range tl.Pitch {
			if f.Frequency > 0 {
				voiced = append(voiced, f.Frequency)
			}
		}
		s.VoicedRatio = float64(len(voiced)) / float64(len(tl.Pitch))
		if len(voiced) > 0 {
			s.MeanPitch = stat.Mean(voiced, nil)
			if len(voiced) > 1 {
				s.PitchStdDev = stat.StdDev(voiced, nil)
			}
		}
	}

	if len(tl.Rhythm.Density) > 0 {
		counts := make([]float64, len(tl.Rhythm.Density))
		for i, c := range tl.Rhythm.Density {
			counts[i] = float64(c)
		}
		s.BeatDensity = stat.Mean(counts, nil)
	}
	return s
}
