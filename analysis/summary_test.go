package analysis

import (
	"math"
	"testing"
)

func TestSummarize(t *testing.T) {
	tl := &Timeline{
		Duration:   3.0,
		SampleRate: 22050,
		Mel: []MelFrame{
			{Time: 0.0, Bands: []float64{0, 2}},
			{Time: 0.1, Bands: []float64{2, 4}},
		},
		Pitch: []PitchFrame{
			{Time: 0.00, Frequency: 220, Confidence: 0.9},
			{Time: 0.05, Frequency: 0},
			{Time: 0.10, Frequency: 440, Confidence: 0.8},
			{Time: 0.15, Frequency: 0},
		},
		Rhythm: RhythmSummary{
			Tempo:       130,
			Beats:       []float64{0, 0.5, 1.0, 1.5, 2.0, 2.5},
			Density:     []int{2, 1, 3},
			BucketWidth: 1,
		},
	}

	s := tl.Summarize()

	if s.Duration != 3.0 || s.Tempo != 130 || s.BeatCount != 6 {
		t.Errorf("header fields = %+v", s)
	}

	// Frame levels are 1 and 3.
	if s.MeanLevel != 2.0 {
		t.Errorf("MeanLevel = %v, want 2", s.MeanLevel)
	}
	if s.PeakLevel != 3.0 {
		t.Errorf("PeakLevel = %v, want 3", s.PeakLevel)
	}
	if math.Abs(s.LevelStdDev-math.Sqrt2) > 1e-12 {
		t.Errorf("LevelStdDev = %v, want sqrt(2)", s.LevelStdDev)
	}

	if s.VoicedRatio != 0.5 {
		t.Errorf("VoicedRatio = %v, want 0.5", s.VoicedRatio)
	}
	if s.MeanPitch != 330 {
		t.Errorf("MeanPitch = %v, want 330", s.MeanPitch)
	}
	if math.Abs(s.PitchStdDev-110*math.Sqrt2) > 1e-9 {
		t.Errorf("PitchStdDev = %v, want 110*sqrt(2)", s.PitchStdDev)
	}

	if s.BeatDensity != 2.0 {
		t.Errorf("BeatDensity = %v, want 2", s.BeatDensity)
	}
}

func TestSummarizeEmptySeries(t *testing.T) {
	tl := &Timeline{Duration: 1.0, SampleRate: 22050}
	s := tl.Summarize()
	if s.MeanLevel != 0 || s.VoicedRatio != 0 || s.BeatDensity != 0 {
		t.Errorf("empty timeline summary = %+v, want zeros", s)
	}
	if s.Duration != 1.0 {
		t.Errorf("Duration = %v", s.Duration)
	}
}
