package analysis

import (
	"time"
)

// MelFrame is one log-compressed band-energy vector.
type MelFrame struct {
	Time  float64   `json:"time"`
	Bands []float64 `json:"bands"`
}

// ChromaFrame is one normalized 12-class pitch profile. Values are in
// [0,1] and the dominant class equals 1.0 whenever the frame had energy.
type ChromaFrame struct {
	Time    float64     `json:"time"`
	Classes [12]float64 `json:"classes"`
}

// PitchFrame is one fundamental-frequency estimate. Frequency is 0 for
// unvoiced frames; Confidence is in [0,1].
type PitchFrame struct {
	Time       float64 `json:"time"`
	Frequency  float64 `json:"frequency"`
	Confidence float64 `json:"confidence"`
}

// RhythmSummary holds the whole-signal rhythm analysis: estimated tempo,
// ascending beat times clipped to the signal duration, and a fixed-width
// beat-density series.
type RhythmSummary struct {
	Tempo       float64   `json:"tempo"`
	Beats       []float64 `json:"beats"`
	Density     []int     `json:"density"`
	BucketWidth float64   `json:"bucket_width"`
}

// Timeline is the immutable result of analyzing one track. Each series is
// independently sorted ascending by time and may be empty when its
// extractor failed; consumers must treat a published Timeline as read-only.
type Timeline struct {
	Duration   float64       `json:"duration"`
	SampleRate int           `json:"sample_rate"`
	AnalyzedAt time.Time     `json:"analyzed_at"`
	Mel        []MelFrame    `json:"mel"`
	Chroma     []ChromaFrame `json:"chroma"`
	Pitch      []PitchFrame  `json:"pitch"`
	Rhythm     RhythmSummary `json:"rhythm"`
}
