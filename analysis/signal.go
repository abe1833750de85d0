// Package analysis implements the feature-extraction pipeline and the
// time-indexed query layer over its results. Extractors consume a decoded
// mono signal and emit independent frame series; the pipeline assembles
// them into an immutable Timeline.
package analysis

import (
	"fmt"
)

// Signal is a decoded mono sample buffer. It exists only for the duration
// of one acquisition; extractors read it and never modify it.
type Signal struct {
	Samples    []float64
	SampleRate int
}

// NewSignal validates and wraps a sample buffer.
func NewSignal(samples []float64, sampleRate int) (*Signal, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}
	return &Signal{Samples: samples, SampleRate: sampleRate}, nil
}

// Duration returns the signal length in seconds.
func (s *Signal) Duration() float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(len(s.Samples)) / float64(s.SampleRate)
}
