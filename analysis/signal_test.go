package analysis

import (
	"math"
	"testing"
)

func TestNewSignalRejectsBadRate(t *testing.T) {
	if _, err := NewSignal([]float64{0}, 0); err == nil {
		t.Error("NewSignal with rate 0 returned nil error")
	}
	if _, err := NewSignal([]float64{0}, -1); err == nil {
		t.Error("NewSignal with negative rate returned nil error")
	}
}

func TestSignalDuration(t *testing.T) {
	tests := []struct {
		name    string
		samples int
		rate    int
		want    float64
	}{
		{"one second", 22050, 22050, 1.0},
		{"half second", 11025, 22050, 0.5},
		{"empty", 0, 22050, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := &Signal{Samples: make([]float64, tt.samples), SampleRate: tt.rate}
			if got := sig.Duration(); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Duration() = %v, want %v", got, tt.want)
			}
		})
	}
}

// makeSine builds a mono sine signal for extractor tests.
func makeSine(freq float64, durationSec float64, sampleRate int) *Signal {
	n := int(durationSec * float64(sampleRate))
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = math.Sin(2 * math.Pi * freq * float64(i) / float64(sampleRate))
	}
	return &Signal{Samples: samples, SampleRate: sampleRate}
}

// makeClicks builds a click track with an impulse every intervalSec, decaying
// over a few samples so the wavelet envelope has something to find.
func makeClicks(intervalSec, durationSec float64, sampleRate int) *Signal {
	n := int(durationSec * float64(sampleRate))
	samples := make([]float64, n)
	step := int(intervalSec * float64(sampleRate))
	for start := 0; start < n; start += step {
		for i := 0; i < 64 && start+i < n; i++ {
			samples[start+i] = math.Exp(-float64(i) / 16.0)
		}
	}
	return &Signal{Samples: samples, SampleRate: sampleRate}
}
