package analysis

import (
	"fmt"
	"math"
	"sort"

	"github.com/goccmack/godsp"
	"github.com/goccmack/godsp/dwt"
	"github.com/goccmack/godsp/peaks"

	"chromascope/logging"
)

// RhythmExtractor estimates tempo and beat onsets from the whole signal in
// one pass. Beats come from peaks in a wavelet energy envelope: the signal
// is decomposed with a Daubechies-4 DWT, the per-level coefficients are
// rectified, downsampled to the coarsest scale and summed, and peaks in
// that envelope with a minimum separation are taken as beats. Tempo is the
// dominant inter-beat interval.
//
// Raw beats past the signal's known duration are dropped, and the retained
// beats are rebucketed into a fixed-width density series so consumers that
// want a uniform timebase don't have to search raw timestamps.
type RhythmExtractor struct {
	cfg    RhythmConfig
	logger logging.Logger
}

// NewRhythmExtractor creates a rhythm extractor.
func NewRhythmExtractor(cfg RhythmConfig, logger logging.Logger) *RhythmExtractor {
	return &RhythmExtractor{
		cfg:    cfg,
		logger: logger.WithFields(logging.Fields{"component": "rhythm_extractor"}),
	}
}

// Extract analyzes the full signal. The returned summary always has
// density buckets covering [0, duration] even when no beats were found.
func (r *RhythmExtractor) Extract(sig *Signal) (summary RhythmSummary, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("rhythm extraction failed: %v", rec)
		}
	}()

	if sig == nil || len(sig.Samples) == 0 {
		return RhythmSummary{BucketWidth: r.cfg.DensityBucket}, nil
	}

	duration := sig.Duration()
	beats := clipBeats(r.detectBeats(sig), duration)
	density := densitySeries(beats, duration, r.cfg.DensityBucket)

	return RhythmSummary{
		Tempo:       tempoFromBeats(beats),
		Beats:       beats,
		Density:     density,
		BucketWidth: r.cfg.DensityBucket,
	}, nil
}

// detectBeats runs the DWT envelope analysis. The input buffer is copied
// first; the transform must not touch the shared sample buffer.
func (r *RhythmExtractor) detectBeats(sig *Signal) []float64 {
	scale := 1 << r.cfg.DWTLevels
	if len(sig.Samples) < scale*4 {
		return nil
	}

	sep := int(r.cfg.PeakSeparation * float64(sig.SampleRate) / float64(scale))
	if sep < 1 {
		sep = 1
	}

	samples := make([]float64, len(sig.Samples))
	copy(samples, sig.Samples)

	db4 := dwt.Daubechies4(samples, r.cfg.DWTLevels)
	coefs := db4.GetCoefficients()
	absX := godsp.AbsAll(coefs)
	dsX := godsp.DownSampleAll(absX)
	sumX := godsp.SumVectors(dsX)
	sumX = godsp.DivS(sumX, godsp.Average(sumX))
	pks := peaks.Get(sumX, sep)
	sort.Ints(pks)

	times := make([]float64, 0, len(pks))
	for _, pk := range pks {
		times = append(times, float64(pk*scale)/float64(sig.SampleRate))
	}
	return times
}

// clipBeats drops timestamps past the signal duration. Estimators working
// on padded envelopes can overrun the real signal end.
func clipBeats(beats []float64, duration float64) []float64 {
	kept := make([]float64, 0, len(beats))
	for _, b := range beats {
		if b <= duration {
			kept = append(kept, b)
		}
	}
	return kept
}

// densitySeries counts retained beats per fixed-width bucket. The bucket
// count covers the whole duration; a beat exactly at the duration lands in
// the final bucket. The counts always sum to len(beats).
func densitySeries(beats []float64, duration, bucketWidth float64) []int {
	if bucketWidth <= 0 || duration <= 0 {
		return nil
	}

	n := int(math.Ceil(duration / bucketWidth))
	if n == 0 {
		n = 1
	}
	counts := make([]int, n)
	for _, b := range beats {
		idx := int(b / bucketWidth)
		if idx >= n {
			idx = n - 1
		}
		if idx < 0 {
			idx = 0
		}
		counts[idx]++
	}
	return counts
}

// tempoFromBeats picks the dominant tempo from inter-beat intervals using
// a histogram over common BPM values with a 10 BPM tolerance. Defaults to
// 120 BPM when the beats give no usable intervals.
func tempoFromBeats(beats []float64) float64 {
	if len(beats) < 2 {
		return 120.0
	}

	tempoRange := []float64{60, 70, 80, 90, 100, 110, 120, 130, 140, 150, 160, 170, 180, 200}
	tempoCounts := make([]int, len(tempoRange))

	for i := 1; i < len(beats); i++ {
		interval := beats[i] - beats[i-1]
		if interval <= 0.2 || interval >= 2.0 {
			continue
		}
		tempo := 60.0 / interval

		bestIdx := 0
		bestDiff := math.Abs(tempo - tempoRange[0])
		for j, refTempo := range tempoRange {
			diff := math.Abs(tempo - refTempo)
			if diff < bestDiff {
				bestDiff = diff
				bestIdx = j
			}
		}
		if bestDiff < 10.0 {
			tempoCounts[bestIdx]++
		}
	}

	maxCount := 0
	bestTempo := 120.0
	for i, count := range tempoCounts {
		if count > maxCount {
			maxCount = count
			bestTempo = tempoRange[i]
		}
	}
	return bestTempo
}
