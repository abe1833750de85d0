package analysis

import (
	"math"
	"sort"
)

// DefaultBeatTolerance is the beat-proximity window in seconds.
const DefaultBeatTolerance = 0.05

// FrameResult bundles the per-feature nearest frames at one instant.
// A nil pointer means that feature's series is empty. Returned frames
// point into the timeline and must be treated as read-only.
type FrameResult struct {
	Mel    *MelFrame    `json:"mel"`
	Chroma *ChromaFrame `json:"chroma"`
	Pitch  *PitchFrame  `json:"pitch"`
}

// BeatResult reports beat proximity at one instant.
type BeatResult struct {
	OnBeat    bool    `json:"onBeat"`
	Strength  float64 `json:"strength"`
	BeatIndex int     `json:"beatIndex"`
}

// FrameAt returns, independently per feature, the frame nearest to t.
// Out-of-range times clamp to the boundary frames. The lookup is a pure
// read; identical inputs always produce identical results.
func (tl *Timeline) FrameAt(t float64) FrameResult {
	var res FrameResult
	if i := nearestIndex(len(tl.Mel), func(j int) float64 { return tl.Mel[j].Time }, t); i >= 0 {
		res.Mel = &tl.Mel[i]
	}
	if i := nearestIndex(len(tl.Chroma), func(j int) float64 { return tl.Chroma[j].Time }, t); i >= 0 {
		res.Chroma = &tl.Chroma[i]
	}
	if i := nearestIndex(len(tl.Pitch), func(j int) float64 { return tl.Pitch[j].Time }, t); i >= 0 {
		res.Pitch = &tl.Pitch[i]
	}
	return res
}

// BeatAt scans the raw beat list for the nearest beat within the tolerance
// window. Strength falls off linearly with distance and every fourth beat
// index is boosted 1.5x as a presumed downbeat. On an exact distance tie
// the earlier beat in the list wins; that ordering is relied upon by
// existing consumers.
func (tl *Timeline) BeatAt(t, tolerance float64) BeatResult {
	if tolerance <= 0 {
		tolerance = DefaultBeatTolerance
	}

	best, bestDelta := -1, 0.0
	for i, b := range tl.Rhythm.Beats {
		delta := math.Abs(b - t)
		if delta <= tolerance && (best == -1 || delta < bestDelta) {
			best, bestDelta = i, delta
		}
	}
	if best == -1 {
		return BeatResult{}
	}

	strength := 1.0 - bestDelta/tolerance
	if best%4 == 0 {
		strength *= 1.5
	}
	return BeatResult{OnBeat: true, Strength: strength, BeatIndex: best}
}

// nearestIndex finds the index whose time is closest to t in a series
// sorted ascending by time, or -1 for an empty series. Runs in O(log n).
// An exact midpoint resolves to the earlier frame.
func nearestIndex(n int, timeAt func(int) float64, t float64) int {
	if n == 0 {
		return -1
	}

	i := sort.Search(n, func(j int) bool { return timeAt(j) >= t })
	if i == 0 {
		return 0
	}
	if i == n {
		return n - 1
	}
	if t-timeAt(i-1) <= timeAt(i)-t {
		return i - 1
	}
	return i
}
