package analysis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"chromascope/dsp"
	"chromascope/logging"
)

// PitchResult is the worker's reply message. Err is set only for internal
// failures; callers downgrade those to an empty series, pitch is
// best-effort.
type PitchResult struct {
	Frames []PitchFrame
	Err    error
}

type pitchRequest struct {
	samples    []float64
	sampleRate int
	reply      chan PitchResult
}

// PitchTracker estimates the melodic fundamental on a dedicated worker
// goroutine so a slow or failing estimate never blocks the rest of the
// pipeline. Communication is message passing only: Submit hands the sample
// buffer to the worker (a read-only borrow, no copy) and the result comes
// back as a discrete message on the returned channel. The reply doubles as
// the completion barrier for the borrowed buffer.
//
// The estimator follows the harmonic-summation family: per frame, candidate
// fundamentals are scored by summing magnitude at their first N partials
// with 1/h weighting, then biased toward the previous frame's estimate with
// an exponential continuity term.
type PitchTracker struct {
	cfg      PitchConfig
	window   *dsp.HannWindow
	fft      *dsp.FFT
	logger   logging.Logger
	requests chan pitchRequest
}

// NewPitchTracker creates the tracker and starts its worker goroutine.
// Call Close when the owning pipeline shuts down.
func NewPitchTracker(cfg PitchConfig, logger logging.Logger) *PitchTracker {
	p := &PitchTracker{
		cfg:      cfg,
		window:   dsp.NewHannWindow(cfg.WindowSize),
		fft:      dsp.NewFFT(),
		logger:   logger.WithFields(logging.Fields{"component": "pitch_tracker"}),
		requests: make(chan pitchRequest),
	}
	go p.worker()
	return p
}

// Submit queues one signal for tracking and returns the reply channel.
// The worker borrows sig.Samples until the reply is delivered; the caller
// must not modify the buffer before then. Must not be called after Close.
func (p *PitchTracker) Submit(sig *Signal) <-chan PitchResult {
	reply := make(chan PitchResult, 1)
	if sig == nil {
		reply <- PitchResult{}
		return reply
	}
	p.requests <- pitchRequest{
		samples:    sig.Samples,
		sampleRate: sig.SampleRate,
		reply:      reply,
	}
	return reply
}

// Close stops the worker goroutine.
func (p *PitchTracker) Close() {
	close(p.requests)
}

func (p *PitchTracker) worker() {
	for req := range p.requests {
		req.reply <- p.track(req.samples, req.sampleRate)
	}
}

// track runs the whole-signal estimate. Panics are contained here so a
// bad frame degrades to an error message instead of killing the process.
func (p *PitchTracker) track(samples []float64, sampleRate int) (result PitchResult) {
	defer func() {
		if r := recover(); r != nil {
			result = PitchResult{Err: fmt.Errorf("pitch tracking failed: %v", r)}
		}
	}()

	if p.cfg.FrameRate <= 0 || sampleRate <= 0 {
		return PitchResult{Err: fmt.Errorf("invalid pitch parameters: rate=%f sr=%d", p.cfg.FrameRate, sampleRate)}
	}

	hop := int(float64(sampleRate) / p.cfg.FrameRate)
	if hop < 1 {
		hop = 1
	}
	win := p.cfg.WindowSize
	if len(samples) < win {
		return PitchResult{}
	}

	var frames []PitchFrame
	buf := make([]float64, win)
	prevFreq := 0.0

	for start := 0; start+win <= len(samples); start += hop {
		copy(buf, samples[start:start+win])
		if err := p.window.ApplyInPlace(buf); err != nil {
			return PitchResult{Err: err}
		}

		mags := p.fft.Magnitudes(buf)
		freq, conf := p.bestCandidate(mags, win, sampleRate, prevFreq)

		if conf < p.cfg.MinConfidence {
			freq = 0
		}
		if freq > 0 {
			prevFreq = freq
		}

		frames = append(frames, PitchFrame{
			Time:       float64(start) / float64(sampleRate),
			Frequency:  freq,
			Confidence: conf,
		})
	}
	return PitchResult{Frames: frames}
}

// bestCandidate scores a quarter-tone grid of fundamentals by harmonic
// summation and returns the winner with a normalized confidence.
func (p *PitchTracker) bestCandidate(mags []float64, fftSize, sampleRate int, prevFreq float64) (float64, float64) {
	if len(mags) == 0 {
		return 0, 0
	}
	maxMag := floats.Max(mags)
	if maxMag <= 0 {
		return 0, 0
	}

	harmonicNorm := 0.0
	for h := 1; h <= p.cfg.Harmonics; h++ {
		harmonicNorm += 1.0 / float64(h)
	}

	step := math.Pow(2, 1.0/24.0) // quarter-tone grid
	bestFreq, bestScore, bestSalience := 0.0, 0.0, 0.0

	for f0 := p.cfg.MinFreq; f0 <= p.cfg.MaxFreq; f0 *= step {
		salience := p.salience(mags, fftSize, sampleRate, f0)
		score := salience
		if prevFreq > 0 && p.cfg.ContinuityWeight > 0 && p.cfg.MaxDeviation > 0 {
			continuity := math.Exp(-math.Abs(f0-prevFreq) / p.cfg.MaxDeviation)
			score = (1-p.cfg.ContinuityWeight)*salience + p.cfg.ContinuityWeight*salience*continuity
		}
		if score > bestScore {
			bestScore = score
			bestFreq = f0
			bestSalience = salience
		}
	}

	confidence := bestSalience / (maxMag * harmonicNorm)
	if confidence > 1 {
		confidence = 1
	}
	return bestFreq, confidence
}

// salience sums magnitude at the first N partials of f0 with 1/h weights.
func (p *PitchTracker) salience(mags []float64, fftSize, sampleRate int, f0 float64) float64 {
	total := 0.0
	for h := 1; h <= p.cfg.Harmonics; h++ {
		freq := f0 * float64(h)
		bin := int(math.Round(freq * float64(fftSize) / float64(sampleRate)))
		if bin >= len(mags) {
			break
		}
		total += mags[bin] / float64(h)
	}
	return total
}
