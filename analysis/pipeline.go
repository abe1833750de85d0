package analysis

import (
	"context"
	"fmt"
	"time"

	"chromascope/logging"
)

// Pipeline runs all feature extractors over one signal and assembles the
// resulting Timeline. Pitch runs concurrently on its worker while the
// synchronous extractors proceed; every extractor is failure-isolated, so
// a broken feature yields an empty series and the rest still publish.
type Pipeline struct {
	cfg      Config
	spectral *SpectralFrameExtractor
	mel      *MelBandExtractor
	chroma   *ChromaExtractor
	pitch    *PitchTracker
	rhythm   *RhythmExtractor
	logger   logging.Logger
}

// NewPipeline wires the extractors for the given configuration.
func NewPipeline(cfg Config, logger logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	log := logger.WithFields(logging.Fields{"component": "analysis_pipeline"})

	spectral := NewSpectralFrameExtractor(cfg.Spectral, cfg.SampleRate)
	return &Pipeline{
		cfg:      cfg,
		spectral: spectral,
		mel:      NewMelBandExtractor(cfg.Mel, spectral),
		chroma:   NewChromaExtractor(cfg.Chroma, spectral),
		pitch:    NewPitchTracker(cfg.Pitch, log),
		rhythm:   NewRhythmExtractor(cfg.Rhythm, log),
		logger:   log,
	}
}

// Config returns the pipeline's parameter set.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Close stops the pitch worker.
func (p *Pipeline) Close() {
	p.pitch.Close()
}

// Analyze extracts all features from the signal. It returns an error only
// when the signal itself is unusable; individual extractor failures are
// logged and leave that feature's series empty. The context is checked
// between extractors, not inside them.
func (p *Pipeline) Analyze(ctx context.Context, sig *Signal) (*Timeline, error) {
	if sig == nil || len(sig.Samples) == 0 {
		return nil, fmt.Errorf("empty signal")
	}
	if sig.SampleRate != p.cfg.SampleRate {
		return nil, fmt.Errorf("signal rate %d does not match pipeline rate %d", sig.SampleRate, p.cfg.SampleRate)
	}

	started := time.Now()
	tl := &Timeline{
		Duration:   sig.Duration(),
		SampleRate: sig.SampleRate,
		AnalyzedAt: started,
	}

	// The pitch worker borrows the buffer for the whole run; the reply at
	// the end of this function is its completion barrier.
	pitchReply := p.pitch.Submit(sig)

	tl.Mel = p.runMel(sig)
	if err := ctx.Err(); err != nil {
		<-pitchReply
		return nil, err
	}

	tl.Chroma = p.runChroma(sig)
	if err := ctx.Err(); err != nil {
		<-pitchReply
		return nil, err
	}

	tl.Rhythm = p.runRhythm(sig)

	pitchRes := <-pitchReply
	if pitchRes.Err != nil {
		p.logger.Warn("pitch extraction degraded to empty series", logging.Fields{
			"error": pitchRes.Err.Error(),
		})
	} else {
		tl.Pitch = pitchRes.Frames
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.logger.Info("analysis complete", logging.Fields{
		"duration_sec": tl.Duration,
		"mel_frames":   len(tl.Mel),
		"chroma":       len(tl.Chroma),
		"pitch":        len(tl.Pitch),
		"beats":        len(tl.Rhythm.Beats),
		"tempo":        tl.Rhythm.Tempo,
		"elapsed":      time.Since(started).String(),
	})
	return tl, nil
}

func (p *Pipeline) runMel(sig *Signal) (frames []MelFrame) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("mel extraction degraded to empty series", logging.Fields{"panic": fmt.Sprint(r)})
			frames = nil
		}
	}()
	return p.mel.Extract(sig)
}

func (p *Pipeline) runChroma(sig *Signal) (frames []ChromaFrame) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("chroma extraction degraded to empty series", logging.Fields{"panic": fmt.Sprint(r)})
			frames = nil
		}
	}()
	return p.chroma.Extract(sig)
}

func (p *Pipeline) runRhythm(sig *Signal) RhythmSummary {
	summary, err := p.rhythm.Extract(sig)
	if err != nil {
		p.logger.Warn("rhythm extraction degraded to empty series", logging.Fields{"error": err.Error()})
		return RhythmSummary{BucketWidth: p.cfg.Rhythm.DensityBucket}
	}
	return summary
}
