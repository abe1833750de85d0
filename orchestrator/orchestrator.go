// Package orchestrator sequences one acquisition at a time: debounce the
// track change, consult the cache tiers, resolve and download when
// needed, extract features, and publish the finished timeline. A
// generation counter detects superseded acquisitions; their results are
// discarded silently at defined resumption points, never mid-step.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"chromascope/analysis"
	"chromascope/logging"
	"chromascope/track"
)

var (
	// ErrBusy is returned when a trigger arrives while an acquisition
	// holds the single-flight lock. Triggers are rejected, not queued.
	ErrBusy = errors.New("orchestrator: acquisition already in flight")
	// ErrNoSource is the failure when the resolver is blocked and no
	// cache tier holds the track.
	ErrNoSource = errors.New("orchestrator: resolver blocked and no cached source")
)

// Phase enumerates the acquisition state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseDebouncing
	PhaseCheckAnalysisCache
	PhaseCheckMediaCache
	PhaseResolving
	PhaseDownloading
	PhaseExtracting
	PhasePublishing
	PhaseAborted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseDebouncing:
		return "debouncing"
	case PhaseCheckAnalysisCache:
		return "check_analysis_cache"
	case PhaseCheckMediaCache:
		return "check_media_cache"
	case PhaseResolving:
		return "resolving"
	case PhaseDownloading:
		return "downloading"
	case PhaseExtracting:
		return "extracting"
	case PhasePublishing:
		return "publishing"
	case PhaseAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// AnalysisCache is the timeline tier consulted first.
type AnalysisCache interface {
	Get(ctx context.Context, key track.Key) (*analysis.Timeline, error)
	Put(ctx context.Context, key track.Key, tl *analysis.Timeline) error
}

// MediaStore is the audio-file tier consulted second.
type MediaStore interface {
	Check(ctx context.Context, key track.Key) (string, error)
	FetchOrCreate(ctx context.Context, key track.Key, externalURL string) (string, error)
}

// Resolver locates an external source for a track.
type Resolver interface {
	Resolve(ctx context.Context, artist, title string) (string, error)
}

// GuardStatus exposes the resolver guard's blocked flag.
type GuardStatus interface {
	Blocked() (bool, string)
}

// Decoder turns a local media file into a signal.
type Decoder interface {
	DecodeFile(ctx context.Context, filename string) (*analysis.Signal, error)
}

// Analyzer extracts a timeline from a signal.
type Analyzer interface {
	Analyze(ctx context.Context, sig *analysis.Signal) (*analysis.Timeline, error)
}

// Deps bundles the orchestrator's collaborators. Resolver and Guard may
// be nil for cache-only operation; everything else is required.
type Deps struct {
	AnalysisCache AnalysisCache
	Media         MediaStore
	Resolver      Resolver
	Guard         GuardStatus
	Decoder       Decoder
	Analyzer      Analyzer
}

// Snapshot is the consumer-visible orchestrator state.
type Snapshot struct {
	Phase      Phase              `json:"phase"`
	Key        track.Key          `json:"key"`
	Timeline   *analysis.Timeline `json:"-"`
	Analyzing  bool               `json:"analyzing"`
	Err        error              `json:"-"`
	Generation uint64             `json:"generation"`
}

// Orchestrator holds all mutable acquisition state behind one mutex.
// The mutex is never held across an asynchronous step; each step
// re-validates its captured generation on resumption.
type Orchestrator struct {
	deps     Deps
	debounce time.Duration
	logger   logging.Logger

	mu            sync.Mutex
	generation    uint64
	phase         Phase
	inFlight      bool
	key           track.Key
	debounceTimer *time.Timer
	published     *analysis.Timeline
	publishedKey  track.Key
	analyzing     bool
	lastErr       error

	updates chan struct{}
}

// New creates an orchestrator. A non-positive debounce falls back to
// 800 milliseconds.
func New(deps Deps, debounce time.Duration, logger logging.Logger) *Orchestrator {
	if debounce <= 0 {
		debounce = 800 * time.Millisecond
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Orchestrator{
		deps:     deps,
		debounce: debounce,
		logger:   logger.WithFields(logging.Fields{"component": "orchestrator"}),
		phase:    PhaseIdle,
		updates:  make(chan struct{}, 1),
	}
}

// OnTrackChange handles a new track from the playback monitor: the
// generation advances, any held single-flight lock is torn away from its
// stale owner, the pending debounce is cancelled, and a fresh debounce
// starts for the new track.
func (o *Orchestrator) OnTrackChange(artist, title string) {
	key := track.NewKey(artist, title)

	o.mu.Lock()
	o.generation++
	gen := o.generation
	o.inFlight = false
	if o.debounceTimer != nil {
		o.debounceTimer.Stop()
		o.debounceTimer = nil
	}
	o.key = key
	o.lastErr = nil

	if key.IsZero() {
		o.phase = PhaseIdle
		o.analyzing = false
		o.mu.Unlock()
		o.logger.Debug("track change without usable metadata", logging.Fields{
			"generation": gen,
		})
		o.notify()
		return
	}

	o.phase = PhaseDebouncing
	o.analyzing = true
	correlationID := uuid.NewString()
	o.debounceTimer = time.AfterFunc(o.debounce, func() {
		o.beginAcquisition(gen, key, correlationID)
	})
	o.mu.Unlock()

	o.logger.Debug("track change debounced", logging.Fields{
		"correlation_id": correlationID,
		"key":            key.String(),
		"generation":     gen,
	})
	o.notify()
}

// TriggerRefresh starts an acquisition immediately, without debouncing.
// It is rejected with ErrBusy while another acquisition holds the
// single-flight lock.
func (o *Orchestrator) TriggerRefresh(artist, title string) error {
	key := track.NewKey(artist, title)
	if key.IsZero() {
		return errors.New("orchestrator: artist and title are both empty")
	}

	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		return ErrBusy
	}
	o.generation++
	gen := o.generation
	if o.debounceTimer != nil {
		o.debounceTimer.Stop()
		o.debounceTimer = nil
	}
	o.key = key
	o.phase = PhaseCheckAnalysisCache
	o.inFlight = true
	o.analyzing = true
	o.lastErr = nil
	correlationID := uuid.NewString()
	o.mu.Unlock()

	o.logger.Info("manual refresh triggered", logging.Fields{
		"correlation_id": correlationID,
		"key":            key.String(),
		"generation":     gen,
	})
	go o.run(gen, key, o.acqLogger(gen, key, correlationID))
	return nil
}

// Snapshot returns the consumer-visible state. The timeline pointer is
// shared; timelines are immutable once published.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Snapshot{
		Phase:      o.phase,
		Key:        o.key,
		Timeline:   o.published,
		Analyzing:  o.analyzing,
		Err:        o.lastErr,
		Generation: o.generation,
	}
}

// Updates signals state transitions. The channel coalesces: a token
// means something changed since the last receive.
func (o *Orchestrator) Updates() <-chan struct{} {
	return o.updates
}

// Close cancels any pending debounce and aborts whatever was under way.
// An in-flight acquisition runs to completion but its result is
// discarded by the generation check.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.generation++
	if o.debounceTimer != nil {
		o.debounceTimer.Stop()
		o.debounceTimer = nil
	}
	o.inFlight = false
	o.analyzing = false
	if o.phase != PhaseIdle {
		o.phase = PhaseAborted
	}
	o.mu.Unlock()
}

// beginAcquisition runs when a debounce fires. The captured generation
// is re-validated: a timer that outraced its cancellation must not start
// a superseded acquisition.
func (o *Orchestrator) beginAcquisition(gen uint64, key track.Key, correlationID string) {
	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		return
	}
	if o.inFlight {
		o.mu.Unlock()
		o.logger.Debug("acquisition rejected, single-flight lock held", logging.Fields{
			"correlation_id": correlationID,
			"generation":     gen,
		})
		return
	}
	o.inFlight = true
	o.phase = PhaseCheckAnalysisCache
	o.mu.Unlock()

	o.notify()
	go o.run(gen, key, o.acqLogger(gen, key, correlationID))
}

// run drives one acquisition. Every step re-checks the captured
// generation on resumption; a mismatch abandons silently with no side
// effects attributed to this acquisition.
func (o *Orchestrator) run(gen uint64, key track.Key, logger logging.Logger) {
	ctx := context.Background()
	started := time.Now()

	// Analysis tier first: a hit publishes without touching anything
	// else.
	if tl, err := o.deps.AnalysisCache.Get(ctx, key); err == nil {
		logger.Info("analysis cache hit")
		o.publish(gen, key, tl, logger)
		return
	}
	if !o.setPhase(gen, PhaseCheckMediaCache, logger) {
		return
	}

	localPath, err := o.deps.Media.Check(ctx, key)
	if err != nil {
		localPath, err = o.resolveAndFetch(ctx, gen, key, logger)
		if err != nil {
			o.fail(gen, err, logger)
			return
		}
		if localPath == "" {
			// Superseded during resolution.
			return
		}
	} else {
		logger.Info("media cache hit", logging.Fields{"file": localPath})
	}

	if !o.setPhase(gen, PhaseExtracting, logger) {
		return
	}
	sig, err := o.deps.Decoder.DecodeFile(ctx, localPath)
	if err != nil {
		o.fail(gen, fmt.Errorf("decode: %w", err), logger)
		return
	}
	if !o.stillLive(gen, logger) {
		return
	}

	timeline, err := o.deps.Analyzer.Analyze(ctx, sig)
	if err != nil {
		o.fail(gen, fmt.Errorf("extract: %w", err), logger)
		return
	}
	if !o.stillLive(gen, logger) {
		return
	}

	// The cache write is a side effect of this acquisition, so it also
	// sits behind the generation check above.
	if err := o.deps.AnalysisCache.Put(ctx, key, timeline); err != nil {
		logger.Warn("analysis cache write failed", logging.Fields{"error": err.Error()})
	}

	logger.Info("acquisition complete", logging.Fields{
		"elapsed_ms": time.Since(started).Milliseconds(),
	})
	o.publish(gen, key, timeline, logger)
}

// resolveAndFetch covers the Resolving and Downloading phases. It
// returns ("", nil) when the acquisition was superseded mid-way.
func (o *Orchestrator) resolveAndFetch(ctx context.Context, gen uint64, key track.Key, logger logging.Logger) (string, error) {
	if blocked, reason := o.guardBlocked(); blocked {
		logger.Warn("resolver unavailable and no cache entry", logging.Fields{"reason": reason})
		return "", fmt.Errorf("%w: %s", ErrNoSource, reason)
	}

	if !o.setPhase(gen, PhaseResolving, logger) {
		return "", nil
	}
	externalURL, err := o.deps.Resolver.Resolve(ctx, key.Artist, key.Title)
	if err != nil {
		return "", fmt.Errorf("resolve: %w", err)
	}

	if !o.setPhase(gen, PhaseDownloading, logger) {
		return "", nil
	}
	localPath, err := o.deps.Media.FetchOrCreate(ctx, key, externalURL)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	return localPath, nil
}

func (o *Orchestrator) guardBlocked() (bool, string) {
	if o.deps.Resolver == nil {
		return true, "no resolver configured"
	}
	if o.deps.Guard == nil {
		return false, ""
	}
	return o.deps.Guard.Blocked()
}

// publish installs the timeline if this acquisition is still current.
func (o *Orchestrator) publish(gen uint64, key track.Key, tl *analysis.Timeline, logger logging.Logger) {
	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		logger.Debug("stale generation, discarding finished timeline")
		return
	}
	o.phase = PhasePublishing
	o.published = tl
	o.publishedKey = key
	o.analyzing = false
	o.inFlight = false
	o.lastErr = nil
	o.phase = PhaseIdle
	o.mu.Unlock()

	logger.Info("timeline published", logging.Fields{
		"duration_sec": tl.Duration,
		"tempo":        tl.Rhythm.Tempo,
		"mel_frames":   len(tl.Mel),
		"beats":        len(tl.Rhythm.Beats),
	})
	o.notify()
}

// fail surfaces an acquisition failure if still current. The previous
// timeline belongs to another track, so it is cleared rather than shown
// against the failed one.
func (o *Orchestrator) fail(gen uint64, err error, logger logging.Logger) {
	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		logger.Debug("stale generation, discarding failure")
		return
	}
	o.phase = PhaseIdle
	o.analyzing = false
	o.inFlight = false
	o.lastErr = err
	o.published = nil
	o.publishedKey = track.Key{}
	o.mu.Unlock()

	logger.Error(err, "acquisition failed")
	o.notify()
}

// setPhase advances the visible phase, or reports that this acquisition
// has been superseded.
func (o *Orchestrator) setPhase(gen uint64, phase Phase, logger logging.Logger) bool {
	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		logger.Debug("stale generation, abandoning acquisition", logging.Fields{
			"at_phase": phase.String(),
		})
		return false
	}
	o.phase = phase
	o.mu.Unlock()

	logger.Debug("phase transition", logging.Fields{"phase": phase.String()})
	o.notify()
	return true
}

func (o *Orchestrator) stillLive(gen uint64, logger logging.Logger) bool {
	o.mu.Lock()
	live := gen == o.generation
	o.mu.Unlock()
	if !live {
		logger.Debug("stale generation, abandoning acquisition")
	}
	return live
}

func (o *Orchestrator) acqLogger(gen uint64, key track.Key, correlationID string) logging.Logger {
	return o.logger.WithFields(logging.Fields{
		"correlation_id": correlationID,
		"key":            key.String(),
		"generation":     gen,
	})
}

func (o *Orchestrator) notify() {
	select {
	case o.updates <- struct{}{}:
	default:
	}
}
