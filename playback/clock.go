package playback

import (
	"sync"
	"time"
)

const (
	// DefaultResyncInterval is how long the clock free-runs before the
	// next provider observation is accepted unconditionally.
	DefaultResyncInterval = time.Second
	// DefaultDriftThreshold is the position disagreement, in seconds,
	// past which an observation is accepted immediately.
	DefaultDriftThreshold = 0.15
)

// SyncedClock is the consumer-side playhead. Between provider polls it
// advances on the wall clock while the player reports playing; provider
// observations snap it back when enough time has passed since the last
// resync or the drift has grown past the threshold. Small disagreements
// inside both limits are ignored so the playhead moves smoothly instead
// of jittering with every poll.
type SyncedClock struct {
	mu             sync.Mutex
	position       float64
	playing        bool
	lastSync       time.Time
	resyncInterval time.Duration
	driftThreshold float64
	now            func() time.Time
}

// NewSyncedClock returns a clock with the default resync limits.
func NewSyncedClock() *SyncedClock {
	return &SyncedClock{
		resyncInterval: DefaultResyncInterval,
		driftThreshold: DefaultDriftThreshold,
		now:            time.Now,
	}
}

// Update offers a provider observation to the clock.
func (c *SyncedClock) Update(progressMs int64, isPlaying bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	reported := float64(progressMs) / 1000.0
	current := c.positionLocked(now)

	elapsed := now.Sub(c.lastSync)
	drift := current - reported
	if drift < 0 {
		drift = -drift
	}

	// A play/pause flip always resyncs; a frozen clock must not coast
	// and a resumed one must not stay frozen.
	if isPlaying != c.playing || elapsed >= c.resyncInterval || drift > c.driftThreshold {
		c.position = reported
		c.lastSync = now
	}
	c.playing = isPlaying
}

// Position returns the current playhead estimate in seconds.
func (c *SyncedClock) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positionLocked(c.now())
}

// Playing reports whether the player was playing at the last update.
func (c *SyncedClock) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

func (c *SyncedClock) positionLocked(now time.Time) float64 {
	if !c.playing || c.lastSync.IsZero() {
		return c.position
	}
	return c.position + now.Sub(c.lastSync).Seconds()
}
