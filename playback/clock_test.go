package playback

import (
	"math"
	"testing"
	"time"
)

func TestSyncedClockExtrapolatesWhilePlaying(t *testing.T) {
	current := time.Now()
	c := NewSyncedClock()
	c.now = func() time.Time { return current }

	c.Update(10000, true)
	current = current.Add(500 * time.Millisecond)

	if got := c.Position(); math.Abs(got-10.5) > 1e-9 {
		t.Errorf("Position = %v, want 10.5", got)
	}
	if !c.Playing() {
		t.Error("Playing = false after a playing update")
	}
}

func TestSyncedClockIgnoresSmallDrift(t *testing.T) {
	current := time.Now()
	c := NewSyncedClock()
	c.now = func() time.Time { return current }

	c.Update(10000, true)
	current = current.Add(500 * time.Millisecond)

	// Within both limits: 0.5s since resync, drift 0.1s.
	c.Update(10400, true)
	if got := c.Position(); math.Abs(got-10.5) > 1e-9 {
		t.Errorf("Position = %v, want 10.5 (observation inside limits must not snap)", got)
	}
}

func TestSyncedClockSnapsOnLargeDrift(t *testing.T) {
	current := time.Now()
	c := NewSyncedClock()
	c.now = func() time.Time { return current }

	c.Update(10000, true)
	current = current.Add(600 * time.Millisecond)

	// A seek: reported position far from the extrapolated one.
	c.Update(12000, true)
	if got := c.Position(); math.Abs(got-12.0) > 1e-9 {
		t.Errorf("Position = %v, want 12.0 after drift snap", got)
	}
}

func TestSyncedClockSnapsAfterResyncInterval(t *testing.T) {
	current := time.Now()
	c := NewSyncedClock()
	c.now = func() time.Time { return current }

	c.Update(10000, true)
	current = current.Add(1100 * time.Millisecond)

	// Drift is small (11.1 extrapolated vs 11.2 reported) but the
	// resync interval has passed.
	c.Update(11200, true)
	if got := c.Position(); math.Abs(got-11.2) > 1e-9 {
		t.Errorf("Position = %v, want 11.2 after interval resync", got)
	}
}

func TestSyncedClockFreezesOnPause(t *testing.T) {
	current := time.Now()
	c := NewSyncedClock()
	c.now = func() time.Time { return current }

	c.Update(10000, true)
	current = current.Add(300 * time.Millisecond)

	c.Update(10300, false)
	if c.Playing() {
		t.Error("Playing = true after a paused update")
	}

	current = current.Add(2 * time.Second)
	if got := c.Position(); math.Abs(got-10.3) > 1e-9 {
		t.Errorf("Position = %v, want frozen 10.3 while paused", got)
	}

	c.Update(10300, true)
	current = current.Add(200 * time.Millisecond)
	if got := c.Position(); math.Abs(got-10.5) > 1e-9 {
		t.Errorf("Position = %v, want 10.5 after resume", got)
	}
}

func TestSyncedClockStartsAtZero(t *testing.T) {
	c := NewSyncedClock()
	if got := c.Position(); got != 0 {
		t.Errorf("Position before any update = %v, want 0", got)
	}
}
