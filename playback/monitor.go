package playback

import (
	"context"
	"sync"
	"time"

	"chromascope/logging"
)

// TrackChange announces that the provider reported a new track id.
type TrackChange struct {
	TrackID string
	Artist  string
	Title   string
}

// Monitor polls the provider on a fixed interval, keeps the latest
// state, and emits a TrackChange whenever the track id differs from the
// previous poll. Repeated polls of the same track emit nothing.
type Monitor struct {
	provider Provider
	interval time.Duration
	logger   logging.Logger

	// OnState, when set before Start, receives every successfully polled
	// state, changed track or not. It runs on the poll goroutine and must
	// not block.
	OnState func(State)

	mu          sync.Mutex
	lastTrackID string
	lastState   *State

	changes  chan TrackChange
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewMonitor creates a monitor. A non-positive interval falls back to
// one second.
func NewMonitor(provider Provider, interval time.Duration, logger logging.Logger) *Monitor {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Monitor{
		provider: provider,
		interval: interval,
		logger:   logger.WithFields(logging.Fields{"component": "playback_monitor"}),
		changes:  make(chan TrackChange, 16),
		stopChan: make(chan struct{}),
	}
}

// Start launches the poll loop.
func (m *Monitor) Start() {
	m.logger.Info("playback monitor started", logging.Fields{
		"interval_ms": m.interval.Milliseconds(),
	})
	m.wg.Add(1)
	go m.pollLoop()
}

// Stop halts polling and waits for the loop to exit. The changes channel
// stays open; pending events can still be drained.
func (m *Monitor) Stop() {
	close(m.stopChan)
	m.wg.Wait()
	m.logger.Info("playback monitor stopped")
}

// Changes delivers track-change events, newest last. When the consumer
// lags, older pending events are dropped in favor of newer ones.
func (m *Monitor) Changes() <-chan TrackChange {
	return m.changes
}

// Current returns a copy of the most recent successfully polled state,
// or nil before the first successful poll.
func (m *Monitor) Current() *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastState == nil {
		return nil
	}
	state := *m.lastState
	return &state
}

func (m *Monitor) pollLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.poll()
	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.poll()
		}
	}
}

func (m *Monitor) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), m.interval+5*time.Second)
	defer cancel()

	state, err := m.provider.State(ctx)
	if err != nil {
		// The player being closed is normal; keep this quiet.
		m.logger.Debug("playback poll failed", logging.Fields{"error": err.Error()})
		return
	}

	m.mu.Lock()
	m.lastState = state
	changed := state.TrackID != "" && state.TrackID != m.lastTrackID
	if changed {
		m.lastTrackID = state.TrackID
	}
	m.mu.Unlock()

	if m.OnState != nil {
		m.OnState(*state)
	}
	if !changed {
		return
	}

	m.logger.Info("track changed", logging.Fields{
		"track_id": state.TrackID,
		"artist":   state.ArtistName,
		"title":    state.TrackName,
	})
	m.emit(TrackChange{
		TrackID: state.TrackID,
		Artist:  state.ArtistName,
		Title:   state.TrackName,
	})
}

// emit delivers a change without ever blocking the poll loop. With a
// full buffer the oldest pending change is dropped; the newest track is
// the only one that still matters.
func (m *Monitor) emit(change TrackChange) {
	select {
	case m.changes <- change:
		return
	default:
	}
	select {
	case <-m.changes:
	default:
	}
	select {
	case m.changes <- change:
	default:
	}
}
