package playback

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"chromascope/logging"
)

type scriptedProvider struct {
	mu     sync.Mutex
	states []*State
	idx    int
	err    error
}

func (p *scriptedProvider) State(ctx context.Context) (*State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	if p.idx < len(p.states)-1 {
		s := p.states[p.idx]
		p.idx++
		return s, nil
	}
	return p.states[len(p.states)-1], nil
}

func waitChange(t *testing.T, ch <-chan TrackChange) TrackChange {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for track change")
		return TrackChange{}
	}
}

func TestMonitorEmitsOnTrackChange(t *testing.T) {
	provider := &scriptedProvider{states: []*State{
		{TrackID: "a1", TrackName: "One More Time", ArtistName: "Daft Punk", IsPlaying: true},
		{TrackID: "a1", TrackName: "One More Time", ArtistName: "Daft Punk", ProgressMs: 1000, IsPlaying: true},
		{TrackID: "b2", TrackName: "Bohemian Rhapsody", ArtistName: "Queen", IsPlaying: true},
	}}

	m := NewMonitor(provider, 10*time.Millisecond, &logging.NoOpLogger{})
	m.Start()
	defer m.Stop()

	first := waitChange(t, m.Changes())
	if first.TrackID != "a1" || first.Artist != "Daft Punk" || first.Title != "One More Time" {
		t.Errorf("first change = %+v", first)
	}

	second := waitChange(t, m.Changes())
	if second.TrackID != "b2" || second.Artist != "Queen" {
		t.Errorf("second change = %+v", second)
	}

	// The repeated poll of a1 must not have produced an extra event.
	select {
	case extra := <-m.Changes():
		t.Errorf("unexpected extra change: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMonitorCurrentTracksLatestState(t *testing.T) {
	provider := &scriptedProvider{states: []*State{
		{TrackID: "a1", ProgressMs: 5000, IsPlaying: true},
	}}

	m := NewMonitor(provider, 10*time.Millisecond, &logging.NoOpLogger{})
	m.Start()
	defer m.Stop()

	waitChange(t, m.Changes())
	state := m.Current()
	if state == nil {
		t.Fatal("Current = nil after a successful poll")
	}
	if state.TrackID != "a1" || state.ProgressMs != 5000 {
		t.Errorf("Current = %+v", state)
	}

	// Mutating the copy must not touch the monitor's state.
	state.TrackID = "mutated"
	if got := m.Current(); got.TrackID != "a1" {
		t.Errorf("Current returned shared state: %+v", got)
	}
}

func TestMonitorIgnoresEmptyTrackID(t *testing.T) {
	provider := &scriptedProvider{states: []*State{
		{TrackID: "", IsPlaying: false},
	}}

	m := NewMonitor(provider, 10*time.Millisecond, &logging.NoOpLogger{})
	m.Start()
	defer m.Stop()

	select {
	case change := <-m.Changes():
		t.Errorf("empty track id emitted a change: %+v", change)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMonitorSurvivesProviderErrors(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("connection refused")}

	m := NewMonitor(provider, 10*time.Millisecond, &logging.NoOpLogger{})
	m.Start()

	time.Sleep(50 * time.Millisecond)
	if state := m.Current(); state != nil {
		t.Errorf("Current = %+v with a failing provider, want nil", state)
	}

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestMonitorOnStateFeedsEveryPoll(t *testing.T) {
	provider := &scriptedProvider{states: []*State{
		{TrackID: "a1", ProgressMs: 1000, IsPlaying: true},
		{TrackID: "a1", ProgressMs: 2000, IsPlaying: true},
	}}

	m := NewMonitor(provider, 10*time.Millisecond, &logging.NoOpLogger{})
	got := make(chan State, 8)
	m.OnState = func(st State) {
		select {
		case got <- st:
		default:
		}
	}
	m.Start()
	defer m.Stop()

	deadline := time.After(2 * time.Second)
	var progress []int64
	for len(progress) < 2 {
		select {
		case st := <-got:
			if len(progress) == 0 || st.ProgressMs != progress[len(progress)-1] {
				progress = append(progress, st.ProgressMs)
			}
		case <-deadline:
			t.Fatalf("saw only %v before timing out", progress)
		}
	}
	if progress[0] != 1000 || progress[1] != 2000 {
		t.Errorf("progress sequence = %v, want [1000 2000]", progress)
	}
}

func TestHTTPProviderState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"trackId": "a1",
			"trackName": "One More Time",
			"artistName": "Daft Punk",
			"progressMs": 63500,
			"isPlaying": true
		}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, &logging.NoOpLogger{})
	state, err := p.State(context.Background())
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if state.TrackID != "a1" || state.TrackName != "One More Time" || state.ArtistName != "Daft Punk" {
		t.Errorf("state = %+v", state)
	}
	if state.ProgressMs != 63500 || !state.IsPlaying {
		t.Errorf("progress/playing = %d/%v", state.ProgressMs, state.IsPlaying)
	}
}

func TestHTTPProviderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "player offline", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, &logging.NoOpLogger{})
	if _, err := p.State(context.Background()); err == nil {
		t.Fatal("State on a 503 did not report an error")
	}
}
