package server

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chromascope/analysis"
	"chromascope/cache"
	"chromascope/logging"
	"chromascope/orchestrator"
	"chromascope/playback"
	"chromascope/track"
)

type stubStatus struct {
	mu         sync.Mutex
	snap       orchestrator.Snapshot
	refreshErr error
	lastArtist string
	lastTitle  string
	updates    chan struct{}
}

func (s *stubStatus) Snapshot() orchestrator.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *stubStatus) TriggerRefresh(artist, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastArtist = artist
	s.lastTitle = title
	return s.refreshErr
}

func (s *stubStatus) Updates() <-chan struct{} { return s.updates }

type stubGuard struct {
	blocked bool
	reason  string
	resets  int
}

func (g *stubGuard) Blocked() (bool, string) { return g.blocked, g.reason }
func (g *stubGuard) Reset()                  { g.resets++ }

type stubMedia struct {
	entries  []cache.MediaEntry
	evictErr error
	evicted  []string
}

func (m *stubMedia) Entries(ctx context.Context) ([]cache.MediaEntry, error) {
	return m.entries, nil
}

func (m *stubMedia) Stats(ctx context.Context) (int, int64, error) {
	var total int64
	for _, e := range m.entries {
		total += e.Size
	}
	return len(m.entries), total, nil
}

func (m *stubMedia) Evict(ctx context.Context, key track.Key) error {
	m.evicted = append(m.evicted, key.String())
	return m.evictErr
}

func publishedTimeline() *analysis.Timeline {
	return &analysis.Timeline{
		Duration:   2.0,
		SampleRate: 22050,
		Mel: []analysis.MelFrame{
			{Time: 0.0, Bands: []float64{1, 2}},
			{Time: 0.1, Bands: []float64{3, 4}},
			{Time: 0.2, Bands: []float64{5, 6}},
		},
		Chroma: []analysis.ChromaFrame{{Time: 0.0}},
		Pitch:  []analysis.PitchFrame{{Time: 0.0, Frequency: 220, Confidence: 0.9}},
		Rhythm: analysis.RhythmSummary{
			Tempo:       120,
			Beats:       []float64{0, 0.5, 1.0, 1.5},
			Density:     []int{2, 2},
			BucketWidth: 1,
		},
	}
}

type testServer struct {
	status *stubStatus
	guard  *stubGuard
	media  *stubMedia
	clock  *playback.SyncedClock
	http   *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		status: &stubStatus{updates: make(chan struct{}, 1)},
		guard:  &stubGuard{},
		media:  &stubMedia{},
		clock:  playback.NewSyncedClock(),
	}
	srv := New(ts.status, ts.clock, ts.guard, ts.media, &logging.NoOpLogger{})
	ts.http = httptest.NewServer(srv.Handler())
	t.Cleanup(ts.http.Close)
	return ts
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.status.snap = orchestrator.Snapshot{
		Phase:      orchestrator.PhaseIdle,
		Key:        track.NewKey("Daft Punk", "One More Time"),
		Timeline:   publishedTimeline(),
		Generation: 7,
	}
	ts.clock.Update(63500, false)

	var got struct {
		Phase       string  `json:"phase"`
		Artist      string  `json:"artist"`
		Title       string  `json:"title"`
		HasTimeline bool    `json:"hasTimeline"`
		Generation  uint64  `json:"generation"`
		Position    float64 `json:"position"`
		Playing     bool    `json:"playing"`
	}
	resp := getJSON(t, ts.http.URL+"/api/status", &got)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d", resp.StatusCode)
	}
	if got.Phase != "idle" || got.Artist != "daft punk" || got.Title != "one more time" {
		t.Errorf("unexpected identity fields: %+v", got)
	}
	if !got.HasTimeline || got.Generation != 7 {
		t.Errorf("unexpected state fields: %+v", got)
	}
	if got.Position != 63.5 || got.Playing {
		t.Errorf("position = %v playing = %v, want 63.5 paused", got.Position, got.Playing)
	}
}

func TestTimelineEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := getJSON(t, ts.http.URL+"/api/timeline", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("empty status code = %d, want 404", resp.StatusCode)
	}

	ts.status.snap.Timeline = publishedTimeline()
	var tl analysis.Timeline
	resp = getJSON(t, ts.http.URL+"/api/timeline", &tl)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d", resp.StatusCode)
	}
	if tl.Duration != 2.0 || len(tl.Mel) != 3 || tl.Rhythm.Tempo != 120 {
		t.Errorf("round-tripped timeline mismatch: %+v", tl)
	}
}

func TestSummaryEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := getJSON(t, ts.http.URL+"/api/summary", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("empty status code = %d, want 404", resp.StatusCode)
	}

	ts.status.snap.Timeline = publishedTimeline()
	var got analysis.Summary
	resp = getJSON(t, ts.http.URL+"/api/summary", &got)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d", resp.StatusCode)
	}
	if got.Tempo != 120 || got.BeatCount != 4 || got.Duration != 2.0 {
		t.Errorf("summary = %+v", got)
	}
}

func TestFrameEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.status.snap.Timeline = publishedTimeline()

	var got struct {
		Time  float64              `json:"time"`
		Frame analysis.FrameResult `json:"frame"`
	}
	resp := getJSON(t, ts.http.URL+"/api/frame?t=0.12", &got)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d", resp.StatusCode)
	}
	if got.Frame.Mel == nil || got.Frame.Mel.Time != 0.1 {
		t.Errorf("nearest mel frame = %+v, want the one at 0.1", got.Frame.Mel)
	}

	resp = getJSON(t, ts.http.URL+"/api/frame?t=nonsense", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad time param status = %d, want 400", resp.StatusCode)
	}
}

func TestFrameEndpointWithoutTimeline(t *testing.T) {
	ts := newTestServer(t)
	resp := getJSON(t, ts.http.URL+"/api/frame?t=1.0", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status code = %d, want 404", resp.StatusCode)
	}
}

func TestBeatEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.status.snap.Timeline = publishedTimeline()

	var got struct {
		Beat analysis.BeatResult `json:"beat"`
	}
	resp := getJSON(t, ts.http.URL+"/api/beat?t=1.02", &got)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d", resp.StatusCode)
	}
	if !got.Beat.OnBeat || got.Beat.BeatIndex != 2 {
		t.Fatalf("beat = %+v, want a hit on index 2", got.Beat)
	}
	if math.Abs(got.Beat.Strength-0.6) > 1e-9 {
		t.Errorf("strength = %v, want 0.6", got.Beat.Strength)
	}

	resp = getJSON(t, ts.http.URL+"/api/beat?t=1.02&tolerance=-1", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("negative tolerance status = %d, want 400", resp.StatusCode)
	}
}

func TestRefreshEndpoint(t *testing.T) {
	ts := newTestServer(t)

	body := bytes.NewBufferString(`{"artist":"Queen","title":"Bohemian Rhapsody"}`)
	resp, err := http.Post(ts.http.URL+"/api/refresh", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status code = %d, want 202", resp.StatusCode)
	}
	if ts.status.lastArtist != "Queen" || ts.status.lastTitle != "Bohemian Rhapsody" {
		t.Errorf("refresh forwarded %q/%q", ts.status.lastArtist, ts.status.lastTitle)
	}

	ts.status.refreshErr = orchestrator.ErrBusy
	resp, err = http.Post(ts.http.URL+"/api/refresh", "application/json",
		bytes.NewBufferString(`{"artist":"a","title":"b"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("busy status code = %d, want 409", resp.StatusCode)
	}
}

func TestGuardEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.guard.blocked = true
	ts.guard.reason = "daily quota exceeded"

	var got struct {
		Blocked bool   `json:"blocked"`
		Reason  string `json:"reason"`
	}
	resp := getJSON(t, ts.http.URL+"/api/guard", &got)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d", resp.StatusCode)
	}
	if !got.Blocked || got.Reason != "daily quota exceeded" {
		t.Errorf("guard status = %+v", got)
	}

	resp, err := http.Post(ts.http.URL+"/api/guard/reset", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset status code = %d", resp.StatusCode)
	}
	if ts.guard.resets != 1 {
		t.Errorf("resets = %d, want 1", ts.guard.resets)
	}
}

func TestGuardEndpointsWithoutGuard(t *testing.T) {
	status := &stubStatus{updates: make(chan struct{}, 1)}
	srv := New(status, playback.NewSyncedClock(), nil, nil, &logging.NoOpLogger{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/guard")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want 503", resp.StatusCode)
	}
}

func TestMediaEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.media.entries = []cache.MediaEntry{
		{Key: "daft punk - one more time", Filename: "daft_punk__one_more_time.mp3", Size: 4096},
		{Key: "queen - bohemian rhapsody", Filename: "queen__bohemian_rhapsody.mp3", Size: 8192},
	}

	var got struct {
		Count      int               `json:"count"`
		TotalBytes int64             `json:"totalBytes"`
		Entries    []cache.MediaEntry `json:"entries"`
	}
	resp := getJSON(t, ts.http.URL+"/api/media", &got)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d", resp.StatusCode)
	}
	if got.Count != 2 || got.TotalBytes != 12288 || len(got.Entries) != 2 {
		t.Errorf("library response = %+v", got)
	}
}

func TestMediaEvict(t *testing.T) {
	ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodDelete,
		ts.http.URL+"/api/media?artist=Daft+Punk&title=One+More+Time", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status code = %d, want 204", resp.StatusCode)
	}
	if len(ts.media.evicted) != 1 || ts.media.evicted[0] != "daft punk - one more time" {
		t.Errorf("evicted = %v", ts.media.evicted)
	}

	ts.media.evictErr = cache.ErrMiss
	req, _ = http.NewRequest(http.MethodDelete, ts.http.URL+"/api/media?artist=x&title=y", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("miss status code = %d, want 404", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodDelete, ts.http.URL+"/api/media", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty key status code = %d, want 400", resp.StatusCode)
	}
}

func TestFrameStreamWebsocket(t *testing.T) {
	ts := newTestServer(t)
	ts.status.snap.Timeline = publishedTimeline()
	ts.clock.Update(1020, false)

	wsURL := strings.Replace(ts.http.URL, "http", "ws", 1) + "/ws/frames?fps=100"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var payload framePayload
	if err := conn.ReadJSON(&payload); err != nil {
		t.Fatalf("read: %v", err)
	}

	if payload.Time != 1.02 {
		t.Errorf("payload time = %v, want the synced position 1.02", payload.Time)
	}
	if payload.Frame == nil || payload.Frame.Mel == nil {
		t.Fatalf("payload carries no frame: %+v", payload)
	}
	if payload.Beat == nil || !payload.Beat.OnBeat || payload.Beat.BeatIndex != 2 {
		t.Errorf("payload beat = %+v, want a hit on index 2", payload.Beat)
	}
}
