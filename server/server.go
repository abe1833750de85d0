// Package server exposes the published timeline and the playback-locked
// frame stream over HTTP and WebSocket. Handlers read orchestrator
// snapshots; they never drive acquisitions except through the explicit
// refresh endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"chromascope/analysis"
	"chromascope/cache"
	"chromascope/logging"
	"chromascope/orchestrator"
	"chromascope/playback"
	"chromascope/track"
)

// StatusSource is the orchestrator surface the handlers consume.
type StatusSource interface {
	Snapshot() orchestrator.Snapshot
	TriggerRefresh(artist, title string) error
	Updates() <-chan struct{}
}

// GuardControl exposes the resolver guard's blocked flag and its
// explicit reset.
type GuardControl interface {
	Blocked() (bool, string)
	Reset()
}

// MediaLibrary is the media tier surface for the library endpoints.
type MediaLibrary interface {
	Entries(ctx context.Context) ([]cache.MediaEntry, error)
	Stats(ctx context.Context) (int, int64, error)
	Evict(ctx context.Context, key track.Key) error
}

// Server wires the HTTP surface. Guard and media may be nil; their
// endpoints then answer 503.
type Server struct {
	orch   StatusSource
	clock  *playback.SyncedClock
	guard  GuardControl
	media  MediaLibrary
	logger logging.Logger
	router *mux.Router
}

func New(orch StatusSource, clock *playback.SyncedClock, guard GuardControl, media MediaLibrary, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	s := &Server{
		orch:   orch,
		clock:  clock,
		guard:  guard,
		media:  media,
		logger: logger.WithFields(logging.Fields{"component": "server"}),
	}
	s.router = s.routes()
	return s
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/timeline", s.handleTimeline).Methods(http.MethodGet)
	r.HandleFunc("/api/summary", s.handleSummary).Methods(http.MethodGet)
	r.HandleFunc("/api/frame", s.handleFrame).Methods(http.MethodGet)
	r.HandleFunc("/api/beat", s.handleBeat).Methods(http.MethodGet)
	r.HandleFunc("/api/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/api/guard", s.handleGuardStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/guard/reset", s.handleGuardReset).Methods(http.MethodPost)
	r.HandleFunc("/api/media", s.handleMediaList).Methods(http.MethodGet)
	r.HandleFunc("/api/media", s.handleMediaEvict).Methods(http.MethodDelete)
	r.HandleFunc("/ws/frames", s.handleFrameStream)
	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type statusResponse struct {
	Phase       string  `json:"phase"`
	Artist      string  `json:"artist"`
	Title       string  `json:"title"`
	Analyzing   bool    `json:"analyzing"`
	Error       string  `json:"error,omitempty"`
	HasTimeline bool    `json:"hasTimeline"`
	Generation  uint64  `json:"generation"`
	Position    float64 `json:"position"`
	Playing     bool    `json:"playing"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.orch.Snapshot()
	resp := statusResponse{
		Phase:       snap.Phase.String(),
		Artist:      snap.Key.Artist,
		Title:       snap.Key.Title,
		Analyzing:   snap.Analyzing,
		HasTimeline: snap.Timeline != nil,
		Generation:  snap.Generation,
		Position:    s.clock.Position(),
		Playing:     s.clock.Playing(),
	}
	if snap.Err != nil {
		resp.Error = snap.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	snap := s.orch.Snapshot()
	if snap.Timeline == nil {
		http.Error(w, "no timeline published", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap.Timeline)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	snap := s.orch.Snapshot()
	if snap.Timeline == nil {
		http.Error(w, "no timeline published", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap.Timeline.Summarize())
}

// timeParam reads ?t= or falls back to the synced playback position.
func (s *Server) timeParam(r *http.Request) (float64, error) {
	raw := r.URL.Query().Get("t")
	if raw == "" {
		return s.clock.Position(), nil
	}
	return strconv.ParseFloat(raw, 64)
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	t, err := s.timeParam(r)
	if err != nil {
		http.Error(w, "invalid time parameter", http.StatusBadRequest)
		return
	}
	snap := s.orch.Snapshot()
	if snap.Timeline == nil {
		http.Error(w, "no timeline published", http.StatusNotFound)
		return
	}
	res := snap.Timeline.FrameAt(t)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"time":  t,
		"frame": res,
	})
}

func (s *Server) handleBeat(w http.ResponseWriter, r *http.Request) {
	t, err := s.timeParam(r)
	if err != nil {
		http.Error(w, "invalid time parameter", http.StatusBadRequest)
		return
	}
	tolerance := analysis.DefaultBeatTolerance
	if raw := r.URL.Query().Get("tolerance"); raw != "" {
		tolerance, err = strconv.ParseFloat(raw, 64)
		if err != nil || tolerance <= 0 {
			http.Error(w, "invalid tolerance parameter", http.StatusBadRequest)
			return
		}
	}
	snap := s.orch.Snapshot()
	if snap.Timeline == nil {
		http.Error(w, "no timeline published", http.StatusNotFound)
		return
	}
	res := snap.Timeline.BeatAt(t, tolerance)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"time": t,
		"beat": res,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Artist string `json:"artist"`
		Title  string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	err := s.orch.TriggerRefresh(req.Artist, req.Title)
	switch {
	case errors.Is(err, orchestrator.ErrBusy):
		http.Error(w, "an acquisition is already in flight", http.StatusConflict)
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

func (s *Server) handleGuardStatus(w http.ResponseWriter, r *http.Request) {
	if s.guard == nil {
		http.Error(w, "resolver guard not configured", http.StatusServiceUnavailable)
		return
	}
	blocked, reason := s.guard.Blocked()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"blocked": blocked,
		"reason":  reason,
	})
}

func (s *Server) handleGuardReset(w http.ResponseWriter, r *http.Request) {
	if s.guard == nil {
		http.Error(w, "resolver guard not configured", http.StatusServiceUnavailable)
		return
	}
	s.guard.Reset()
	s.logger.Info("resolver guard reset via api")
	writeJSON(w, http.StatusOK, map[string]interface{}{"blocked": false})
}

func (s *Server) handleMediaList(w http.ResponseWriter, r *http.Request) {
	if s.media == nil {
		http.Error(w, "media store not configured", http.StatusServiceUnavailable)
		return
	}
	entries, err := s.media.Entries(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	count, totalBytes, err := s.media.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":      count,
		"totalBytes": totalBytes,
		"entries":    entries,
	})
}

func (s *Server) handleMediaEvict(w http.ResponseWriter, r *http.Request) {
	if s.media == nil {
		http.Error(w, "media store not configured", http.StatusServiceUnavailable)
		return
	}
	key := track.NewKey(r.URL.Query().Get("artist"), r.URL.Query().Get("title"))
	if key.IsZero() {
		http.Error(w, "artist and title are required", http.StatusBadRequest)
		return
	}
	err := s.media.Evict(r.Context(), key)
	switch {
	case errors.Is(err, cache.ErrMiss):
		http.Error(w, "track not in media cache", http.StatusNotFound)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const defaultStreamInterval = 33 * time.Millisecond

// framePayload is one WebSocket tick: the synced position plus the
// nearest frames and beat proximity when a timeline is published.
type framePayload struct {
	Time      float64               `json:"time"`
	Playing   bool                  `json:"playing"`
	Analyzing bool                  `json:"analyzing"`
	Frame     *analysis.FrameResult `json:"frame,omitempty"`
	Beat      *analysis.BeatResult  `json:"beat,omitempty"`
}

// handleFrameStream pushes frame payloads at a fixed rate until the
// peer goes away. The rate defaults to roughly 30 per second and can be
// lowered or raised with ?fps=.
func (s *Server) handleFrameStream(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", logging.Fields{"error": err.Error()})
		return
	}
	defer conn.Close()

	interval := defaultStreamInterval
	if raw := r.URL.Query().Get("fps"); raw != "" {
		if fps, err := strconv.Atoi(raw); err == nil && fps >= 1 && fps <= 120 {
			interval = time.Second / time.Duration(fps)
		}
	}

	s.logger.Debug("frame stream opened", logging.Fields{
		"remote":      r.RemoteAddr,
		"interval_ms": interval.Milliseconds(),
	})

	// Drain reads so the close frame from the peer is noticed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			snap := s.orch.Snapshot()
			payload := framePayload{
				Time:      s.clock.Position(),
				Playing:   s.clock.Playing(),
				Analyzing: snap.Analyzing,
			}
			if snap.Timeline != nil {
				frame := snap.Timeline.FrameAt(payload.Time)
				beat := snap.Timeline.BeatAt(payload.Time, analysis.DefaultBeatTolerance)
				payload.Frame = &frame
				payload.Beat = &beat
			}
			if err := conn.WriteJSON(payload); err != nil {
				s.logger.Debug("frame stream closed", logging.Fields{"remote": r.RemoteAddr})
				return
			}
		}
	}
}
