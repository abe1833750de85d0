// Package playback tracks the externally-controlled player: which track
// is on, whether it is playing, and where the playhead is. The player is
// observed, never controlled; a changed track id is the sole trigger for
// a new acquisition.
package playback

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"chromascope/logging"
)

// State is one snapshot of the player.
type State struct {
	TrackID    string `json:"trackId"`
	TrackName  string `json:"trackName"`
	ArtistName string `json:"artistName"`
	ProgressMs int64  `json:"progressMs"`
	IsPlaying  bool   `json:"isPlaying"`
}

// Provider returns the player's current state.
type Provider interface {
	State(ctx context.Context) (*State, error)
}

// HTTPProvider reads player state from a JSON endpoint.
type HTTPProvider struct {
	url    string
	client *http.Client
	logger logging.Logger
}

// NewHTTPProvider returns a provider polling the given URL.
func NewHTTPProvider(url string, logger logging.Logger) *HTTPProvider {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &HTTPProvider{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logger.WithFields(logging.Fields{"component": "playback_provider"}),
	}
}

// State fetches and decodes the player state.
func (p *HTTPProvider) State(ctx context.Context) (*State, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build state request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("state request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("state endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read state response: %w", err)
	}

	var state State
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("decode state response: %w", err)
	}
	return &state, nil
}
