// Package resolver locates an external download URL for a track through
// an HTTP resolution service. Calls are paced and fused by a Guard so a
// misbehaving service cannot be hammered and a revoked credential stops
// all traffic for the rest of the process.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chromascope/logging"
)

var (
	// ErrBlocked is returned once the guard has tripped; resolution
	// stays unavailable until an explicit reset or process restart.
	ErrBlocked = errors.New("resolver: blocked")
	// ErrNoMatch is returned when the service knows no source for the
	// requested track.
	ErrNoMatch = errors.New("resolver: no match")
)

// Resolver maps artist and title to an external media URL.
type Resolver interface {
	Resolve(ctx context.Context, artist, title string) (string, error)
}

// BlockError reports a hard authorization or quota failure from the
// resolution service.
type BlockError struct {
	Status int
	Reason string
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("resolver hard failure (status %d): %s", e.Status, e.Reason)
}

// HTTPResolver queries a resolution endpoint with artist and title and
// expects a JSON body carrying the media URL.
type HTTPResolver struct {
	baseURL string
	client  *http.Client
	logger  logging.Logger
}

// NewHTTPResolver returns a resolver for the given endpoint.
func NewHTTPResolver(baseURL string, logger logging.Logger) *HTTPResolver {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &HTTPResolver{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger.WithFields(logging.Fields{"component": "resolver"}),
	}
}

// Resolve asks the service for a download URL. A 404 or an empty URL in
// the body means no match; 401, 403 and 429 are hard failures reported
// as a BlockError so the guard can fuse.
func (r *HTTPResolver) Resolve(ctx context.Context, artist, title string) (string, error) {
	params := url.Values{}
	params.Set("artist", artist)
	params.Set("title", title)
	reqURL := fmt.Sprintf("%s?%s", r.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("build resolve request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolve request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read resolve response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", ErrNoMatch
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return "", &BlockError{Status: resp.StatusCode, Reason: blockReason(resp.StatusCode, body)}
	default:
		return "", fmt.Errorf("resolver returned status %d", resp.StatusCode)
	}

	var result struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decode resolve response: %w", err)
	}
	if result.URL == "" {
		return "", ErrNoMatch
	}

	r.logger.Debug("track resolved", logging.Fields{
		"artist": artist,
		"title":  title,
	})
	return result.URL, nil
}

func blockReason(status int, body []byte) string {
	reason := strings.TrimSpace(string(body))
	if reason == "" {
		reason = http.StatusText(status)
	}
	return reason
}

// GuardedResolver wraps a Resolver with a Guard: calls are paced, hard
// failures trip the process-lifetime block, and blocked calls never
// reach the inner resolver.
type GuardedResolver struct {
	inner Resolver
	guard *Guard
}

// NewGuardedResolver combines a resolver with its guard.
func NewGuardedResolver(inner Resolver, guard *Guard) *GuardedResolver {
	return &GuardedResolver{inner: inner, guard: guard}
}

// Resolve acquires the guard, forwards to the inner resolver, and trips
// the block when the inner resolver reports a hard failure.
func (r *GuardedResolver) Resolve(ctx context.Context, artist, title string) (string, error) {
	if err := r.guard.Acquire(ctx); err != nil {
		return "", err
	}

	externalURL, err := r.inner.Resolve(ctx, artist, title)
	if err != nil {
		var blockErr *BlockError
		if errors.As(err, &blockErr) {
			r.guard.Block(blockErr.Reason)
			return "", fmt.Errorf("%w: %s", ErrBlocked, blockErr.Reason)
		}
		return "", err
	}
	return externalURL, nil
}

// Guard exposes the guard for status reporting and explicit reset.
func (r *GuardedResolver) Guard() *Guard {
	return r.guard
}
