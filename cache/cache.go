// Package cache provides the tiered persistence consulted during
// acquisition: an analysis cache holding extracted timelines and a media
// store holding resolved audio files. Both tiers are addressed by
// track.Key, with a fuzzy keyword-subset pass over existing entries to
// tolerate metadata drift, and both treat backend I/O failures as misses
// so acquisition can continue to the next tier.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"chromascope/analysis"
	"chromascope/logging"
	"chromascope/track"
)

// ErrMiss is returned when no entry exists for a key in a tier.
var ErrMiss = errors.New("cache: miss")

// Backend is a pluggable byte store addressed by canonical key strings.
// Implementations return ErrMiss from Get for absent keys.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// AnalysisCache stores extracted timelines keyed by track identity.
// Lookups try the exact canonical key first, then fall back to a fuzzy
// keyword-subset pass over stored keys. Backend failures and undecodable
// entries degrade to a miss.
type AnalysisCache struct {
	backend Backend
	logger  logging.Logger
}

// NewAnalysisCache wraps a backend. A nil logger falls back to the
// global logger.
func NewAnalysisCache(backend Backend, logger logging.Logger) *AnalysisCache {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &AnalysisCache{
		backend: backend,
		logger:  logger.WithFields(logging.Fields{"component": "analysis_cache"}),
	}
}

// Check reports whether an entry exists for key, exact or fuzzy.
func (c *AnalysisCache) Check(ctx context.Context, key track.Key) bool {
	_, err := c.lookup(ctx, key)
	return err == nil
}

// Get returns the cached timeline for key, or ErrMiss. Read failures and
// entries that no longer decode are logged and reported as a miss.
func (c *AnalysisCache) Get(ctx context.Context, key track.Key) (*analysis.Timeline, error) {
	data, err := c.lookup(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.logger.Warn("analysis cache read failed, treating as miss", logging.Fields{
				"key":   key.String(),
				"error": err.Error(),
			})
		}
		return nil, ErrMiss
	}

	var tl analysis.Timeline
	if err := json.Unmarshal(data, &tl); err != nil {
		c.logger.Warn("analysis cache entry undecodable, treating as miss", logging.Fields{
			"key":   key.String(),
			"error": err.Error(),
		})
		return nil, ErrMiss
	}
	return &tl, nil
}

// Put stores the timeline under the exact canonical key.
func (c *AnalysisCache) Put(ctx context.Context, key track.Key, tl *analysis.Timeline) error {
	data, err := json.Marshal(tl)
	if err != nil {
		return fmt.Errorf("encode timeline: %w", err)
	}
	if err := c.backend.Put(ctx, key.String(), data); err != nil {
		return fmt.Errorf("analysis cache write: %w", err)
	}
	c.logger.Debug("timeline cached", logging.Fields{
		"key":   key.String(),
		"bytes": len(data),
	})
	return nil
}

// Keys returns the identities of all stored entries in stable order.
func (c *AnalysisCache) Keys(ctx context.Context) ([]track.Key, error) {
	stored, err := c.backend.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("analysis cache keys: %w", err)
	}
	sort.Strings(stored)
	keys := make([]track.Key, len(stored))
	for i, s := range stored {
		keys[i] = track.ParseKey(s)
	}
	return keys, nil
}

// Close releases the backend.
func (c *AnalysisCache) Close() error {
	return c.backend.Close()
}

// lookup resolves key to stored bytes, exact first, then a fuzzy
// compatibility pass over stored keys in sorted order.
func (c *AnalysisCache) lookup(ctx context.Context, key track.Key) ([]byte, error) {
	data, err := c.backend.Get(ctx, key.String())
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, ErrMiss) {
		return nil, err
	}

	stored, err := c.backend.Keys(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(stored)
	cands := make([]track.Key, len(stored))
	for i, s := range stored {
		cands[i] = track.ParseKey(s)
	}
	match, ok := track.FuzzyMatch(key, cands)
	if !ok {
		return nil, ErrMiss
	}
	for i := range cands {
		if cands[i] == match {
			c.logger.Debug("fuzzy analysis cache match", logging.Fields{
				"requested": key.String(),
				"matched":   stored[i],
			})
			return c.backend.Get(ctx, stored[i])
		}
	}
	return nil, ErrMiss
}
