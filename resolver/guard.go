package resolver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chromascope/logging"
)

// Guard enforces a minimum spacing between resolver calls and holds a
// process-lifetime blocked flag. The flag is set once the resolution
// service reports a hard authorization or quota failure; from then on
// every call is refused until an explicit reset or a process restart.
type Guard struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	blocked bool
	reason  string
	logger  logging.Logger
}

// NewGuard returns a guard with the given call spacing. A non-positive
// spacing falls back to two seconds.
func NewGuard(spacing time.Duration, logger logging.Logger) *Guard {
	if spacing <= 0 {
		spacing = 2 * time.Second
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Guard{
		limiter: rate.NewLimiter(rate.Every(spacing), 1),
		logger:  logger.WithFields(logging.Fields{"component": "resolver_guard"}),
	}
}

// Acquire waits until the spacing window allows another call, or fails
// immediately when the guard is blocked. Waiting respects ctx.
func (g *Guard) Acquire(ctx context.Context) error {
	if blocked, reason := g.Blocked(); blocked {
		return fmt.Errorf("%w: %s", ErrBlocked, reason)
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("resolver spacing wait: %w", err)
	}
	// The block may have landed while this call was waiting.
	if blocked, reason := g.Blocked(); blocked {
		return fmt.Errorf("%w: %s", ErrBlocked, reason)
	}
	return nil
}

// Block sets the process-lifetime blocked flag. Only the first reason is
// kept.
func (g *Guard) Block(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.blocked {
		return
	}
	g.blocked = true
	g.reason = reason
	g.logger.Warn("resolver blocked for process lifetime", logging.Fields{"reason": reason})
}

// Blocked returns the blocked flag and its reason.
func (g *Guard) Blocked() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.blocked, g.reason
}

// Reset clears the blocked flag, allowing resolution to be retried
// without a process restart.
func (g *Guard) Reset() {
	g.mu.Lock()
	wasBlocked := g.blocked
	g.blocked = false
	g.reason = ""
	g.mu.Unlock()
	if wasBlocked {
		g.logger.Info("resolver block cleared")
	}
}
