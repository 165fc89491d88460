// Package lockout throttles origins that keep failing trust verification.
//
// Every rejected request is written to the access_attempts ledger and counted
// against its origin in memory. Once an origin crosses the failure limit it is
// blocked until the cool-off window has passed. A successful reconciliation
// clears the origin's counter.
package lockout

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/yunogate/yunogate/internal/db/models"
	"github.com/yunogate/yunogate/internal/repository"
)

// maxTrackedOrigins bounds the in-memory counter cache. Evicted origins fall
// back to the ledger count on their next failure.
const maxTrackedOrigins = 4096

type counter struct {
	mu       sync.Mutex
	failures int
	lastFail time.Time
}

// Guard tracks per-origin verification failures and decides when an origin is
// locked out.
type Guard struct {
	attempts repository.AccessAttemptRepository
	counters *lru.Cache[string, *counter]
	limit    int
	coolOff  time.Duration
	log      *logrus.Logger
}

func New(attempts repository.AccessAttemptRepository, limit int, coolOff time.Duration, log *logrus.Logger) (*Guard, error) {
	cache, err := lru.New[string, *counter](maxTrackedOrigins)
	if err != nil {
		return nil, fmt.Errorf("lockout counter cache: %w", err)
	}
	return &Guard{
		attempts: attempts,
		counters: cache,
		limit:    limit,
		coolOff:  coolOff,
		log:      log,
	}, nil
}

// Blocked reports whether the origin has exceeded the failure limit within the
// cool-off window. Origins evicted from the counter cache are re-counted from
// the ledger so a restart or eviction never resets an active lockout.
func (g *Guard) Blocked(ctx context.Context, origin string) bool {
	if g.limit <= 0 || origin == "" {
		return false
	}
	c, ok := g.counters.Get(origin)
	if !ok {
		n, err := g.attempts.CountByOriginSince(ctx, origin, time.Now().Add(-g.coolOff))
		if err != nil {
			g.log.WithError(err).WithField("origin", origin).Warn("lockout ledger count failed, origin not blocked")
			return false
		}
		c = &counter{failures: n, lastFail: time.Now()}
		g.counters.Add(origin, c)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.lastFail) > g.coolOff {
		c.failures = 0
		return false
	}
	return c.failures >= g.limit
}

// RecordFailure appends one rejection to the ledger and bumps the origin's
// in-memory counter.
func (g *Guard) RecordFailure(ctx context.Context, origin, username, reason, path string) error {
	attempt := &models.AccessAttempt{
		Origin:   origin,
		Username: username,
		Reason:   reason,
		Path:     path,
	}
	if err := g.attempts.Record(ctx, attempt); err != nil {
		return fmt.Errorf("record access attempt: %w", err)
	}

	c, ok := g.counters.Get(origin)
	if !ok {
		c = &counter{}
		g.counters.Add(origin, c)
	}
	c.mu.Lock()
	c.failures++
	c.lastFail = time.Now()
	failures := c.failures
	c.mu.Unlock()

	if failures == g.limit {
		g.log.WithFields(logrus.Fields{
			"origin":   origin,
			"username": username,
			"failures": failures,
		}).Warn("origin locked out")
	}
	return nil
}

// Reset clears the failure counter for an origin after a successful
// reconciliation.
func (g *Guard) Reset(origin string) {
	g.counters.Remove(origin)
}
