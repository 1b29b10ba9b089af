// Package idempotency implements the dedupe-by-fingerprint cache of spec
// §4.5: an entry is either in-flight or completed, with distinct TTLs, swept
// by a background task.
package idempotency

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Default TTLs from spec §4.5.
const (
	DefaultInFlightTTL  = 5 * time.Minute
	DefaultCompletedTTL = 24 * time.Hour
)

// Status is the result of Check.
type Status int

const (
	StatusProceed Status = iota
	StatusInFlight
	StatusCompleted
)

type entry struct {
	inFlight      bool
	registeredAt  time.Time
	completed     bool
	result        json.RawMessage
	completedAt   time.Time
}

func (e *entry) staleInFlight(ttl time.Duration) bool {
	return e.inFlight && time.Since(e.registeredAt) > ttl
}

func (e *entry) staleCompleted(ttl time.Duration) bool {
	return e.completed && time.Since(e.completedAt) > ttl
}

// Cache is the idempotency store. The zero value is not usable; construct
// with New. A sync.Map-style sharded lock is unnecessary at gateway scale,
// so a single Mutex-guarded map is used, matching the spec's "concurrent
// hash structures with per-key short critical sections" requirement at a
// granularity simple enough to reason about.
type Cache struct {
	mu          sync.Mutex
	entries     map[string]*entry
	inFlightTTL time.Duration
	completedTTL time.Duration
	group       singleflight.Group
}

// New constructs a Cache with the given TTLs.
func New(inFlightTTL, completedTTL time.Duration) *Cache {
	return &Cache{
		entries:      make(map[string]*entry),
		inFlightTTL:  inFlightTTL,
		completedTTL: completedTTL,
	}
}

// NewDefault constructs a Cache with the spec's default TTLs.
func NewDefault() *Cache {
	return New(DefaultInFlightTTL, DefaultCompletedTTL)
}

// Check implements spec §4.5's check(key): proceed (no entry, or a stale
// entry which is evicted lazily here), in-flight (a live registration
// exists), or completed (a live result exists, returned alongside).
func (c *Cache) Check(key string) (Status, json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return StatusProceed, nil
	}
	if e.staleCompleted(c.completedTTL) {
		delete(c.entries, key)
		return StatusProceed, nil
	}
	if e.completed {
		return StatusCompleted, e.result
	}
	if e.staleInFlight(c.inFlightTTL) {
		delete(c.entries, key)
		return StatusProceed, nil
	}
	if e.inFlight {
		return StatusInFlight, nil
	}
	return StatusProceed, nil
}

// RegisterInFlight records key as in-flight, overwriting any existing entry.
// Invariant (spec §3): at most one in-flight entry exists per fingerprint at
// a time. Guard re-checks the entry and registers it under one lock hold;
// a direct caller of RegisterInFlight must itself have observed
// StatusProceed for key.
func (c *Cache) RegisterInFlight(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{inFlight: true, registeredAt: time.Now()}
}

// MarkCompleted replaces an in-flight registration with a completed result.
func (c *Cache) MarkCompleted(key string, result json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{completed: true, result: result, completedAt: time.Now()}
}

// Remove deletes the entry for key outright, used on failure so a retry is
// possible (spec §4.10 step 11, §7 cache-impact column).
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Sweep evicts every stale entry. Intended to run periodically from
// RunSweeper.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.staleCompleted(c.completedTTL) || e.staleInFlight(c.inFlightTTL) {
			delete(c.entries, k)
		}
	}
}

// RunSweeper runs Sweep on interval until ctx is done.
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Sweep()
		}
	}
}

// Guard wraps the idempotency guard API of spec §4.5: on proceed it runs fn
// under a singleflight.Group keyed by key (collapsing any genuinely
// concurrent identical calls into one execution — belt-and-suspenders on
// top of the Check/RegisterInFlight state machine, since singleflight alone
// cannot distinguish "duplicate while a previous call is still in flight"
// from "retry after the previous call already finished and was evicted").
// It returns the status observed before running fn: StatusCompleted means
// result is the cached value and fn was not invoked; StatusInFlight means
// the caller should surface a 409; StatusProceed means fn ran and result
// is its outcome.
func (c *Cache) Guard(
	ctx context.Context,
	key string,
	fn func(ctx context.Context) (json.RawMessage, error),
) (Status, json.RawMessage, error) {
	status, cached := c.Check(key)
	switch status {
	case StatusCompleted:
		return StatusCompleted, cached, nil
	case StatusInFlight:
		return StatusInFlight, nil, nil
	}

	// Re-check and register under one lock hold so that two callers that
	// both saw StatusProceed above cannot both register.
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if e.completed && !e.staleCompleted(c.completedTTL) {
			c.mu.Unlock()
			return StatusCompleted, e.result, nil
		}
		if e.inFlight && !e.staleInFlight(c.inFlightTTL) {
			c.mu.Unlock()
			return StatusInFlight, nil, nil
		}
	}
	c.entries[key] = &entry{inFlight: true, registeredAt: time.Now()}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		c.Remove(key)
		return StatusProceed, nil, err
	}
	result, _ := v.(json.RawMessage)
	c.MarkCompleted(key, result)
	return StatusProceed, result, nil
}
