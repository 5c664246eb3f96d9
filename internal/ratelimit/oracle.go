// Package ratelimit caches the target's enforced send interval
// (slowmode) so the dispatch path doesn't query the platform on every
// message, while never trusting a stale value for long.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"rotor/pkg/logx"
)

// FetchFunc queries the platform for a target's current enforced
// interval. It must honor ctx.
type FetchFunc func(ctx context.Context, targetID string) (time.Duration, error)

type Config struct {
	// ValidityWindow is how long a fetched value is trusted.
	ValidityWindow time.Duration
	// FetchTimeout bounds a single refresh query.
	FetchTimeout time.Duration
	// DefaultInterval is used when no value was ever observed. An unknown
	// limit is never assumed to be zero unless configured so.
	DefaultInterval time.Duration
}

type entry struct {
	interval   time.Duration
	fetchedAt  time.Time
	known      bool
	refreshing chan struct{} // non-nil while a refresh is in flight
}

// Oracle caches per-target intervals with single-writer refresh:
// concurrent callers past the validity window collapse into one
// outstanding query.
type Oracle struct {
	cfg   Config
	fetch FetchFunc
	log   logx.Logger

	now func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

func New(cfg Config, fetch FetchFunc, log logx.Logger) *Oracle {
	if cfg.ValidityWindow <= 0 {
		cfg.ValidityWindow = 5 * time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	return &Oracle{
		cfg:     cfg,
		fetch:   fetch,
		log:     log,
		now:     time.Now,
		entries: map[string]*entry{},
	}
}

// CurrentInterval returns the target's enforced interval: the cached
// value while fresh, otherwise the result of one refresh query. On
// refresh failure it falls back to the last known good value, or the
// configured default if nothing was ever observed. A fetch timeout is a
// fetch failure, never fatal.
func (o *Oracle) CurrentInterval(ctx context.Context, targetID string) time.Duration {
	now := o.now()

	o.mu.Lock()
	e := o.entries[targetID]
	if e == nil {
		e = &entry{}
		o.entries[targetID] = e
	}
	if e.known && now.Sub(e.fetchedAt) < o.cfg.ValidityWindow {
		v := e.interval
		o.mu.Unlock()
		return v
	}
	if e.refreshing != nil {
		// Another caller is already refreshing; wait for it (bounded by
		// that caller's fetch timeout) instead of issuing a second query.
		done := e.refreshing
		o.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return o.lastKnown(targetID)
	}
	done := make(chan struct{})
	e.refreshing = done
	o.mu.Unlock()

	fctx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	v, err := o.fetch(fctx, targetID)
	cancel()

	o.mu.Lock()
	e.refreshing = nil
	if err == nil {
		if v < 0 {
			v = 0
		}
		e.interval = v
		e.fetchedAt = now
		e.known = true
	}
	known := e.known
	iv := e.interval
	o.mu.Unlock()
	close(done)

	if err != nil {
		o.log.Warn("rate limit refresh failed; using fallback",
			logx.String("target", targetID),
			logx.Bool("have_last_known", known),
			logx.Err(err))
	}
	if known {
		return iv
	}
	return o.cfg.DefaultInterval
}

// Observed reports the cached value and when it was fetched, without
// triggering a refresh. ok is false when nothing was ever observed.
func (o *Oracle) Observed(targetID string) (interval time.Duration, fetchedAt time.Time, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e := o.entries[targetID]
	if e == nil || !e.known {
		return 0, time.Time{}, false
	}
	return e.interval, e.fetchedAt, true
}

func (o *Oracle) lastKnown(targetID string) time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	e := o.entries[targetID]
	if e != nil && e.known {
		return e.interval
	}
	return o.cfg.DefaultInterval
}
