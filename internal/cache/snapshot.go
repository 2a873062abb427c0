// Package cache provides a keyed snapshot cache with separate staleness and
// retention windows, so query layers can serve slightly stale upstream data
// rather than block on a refresh.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Result classifies a lookup for metrics.
type Result string

const (
	ResultFresh Result = "fresh" // served within the staleness window
	ResultStale Result = "stale" // refresh failed, served from retention
	ResultMiss  Result = "miss"  // fetched from upstream
)

// Snapshot caches fetch results per key. Entries younger than stale are
// served directly; older entries trigger a refresh, falling back to the
// cached value while it is younger than retain if the refresh fails.
type Snapshot[V any] struct {
	stale    time.Duration
	retain   time.Duration
	clock    clockwork.Clock
	onLookup func(Result)

	mu      sync.Mutex
	entries map[string]entry[V]
}

type entry[V any] struct {
	value     V
	fetchedAt time.Time
}

// New creates a snapshot cache. onLookup may be nil.
func New[V any](stale, retain time.Duration, clock clockwork.Clock, onLookup func(Result)) *Snapshot[V] {
	return &Snapshot[V]{
		stale:    stale,
		retain:   retain,
		clock:    clock,
		onLookup: onLookup,
		entries:  make(map[string]entry[V]),
	}
}

// Get returns the cached value for key or fetches a fresh one. A failed
// refresh falls back to a retained value; only when nothing retained is
// left does the fetch error propagate.
func (s *Snapshot[V]) Get(ctx context.Context, key string, fetch func(context.Context) (V, error)) (V, error) {
	now := s.clock.Now()

	s.mu.Lock()
	e, ok := s.entries[key]
	s.mu.Unlock()

	if ok && now.Sub(e.fetchedAt) < s.stale {
		s.record(ResultFresh)
		return e.value, nil
	}

	value, err := fetch(ctx)
	if err != nil {
		if ok && now.Sub(e.fetchedAt) < s.retain {
			s.record(ResultStale)
			return e.value, nil
		}
		var zero V
		return zero, err
	}

	s.mu.Lock()
	s.entries[key] = entry[V]{value: value, fetchedAt: now}
	s.sweepLocked(now)
	s.mu.Unlock()

	s.record(ResultMiss)
	return value, nil
}

// sweepLocked drops entries past the retention window so abandoned query
// keys do not accumulate.
func (s *Snapshot[V]) sweepLocked(now time.Time) {
	for key, e := range s.entries {
		if now.Sub(e.fetchedAt) >= s.retain {
			delete(s.entries, key)
		}
	}
}

func (s *Snapshot[V]) record(r Result) {
	if s.onLookup != nil {
		s.onLookup(r)
	}
}
