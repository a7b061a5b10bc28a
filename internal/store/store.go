package store

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sprintpulse/sprintpulse/internal/metrics"
)

// Entry is a report together with the time it was stored.
type Entry struct {
	Report    *metrics.Report
	UpdatedAt time.Time
}

// Store is a thread-safe in-memory report store, keyed by team ID.
type Store struct {
	mu   sync.RWMutex
	data map[string]*Entry
	ttl  time.Duration
	now  func() time.Time // injectable for deterministic tests
}

// New creates a Store with the given TTL. A TTL <= 0 never expires entries.
func New(ttl time.Duration) *Store {
	return &Store{
		data: make(map[string]*Entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// SetTTL changes the TTL for subsequent reads and evictions.
func (s *Store) SetTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttl = ttl
}

// Put stores or replaces the report for r.Team.
// Callers must not modify r after calling Put.
func (s *Store) Put(r *metrics.Report) {
	s.PutAt(r, s.now())
}

// PutAt is Put with an explicit store time, for reports restored from
// history that should age from when they were produced.
func (s *Store) PutAt(r *metrics.Report, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[r.Team] = &Entry{Report: r, UpdatedAt: at}
}

// Get returns the fresh entry for team. Stale entries report false.
func (s *Store) Get(team string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[team]
	if !ok || !s.fresh(e, s.now()) {
		return nil, false
	}
	return e, true
}

// List returns every fresh entry ordered by team ID.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	out := make([]*Entry, 0, len(s.data))
	for _, e := range s.data {
		if s.fresh(e, now) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b *Entry) int {
		return strings.Compare(a.Report.Team, b.Report.Team)
	})
	return out
}

// Reports returns the reports of List.
func (s *Store) Reports() []*metrics.Report {
	entries := s.List()
	out := make([]*metrics.Report, len(entries))
	for i, e := range entries {
		out[i] = e.Report
	}
	return out
}

// Count returns the total number of entries currently held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Retain drops every team not in ids, for teams removed from the config.
// It returns the number of entries removed.
func (s *Store) Retain(ids []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for team := range s.data {
		if !slices.Contains(ids, team) {
			delete(s.data, team)
			removed++
		}
	}
	return removed
}

// Evict removes entries whose UpdatedAt is older than now minus TTL.
// It returns the number of entries removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for team, e := range s.data {
		if !s.fresh(e, now) {
			delete(s.data, team)
			removed++
		}
	}
	return removed
}

// fresh reports whether e is within the TTL at now. Callers hold mu.
func (s *Store) fresh(e *Entry, now time.Time) bool {
	return s.ttl <= 0 || e.UpdatedAt.After(now.Add(-s.ttl))
}

// Run starts the background TTL eviction loop. It ticks at half the TTL
// (minimum 1 second, 1 minute when entries never expire). Run blocks until
// ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	s.mu.RLock()
	interval := s.ttl / 2
	s.mu.RUnlock()
	if interval <= 0 {
		interval = time.Minute
	}
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted stale reports", "count", n)
			}
		}
	}
}
