// Package cache provides the in-process TTL store for resolved candidate sets.
package cache

import (
	"sync"
	"time"

	"github.com/JakeFAU/bytewatch/internal/stream"
)

// DefaultTTL is used when Set is called with a non-positive ttl.
const DefaultTTL = 24 * time.Hour

type entry struct {
	candidates []stream.Candidate
	expiresAt  time.Time
}

// Store is a map-backed cache with lazy expiry. Entries are never created
// from empty candidate sets.
type Store struct {
	mu      sync.RWMutex
	entries map[stream.ContentKey]entry
	clock   stream.Clock
}

// New constructs a Store. A nil clock falls back to time.Now.
func New(clock stream.Clock) *Store {
	if clock == nil {
		clock = wallClock{}
	}
	return &Store{
		entries: make(map[stream.ContentKey]entry),
		clock:   clock,
	}
}

// Get returns a copy of the cached candidates while the entry is live.
// Expired entries are removed on access.
func (s *Store) Get(key stream.ContentKey) ([]stream.Candidate, bool) {
	now := s.clock.Now()
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !now.Before(e.expiresAt) {
		s.mu.Lock()
		if cur, still := s.entries[key]; still && !now.Before(cur.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false
	}
	return clone(e.candidates), true
}

// Set stores candidates for ttl. Empty sets are ignored so a transiently
// failing resolution is retried on the next request.
func (s *Store) Set(key stream.ContentKey, candidates []stream.Candidate, ttl time.Duration) {
	if len(candidates) == 0 {
		return
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	e := entry{candidates: clone(candidates), expiresAt: s.clock.Now().Add(ttl)}
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
}

// Len reports the number of stored entries, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func clone(in []stream.Candidate) []stream.Candidate {
	out := make([]stream.Candidate, len(in))
	copy(out, in)
	return out
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }
