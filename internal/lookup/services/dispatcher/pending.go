package dispatcher

import (
	"sync"
	"time"

	"github.com/haukened/rr-lookup/internal/lookup/common/clock"
)

type pendingEntry struct {
	token uint64
	added time.Time
}

// pendingSet tracks in-flight requests by phone number. Each admission gets a
// token so that a late retirement cannot remove an entry admitted after it.
type pendingSet struct {
	mu      sync.Mutex
	entries map[string]pendingEntry
	next    uint64
	clock   clock.Clock
	ttl     time.Duration // zero means entries never expire
}

func newPendingSet(c clock.Clock, ttl time.Duration) *pendingSet {
	return &pendingSet{
		entries: make(map[string]pendingEntry),
		clock:   c,
		ttl:     ttl,
	}
}

func (s *pendingSet) expired(e pendingEntry, now time.Time) bool {
	return s.ttl > 0 && now.Sub(e.added) >= s.ttl
}

// sweep drops expired entries. Callers hold mu.
func (s *pendingSet) sweep(now time.Time) {
	if s.ttl <= 0 {
		return
	}
	for k, e := range s.entries {
		if s.expired(e, now) {
			delete(s.entries, k)
		}
	}
}

// add admits key unless a live entry exists. It returns the admission token.
func (s *pendingSet) add(key string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.sweep(now)
	if _, ok := s.entries[key]; ok {
		return 0, false
	}
	s.next++
	s.entries[key] = pendingEntry{token: s.next, added: now}
	return s.next, true
}

// remove retires key if it is still held by token.
func (s *pendingSet) remove(key string, token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.token != token {
		return false
	}
	delete(s.entries, key)
	return true
}

func (s *pendingSet) contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	return ok && !s.expired(e, s.clock.Now())
}

func (s *pendingSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweep(s.clock.Now())
	return len(s.entries)
}
