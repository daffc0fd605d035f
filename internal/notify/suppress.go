package notify

import (
	"sync"
	"time"

	"github.com/you/streamops/internal/clock"
)

// suppressor rate-limits notifications per user with a sliding window: more
// than max hits inside window puts the user in the suppressed set for
// duration. Timestamps come from the injected monotonic clock.
type suppressor struct {
	clock    clock.Clock
	window   time.Duration
	duration time.Duration
	max      int

	mu    sync.Mutex
	hits  map[string][]time.Time
	until map[string]time.Time
}

func newSuppressor(c clock.Clock, window, duration time.Duration, max int) *suppressor {
	return &suppressor{
		clock:    c,
		window:   window,
		duration: duration,
		max:      max,
		hits:     make(map[string][]time.Time),
		until:    make(map[string]time.Time),
	}
}

// allow records a hit and reports whether the user's notification may pass.
func (s *suppressor) allow(userID string) bool {
	if userID == "" {
		return true
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if until, ok := s.until[userID]; ok {
		if now.Before(until) {
			return false
		}
		delete(s.until, userID)
		delete(s.hits, userID)
	}

	cutoff := now.Add(-s.window)
	recent := s.hits[userID][:0]
	for _, t := range s.hits[userID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	recent = append(recent, now)
	s.hits[userID] = recent

	if len(recent) > s.max {
		s.until[userID] = now.Add(s.duration)
		delete(s.hits, userID)
		return false
	}
	return true
}

// sweep reclaims expired suppression entries and stale hit windows.
func (s *suppressor) sweep() {
	now := s.clock.Now()
	cutoff := now.Add(-s.window)

	s.mu.Lock()
	defer s.mu.Unlock()

	for user, until := range s.until {
		if !now.Before(until) {
			delete(s.until, user)
		}
	}
	for user, times := range s.hits {
		recent := times[:0]
		for _, t := range times {
			if t.After(cutoff) {
				recent = append(recent, t)
			}
		}
		if len(recent) == 0 {
			delete(s.hits, user)
			continue
		}
		s.hits[user] = recent
	}
}

func (s *suppressor) suppressedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.until)
}
