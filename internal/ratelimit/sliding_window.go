// Package ratelimit throttles inbound WebSocket messages per connection.
package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Config controls the window and the escalation threshold.
type Config struct {
	// Limit is the number of messages accepted per Window.
	Limit  int
	Window time.Duration
	// MaxViolations denials within ViolationWindow make ShouldDisconnect true.
	MaxViolations   int
	ViolationWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		Limit:           60,
		Window:          60 * time.Second,
		MaxViolations:   5,
		ViolationWindow: 10 * time.Second,
	}
}

// SlidingWindow keeps a timestamp log of accepted messages per connection.
// A message is accepted when fewer than Limit messages were accepted in the
// trailing Window.
type SlidingWindow struct {
	mu      sync.Mutex
	cfg     Config
	clock   clockwork.Clock
	entries map[string]*entry
}

type entry struct {
	accepted   []time.Time
	violations []time.Time
}

func NewSlidingWindow(cfg Config, clock clockwork.Clock) *SlidingWindow {
	return &SlidingWindow{
		cfg:     cfg,
		clock:   clock,
		entries: make(map[string]*entry),
	}
}

// IsAllowed records one inbound message for connectionID and reports whether
// it fits the window. Denied messages are counted as violations.
func (s *SlidingWindow) IsAllowed(connectionID string) bool {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(connectionID)
	e.accepted = prune(e.accepted, now.Add(-s.cfg.Window))

	if len(e.accepted) < s.cfg.Limit {
		e.accepted = append(e.accepted, now)
		return true
	}

	e.violations = append(prune(e.violations, now.Add(-s.cfg.ViolationWindow)), now)
	return false
}

// ShouldDisconnect reports whether connectionID has reached MaxViolations
// denials inside the trailing ViolationWindow.
func (s *SlidingWindow) ShouldDisconnect(connectionID string) bool {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[connectionID]
	if !ok {
		return false
	}
	e.violations = prune(e.violations, now.Add(-s.cfg.ViolationWindow))
	return len(e.violations) >= s.cfg.MaxViolations
}

// RetryAfter returns how long until connectionID may send again. Zero when
// the next message would be accepted.
func (s *SlidingWindow) RetryAfter(connectionID string) time.Duration {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[connectionID]
	if !ok {
		return 0
	}
	e.accepted = prune(e.accepted, now.Add(-s.cfg.Window))
	if len(e.accepted) < s.cfg.Limit {
		return 0
	}
	return e.accepted[0].Add(s.cfg.Window).Sub(now)
}

// Forget drops all state for a closed connection.
func (s *SlidingWindow) Forget(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, connectionID)
}

// Tracked returns the number of connections with limiter state.
func (s *SlidingWindow) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Must be called with mu held.
func (s *SlidingWindow) entry(connectionID string) *entry {
	e, ok := s.entries[connectionID]
	if !ok {
		e = &entry{accepted: make([]time.Time, 0, s.cfg.Limit)}
		s.entries[connectionID] = e
	}
	return e
}

// prune drops timestamps at or before cutoff, reusing the backing array.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}
