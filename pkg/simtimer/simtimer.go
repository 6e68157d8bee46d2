// Package simtimer provides a wall-clock-backed realization of
// bootloader.Timer, for host tests and cmd/bootsim, standing in for the
// hardware timer peripheral the real core schedules against.
package simtimer

import (
	"sync"
	"time"
)

// Timer arms at most one pending expiry at a time, exactly like the single
// hardware timer channel it stands in for.
type Timer struct {
	mu      sync.Mutex
	pending *time.Timer
}

// New creates a Timer with nothing armed.
func New() *Timer {
	return &Timer{}
}

// SetTimeout arms onExpire to fire after d, replacing any previously armed
// timeout.
func (s *Timer) SetTimeout(d time.Duration, onExpire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		s.pending.Stop()
	}
	s.pending = time.AfterFunc(d, onExpire)
}

// DisableTimeout cancels a pending timeout, if any.
func (s *Timer) DisableTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
}
