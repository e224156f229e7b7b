package gate

import (
	"sync"
	"time"
)

// Session owns the interstitial cooldown clock for one shell process.
//
// The timestamp lives here, not in a package-level variable, so tests and
// multi-instance embedders can each carry their own.
type Session struct {
	mu          sync.Mutex
	cooldown    time.Duration
	lastShownAt time.Time
}

// NewSession creates a session with the given cooldown between interstitials.
func NewSession(cooldown time.Duration) *Session {
	return &Session{cooldown: cooldown}
}

// CanShow reports whether an interstitial may be shown at the given instant:
// either none was ever shown, or at least the cooldown has elapsed since the
// last one.
func (s *Session) CanShow(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastShownAt.IsZero() {
		return true
	}
	return now.Sub(s.lastShownAt) >= s.cooldown
}

// MarkShown records that an interstitial was actually displayed.
func (s *Session) MarkShown(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastShownAt = now
}

// Remaining returns how long until the next interstitial is allowed
// (zero when one may be shown right now).
func (s *Session) Remaining(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastShownAt.IsZero() {
		return 0
	}
	rem := s.cooldown - now.Sub(s.lastShownAt)
	if rem < 0 {
		return 0
	}
	return rem
}
