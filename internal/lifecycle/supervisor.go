package lifecycle

import (
	"sync"
	"time"
)

// Supervisor schedules delayed reconnection attempts, at most one outstanding
// timer per session. Duplicate close events from a flaky transport collapse
// into one retry; Cancel stops a pending timer so a removed session is not
// revived.
type Supervisor struct {
	mu     sync.Mutex
	delay  time.Duration
	timers map[string]*time.Timer
	retry  func(sessionID string)
}

func NewSupervisor(delay time.Duration, retry func(sessionID string)) *Supervisor {
	return &Supervisor{
		delay:  delay,
		timers: make(map[string]*time.Timer),
		retry:  retry,
	}
}

// Schedule arms a retry timer for the session. Returns false when a timer is
// already outstanding.
func (s *Supervisor) Schedule(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[id]; ok {
		return false
	}
	s.timers[id] = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		s.retry(id)
	})
	return true
}

// Cancel stops a pending retry. Returns false when none was outstanding
// (never scheduled, or the timer already fired; a fired retry re-checks the
// registry before acting, so cancellation and firing cannot both take effect).
func (s *Supervisor) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[id]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.timers, id)
	return true
}

// CancelAll stops every pending retry. Used at shutdown.
func (s *Supervisor) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// Pending reports the number of outstanding retry timers.
func (s *Supervisor) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
