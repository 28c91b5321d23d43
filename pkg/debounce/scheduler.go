// Package debounce coalesces repeated requests per key into a single
// delayed call. A new request for a key cancels the pending one and restarts
// its delay.
package debounce

import (
	"sync"
	"time"
)

// DefaultDelay is the delay used when none is configured
const DefaultDelay = 300 * time.Millisecond

// task is one armed call. The pointer identity distinguishes a superseded
// task whose timer fired concurrently with its replacement.
type task struct {
	timer Timer
}

// Scheduler runs the latest function scheduled for a key once the key has
// been quiet for the delay
type Scheduler struct {
	delay   time.Duration
	clock   Clock
	pending map[string]*task
	stopped bool
	mu      sync.Mutex
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock replaces the real clock
func WithClock(clock Clock) Option {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New creates a scheduler. A negative delay becomes DefaultDelay; a zero
// delay runs every scheduled function immediately.
func New(delay time.Duration, opts ...Option) *Scheduler {
	if delay < 0 {
		delay = DefaultDelay
	}
	s := &Scheduler{
		delay:   delay,
		clock:   RealClock{},
		pending: make(map[string]*task),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Delay returns the configured delay
func (s *Scheduler) Delay() time.Duration {
	return s.delay
}

// Schedule arms fn for key, replacing any pending call for the same key
func (s *Scheduler) Schedule(key string, fn func()) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if prev, ok := s.pending[key]; ok {
		prev.timer.Stop()
		delete(s.pending, key)
	}
	if s.delay == 0 {
		s.mu.Unlock()
		fn()
		return
	}

	t := &task{}
	s.pending[key] = t
	t.timer = s.clock.AfterFunc(s.delay, func() {
		s.mu.Lock()
		if s.pending[key] != t {
			s.mu.Unlock()
			return
		}
		delete(s.pending, key)
		s.mu.Unlock()
		fn()
	})
	s.mu.Unlock()
}

// Cancel drops the pending call for key. It reports whether one was pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.pending[key]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.pending, key)
	return true
}

// CancelAll drops every pending call
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.pending {
		t.timer.Stop()
		delete(s.pending, key)
	}
}

// Pending returns the keys with an armed call
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.pending))
	for key := range s.pending {
		keys = append(keys, key)
	}
	return keys
}

// Stop cancels everything and rejects further scheduling
func (s *Scheduler) Stop() {
	s.CancelAll()
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}
