// Package memtracker implements the allocation accounting facility for the
// job process. Go offers no hook into the runtime allocator, so the tracker
// is an explicit strategy object: the executor is handed an Allocator and
// reports its buffer traffic through it. The default is a passthrough; the
// tracking session is installed once per process, never nested.
package memtracker

import (
	"sync"
	"time"

	appErr "pvforge/pkg/errors"
)

// Allocator receives allocation traffic from the component hosting the
// compiler.
type Allocator interface {
	Allocate(n int64)
	Deallocate(n int64)
}

// Passthrough is the default no-op allocator, used when no tracking session
// is active.
type Passthrough struct{}

func (Passthrough) Allocate(n int64)   {}
func (Passthrough) Deallocate(n int64) {}

// Tracker maintains a running total and peak of tracked allocations and
// enforces an optional ceiling.
type Tracker struct {
	mu         sync.Mutex
	active     bool
	tripped    bool
	current    int64
	peak       int64
	limit      int64
	onExceeded func()
}

var global = &Tracker{}

// Global returns the process-wide tracker, standing in for the global
// allocator it wraps in the original design.
func Global() *Tracker {
	return global
}

// Start begins a tracking session. A limit <= 0 records totals without
// enforcement. The onExceeded callback fires exactly once, while the tracker
// lock is held: it must not allocate, and it is expected to terminate the
// process. Sessions never nest.
func (t *Tracker) Start(limit int64, onExceeded func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active {
		return appErr.New(appErr.InternalError).WithMessage("memory tracking session already active")
	}
	t.active = true
	t.tripped = false
	t.current = 0
	t.peak = 0
	t.limit = limit
	t.onExceeded = onExceeded
	return nil
}

// End stops the session and returns the observed peak. The peak is signed:
// deallocations of memory acquired before Start can drive it negative, which
// callers treat as zero.
func (t *Tracker) End() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = false
	t.onExceeded = nil
	return t.peak
}

// Allocate records n newly allocated bytes and trips the breaker when the
// ceiling is crossed.
func (t *Tracker) Allocate(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return
	}
	t.current += n
	if t.current > t.peak {
		t.peak = t.current
	}
	if t.limit > 0 && t.current > t.limit && !t.tripped {
		t.tripped = true
		if t.onExceeded != nil {
			// Runs under the lock. No allocation permitted here; the
			// handler is expected not to return.
			t.onExceeded()
		}
	}
}

// Deallocate records n freed bytes.
func (t *Tracker) Deallocate(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return
	}
	t.current -= n
}

// Current returns the running total of the active session.
func (t *Tracker) Current() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Stats is the sampler's observation of the tracked total over time.
type Stats struct {
	Samples uint64
	Min     uint64
	Max     uint64
}

// Sampler periodically snapshots the tracked total on its own goroutine and
// contributes a min/max/count series to the final job statistics.
type Sampler struct {
	stop chan struct{}
	done chan struct{}
	st   Stats
}

// StartSampler launches a sampling loop over the tracker.
func (t *Tracker) StartSampler(interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	s := &Sampler{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.loop(t, interval)
	return s
}

func (s *Sampler) loop(t *Tracker, interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			v := t.Current()
			if v < 0 {
				v = 0
			}
			s.observe(uint64(v))
		}
	}
}

func (s *Sampler) observe(v uint64) {
	if s.st.Samples == 0 || v < s.st.Min {
		s.st.Min = v
	}
	if v > s.st.Max {
		s.st.Max = v
	}
	s.st.Samples++
}

// Stop ends the sampling loop and returns the series. Nil when no sample
// was ever taken.
func (s *Sampler) Stop() *Stats {
	close(s.stop)
	<-s.done
	if s.st.Samples == 0 {
		return nil
	}
	st := s.st
	return &st
}
