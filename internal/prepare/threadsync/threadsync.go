// Package threadsync implements the shared wait-condition protocol that the
// job goroutine and the CPU time monitor race on. Whichever signals first
// decides the job outcome; the transitional Pending state is never
// observable as final because waiters loop until it resolves.
package threadsync

import "sync"

// Outcome is the tri-state result of the race.
type Outcome int

const (
	// Pending means no participant has finished yet. Never a final state.
	Pending Outcome = iota
	// Finished means the job goroutine completed before the deadline.
	Finished
	// TimedOut means the CPU monitor hit the deadline first.
	TimedOut
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Finished:
		return "finished"
	case TimedOut:
		return "timed out"
	default:
		return "invalid"
	}
}

// Cond is the shared wait condition. The zero value is not usable; call New.
type Cond struct {
	mu      sync.Mutex
	cond    *sync.Cond
	outcome Outcome
}

// New creates a condition in the Pending state.
func New() *Cond {
	c := &Cond{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// SignalIfPending resolves the race to o if no one has won yet. It reports
// whether this call was the winner; a losing signal is ignored.
func (c *Cond) SignalIfPending(o Outcome) bool {
	if o == Pending {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcome != Pending {
		return false
	}
	c.outcome = o
	c.cond.Broadcast()
	return true
}

// Wait blocks until the race resolves and returns the winning outcome.
func (c *Cond) Wait() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.outcome == Pending {
		c.cond.Wait()
	}
	return c.outcome
}

// Outcome returns the current state without blocking.
func (c *Cond) Outcome() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}
