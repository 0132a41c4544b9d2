package threadsync

import (
	"sync"
	"testing"
	"time"
)

func TestFirstSignalWins(t *testing.T) {
	c := New()
	if !c.SignalIfPending(Finished) {
		t.Fatal("first signal should win")
	}
	if c.SignalIfPending(TimedOut) {
		t.Fatal("second signal must lose")
	}
	if got := c.Wait(); got != Finished {
		t.Fatalf("expected Finished, got %v", got)
	}
}

func TestPendingSignalIgnored(t *testing.T) {
	c := New()
	if c.SignalIfPending(Pending) {
		t.Fatal("Pending is not a valid resolution")
	}
	if got := c.Outcome(); got != Pending {
		t.Fatalf("expected Pending, got %v", got)
	}
}

func TestWaitBlocksUntilResolved(t *testing.T) {
	c := New()
	results := make(chan Outcome, 4)
	var ready sync.WaitGroup
	for i := 0; i < 4; i++ {
		ready.Add(1)
		go func() {
			ready.Done()
			results <- c.Wait()
		}()
	}
	ready.Wait()
	time.Sleep(5 * time.Millisecond)
	select {
	case got := <-results:
		t.Fatalf("waiter returned %v before any signal", got)
	default:
	}

	c.SignalIfPending(TimedOut)
	for i := 0; i < 4; i++ {
		if got := <-results; got != TimedOut {
			t.Fatalf("waiter %d got %v", i, got)
		}
	}
}

func TestRacingSignalsResolveOnce(t *testing.T) {
	for i := 0; i < 100; i++ {
		c := New()
		var wg sync.WaitGroup
		wins := make(chan Outcome, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			if c.SignalIfPending(Finished) {
				wins <- Finished
			}
		}()
		go func() {
			defer wg.Done()
			if c.SignalIfPending(TimedOut) {
				wins <- TimedOut
			}
		}()
		wg.Wait()
		close(wins)

		var winners []Outcome
		for w := range wins {
			winners = append(winners, w)
		}
		if len(winners) != 1 {
			t.Fatalf("expected exactly one winner, got %v", winners)
		}
		if got := c.Wait(); got != winners[0] {
			t.Fatalf("Wait returned %v, winner was %v", got, winners[0])
		}
	}
}
