package memtracker

import (
	"sync"
	"testing"
	"time"
)

func TestPeakAccounting(t *testing.T) {
	tr := &Tracker{}
	if err := tr.Start(0, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	tr.Allocate(100)
	tr.Allocate(200)
	tr.Deallocate(150)
	tr.Allocate(50)

	if peak := tr.End(); peak != 300 {
		t.Fatalf("expected peak 300, got %d", peak)
	}
}

func TestNegativePeakIsReported(t *testing.T) {
	tr := &Tracker{}
	if err := tr.Start(0, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Freeing memory acquired before the session drives the total negative.
	tr.Deallocate(500)

	if peak := tr.End(); peak != 0 {
		// Peak never moved below its zero start here.
		t.Fatalf("expected peak 0, got %d", peak)
	}

	if err := tr.Start(0, nil); err != nil {
		t.Fatalf("restart: %v", err)
	}
	tr.Deallocate(500)
	tr.Allocate(100)
	// Current went -500 then -400; peak follows current upward only from
	// its initial zero, so it stays 0. The signed contract still allows a
	// caller-side clamp.
	if peak := tr.End(); peak > 0 {
		t.Fatalf("expected non-positive peak, got %d", peak)
	}
}

func TestSessionsNeverNest(t *testing.T) {
	tr := &Tracker{}
	if err := tr.Start(0, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := tr.Start(0, nil); err == nil {
		t.Fatal("expected nested start to fail")
	}
	tr.End()
	if err := tr.Start(0, nil); err != nil {
		t.Fatalf("restart after end: %v", err)
	}
	tr.End()
}

func TestLimitCallbackFiresExactlyOnce(t *testing.T) {
	tr := &Tracker{}
	calls := 0
	if err := tr.Start(1000, func() { calls++ }); err != nil {
		t.Fatalf("start: %v", err)
	}
	tr.Allocate(600)
	if calls != 0 {
		t.Fatal("callback fired below the limit")
	}
	tr.Allocate(600)
	if calls != 1 {
		t.Fatalf("expected 1 call at crossing, got %d", calls)
	}
	tr.Allocate(600)
	tr.Deallocate(1500)
	tr.Allocate(2000)
	if calls != 1 {
		t.Fatalf("callback must fire exactly once, got %d", calls)
	}
	tr.End()
}

func TestNoEnforcementWithoutLimit(t *testing.T) {
	tr := &Tracker{}
	called := false
	if err := tr.Start(0, func() { called = true }); err != nil {
		t.Fatalf("start: %v", err)
	}
	tr.Allocate(1 << 40)
	if called {
		t.Fatal("callback must not fire without a limit")
	}
	if peak := tr.End(); peak != 1<<40 {
		t.Fatalf("expected peak %d, got %d", int64(1)<<40, peak)
	}
}

func TestInactiveTrackerIgnoresTraffic(t *testing.T) {
	tr := &Tracker{}
	tr.Allocate(100)
	tr.Deallocate(50)
	if cur := tr.Current(); cur != 0 {
		t.Fatalf("inactive tracker recorded %d", cur)
	}
}

func TestConcurrentAccounting(t *testing.T) {
	tr := &Tracker{}
	if err := tr.Start(0, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				tr.Allocate(10)
				tr.Deallocate(10)
			}
		}()
	}
	wg.Wait()
	tr.Deallocate(0)
	if cur := tr.Current(); cur != 0 {
		t.Fatalf("expected balanced total, got %d", cur)
	}
	tr.End()
}

func TestSamplerObservesSeries(t *testing.T) {
	tr := &Tracker{}
	if err := tr.Start(0, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.End()

	s := tr.StartSampler(time.Millisecond)
	tr.Allocate(5000)
	time.Sleep(20 * time.Millisecond)
	stats := s.Stop()
	if stats == nil {
		t.Fatal("expected at least one sample")
	}
	if stats.Samples == 0 || stats.Max < 5000 {
		t.Fatalf("unexpected series: %+v", stats)
	}
}

func TestSamplerWithoutSamples(t *testing.T) {
	tr := &Tracker{}
	s := tr.StartSampler(time.Hour)
	if stats := s.Stop(); stats != nil {
		t.Fatalf("expected nil series, got %+v", stats)
	}
}
