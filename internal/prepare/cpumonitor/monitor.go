// Package cpumonitor detects when a job's CPU time exceeds its deadline,
// independent of wall-clock stalls. It runs on its own goroutine and is
// cooperatively cancellable by the job signalling completion.
package cpumonitor

import "time"

// pollGrace is added to the computed sleep so the final poll lands past the
// deadline instead of just short of it.
const pollGrace = 5 * time.Millisecond

// minPoll bounds how fine-grained the sleep loop gets near the deadline.
const minPoll = time.Millisecond

// Loop polls process CPU time until either the deadline passes or finished
// fires. On timeout it returns the elapsed CPU time and true; if the job
// finished first it returns false. CPU time accrues at most at wall-clock
// rate per thread, so sleeping the remaining budget never skips the
// deadline by more than one poll.
func Loop(startCPU, timeout time.Duration, finished <-chan struct{}) (time.Duration, bool) {
	for {
		elapsed := ProcessCPUTime() - startCPU
		if elapsed >= timeout {
			return elapsed, true
		}

		wait := timeout - elapsed + pollGrace
		if wait < minPoll {
			wait = minPoll
		}
		timer := time.NewTimer(wait)
		select {
		case <-finished:
			timer.Stop()
			return 0, false
		case <-timer.C:
		}
	}
}
