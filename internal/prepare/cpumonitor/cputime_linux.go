//go:build linux

package cpumonitor

import (
	"time"

	"golang.org/x/sys/unix"
)

// ProcessCPUTime returns the CPU time consumed by all threads of the
// calling process.
func ProcessCPUTime() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_PROCESS_CPUTIME_ID, &ts); err != nil {
		return 0
	}
	return time.Duration(ts.Sec)*time.Second + time.Duration(ts.Nsec)*time.Nanosecond
}
