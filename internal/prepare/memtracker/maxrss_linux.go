//go:build linux

package memtracker

import "golang.org/x/sys/unix"

// MaxRSSKB reports the process maximum resident set size in KiB, as
// maintained by the kernel for this process.
func MaxRSSKB() *uint64 {
	var usage unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &usage); err != nil {
		return nil
	}
	if usage.Maxrss < 0 {
		return nil
	}
	rss := uint64(usage.Maxrss)
	return &rss
}
