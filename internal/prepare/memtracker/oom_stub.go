//go:build !linux

package memtracker

import "os"

// RawExitHandler on platforms without raw syscall primitives falls back to
// the least-allocating file write available. A residual deadlock risk under
// true memory exhaustion is accepted here; only Linux is a supported
// production target.
func RawExitHandler(fd int, payload []byte) func() {
	return func() {
		f := os.NewFile(uintptr(fd), "oom-pipe")
		if f != nil {
			_, _ = f.Write(payload)
			_ = f.Close()
		}
		os.Exit(1)
	}
}
