//go:build !linux

package supervisor

import (
	"os"
	"syscall"
	"time"
)

// Off Linux there is no children rusage clock; the measured CPU time stays
// zero and timeout classification relies on the in-child monitor alone.
func childCPUTime() (time.Duration, error) {
	return 0, nil
}

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

func exitSignal(err error) (os.Signal, bool) {
	return nil, false
}
