//go:build linux

package security

import (
	"golang.org/x/sys/unix"

	"pvforge/internal/prepare"
	appErr "pvforge/pkg/errors"
)

// ApplyRlimits caps the native stack from the executor params and disables
// core dumps. A core dump of a compile job would spill untrusted code onto
// disk outside any quota.
func ApplyRlimits(params prepare.ExecutorParams) error {
	if params.NativeStackMaxKB > 0 {
		bytes := uint64(params.NativeStackMaxKB) * 1024
		if err := unix.Setrlimit(unix.RLIMIT_STACK, &unix.Rlimit{Cur: bytes, Max: bytes}); err != nil {
			return appErr.Wrapf(err, appErr.RlimitFailed, "set rlimit stack: %v", err)
		}
	}
	if err := unix.Setrlimit(unix.RLIMIT_CORE, &unix.Rlimit{Cur: 0, Max: 0}); err != nil {
		return appErr.Wrapf(err, appErr.RlimitFailed, "set rlimit core: %v", err)
	}
	return nil
}
