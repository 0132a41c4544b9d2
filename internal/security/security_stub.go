//go:build !linux

package security

import (
	"pvforge/internal/prepare"
	appErr "pvforge/pkg/errors"
)

// Rlimits are a Linux facility. Off Linux the lockdown is refused rather
// than silently skipped; callers that accept running unsandboxed must opt
// in explicitly.

func ApplyRlimits(params prepare.ExecutorParams) error {
	return appErr.Newf(appErr.RlimitFailed, "rlimits are only applied on linux")
}
