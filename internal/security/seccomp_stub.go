//go:build !linux || !cgo

package security

import (
	appErr "pvforge/pkg/errors"
)

// Seccomp needs libseccomp via cgo. Without it the lockdown is refused
// rather than silently skipped; callers that accept running unsandboxed
// must opt in explicitly.

func ApplySeccomp() error {
	return appErr.Newf(appErr.SeccompFailed, "seccomp is only available on linux")
}
