// Package security locks down the job process before untrusted code is
// touched. The lockdown is one-way: once applied it cannot be lifted for
// the remaining lifetime of the process.
package security

import (
	"pvforge/internal/prepare"
)

// Status reports which mitigations took effect. Partial application is not
// an error by itself; the caller decides whether to proceed.
type Status struct {
	Seccomp bool
	Rlimits bool
}

// FullyEnabled reports whether every mitigation is active.
func (s Status) FullyEnabled() bool {
	return s.Seccomp && s.Rlimits
}

// Apply installs all mitigations: resource limits first, then the syscall
// filter last so the filter cannot block the limit setup itself.
func Apply(params prepare.ExecutorParams) (Status, error) {
	var st Status
	if err := ApplyRlimits(params); err != nil {
		return st, err
	}
	st.Rlimits = true
	if err := ApplySeccomp(); err != nil {
		return st, err
	}
	st.Seccomp = true
	return st, nil
}
