//go:build linux && cgo

package security

import (
	seccomp "github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"

	appErr "pvforge/pkg/errors"
)

// deniedSyscalls are killed outright. The filter is a deny list: the
// runtime needs too many benign syscalls (clone, futex, mmap, epoll) for an
// allow list to be practical, so only the calls a compile job has no
// business making are blocked. Network I/O and process spawning top the
// list.
var deniedSyscalls = []string{
	// network
	"socket",
	"socketpair",
	"connect",
	"bind",
	"listen",
	"accept",
	"accept4",
	"sendto",
	"recvfrom",
	"sendmsg",
	"recvmsg",
	// spawning new programs
	"execve",
	"execveat",
	"fork",
	"vfork",
	// poking at other processes
	"ptrace",
	"process_vm_readv",
	"process_vm_writev",
	// io_uring sidesteps the filter for everything above
	"io_uring_setup",
	"io_uring_enter",
	"io_uring_register",
}

// ApplySeccomp loads the deny-list filter. no_new_privs is set first; the
// kernel refuses unprivileged filters without it.
func ApplySeccomp() error {
	filter, err := seccomp.NewFilter(seccomp.ActAllow)
	if err != nil {
		return appErr.Wrapf(err, appErr.SeccompFailed, "create seccomp filter: %v", err)
	}
	defer filter.Release()

	for _, name := range deniedSyscalls {
		sc, err := seccomp.GetSyscallFromName(name)
		if err != nil {
			// Not every kernel knows every syscall; an unknown one cannot
			// be invoked either.
			continue
		}
		if err := filter.AddRule(sc, seccomp.ActKillProcess); err != nil {
			return appErr.Wrapf(err, appErr.SeccompFailed, "deny %s", name)
		}
	}

	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return appErr.Wrapf(err, appErr.SeccompFailed, "set no new privs: %v", err)
	}
	if err := filter.Load(); err != nil {
		return appErr.Wrapf(err, appErr.SeccompFailed, "load seccomp filter: %v", err)
	}
	return nil
}
