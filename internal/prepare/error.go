package prepare

import "fmt"

// ErrorKind enumerates the typed preparation failures. The numeric values
// are wire codes: they are encoded into result payloads and must stay
// stable. OutOfMemory in particular is pinned by the pre-encoded payload
// written from the allocation circuit breaker.
type ErrorKind uint8

const (
	// KindPrevalidation marks malformed input rejected before compilation.
	KindPrevalidation ErrorKind = 0
	// KindPreparation marks a compiler failure.
	KindPreparation ErrorKind = 1
	// KindRuntimeConstruction marks a post-compile instantiation failure,
	// checked only for precheck jobs.
	KindRuntimeConstruction ErrorKind = 2
	// KindTimedOut marks a job that exceeded its CPU time budget.
	KindTimedOut ErrorKind = 3
	// KindIoErr marks a transport or filesystem failure inside the job.
	KindIoErr ErrorKind = 4
	// KindJobDied marks a job process killed by a signal or lost.
	KindJobDied ErrorKind = 5
	// KindJobError marks a job that panicked or returned a forged status.
	KindJobError ErrorKind = 6
	// KindKernel marks an OS syscall failure in the supervisor.
	KindKernel ErrorKind = 7
	// KindOutOfMemory marks a job terminated by the allocation ceiling.
	KindOutOfMemory ErrorKind = 8
)

var kindNames = map[ErrorKind]string{
	KindPrevalidation:       "prevalidation",
	KindPreparation:         "preparation",
	KindRuntimeConstruction: "runtime construction",
	KindTimedOut:            "timed out",
	KindIoErr:               "io error",
	KindJobDied:             "job died",
	KindJobError:            "job error",
	KindKernel:              "kernel",
	KindOutOfMemory:         "out of memory",
}

// String returns the human-readable kind name.
func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// valid reports whether the kind is a known wire code. Decoders must reject
// anything else: an adversarial child can write arbitrary bytes to the pipe.
func (k ErrorKind) valid() bool {
	_, ok := kindNames[k]
	return ok
}

// Error is the typed preparation failure that crosses the wire. It is
// terminal for the job but routine for the worker, with the exception of
// the Fatal class.
type Error struct {
	Kind    ErrorKind
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Fatal reports whether the job process was terminated hard rather than
// failing its work. The worker survives either way; a fresh job process is
// spawned for the next request.
func (e *Error) Fatal() bool {
	return e.Kind == KindOutOfMemory || e.Kind == KindKernel
}

// NewError builds a typed error with a formatted message.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KernelError wraps a syscall failure, keeping the failing call name for
// diagnostics.
func KernelError(call string, err error) *Error {
	return NewError(KindKernel, "%s: %v", call, err)
}
