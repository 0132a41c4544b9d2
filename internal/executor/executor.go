// Package executor defines the boundary to the WASM compiler. The compiler
// itself is an external collaborator; the worker only depends on this
// interface. A reference engine ships with the package so the harness is
// exercisable end to end without a production compiler.
package executor

import (
	"pvforge/internal/prepare"
	"pvforge/internal/prepare/memtracker"
)

// Engine compiles untrusted validation code. Implementations run inside the
// disposable job process: they may be killed at any point and must not hold
// state across calls.
type Engine interface {
	// Prevalidate checks the structure of raw code before compilation and
	// returns the validated module bytes.
	Prevalidate(code []byte, params prepare.ExecutorParams) ([]byte, error)
	// Prepare compiles a validated module into executable artifact bytes.
	Prepare(module []byte, params prepare.ExecutorParams) ([]byte, error)
	// Instantiate constructs a runtime instance from artifact bytes,
	// surfacing errors only observable at instantiation time.
	Instantiate(artifact []byte, params prepare.ExecutorParams) error
}

// Allocator is re-exported so engines report buffer traffic to the job's
// tracking allocator without importing it directly.
type Allocator = memtracker.Allocator
