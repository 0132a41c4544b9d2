package security

import (
	"runtime"
	"testing"

	"pvforge/internal/prepare"
)

func TestStatusFullyEnabled(t *testing.T) {
	if (Status{}).FullyEnabled() {
		t.Fatal("zero status must not report fully enabled")
	}
	if (Status{Seccomp: true}).FullyEnabled() {
		t.Fatal("rlimits missing")
	}
	if !(Status{Seccomp: true, Rlimits: true}).FullyEnabled() {
		t.Fatal("both mitigations set")
	}
}

// Seccomp is deliberately not loaded here: the filter is irrevocable and
// would cripple the rest of the test binary. Rlimits are safe to apply.
func TestApplyRlimits(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("rlimits require linux")
	}
	if err := ApplyRlimits(prepare.ExecutorParams{}); err != nil {
		t.Fatalf("core limit alone should apply: %v", err)
	}
}
