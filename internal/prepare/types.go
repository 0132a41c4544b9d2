// Package prepare defines the preparation job model: requests, typed errors,
// statistics and the result wire codec shared by the worker and the job
// process.
package prepare

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	appErr "pvforge/pkg/errors"
)

// JobKind selects how strict a preparation run is.
type JobKind string

const (
	// KindPrecheck is the strict pre-acceptance mode: compilation plus a
	// runtime construction check.
	KindPrecheck JobKind = "precheck"
	// KindLenient is the best-effort background compilation mode.
	KindLenient JobKind = "lenient"
)

// ExecutorParams carries the deterministic compilation environment semantics
// supplied by the host. The worker treats it as opaque configuration for the
// executor and the sandbox limits.
type ExecutorParams struct {
	MaxMemoryPages uint32 `json:"maxMemoryPages" yaml:"maxMemoryPages"`
	// LogicalStackMax bounds the wasm value stack during execution. It is
	// passed through to production engines untouched; the reference engine
	// never executes code and has no stack to bound.
	LogicalStackMax   uint32 `json:"logicalStackMax" yaml:"logicalStackMax"`
	NativeStackMaxKB  uint32 `json:"nativeStackMaxKB" yaml:"nativeStackMaxKB"`
	PrecheckMaxMemory uint64 `json:"precheckMaxMemory" yaml:"precheckMaxMemory"`
	MaxArtifactSize   uint64 `json:"maxArtifactSize" yaml:"maxArtifactSize"`
}

// JobRequest identifies the code to compile and how to compile it. It only
// ever travels host→worker→job, i.e. in the trusted direction, and is
// serialized as JSON.
type JobRequest struct {
	ID        string         `json:"id"`
	Code      []byte         `json:"code"`
	Params    ExecutorParams `json:"executorParams"`
	TimeoutMs int64          `json:"timeoutMs"`
	Kind      JobKind        `json:"kind"`
}

// NewJobRequest builds a request with a fresh job ID.
func NewJobRequest(code []byte, params ExecutorParams, timeout time.Duration, kind JobKind) *JobRequest {
	return &JobRequest{
		ID:        uuid.NewString(),
		Code:      code,
		Params:    params,
		TimeoutMs: timeout.Milliseconds(),
		Kind:      kind,
	}
}

// Timeout returns the preparation CPU time budget.
func (r *JobRequest) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// Validate checks the request before it is handed to a job process.
func (r *JobRequest) Validate() error {
	if r.ID == "" {
		return appErr.ValidationError("id", "required")
	}
	if len(r.Code) == 0 {
		return appErr.ValidationError("code", "required")
	}
	if r.TimeoutMs <= 0 {
		return appErr.ValidationError("timeoutMs", "must be positive")
	}
	switch r.Kind {
	case KindPrecheck, KindLenient:
	default:
		return appErr.ValidationError("kind", "must be precheck or lenient")
	}
	return nil
}

// EncodeRequest serializes a request for transfer over a frame.
func EncodeRequest(req *JobRequest) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.DecodeFailed)
	}
	return data, nil
}

// DecodeRequest parses and validates a request payload.
func DecodeRequest(payload []byte) (*JobRequest, error) {
	var req JobRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, appErr.Wrapf(err, appErr.DecodeFailed, "decode job request: %v", err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}
