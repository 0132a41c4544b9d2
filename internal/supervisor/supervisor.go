// Package supervisor runs one job process per preparation attempt and turns
// whatever happened to it into a typed result. The child is untrusted from
// the moment it starts: its CPU time is measured from the outside, its exit
// status is cross-checked against its result frame, and anything
// inconsistent classifies as a crash rather than a success.
package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"pvforge/internal/prepare"
	"pvforge/internal/worker/ipc"
	"pvforge/pkg/utils/logger"
)

// wallClockSlack pads the wall-clock kill deadline over the CPU budget. The
// in-child monitor enforces the CPU budget; the wall clock is the backstop
// for a child that blocked instead of computing.
const wallClockSlack = 4

// Supervisor spawns job processes from a fixed binary.
type Supervisor struct {
	// JobBinary is the path of the job executable.
	JobBinary string
	// MaxResultSize bounds the child's result frame. Zero means the
	// transport default.
	MaxResultSize uint64

	log *zap.Logger
}

// New creates a supervisor for the given job binary.
func New(jobBinary string) *Supervisor {
	return &Supervisor{
		JobBinary: jobBinary,
		log:       logger.L(),
	}
}

// Execute runs one preparation attempt in a fresh job process and, on
// success, writes the artifact to artifactPath. The returned error is the
// typed classification of the attempt; it is never both nil and stats nil.
func (s *Supervisor) Execute(ctx context.Context, req *prepare.JobRequest, artifactPath string) (*prepare.Stats, *prepare.Error) {
	cpuBefore, err := childCPUTime()
	if err != nil {
		return nil, prepare.KernelError("getrusage", err)
	}

	resultR, resultW, err := os.Pipe()
	if err != nil {
		return nil, prepare.KernelError("pipe", err)
	}
	defer resultR.Close()

	reqPayload, encErr := prepare.EncodeRequest(req)
	if encErr != nil {
		_ = resultW.Close()
		return nil, prepare.NewError(prepare.KindIoErr, "encode request: %v", encErr)
	}
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		_ = resultW.Close()
		return nil, prepare.KernelError("pipe", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, wallClockSlack*req.Timeout())
	defer cancel()

	// Real pipes on both ends: the request can exceed the pipe buffer, so
	// it is written from its own goroutine, and a child that dies without
	// reading must not surface as anything but its exit status.
	cmd := exec.CommandContext(runCtx, s.JobBinary)
	cmd.Stdin = stdinR
	cmd.Stderr = os.Stderr
	// The result pipe lands on fd 3 in the child.
	cmd.ExtraFiles = []*os.File{resultW}
	cmd.SysProcAttr = sysProcAttr()

	start := time.Now()
	if err := cmd.Start(); err != nil {
		_ = resultW.Close()
		_ = stdinR.Close()
		_ = stdinW.Close()
		return nil, prepare.NewError(prepare.KindIoErr, "spawn job process: %v", err)
	}
	// The parent's copies must go, or EOF never arrives on either side.
	_ = resultW.Close()
	_ = stdinR.Close()
	go func() {
		_ = ipc.Send(stdinW, reqPayload)
		_ = stdinW.Close()
	}()

	s.log.Debug("job process started",
		zap.String("job_id", req.ID),
		zap.Int("pid", cmd.Process.Pid),
		zap.Duration("cpu_budget", req.Timeout()))

	// Drain before Wait: a large artifact would otherwise deadlock the
	// child against a full pipe.
	raw, readErr := io.ReadAll(resultR)
	waitErr := cmd.Wait()

	cpuAfter, err := childCPUTime()
	if err != nil {
		return nil, prepare.KernelError("getrusage", err)
	}
	cpuTime := cpuAfter - cpuBefore

	if readErr != nil {
		return nil, prepare.NewError(prepare.KindIoErr, "read result pipe: %v", readErr)
	}

	resp, perr := s.classify(req, raw, waitErr, cpuTime, time.Since(start))
	if perr != nil {
		return nil, perr
	}

	if err := writeArtifact(artifactPath, resp.Artifact); err != nil {
		return nil, prepare.NewError(prepare.KindIoErr, "write artifact: %v", err)
	}
	return &prepare.Stats{CPUTime: cpuTime, Memory: resp.Memory}, nil
}

// classify turns the raw pipe contents and the exit status into a typed
// result. Priority order: the measured CPU time overrules everything, then
// abnormal exits, then the frame itself. Inconsistencies fail closed.
func (s *Supervisor) classify(req *prepare.JobRequest, raw []byte, waitErr error, cpuTime, wallTime time.Duration) (*prepare.JobResponse, *prepare.Error) {
	// The child reports its own timeouts too, but the parent-side rusage
	// measurement wins: a child that disabled its monitor still gets
	// classified by the clock it cannot fake.
	if cpuTime >= req.Timeout() {
		return nil, prepare.NewError(prepare.KindTimedOut,
			"job used %v of cpu time, budget was %v", cpuTime, req.Timeout())
	}

	resp, respErr, decodeErr := decodeFrame(raw, s.maxResultSize())

	if waitErr != nil {
		if sig, ok := exitSignal(waitErr); ok {
			return nil, prepare.NewError(prepare.KindJobDied,
				"job killed by signal %s after %v", sig, wallTime)
		}
		code, ok := exitCode(waitErr)
		if !ok {
			return nil, prepare.NewError(prepare.KindJobDied, "job lost: %v", waitErr)
		}
		// A nonzero exit with a well-formed error frame is the orderly
		// failure path; the out-of-memory breaker exits this way. A
		// nonzero exit claiming success is forged and never trusted.
		if decodeErr == nil && respErr != nil {
			return nil, respErr
		}
		if decodeErr == nil && resp != nil {
			return nil, prepare.NewError(prepare.KindJobError,
				"job claimed success but exited with code %d", code)
		}
		return nil, prepare.NewError(prepare.KindJobDied, "job exited with code %d", code)
	}

	if decodeErr != nil {
		return nil, prepare.NewError(prepare.KindJobError, "malformed result: %v", decodeErr)
	}
	if respErr != nil {
		return nil, respErr
	}
	return resp, nil
}

// decodeFrame parses exactly one frame followed by EOF out of the drained
// pipe contents.
func decodeFrame(raw []byte, maxSize uint64) (*prepare.JobResponse, *prepare.Error, error) {
	r := bytes.NewReader(raw)
	payload, err := ipc.RecvLimited(r, maxSize)
	if err != nil {
		return nil, nil, err
	}
	if r.Len() != 0 {
		return nil, nil, fmt.Errorf("%d bytes after result frame", r.Len())
	}
	return prepare.DecodeJobResult(payload)
}

func (s *Supervisor) maxResultSize() uint64 {
	if s.MaxResultSize > 0 {
		return s.MaxResultSize
	}
	return ipc.DefaultMaxFrameSize
}

// writeArtifact lands the artifact atomically: a rename either fully
// replaces the destination or leaves it untouched.
func writeArtifact(path string, artifact []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(artifact); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
