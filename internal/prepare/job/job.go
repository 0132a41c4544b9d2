// Package job drives one preparation attempt inside the disposable job
// process. It owns the race between the compile work and the CPU time
// monitor, the memory tracking session, and the single result frame written
// back to the supervisor.
package job

import (
	"os"
	"time"

	"go.uber.org/zap"

	"pvforge/internal/executor"
	"pvforge/internal/prepare"
	"pvforge/internal/prepare/cpumonitor"
	"pvforge/internal/prepare/memtracker"
	"pvforge/internal/prepare/threadsync"
	"pvforge/internal/worker/ipc"
	"pvforge/pkg/utils/logger"
)

// Exit codes of the job process. The status is the only signal the parent
// has before decoding the payload; anything else reaching the supervisor is
// a forged status.
const (
	// ExitOK means an Ok result frame was written.
	ExitOK = 0
	// ExitError means a typed Err frame was written. The out-of-memory
	// breaker exits with this code too.
	ExitError = 1
	// ExitResponseFailed means no result frame could be written at all.
	ExitResponseFailed = 2
)

const sampleInterval = 10 * time.Millisecond

// Run executes the request against the engine and writes exactly one framed
// result to pipe. The returned value is the process exit code; the caller
// exits with it immediately.
func Run(engine executor.Engine, req *prepare.JobRequest, pipe *os.File) int {
	onExceeded := memtracker.RawExitHandler(int(pipe.Fd()), prepare.OOMPayload)
	resp, perr := Execute(engine, req, onExceeded)

	log := logger.L()
	if perr != nil {
		log.Error("preparation failed",
			zap.String("job_id", req.ID),
			zap.String("kind", perr.Kind.String()),
			zap.String("message", perr.Message))
	}

	if err := ipc.Send(pipe, prepare.EncodeJobResult(resp, perr)); err != nil {
		log.Error("write result frame", zap.String("job_id", req.ID), zap.Error(err))
		return ExitResponseFailed
	}
	if perr != nil {
		return ExitError
	}
	return ExitOK
}

// Execute runs the compile work under the tracking session and the CPU
// deadline. onExceeded is installed as the allocation circuit breaker; it
// must not allocate and is expected not to return. A nil onExceeded records
// peaks without enforcement.
func Execute(engine executor.Engine, req *prepare.JobRequest, onExceeded func()) (*prepare.JobResponse, *prepare.Error) {
	limit := int64(0)
	if req.Kind == prepare.KindPrecheck && req.Params.PrecheckMaxMemory > 0 {
		limit = int64(req.Params.PrecheckMaxMemory)
	}
	if limit == 0 {
		onExceeded = nil
	}

	tracker := memtracker.Global()
	if err := tracker.Start(limit, onExceeded); err != nil {
		return nil, prepare.NewError(prepare.KindJobError, "start tracking session: %v", err)
	}
	sampler := tracker.StartSampler(sampleInterval)

	cond := threadsync.New()
	finished := make(chan struct{})

	// Work result, published before Finished is signalled; the condition's
	// lock orders the write against the read below.
	var artifact []byte
	var workErr *prepare.Error

	startCPU := cpumonitor.ProcessCPUTime()
	go func() {
		_, timedOut := cpumonitor.Loop(startCPU, req.Timeout(), finished)
		if timedOut {
			cond.SignalIfPending(threadsync.TimedOut)
		}
	}()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				workErr = prepare.NewError(prepare.KindJobError, "preparation panicked: %v", r)
			}
			close(finished)
			cond.SignalIfPending(threadsync.Finished)
		}()
		artifact, workErr = compile(engine, tracker, req)
	}()

	outcome := cond.Wait()
	memory := collectMemory(tracker, sampler)

	switch outcome {
	case threadsync.TimedOut:
		// The work goroutine may still be running; the process exits as
		// soon as the result frame is out, taking it along.
		return nil, prepare.NewError(prepare.KindTimedOut,
			"cpu time budget of %v exhausted", req.Timeout())
	case threadsync.Finished:
		if workErr != nil {
			return nil, workErr
		}
		return &prepare.JobResponse{Memory: memory, Artifact: artifact}, nil
	default:
		return nil, prepare.NewError(prepare.KindJobError, "wait resolved to %s", outcome)
	}
}

// compile is the actual pipeline: prevalidate, prepare, and for precheck
// jobs a runtime construction check on the fresh artifact.
func compile(engine executor.Engine, alloc executor.Allocator, req *prepare.JobRequest) ([]byte, *prepare.Error) {
	module, err := engine.Prevalidate(req.Code, req.Params)
	if err != nil {
		return nil, prepare.NewError(prepare.KindPrevalidation, "%v", err)
	}
	alloc.Allocate(int64(len(module)))

	artifact, err := engine.Prepare(module, req.Params)
	alloc.Deallocate(int64(len(module)))
	if err != nil {
		return nil, prepare.NewError(prepare.KindPreparation, "%v", err)
	}

	if req.Kind == prepare.KindPrecheck {
		if err := engine.Instantiate(artifact, req.Params); err != nil {
			return nil, prepare.NewError(prepare.KindRuntimeConstruction, "%v", err)
		}
	}
	return artifact, nil
}

func collectMemory(tracker *memtracker.Tracker, sampler *memtracker.Sampler) prepare.MemoryStats {
	var ms prepare.MemoryStats
	if peak := tracker.End(); peak > 0 {
		ms.PeakTrackedAlloc = uint64(peak)
	}
	ms.MaxRSSKB = memtracker.MaxRSSKB()
	if st := sampler.Stop(); st != nil {
		ms.Tracker = &prepare.TrackerStats{Samples: st.Samples, Min: st.Min, Max: st.Max}
	}
	return ms
}
