// prepare-job is the disposable per-job child. It reads one framed request
// from stdin, locks itself down, runs the preparation and writes one framed
// result to the pipe on fd 3. It never serves a second job.
package main

import (
	"flag"
	"fmt"
	"os"

	"pvforge/internal/executor"
	"pvforge/internal/prepare"
	"pvforge/internal/prepare/job"
	"pvforge/internal/prepare/memtracker"
	"pvforge/internal/security"
	"pvforge/internal/worker/ipc"
	"pvforge/pkg/utils/logger"

	"go.uber.org/zap"
)

const resultFd = 3

func main() {
	skipLockdown := flag.Bool("unsafe-skip-lockdown", false,
		"Run without seccomp/rlimits (development only)")
	flag.Parse()

	if err := logger.Init(logger.Config{}); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(job.ExitResponseFailed)
	}
	defer func() {
		_ = logger.Sync()
	}()
	log := logger.L()

	pipe := os.NewFile(resultFd, "result-pipe")
	if pipe == nil {
		log.Error("result pipe fd missing")
		os.Exit(job.ExitResponseFailed)
	}

	payload, err := ipc.Recv(os.Stdin)
	if err != nil {
		log.Error("read request frame", zap.Error(err))
		os.Exit(job.ExitResponseFailed)
	}
	req, err := prepare.DecodeRequest(payload)
	if err != nil {
		log.Error("decode request", zap.Error(err))
		os.Exit(job.ExitResponseFailed)
	}

	// Lockdown happens before any byte of req.Code is interpreted. A job
	// that cannot be confined does not run.
	if !*skipLockdown {
		if _, err := security.Apply(req.Params); err != nil {
			log.Error("apply lockdown", zap.String("job_id", req.ID), zap.Error(err))
			perr := prepare.NewError(prepare.KindKernel, "lockdown failed: %v", err)
			_ = ipc.Send(pipe, prepare.EncodeJobResult(nil, perr))
			os.Exit(job.ExitError)
		}
	}

	engine := executor.NewReference(memtracker.Global())
	os.Exit(job.Run(engine, req, pipe))
}
