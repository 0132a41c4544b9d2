// Package worker implements the long-lived worker loop: handshake with the
// host, then one job in flight at a time until the socket goes away. Job
// failures are results; only transport failures end the loop.
package worker

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"go.uber.org/zap"

	"pvforge/internal/prepare"
	"pvforge/internal/worker/ipc"
	appErr "pvforge/pkg/errors"
	"pvforge/pkg/utils/logger"
)

// Version is baked into the binary and must match the host's node version
// exactly. A worker from a stale deployment must not pick up jobs.
const Version = "1.0.0"

// ArtifactFileName is the fixed artifact slot inside the worker directory,
// shared convention between the worker and the host.
const ArtifactFileName = "artifact.bin"

// Worker process exit codes, part of the host contract.
const (
	ExitOK              = 0
	ExitUsage           = 1
	ExitVersionMismatch = 10
	ExitSocketFailed    = 11
	ExitConfigInvalid   = 12
)

// Handshake is the first frame on a fresh connection, worker→host.
type Handshake struct {
	Version string `json:"version"`
	PID     int    `json:"pid"`
}

// JobExecutor runs one preparation attempt. The production implementation is
// the job process supervisor.
type JobExecutor interface {
	Execute(ctx context.Context, req *prepare.JobRequest, artifactPath string) (*prepare.Stats, *prepare.Error)
}

// Worker serves jobs over a single host connection.
type Worker struct {
	conn         io.ReadWriter
	exec         JobExecutor
	artifactPath string
	log          *zap.Logger
}

// New creates a worker. artifactPath is the fixed temp artifact slot inside
// the worker directory; every successful job overwrites it and the host
// collects it before sending the next request.
func New(conn io.ReadWriter, exec JobExecutor, artifactPath string) *Worker {
	return &Worker{
		conn:         conn,
		exec:         exec,
		artifactPath: artifactPath,
		log:          logger.L(),
	}
}

// Run performs the handshake and serves jobs until the connection closes.
// A clean close between jobs returns nil; anything else is the error that
// ended the loop.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.handshake(); err != nil {
		return err
	}
	w.log.Info("worker ready",
		zap.String("version", Version),
		zap.String("artifact_path", w.artifactPath))

	for {
		payload, err := ipc.Recv(w.conn)
		if err != nil {
			if appErr.GetCode(err) == appErr.StreamClosed {
				w.log.Info("host closed the connection")
				return nil
			}
			return err
		}

		req, err := prepare.DecodeRequest(payload)
		if err != nil {
			// The host is the only peer on this socket; a request that
			// does not decode means the stream is corrupt, not the job.
			return appErr.Wrapf(err, appErr.TransportError, "undecodable job request: %v", err)
		}

		stats, perr := w.exec.Execute(ctx, req, w.artifactPath)
		w.logResult(req, stats, perr)

		if err := ipc.Send(w.conn, prepare.EncodeResult(stats, perr)); err != nil {
			return err
		}
	}
}

func (w *Worker) handshake() error {
	hs, err := json.Marshal(Handshake{Version: Version, PID: os.Getpid()})
	if err != nil {
		return appErr.Wrap(err, appErr.HandshakeFailed)
	}
	if err := ipc.Send(w.conn, hs); err != nil {
		return appErr.Wrapf(err, appErr.HandshakeFailed, "send handshake: %v", err)
	}
	return nil
}

func (w *Worker) logResult(req *prepare.JobRequest, stats *prepare.Stats, perr *prepare.Error) {
	if perr == nil {
		w.log.Info("job prepared",
			zap.String("job_id", req.ID),
			zap.Duration("cpu_time", stats.CPUTime),
			zap.Uint64("peak_tracked", stats.Memory.PeakTrackedAlloc))
		return
	}
	fields := []zap.Field{
		zap.String("job_id", req.ID),
		zap.String("kind", perr.Kind.String()),
		zap.String("message", perr.Message),
	}
	if perr.Fatal() {
		w.log.Error("job process terminated hard", fields...)
	} else {
		w.log.Warn("job failed", fields...)
	}
}
