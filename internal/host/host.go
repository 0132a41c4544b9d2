// Package host provides the minimal host-side handle to one prepare worker:
// spawn it, verify the version handshake, submit jobs one at a time, tear it
// down. Pooling and queueing live with the embedding application.
package host

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"pvforge/internal/prepare"
	"pvforge/internal/worker"
	"pvforge/internal/worker/ipc"
	appErr "pvforge/pkg/errors"
	"pvforge/pkg/utils/logger"
)

// DefaultSpawnTimeout bounds how long a freshly spawned worker gets to
// connect and hand-shake.
const DefaultSpawnTimeout = 10 * time.Second

// Config describes how to spawn one worker.
type Config struct {
	// WorkerBinary is the path of the prepare-worker executable.
	WorkerBinary string
	// WorkerDir is the worker-private directory holding the socket and the
	// artifact slot.
	WorkerDir string
	// NodeVersion is the host's version; the worker must match it exactly.
	NodeVersion string
	// SpawnTimeout overrides DefaultSpawnTimeout when positive.
	SpawnTimeout time.Duration
}

// Handle is a live connection to one worker process. Submit is serialized:
// the protocol allows one job in flight.
type Handle struct {
	mu   sync.Mutex
	conn net.Conn
	cmd  *exec.Cmd
	ln   net.Listener

	workerDir string
	pid       int
	log       *zap.Logger
}

// Spawn starts a worker process, waits for it to connect to the worker
// socket and verifies its handshake.
func Spawn(cfg Config) (*Handle, error) {
	if cfg.WorkerBinary == "" || cfg.WorkerDir == "" {
		return nil, appErr.Newf(appErr.InvalidParams, "worker binary and dir are required")
	}
	timeout := cfg.SpawnTimeout
	if timeout <= 0 {
		timeout = DefaultSpawnTimeout
	}

	if err := os.MkdirAll(cfg.WorkerDir, 0o700); err != nil {
		return nil, appErr.Wrapf(err, appErr.WorkerSpawnFailed, "create worker dir: %v", err)
	}
	socketPath := filepath.Join(cfg.WorkerDir, "worker.sock")
	_ = os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.WorkerSpawnFailed, "listen on worker socket: %v", err)
	}

	cmd := exec.Command(cfg.WorkerBinary,
		"--socket-path", socketPath,
		"--worker-dir", cfg.WorkerDir,
		"--node-version", cfg.NodeVersion,
	)
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		_ = ln.Close()
		return nil, appErr.Wrapf(err, appErr.WorkerSpawnFailed, "start worker process: %v", err)
	}

	conn, err := acceptOne(ln, timeout)
	if err != nil {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
		_ = ln.Close()
		return nil, err
	}

	h := &Handle{
		conn:      conn,
		cmd:       cmd,
		ln:        ln,
		workerDir: cfg.WorkerDir,
		log:       logger.L(),
	}
	if err := h.verifyHandshake(cfg.NodeVersion, timeout); err != nil {
		_ = h.Close()
		return nil, err
	}
	h.log.Info("worker attached",
		zap.Int("pid", h.pid),
		zap.String("worker_dir", cfg.WorkerDir))
	return h, nil
}

func acceptOne(ln net.Listener, timeout time.Duration) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		ch <- result{conn, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, appErr.Wrapf(r.err, appErr.WorkerSpawnFailed, "accept worker connection: %v", r.err)
		}
		return r.conn, nil
	case <-time.After(timeout):
		_ = ln.Close()
		return nil, appErr.Newf(appErr.WorkerSpawnFailed, "worker never connected")
	}
}

func (h *Handle) verifyHandshake(nodeVersion string, timeout time.Duration) error {
	_ = h.conn.SetReadDeadline(time.Now().Add(timeout))
	defer func() { _ = h.conn.SetReadDeadline(time.Time{}) }()

	payload, err := ipc.Recv(h.conn)
	if err != nil {
		return appErr.Wrapf(err, appErr.HandshakeFailed, "recv handshake: %v", err)
	}
	var hs worker.Handshake
	if err := json.Unmarshal(payload, &hs); err != nil {
		return appErr.Wrapf(err, appErr.HandshakeFailed, "decode handshake: %v", err)
	}
	if nodeVersion != "" && hs.Version != nodeVersion {
		return appErr.Newf(appErr.VersionMismatch,
			"worker version %s, host wants %s", hs.Version, nodeVersion)
	}
	h.pid = hs.PID
	return nil
}

// ArtifactPath is where a successful job's artifact lands. The slot is
// reused; the caller moves the file out before the next Submit.
func (h *Handle) ArtifactPath() string {
	return filepath.Join(h.workerDir, worker.ArtifactFileName)
}

// Submit sends one job and blocks for its result. The returned prepare.Error
// is the job's typed outcome; the plain error means the worker itself is
// gone and the handle is dead.
func (h *Handle) Submit(ctx context.Context, req *prepare.JobRequest) (*prepare.Stats, *prepare.Error, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	payload, err := prepare.EncodeRequest(req)
	if err != nil {
		return nil, nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = h.conn.SetDeadline(deadline)
		defer func() { _ = h.conn.SetDeadline(time.Time{}) }()
	}

	if err := ipc.Send(h.conn, payload); err != nil {
		return nil, nil, appErr.Wrapf(err, appErr.WorkerDied, "send job: %v", err)
	}
	resPayload, err := ipc.Recv(h.conn)
	if err != nil {
		// Any recv failure mid-protocol means the worker died under us;
		// a typed job failure would have arrived as a result frame.
		return nil, nil, appErr.Wrapf(err, appErr.WorkerDied, "worker connection lost: %v", err)
	}

	stats, perr, err := prepare.DecodeResult(resPayload)
	if err != nil {
		return nil, nil, appErr.Wrapf(err, appErr.DecodeFailed, "undecodable result: %v", err)
	}
	return stats, perr, nil
}

// Close tears the worker down: connection first, then the process.
func (h *Handle) Close() error {
	var firstErr error
	if h.conn != nil {
		if err := h.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if h.ln != nil {
		if err := h.ln.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if h.cmd != nil && h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
		_ = h.cmd.Wait()
	}
	return firstErr
}
