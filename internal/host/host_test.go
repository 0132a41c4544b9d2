package host

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"pvforge/internal/prepare"
	"pvforge/internal/worker"
	"pvforge/internal/worker/ipc"
	appErr "pvforge/pkg/errors"
	"pvforge/pkg/utils/logger"
)

func pipeHandle(t *testing.T) (*Handle, net.Conn) {
	t.Helper()
	workerEnd, hostEnd := net.Pipe()
	t.Cleanup(func() {
		_ = workerEnd.Close()
		_ = hostEnd.Close()
	})
	h := &Handle{conn: hostEnd, workerDir: t.TempDir(), log: logger.L()}
	return h, workerEnd
}

func sendHandshake(t *testing.T, conn net.Conn, version string, pid int) {
	t.Helper()
	payload, err := json.Marshal(worker.Handshake{Version: version, PID: pid})
	if err != nil {
		t.Errorf("marshal handshake: %v", err)
		return
	}
	if err := ipc.Send(conn, payload); err != nil {
		t.Errorf("send handshake: %v", err)
	}
}

func TestVerifyHandshake(t *testing.T) {
	h, peer := pipeHandle(t)
	go sendHandshake(t, peer, "1.0.0", 4242)

	if err := h.verifyHandshake("1.0.0", 5*time.Second); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if h.pid != 4242 {
		t.Fatalf("pid = %d, want 4242", h.pid)
	}
}

func TestVerifyHandshakeVersionMismatch(t *testing.T) {
	h, peer := pipeHandle(t)
	go sendHandshake(t, peer, "0.9.9", 1)

	err := h.verifyHandshake("1.0.0", 5*time.Second)
	if appErr.GetCode(err) != appErr.VersionMismatch {
		t.Fatalf("err = %v, want version mismatch", err)
	}
}

func testRequest() *prepare.JobRequest {
	return &prepare.JobRequest{
		ID:        "job-1",
		Code:      []byte("module"),
		TimeoutMs: 1000,
		Kind:      prepare.KindPrecheck,
	}
}

func TestSubmitRoundTrip(t *testing.T) {
	h, peer := pipeHandle(t)

	go func() {
		payload, err := ipc.Recv(peer)
		if err != nil {
			return
		}
		req, err := prepare.DecodeRequest(payload)
		if err != nil || req.ID != "job-1" {
			return
		}
		stats := &prepare.Stats{CPUTime: 100 * time.Millisecond}
		_ = ipc.Send(peer, prepare.EncodeResult(stats, nil))
	}()

	stats, perr, err := h.Submit(context.Background(), testRequest())
	if err != nil || perr != nil {
		t.Fatalf("submit: stats=%v perr=%v err=%v", stats, perr, err)
	}
	if stats.CPUTime != 100*time.Millisecond {
		t.Fatalf("cpu time = %v", stats.CPUTime)
	}
}

func TestSubmitTypedError(t *testing.T) {
	h, peer := pipeHandle(t)

	go func() {
		if _, err := ipc.Recv(peer); err != nil {
			return
		}
		perr := prepare.NewError(prepare.KindTimedOut, "budget exhausted")
		_ = ipc.Send(peer, prepare.EncodeResult(nil, perr))
	}()

	_, perr, err := h.Submit(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if perr == nil || perr.Kind != prepare.KindTimedOut {
		t.Fatalf("error = %v, want timed out", perr)
	}
}

func TestSubmitWorkerDied(t *testing.T) {
	h, peer := pipeHandle(t)

	go func() {
		_, _ = ipc.Recv(peer)
		_ = peer.Close()
	}()

	_, _, err := h.Submit(context.Background(), testRequest())
	if appErr.GetCode(err) != appErr.WorkerDied {
		t.Fatalf("err = %v, want worker died", err)
	}
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	h, _ := pipeHandle(t)
	req := testRequest()
	req.TimeoutMs = 0

	if _, _, err := h.Submit(context.Background(), req); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestSubmitHonorsContextDeadline(t *testing.T) {
	h, peer := pipeHandle(t)

	go func() {
		// Swallow the request, never answer.
		_, _ = ipc.Recv(peer)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, _, err := h.Submit(ctx, testRequest())
	if appErr.GetCode(err) != appErr.WorkerDied {
		t.Fatalf("err = %v, want worker died after deadline", err)
	}
}

func TestArtifactPathUsesFixedSlot(t *testing.T) {
	h, _ := pipeHandle(t)
	want := filepath.Join(h.workerDir, worker.ArtifactFileName)
	if got := h.ArtifactPath(); got != want {
		t.Fatalf("artifact path = %q, want %q", got, want)
	}
}
