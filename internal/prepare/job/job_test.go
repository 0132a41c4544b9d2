package job

import (
	"errors"
	"os"
	"runtime"
	"testing"
	"time"

	"pvforge/internal/executor"
	"pvforge/internal/prepare"
	"pvforge/internal/worker/ipc"
)

type fakeEngine struct {
	prevalidateErr error
	prepareErr     error
	instantiateErr error

	instantiations int
	duringPrepare  func()
}

func (f *fakeEngine) Prevalidate(code []byte, _ prepare.ExecutorParams) ([]byte, error) {
	if f.prevalidateErr != nil {
		return nil, f.prevalidateErr
	}
	return code, nil
}

func (f *fakeEngine) Prepare(module []byte, _ prepare.ExecutorParams) ([]byte, error) {
	if f.duringPrepare != nil {
		f.duringPrepare()
	}
	if f.prepareErr != nil {
		return nil, f.prepareErr
	}
	return append([]byte("artifact:"), module...), nil
}

func (f *fakeEngine) Instantiate(_ []byte, _ prepare.ExecutorParams) error {
	f.instantiations++
	return f.instantiateErr
}

func request(kind prepare.JobKind) *prepare.JobRequest {
	return &prepare.JobRequest{
		ID:        "job-1",
		Code:      []byte("\x00asm\x01\x00\x00\x00"),
		TimeoutMs: 5000,
		Kind:      kind,
	}
}

func TestExecuteLenientSkipsInstantiation(t *testing.T) {
	eng := &fakeEngine{}
	resp, perr := Execute(eng, request(prepare.KindLenient), nil)
	if perr != nil {
		t.Fatalf("unexpected error: %v", perr)
	}
	if len(resp.Artifact) == 0 {
		t.Fatal("missing artifact")
	}
	if eng.instantiations != 0 {
		t.Fatal("lenient job must not instantiate")
	}
}

func TestExecutePrecheckInstantiates(t *testing.T) {
	eng := &fakeEngine{}
	if _, perr := Execute(eng, request(prepare.KindPrecheck), nil); perr != nil {
		t.Fatalf("unexpected error: %v", perr)
	}
	if eng.instantiations != 1 {
		t.Fatalf("instantiations = %d, want 1", eng.instantiations)
	}
}

func TestExecuteErrorKinds(t *testing.T) {
	cases := []struct {
		name string
		eng  *fakeEngine
		kind prepare.JobKind
		want prepare.ErrorKind
	}{
		{"prevalidation", &fakeEngine{prevalidateErr: errors.New("bad magic")}, prepare.KindPrecheck, prepare.KindPrevalidation},
		{"preparation", &fakeEngine{prepareErr: errors.New("codegen failed")}, prepare.KindLenient, prepare.KindPreparation},
		{"runtime construction", &fakeEngine{instantiateErr: errors.New("no exports")}, prepare.KindPrecheck, prepare.KindRuntimeConstruction},
	}
	for _, tc := range cases {
		resp, perr := Execute(tc.eng, request(tc.kind), nil)
		if resp != nil {
			t.Errorf("%s: expected no response", tc.name)
		}
		if perr == nil || perr.Kind != tc.want {
			t.Errorf("%s: error = %v, want kind %s", tc.name, perr, tc.want)
		}
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	eng := &fakeEngine{duringPrepare: func() { panic("compiler bug") }}
	_, perr := Execute(eng, request(prepare.KindLenient), nil)
	if perr == nil || perr.Kind != prepare.KindJobError {
		t.Fatalf("error = %v, want job error", perr)
	}
}

func TestExecuteInstantiateErrorIgnoredForLenient(t *testing.T) {
	eng := &fakeEngine{instantiateErr: errors.New("no exports")}
	if _, perr := Execute(eng, request(prepare.KindLenient), nil); perr != nil {
		t.Fatalf("unexpected error: %v", perr)
	}
	if eng.instantiations != 0 {
		t.Fatal("lenient job must not instantiate")
	}
}

func TestExecuteTimesOut(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("cpu deadline requires linux")
	}
	eng := &fakeEngine{duringPrepare: func() {
		deadline := time.Now().Add(3 * time.Second)
		x := 0
		for time.Now().Before(deadline) {
			for i := 0; i < 1000000; i++ {
				x += i
			}
		}
		_ = x
	}}
	req := request(prepare.KindLenient)
	req.TimeoutMs = 50

	done := make(chan *prepare.Error, 1)
	go func() {
		_, perr := Execute(eng, req, nil)
		done <- perr
	}()
	select {
	case perr := <-done:
		if perr == nil || perr.Kind != prepare.KindTimedOut {
			t.Fatalf("error = %v, want timed out", perr)
		}
	case <-time.After(20 * time.Second):
		t.Fatal("deadline never fired")
	}
}

func TestExecuteReportsTrackedPeak(t *testing.T) {
	eng := &fakeEngine{}
	req := request(prepare.KindPrecheck)
	req.Params.PrecheckMaxMemory = 1 << 30

	resp, perr := Execute(eng, req, nil)
	if perr != nil {
		t.Fatalf("unexpected error: %v", perr)
	}
	if resp.Memory.PeakTrackedAlloc == 0 {
		t.Fatal("module bytes were allocated through the tracker; peak must be nonzero")
	}
}

// End to end against the reference engine: a structurally valid module with
// no exports compiles, but precheck catches it at instantiation.
func TestExecuteExportlessModulePrecheck(t *testing.T) {
	wasmHeader := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
	exportless := append(append([]byte{}, wasmHeader...), 0x05, 0x03, 0x01, 0x00, 0x01)
	exported := append(append([]byte{}, wasmHeader...), 0x07, 0x06, 0x01, 0x02, 'g', 'o', 0x00, 0x00)

	eng := executor.NewReference(nil)

	req := request(prepare.KindPrecheck)
	req.Code = exportless
	_, perr := Execute(eng, req, nil)
	if perr == nil || perr.Kind != prepare.KindRuntimeConstruction {
		t.Fatalf("error = %v, want runtime construction", perr)
	}

	req = request(prepare.KindLenient)
	req.Code = exportless
	if _, perr := Execute(eng, req, nil); perr != nil {
		t.Fatalf("lenient accepts exportless module: %v", perr)
	}

	req = request(prepare.KindPrecheck)
	req.Code = exported
	resp, perr := Execute(eng, req, nil)
	if perr != nil {
		t.Fatalf("exported module: %v", perr)
	}
	if len(resp.Artifact) == 0 {
		t.Fatal("missing artifact")
	}
}

func TestRunWritesDecodableFrame(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()

	code := Run(&fakeEngine{}, request(prepare.KindLenient), w)
	_ = w.Close()
	if code != ExitOK {
		t.Fatalf("exit code = %d, want %d", code, ExitOK)
	}

	payload, err := ipc.Recv(r)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	resp, perr, err := prepare.DecodeJobResult(payload)
	if err != nil || perr != nil {
		t.Fatalf("decode: resp=%v perr=%v err=%v", resp, perr, err)
	}
	if len(resp.Artifact) == 0 {
		t.Fatal("missing artifact in frame")
	}
}

func TestRunTypedErrorExitsNonzero(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()

	eng := &fakeEngine{prepareErr: errors.New("codegen failed")}
	code := Run(eng, request(prepare.KindLenient), w)
	_ = w.Close()
	if code != ExitError {
		t.Fatalf("exit code = %d, want %d; the status distinguishes Ok from Err before the payload is decoded", code, ExitError)
	}

	payload, err := ipc.Recv(r)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	_, perr, err := prepare.DecodeJobResult(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if perr == nil || perr.Kind != prepare.KindPreparation {
		t.Fatalf("error = %v, want preparation", perr)
	}
}

func TestRunFailsWhenPipeClosed(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	_ = r.Close()
	_ = w.Close()

	if code := Run(&fakeEngine{}, request(prepare.KindLenient), w); code != ExitResponseFailed {
		t.Fatalf("exit code = %d, want %d", code, ExitResponseFailed)
	}
}
