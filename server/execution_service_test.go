package server

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ltratt/converge/bytecode"
	"github.com/ltratt/converge/image"
	"github.com/ltratt/converge/vm"
)

func helloProgram(t *testing.T) []byte {
	return program(t, func(b *bytecode.Builder) {
		sysCall(b, "println", str("hello "), integer(7))
		b.Emit(bytecode.OpReturn)
	})
}

// ---------------------------------------------------------------------------
// Run: happy paths
// ---------------------------------------------------------------------------

func TestRun_Executable(t *testing.T) {
	svc := NewExecutionService(NewVMWorker(vm.New), 0, nil)
	defer svc.worker.Stop()

	resp, err := svc.Run(bg(), connectReq(wrapperspb.Bytes(helloProgram(t))))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	f := resp.Msg.GetFields()
	if got := f[FieldExitCode].GetNumberValue(); got != 0 {
		t.Errorf("exit_code = %v, want 0", got)
	}
	if got := f[FieldStdout].GetStringValue(); got != "hello 7\n" {
		t.Errorf("stdout = %q, want %q", got, "hello 7\n")
	}
	if _, ok := f[FieldError]; ok {
		t.Errorf("unexpected error field: %v", f[FieldError])
	}
	if f[FieldImageID].GetStringValue() == "" {
		t.Error("image_id should be set")
	}
}

func TestRun_ImageOverHTTP(t *testing.T) {
	client := startTestServer(t)

	img, err := image.FromExecutable(helloProgram(t))
	if err != nil {
		t.Fatal(err)
	}
	data, err := image.Marshal(img)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := client.CallUnary(bg(), connectReq(wrapperspb.Bytes(data)))
	if err != nil {
		t.Fatalf("CallUnary: %v", err)
	}
	f := resp.Msg.GetFields()
	if got := f[FieldStdout].GetStringValue(); got != "hello 7\n" {
		t.Errorf("stdout = %q, want %q", got, "hello 7\n")
	}
	if got := f[FieldImageID].GetStringValue(); got != img.ID {
		t.Errorf("image_id = %q, want %q", got, img.ID)
	}
}

func TestRun_ExitCode(t *testing.T) {
	client := startTestServer(t)

	exe := program(t, func(b *bytecode.Builder) {
		sysCall(b, "print", str("bye"))
		b.Emit(bytecode.OpPop)
		sysCall(b, "exit", integer(4))
		b.Emit(bytecode.OpReturn)
	})
	resp, err := client.CallUnary(bg(), connectReq(wrapperspb.Bytes(exe)))
	if err != nil {
		t.Fatalf("CallUnary: %v", err)
	}
	f := resp.Msg.GetFields()
	if got := f[FieldExitCode].GetNumberValue(); got != 4 {
		t.Errorf("exit_code = %v, want 4", got)
	}
	if got := f[FieldStdout].GetStringValue(); got != "bye" {
		t.Errorf("stdout = %q, want %q", got, "bye")
	}
}

func TestRun_UncaughtException(t *testing.T) {
	client := startTestServer(t)

	exe := program(t, func(b *bytecode.Builder) {
		b.EmitOperand(bytecode.OpImport, 1)
		b.EmitName(bytecode.OpModuleLookup, "User_Exception")
		b.EmitName(bytecode.OpSlotLookup, "new")
		b.EmitName(bytecode.OpString, "boom")
		b.EmitOperand(bytecode.OpApply, 1)
		b.Emit(bytecode.OpRaise)
	})
	resp, err := client.CallUnary(bg(), connectReq(wrapperspb.Bytes(exe)))
	if err != nil {
		t.Fatalf("CallUnary: %v", err)
	}
	f := resp.Msg.GetFields()
	if got := f[FieldExitCode].GetNumberValue(); got != 1 {
		t.Errorf("exit_code = %v, want 1", got)
	}
	msg := f[FieldError].GetStringValue()
	if !strings.HasPrefix(msg, "Traceback (most recent call at bottom):") {
		t.Errorf("error = %q, want a traceback", msg)
	}
	if !strings.HasSuffix(msg, "User_Exception: boom\n") {
		t.Errorf("error = %q, want it to end with the exception", msg)
	}
}

func TestRun_RequestsAreIsolated(t *testing.T) {
	client := startTestServer(t)

	for i := 0; i < 3; i++ {
		resp, err := client.CallUnary(bg(), connectReq(wrapperspb.Bytes(helloProgram(t))))
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if got := resp.Msg.GetFields()[FieldStdout].GetStringValue(); got != "hello 7\n" {
			t.Errorf("run %d stdout = %q, want a single line", i, got)
		}
	}
}

// ---------------------------------------------------------------------------
// Run: invalid requests
// ---------------------------------------------------------------------------

func TestRun_InvalidRequests(t *testing.T) {
	client := startTestServer(t, WithMaxImageBytes(64))

	tests := []struct {
		name string
		data []byte
		want connect.Code
	}{
		{"empty", nil, connect.CodeInvalidArgument},
		{"garbage", []byte("not a program"), connect.CodeInvalidArgument},
		{"too large", make([]byte, 65), connect.CodeResourceExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.CallUnary(bg(), connectReq(wrapperspb.Bytes(tt.data)))
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := connect.CodeOf(err); got != tt.want {
				t.Errorf("code = %v, want %v", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// VMWorker
// ---------------------------------------------------------------------------

func TestVMWorker_RecoversPanics(t *testing.T) {
	w := NewVMWorker(vm.New)
	defer w.Stop()

	_, err := w.Do(bg(), nil, func(*vm.VM) (any, error) {
		panic("kaboom")
	})
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("err = %v, want the panic value", err)
	}

	v, err := w.Do(bg(), nil, func(*vm.VM) (any, error) { return 5, nil })
	if err != nil || v != 5 {
		t.Errorf("Do after panic = %v, %v; want 5", v, err)
	}
}

func TestVMWorker_FreshVMPerRequest(t *testing.T) {
	w := NewVMWorker(vm.New)
	defer w.Stop()

	var seen []*vm.VM
	for i := 0; i < 2; i++ {
		_, err := w.Do(bg(), nil, func(v *vm.VM) (any, error) {
			seen = append(seen, v)
			return nil, nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if seen[0] == seen[1] {
		t.Error("each request should get its own VM")
	}
}

func TestVMWorker_ContextCancelled(t *testing.T) {
	w := NewVMWorker(vm.New)
	defer w.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	go w.Do(bg(), nil, func(*vm.VM) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	<-started
	defer close(release)

	ctx, cancel := context.WithTimeout(bg(), 10*time.Millisecond)
	defer cancel()
	_, err := w.Do(ctx, nil, func(*vm.VM) (any, error) { return nil, nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestVMWorker_StopReleasesQueuedRequests(t *testing.T) {
	w := NewVMWorker(vm.New)

	release := make(chan struct{})
	started := make(chan struct{})
	go w.Do(bg(), nil, func(*vm.VM) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	<-started
	defer close(release)

	errc := make(chan error, 1)
	go func() {
		_, err := w.Do(bg(), nil, func(*vm.VM) (any, error) { return nil, nil })
		errc <- err
	}()
	deadline := time.Now().Add(time.Second)
	for len(w.requests) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	w.Stop()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrWorkerStopped) {
			t.Errorf("err = %v, want ErrWorkerStopped", err)
		}
	case <-time.After(time.Second):
		t.Fatal("queued Do still blocked after Stop")
	}
}

func TestVMWorker_FactoryError(t *testing.T) {
	w := NewVMWorker(func(...vm.Option) (*vm.VM, error) {
		return nil, errors.New("no vm")
	})
	defer w.Stop()

	if _, err := w.Do(bg(), nil, func(*vm.VM) (any, error) { return nil, nil }); err == nil || err.Error() != "no vm" {
		t.Errorf("err = %v, want no vm", err)
	}
}
