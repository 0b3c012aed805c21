package server

import (
	"context"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ltratt/converge/bytecode"
	"github.com/ltratt/converge/vm"
)

// ---------------------------------------------------------------------------
// Program builders
// ---------------------------------------------------------------------------

// program returns a CONVEXEC whose module "prog" imports Sys and Exceptions
// and defines main with the given body.
func program(t *testing.T, body func(b *bytecode.Builder)) []byte {
	t.Helper()
	b := bytecode.NewBuilder()
	b.EmitName(bytecode.OpString, "main")
	b.EmitInt(0)
	b.EmitInt(0)
	b.EmitFuncDefn(false, 16)
	end := b.NewLabel()
	b.EmitJump(bytecode.OpBranch, end)
	body(b)
	b.Mark(end)
	b.EmitVar(bytecode.OpVarAssign, 0, 0)
	b.Emit(bytecode.OpPop)
	b.EmitOperand(bytecode.OpBuiltinLookup, vm.BuiltinNull)
	b.Emit(bytecode.OpReturn)

	w := &bytecode.ModuleWriter{
		Name:     "prog",
		ID:       "prog",
		SrcPath:  "prog.cv",
		Imports:  []string{"Sys", "Exceptions"},
		TopLevel: []string{"main"},
		Newlines: []int{0},
		Code:     b,
	}
	rec, err := w.Bytes()
	if err != nil {
		t.Fatalf("ModuleWriter.Bytes: %v", err)
	}
	return bytecode.WriteExecutable(rec)
}

// sysCall emits Sys::name(args...) and leaves the result on the stack.
func sysCall(b *bytecode.Builder, name string, args ...func(b *bytecode.Builder)) {
	b.EmitOperand(bytecode.OpImport, 0)
	b.EmitName(bytecode.OpModuleLookup, name)
	for _, a := range args {
		a(b)
	}
	b.EmitOperand(bytecode.OpApply, len(args))
}

func str(s string) func(b *bytecode.Builder) {
	return func(b *bytecode.Builder) { b.EmitName(bytecode.OpString, s) }
}

func integer(i int64) func(b *bytecode.Builder) {
	return func(b *bytecode.Builder) { b.EmitInt(i) }
}

// ---------------------------------------------------------------------------
// Server helpers
// ---------------------------------------------------------------------------

// startTestServer serves a ConvergeServer from httptest and returns a client.
func startTestServer(t *testing.T, opts ...ServerOption) *connect.Client[wrapperspb.BytesValue, structpb.Struct] {
	t.Helper()
	s := New(vm.New, opts...)
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		hs.Close()
		s.Stop()
	})
	return NewExecutionClient(hs.Client(), hs.URL)
}

func connectReq[T any](msg *T) *connect.Request[T] {
	return connect.NewRequest(msg)
}

func bg() context.Context {
	return context.Background()
}
