package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ltratt/converge/image"
	"github.com/ltratt/converge/vm"
)

// Procedure names served by the execution service.
const (
	ExecutionServiceName = "converge.v1.ExecutionService"
	RunProcedure         = "/" + ExecutionServiceName + "/Run"
)

// Result field names.
const (
	FieldExitCode = "exit_code"
	FieldStdout   = "stdout"
	FieldError    = "error"
	FieldImageID  = "image_id"
)

// ExecutionService runs programs submitted as images.
type ExecutionService struct {
	worker   *VMWorker
	maxBytes int
	argv     []string
}

// NewExecutionService creates an ExecutionService.
func NewExecutionService(worker *VMWorker, maxBytes int, argv []string) *ExecutionService {
	return &ExecutionService{worker: worker, maxBytes: maxBytes, argv: argv}
}

// Run executes the program in the request body, which is either an encoded
// image or a raw CONVEXEC executable. Program failures are reported in the
// result; only malformed requests produce Connect errors.
func (s *ExecutionService) Run(
	ctx context.Context,
	req *connect.Request[wrapperspb.BytesValue],
) (*connect.Response[structpb.Struct], error) {
	data := req.Msg.GetValue()
	if len(data) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("program is required"))
	}
	if s.maxBytes > 0 && len(data) > s.maxBytes {
		return nil, connect.NewError(connect.CodeResourceExhausted,
			fmt.Errorf("program is %d bytes, limit is %d", len(data), s.maxBytes))
	}

	img, err := decodeProgram(data)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	exe, err := img.Executable()
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	var stdout bytes.Buffer
	opts := []vm.Option{
		vm.WithStdout(&stdout),
		vm.WithStderr(&stdout),
		vm.WithArgv(s.argv),
		vm.WithProgramPath(img.Main),
	}
	result, err := s.worker.Do(ctx, opts, func(v *vm.VM) (any, error) {
		return run(v, exe)
	})
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return nil, connect.NewError(connect.CodeCanceled, err)
		case errors.Is(err, context.DeadlineExceeded):
			return nil, connect.NewError(connect.CodeDeadlineExceeded, err)
		}
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	r := result.(runResult)
	fields := map[string]any{
		FieldExitCode: r.code,
		FieldStdout:   stdout.String(),
		FieldImageID:  img.ID,
	}
	if r.errText != "" {
		fields[FieldError] = r.errText
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	log.Infof("ran image %s (main %s): exit %d", img.ID, img.Main, r.code)
	return connect.NewResponse(out), nil
}

// decodeProgram accepts an encoded image or a raw executable.
func decodeProgram(data []byte) (*image.Image, error) {
	if image.IsImage(data) {
		return image.Unmarshal(data)
	}
	return image.FromExecutable(data)
}

type runResult struct {
	code    int
	errText string
}

func run(v *vm.VM, exe []byte) (runResult, error) {
	mainID, err := v.AddExecutable(exe)
	if err != nil {
		return runResult{}, err
	}
	code, err := v.RunMain(mainID)
	if err == nil {
		return runResult{code: code}, nil
	}
	ex, ok := vm.AsRaise(err)
	if !ok {
		return runResult{code: code, errText: err.Error()}, nil
	}
	var bt bytes.Buffer
	if werr := v.WriteBacktrace(&bt, ex); werr != nil {
		return runResult{code: code, errText: err.Error()}, nil
	}
	return runResult{code: code, errText: bt.String()}, nil
}
