package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/ltratt/converge/vm"
)

// ErrWorkerStopped is returned by Do once the worker has been stopped.
var ErrWorkerStopped = errors.New("worker stopped")

// VMFactory creates a fresh VM. vm.New satisfies it.
type VMFactory func(opts ...vm.Option) (*vm.VM, error)

// vmRequest represents a unit of work to be executed on the worker goroutine.
type vmRequest struct {
	fn   func() (any, error)
	done chan vmResult
}

// vmResult holds the return value from a VM operation.
type vmResult struct {
	value any
	err   error
}

// VMWorker runs programs one at a time on a dedicated goroutine, each in a
// fresh VM. All handlers go through the worker.
type VMWorker struct {
	newVM    VMFactory
	requests chan vmRequest
	quit     chan struct{}
}

// NewVMWorker creates a VMWorker and starts the processing goroutine.
func NewVMWorker(newVM VMFactory) *VMWorker {
	w := &VMWorker{
		newVM:    newVM,
		requests: make(chan vmRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes requests sequentially on a dedicated goroutine.
func (w *VMWorker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs fn, recovering from panics.
func (w *VMWorker) execute(fn func() (any, error)) (result vmResult) {
	defer func() {
		if r := recover(); r != nil {
			result = vmResult{err: fmt.Errorf("vm panic: %v", r)}
		}
	}()
	v, err := fn()
	return vmResult{value: v, err: err}
}

// Do creates a VM with opts and runs fn on it on the worker goroutine,
// blocking until it completes or ctx is done. A cancelled request that has
// already started still runs to completion; only its result is discarded.
// Once Stop is called, Do returns ErrWorkerStopped for any request still
// waiting, whether or not it was queued.
func (w *VMWorker) Do(ctx context.Context, opts []vm.Option, fn func(*vm.VM) (any, error)) (any, error) {
	req := vmRequest{
		fn: func() (any, error) {
			v, err := w.newVM(opts...)
			if err != nil {
				return nil, err
			}
			return fn(v)
		},
		done: make(chan vmResult, 1),
	}
	select {
	case w.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.quit:
		return nil, ErrWorkerStopped
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.quit:
		return nil, ErrWorkerStopped
	}
}

// Stop shuts down the worker goroutine.
func (w *VMWorker) Stop() {
	close(w.quit)
}
