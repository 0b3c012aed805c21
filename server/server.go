// Package server exposes the VM over Connect (HTTP/JSON and gRPC).
package server

import (
	"net/http"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

var log = commonlog.GetLogger("converge.server")

// DefaultMaxImageBytes bounds the size of a submitted program.
const DefaultMaxImageBytes = 16 << 20

// ConvergeServer serves the execution service.
type ConvergeServer struct {
	worker *VMWorker
	mux    *http.ServeMux
}

// ServerOption configures a ConvergeServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	maxBytes int
	argv     []string
}

// WithMaxImageBytes sets the largest accepted program. Zero disables the limit.
func WithMaxImageBytes(n int) ServerOption {
	return func(c *serverConfig) { c.maxBytes = n }
}

// WithArgv sets Sys::argv for every program run.
func WithArgv(argv []string) ServerOption {
	return func(c *serverConfig) { c.argv = append([]string(nil), argv...) }
}

// New creates a ConvergeServer that runs each program in a VM built by newVM.
func New(newVM VMFactory, opts ...ServerOption) *ConvergeServer {
	cfg := &serverConfig{maxBytes: DefaultMaxImageBytes}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &ConvergeServer{
		worker: NewVMWorker(newVM),
		mux:    http.NewServeMux(),
	}

	execSvc := NewExecutionService(s.worker, cfg.maxBytes, cfg.argv)
	s.mux.Handle(RunProcedure, connect.NewUnaryHandler(RunProcedure, execSvc.Run))

	return s
}

// Handler returns the server's HTTP handler.
func (s *ConvergeServer) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *ConvergeServer) ListenAndServe(addr string) error {
	log.Noticef("execution server listening on %s", addr)
	log.Infof("  Connect (HTTP/JSON): http://%s%s", addr, RunProcedure)
	return http.ListenAndServe(addr, s.mux)
}

// Stop shuts down the server's worker.
func (s *ConvergeServer) Stop() {
	s.worker.Stop()
}

// NewExecutionClient returns a Connect client for the Run procedure at
// baseURL (for example "http://localhost:4567").
func NewExecutionClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *connect.Client[wrapperspb.BytesValue, structpb.Struct] {
	return connect.NewClient[wrapperspb.BytesValue, structpb.Struct](httpClient, baseURL+RunProcedure, opts...)
}
