package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"

	"github.com/synapselabs/partnermatch/core"
)

// Server serves the feature store over line-delimited JSON-RPC. It can run
// on any reader/writer pair (stdio for pipelines) or listen on TCP for
// long-lived ingestion connections.
type Server struct {
	store    core.FeatureStore
	health   *core.HealthReporter
	handlers map[string]Handler
	logger   *log.Logger

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// NewServer creates a new RPC server
func NewServer(store core.FeatureStore, health *core.HealthReporter) *Server {
	logger := log.New(os.Stderr, "[RPC] ", log.LstdFlags)

	s := &Server{
		store:    store,
		health:   health,
		handlers: make(map[string]Handler),
		logger:   logger,
	}

	s.registerHandlers()

	return s
}

// registerHandlers registers all method handlers
func (s *Server) registerHandlers() {
	s.handlers["create_feature_view"] = s.handleCreateFeatureView
	s.handlers["write_features"] = s.handleWriteFeatures
	s.handlers["get_online_features"] = s.handleGetOnlineFeatures
	s.handlers["get_historical_features"] = s.handleGetHistoricalFeatures
	s.handlers["get_feature_stats"] = s.handleGetFeatureStats
	s.handlers["list_companies"] = s.handleListCompanies
	s.handlers["health_check"] = s.handleHealthCheck
}

// Serve processes requests from r and writes responses to w, one JSON
// object per line, until EOF or context cancellation.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	reader := bufio.NewReader(r)
	encoder := json.NewEncoder(w)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read error: %w", err)
		}
		if len(line) <= 1 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			resp := Response{
				JSONRPC: JSONRPCVersion,
				Error: &Error{
					Code:    ErrorCodeParse,
					Message: "Parse error",
					Data:    err.Error(),
				},
				ID: nil,
			}
			if err := encoder.Encode(resp); err != nil {
				s.logger.Printf("failed to send parse error response: %v", err)
			}
			continue
		}

		resp := s.handleRequest(ctx, &req)
		if err := encoder.Encode(resp); err != nil {
			s.logger.Printf("failed to send response: %v", err)
		}
	}
}

// ListenAndServe accepts TCP connections on addr and serves each one until
// the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	s.logger.Printf("RPC server listening on %s", addr)

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept error: %w", err)
		}

		go func(c net.Conn) {
			defer c.Close()
			if err := s.Serve(ctx, c, c); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Printf("connection %s: %v", c.RemoteAddr(), err)
			}
		}(conn)
	}
}

// Close stops the TCP listener.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// handleRequest dispatches a single JSON-RPC request
func (s *Server) handleRequest(ctx context.Context, req *Request) Response {
	resp := Response{
		JSONRPC: JSONRPCVersion,
		ID:      req.ID,
	}

	if req.JSONRPC != JSONRPCVersion {
		resp.Error = &Error{
			Code:    ErrorCodeInvalidRequest,
			Message: "Invalid request",
			Data:    "Unsupported JSON-RPC version",
		}
		return resp
	}

	handler, ok := s.handlers[req.Method]
	if !ok {
		resp.Error = &Error{
			Code:    ErrorCodeMethodNotFound,
			Message: fmt.Sprintf("Method not found: %s", req.Method),
		}
		return resp
	}

	result, err := handler(ctx, req.Params)
	if err != nil {
		resp.Error = domainError(err)
		return resp
	}

	resp.Result = result
	return resp
}

// domainError maps a classified domain error onto a JSON-RPC error. The
// error kind rides along in Data so callers can branch without parsing
// messages.
func domainError(err error) *Error {
	code := ErrorCodeInternal
	switch core.Classify(err) {
	case core.KindClient, core.KindNotFound, core.KindConflict:
		code = ErrorCodeInvalidParams
	}
	return &Error{
		Code:    code,
		Message: err.Error(),
		Data:    map[string]string{"kind": core.Classify(err).String()},
	}
}
