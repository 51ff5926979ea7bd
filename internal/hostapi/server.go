// Package hostapi exposes a session to an editor over newline-delimited JSON.
//
// The editor writes one request per line:
//
//	{"id": 1, "method": "toggle", "params": {"path": "src/foo.cc"}}
//
// and receives one response per request, in completion order:
//
//	{"id": 1, "ok": true, "result": {...}}
//	{"id": 1, "ok": false, "error": {"code": "busy", "message": "..."}}
//
// Surface updates arrive as events interleaved with responses:
//
//	{"event": "output", "data": {"surface": "...", "generation": 3, "text": "..."}}
package hostapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/remotecpp-dev/remotecpp/internal/fileutil"
	"github.com/remotecpp-dev/remotecpp/internal/logging"
	"github.com/remotecpp-dev/remotecpp/internal/surface"
	"go.uber.org/zap"
)

// maxRequestSize bounds a single request line.
const maxRequestSize = 1024 * 1024

const (
	EventSurfaceReset = "surface_reset"
	EventOutput       = "output"
	EventNavigation   = "navigation"
	EventTerminal     = "terminal"
)

// HandlerFunc serves one method. params is the raw "params" value, which
// may be empty.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

type Request struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	ID     json.RawMessage `json:"id"`
	OK     bool            `json:"ok"`
	Result any             `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Server reads requests, runs each on its own goroutine and writes
// responses and surface events to a single output stream. It implements
// surface.Host.
type Server struct {
	out      *fileutil.LineWriter
	logger   *zap.Logger
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	active   sync.WaitGroup
}

func NewServer(w io.Writer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		out:      fileutil.NewLineWriter(w),
		logger:   logger.Named("hostapi"),
		handlers: make(map[string]HandlerFunc),
	}
}

// Handle registers a method. Registering a method twice panics.
func (s *Server) Handle(method string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.handlers[method]; exists {
		panic(fmt.Sprintf("hostapi: duplicate handler for method %q", method))
	}
	s.handlers[method] = handler
}

func (s *Server) handler(method string) (HandlerFunc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	handler, ok := s.handlers[method]
	return handler, ok
}

// Serve reads requests from r until it is exhausted or ctx ends, then waits
// for running handlers to respond.
func (s *Server) Serve(ctx context.Context, r io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxRequestSize)
		defer func() {
			readErr <- scanner.Err()
			close(lines)
		}()
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	var err error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				err = <-readErr
				break loop
			}
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			s.dispatch(ctx, line)
		}
	}

	s.active.Wait()
	if err != nil {
		return fmt.Errorf("failed to read requests: %w", err)
	}
	return nil
}

func (s *Server) dispatch(ctx context.Context, line []byte) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.respond(Response{ID: json.RawMessage("null"), Error: &Error{Code: CodeInvalidRequest, Message: "malformed request: " + err.Error()}})
		return
	}
	id := req.ID
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	handler, ok := s.handler(req.Method)
	if !ok {
		s.respond(Response{ID: id, Error: &Error{Code: CodeInvalidRequest, Message: fmt.Sprintf("unknown method %q", req.Method)}})
		return
	}

	s.active.Add(1)
	go func() {
		defer s.active.Done()
		reqCtx := logging.WithRequest(ctx, string(id), req.Method)
		logger := logging.WithContext(reqCtx)
		result, err := s.call(reqCtx, handler, req.Params)
		if err != nil {
			code := Classify(err)
			logger.Debug("request failed", zap.String("code", code), zap.Error(err))
			s.respond(Response{ID: id, Error: &Error{Code: code, Message: err.Error()}})
			return
		}
		s.respond(Response{ID: id, OK: true, Result: result})
	}()
}

// call runs handler, turning a panic into an internal error so one bad
// request cannot take the editor backend down.
func (s *Server) call(ctx context.Context, handler HandlerFunc, params json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic", zap.Any("panic", r))
			result, err = nil, fmt.Errorf("internal error: %v", r)
		}
	}()
	return handler(ctx, params)
}

func (s *Server) respond(resp Response) {
	if err := s.out.Write(resp); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) emit(name string, data any) {
	if err := s.out.Write(Event{Event: name, Data: data}); err != nil {
		s.logger.Warn("failed to write event", zap.String("event", name), zap.Error(err))
	}
}

func (s *Server) OnSurfaceReset(r surface.Reset) {
	s.emit(EventSurfaceReset, r)
}

func (s *Server) OnOutputChunk(o surface.Output) {
	s.emit(EventOutput, o)
}

func (s *Server) OnNavigationEntries(n surface.Navigation) {
	s.emit(EventNavigation, n)
}

type terminalEvent struct {
	surface.Terminal
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) OnJobTerminal(t surface.Terminal) {
	event := terminalEvent{Terminal: t, Status: t.Status.String()}
	if t.Err != nil {
		event.Error = t.Err.Error()
	}
	s.emit(EventTerminal, event)
}

// decodeParams unmarshals params into v. Empty params leave v unchanged.
func decodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return &InvalidRequestError{Reason: "bad params: " + err.Error()}
	}
	return nil
}

// InvalidRequestError reports a request the server cannot act on.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return "invalid request: " + e.Reason
}

func invalid(format string, args ...any) error {
	return &InvalidRequestError{Reason: fmt.Sprintf(format, args...)}
}
