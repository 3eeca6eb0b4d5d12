// Package server exposes a workflow runtime over HTTP.
//
// Routes:
//
//	POST /start-workflow/{name}   start an instance, body is the input JSON
//	GET  /status/{id}             stored instance state
//	GET  /history/{id}            activity records of an instance
//	POST /terminate/{id}          stop a running instance
//	GET  /events/{id}             websocket stream of lifecycle events
//	GET  /workflows               registered workflow names
//	GET  /instances               stored instances, ?status= filters
//	GET  /metrics                 Prometheus exposition
//	GET  /healthz                 liveness
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/richinex/agentpatterns/model"
	"github.com/richinex/agentpatterns/workflow"
)

// maxBodySize caps workflow input bodies.
const maxBodySize = 1 << 20

// Server routes HTTP requests to a workflow runtime.
type Server struct {
	rt      *workflow.Runtime
	metrics http.Handler
	log     *slog.Logger
	mux     *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// New creates a server for rt.
func New(rt *workflow.Runtime, opts ...Option) *Server {
	s := &Server{rt: rt, log: slog.Default(), mux: http.NewServeMux()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "server")
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /start-workflow/{name}", s.handleStart)
	s.mux.HandleFunc("GET /status/{id}", s.handleStatus)
	s.mux.HandleFunc("GET /history/{id}", s.handleHistory)
	s.mux.HandleFunc("POST /terminate/{id}", s.handleTerminate)
	s.mux.HandleFunc("GET /events/{id}", s.handleEvents)
	s.mux.HandleFunc("GET /workflows", s.handleWorkflows)
	s.mux.HandleFunc("GET /instances", s.handleInstances)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

// Handler returns the request handler with access logging.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.mux.ServeHTTP(w, r)
		s.log.DebugContext(r.Context(), "request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. Open event streams
// are closed when ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.InfoContext(ctx, "listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("server stopped")
	return nil
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	var input json.RawMessage
	if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
		if !json.Valid([]byte(trimmed)) {
			writeError(w, http.StatusBadRequest, "body must be JSON")
			return
		}
		input = json.RawMessage(trimmed)
	}

	name := r.PathValue("name")
	id, err := s.rt.Start(r.Context(), name, input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.InfoContext(r.Context(), "workflow scheduled", "workflow", name, "instance", id)
	writeJSON(w, http.StatusAccepted, map[string]string{"instance_id": id})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	inst, err := s.rt.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.rt.Status(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	history, err := s.rt.History(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if history == nil {
		history = []model.ActivityRecord{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "body must be JSON")
			return
		}
	}

	id := r.PathValue("id")
	if err := s.rt.Terminate(r.Context(), id, req.Reason); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"instance_id": id, "status": string(model.WorkflowTerminated)})
}

func (s *Server) handleWorkflows(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"workflows": s.rt.Workflows()})
}

func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	status := model.WorkflowStatus(strings.ToUpper(r.URL.Query().Get("status")))
	list, err := s.rt.Instances(r.Context(), status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []model.WorkflowInstance{}
	}
	writeJSON(w, http.StatusOK, list)
}

// fail maps runtime errors to status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, workflow.ErrNotFound), errors.Is(err, workflow.ErrUnknownWorkflow):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, workflow.ErrNotRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
