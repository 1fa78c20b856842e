// Package server exposes the orchestrator over HTTP/JSON.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/zen-systems/agentgate/pkg/apperr"
	"github.com/zen-systems/agentgate/pkg/schema"
)

const maxBodyBytes = 16 << 20

// Service is the set of boundary operations the server exposes.
type Service interface {
	Dispatch(ctx context.Context, req schema.DispatchRequest) (schema.DispatchResponse, error)
	SubmitBatch(ctx context.Context, req schema.BatchSubmitRequest) (schema.BatchSubmitResponse, error)
	BatchStatus(ctx context.Context, id string) (schema.BatchStatusResponse, error)
	BatchResults(ctx context.Context, id string) (schema.BatchResultsResponse, error)
	CancelBatch(ctx context.Context, id string) (schema.BatchStatusResponse, error)
	StartSession(req schema.SessionStartRequest) (schema.SessionResponse, error)
	EndSession(req schema.SessionEndRequest) (schema.SessionEndResponse, error)
	Status() schema.StatusSnapshot
	Cleanup(ctx context.Context, req schema.CleanupRequest) (schema.CleanupResponse, error)
	AddKnowledge(req schema.KnowledgeAddRequest) (schema.KnowledgeAddResponse, error)
}

// Server routes HTTP requests to a Service.
type Server struct {
	svc     Service
	mux     *http.ServeMux
	limiter *rate.Limiter
	logger  *slog.Logger
	server  *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithRateLimit allows rps requests per second with the given burst.
// rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a server for svc.
func New(svc Service, opts ...Option) *Server {
	s := &Server{
		svc:    svc,
		mux:    http.NewServeMux(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /v1/dispatch", s.handleDispatch)
	s.mux.HandleFunc("POST /v1/batches", s.handleSubmitBatch)
	s.mux.HandleFunc("GET /v1/batches/{id}", s.handleBatchStatus)
	s.mux.HandleFunc("GET /v1/batches/{id}/results", s.handleBatchResults)
	s.mux.HandleFunc("DELETE /v1/batches/{id}", s.handleCancelBatch)
	s.mux.HandleFunc("POST /v1/sessions", s.handleStartSession)
	s.mux.HandleFunc("POST /v1/sessions/{id}/end", s.handleEndSession)
	s.mux.HandleFunc("GET /v1/status", s.handleStatus)
	s.mux.HandleFunc("POST /v1/cleanup", s.handleCleanup)
	s.mux.HandleFunc("POST /v1/knowledge", s.handleAddKnowledge)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return Chain(
		Recovery(s.logger),
		Logging(s.logger),
		RateLimit(s.limiter),
	)(s.mux)
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		s.logger.Info("shutting down")
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req schema.DispatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.svc.Dispatch(r.Context(), req)
	s.respond(w, resp, err)
}

func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req schema.BatchSubmitRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.svc.SubmitBatch(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.svc.BatchStatus(r.Context(), r.PathValue("id"))
	s.respond(w, resp, err)
}

func (s *Server) handleBatchResults(w http.ResponseWriter, r *http.Request) {
	resp, err := s.svc.BatchResults(r.Context(), r.PathValue("id"))
	s.respond(w, resp, err)
}

func (s *Server) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	resp, err := s.svc.CancelBatch(r.Context(), r.PathValue("id"))
	s.respond(w, resp, err)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req schema.SessionStartRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	resp, err := s.svc.StartSession(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	resp, err := s.svc.EndSession(schema.SessionEndRequest{SessionID: r.PathValue("id")})
	s.respond(w, resp, err)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req schema.CleanupRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	resp, err := s.svc.Cleanup(r.Context(), req)
	s.respond(w, resp, err)
}

func (s *Server) handleAddKnowledge(w http.ResponseWriter, r *http.Request) {
	var req schema.KnowledgeAddRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.svc.AddKnowledge(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		s.writeError(w, apperr.InvalidArgument(fmt.Sprintf("invalid request body: %v", err)))
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, body any, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	e := apperr.Wrap(err, "internal error")
	code := e.Code
	status := StatusFor(code)
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	if status >= 500 {
		s.logger.Warn("request failed", "kind", code, "error", err)
	}
	writeJSON(w, status, schema.ErrorBody{Kind: string(code), Message: msg})
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeInvalidArgument:
		return http.StatusBadRequest
	case apperr.CodeAmbiguousRequest:
		return http.StatusUnprocessableEntity
	case apperr.CodeJobNotFound:
		return http.StatusNotFound
	case apperr.CodeResultNotReady:
		return http.StatusConflict
	case apperr.CodeNoWorkerAvailable:
		return http.StatusServiceUnavailable
	case apperr.CodeTimeout:
		return http.StatusGatewayTimeout
	case apperr.CodeWorkerError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Warn("http json encode failed", "error", err)
	}
}
