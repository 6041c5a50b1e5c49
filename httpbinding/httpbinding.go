// Package httpbinding is the recommended, informative HTTP transport for
// the kernel (§6): a thin chi router translating JSON request/response
// records to and from whatever Executor actually runs them. None of the
// kernel's invariants live here — this package only does wire marshaling,
// idempotency-key lookups, and status-code mapping.
package httpbinding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/erasmus-project/esrp/eventbus"
	"github.com/erasmus-project/esrp/fingerprint"
	"github.com/erasmus-project/esrp/protocol"
	"github.com/erasmus-project/esrp/validate"
)

// Logger is the structured logging seam for this package.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type stdLogger struct{}

func (stdLogger) Debug(msg string, kv ...any) { fmt.Printf("[DEBUG] %s %v\n", msg, kv) }
func (stdLogger) Info(msg string, kv ...any)  { fmt.Printf("[INFO] %s %v\n", msg, kv) }
func (stdLogger) Error(msg string, kv ...any) { fmt.Printf("[ERROR] %s %v\n", msg, kv) }

// Executor runs a validated Request to completion (sync) or admission
// (async) and returns the Response that would be written back to the
// caller. It is supplied by whatever process wires httpbinding to actual
// backend services — this package has no opinion on what a "service" is.
type Executor interface {
	Execute(ctx context.Context, req *protocol.Request) (*protocol.Response, error)
}

// JobLookup resolves a job ID to its current Job snapshot, for
// GET /v1/jobs/{id}.
type JobLookup interface {
	Job(jobID string) (protocol.Job, bool)
}

// Server wires an Executor, an idempotency Cache, a JobLookup, and an
// event Bus into the chi router described by §6.
type Server struct {
	Executor Executor
	Cache    fingerprint.Cache
	Jobs     JobLookup
	Bus      *eventbus.Bus
	Logger   Logger
}

// New constructs a Server, defaulting Logger to the standard logger when
// nil.
func New(executor Executor, cache fingerprint.Cache, jobs JobLookup, bus *eventbus.Bus, logger Logger) *Server {
	if logger == nil {
		logger = stdLogger{}
	}
	return &Server{Executor: executor, Cache: cache, Jobs: jobs, Bus: bus, Logger: logger}
}

// Router builds the chi.Router exposing the four §6 endpoints.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logging)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/execute", s.handleExecute)
		r.Post("/jobs", s.handleJobsCreate)
		r.Get("/jobs/{id}", s.handleJobsGet)
		r.Get("/jobs/{id}/events", s.handleJobsEvents)
	})
	return r
}

// logging is the request-scoped logging middleware, mirroring the
// start/duration/result shape used elsewhere in this codebase for
// cross-cutting observability.
func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.Logger.Debug("http_request_started", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
		s.Logger.Debug("http_request_completed", "method", r.Method, "path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

// handleExecute implements POST /v1/execute: validate, dedup via
// idempotency key, run, cache, respond.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req protocol.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProtocolError(w, protocol.NewError(protocol.ErrInvalidInputSchema, "malformed JSON body").WithCause(err))
		return
	}
	if err := validate.Request(&req); err != nil {
		writeProtocolError(w, asProtocolError(err))
		return
	}

	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		computed, err := fingerprint.ComputeForRequest(&req)
		if err != nil {
			writeProtocolError(w, asProtocolError(err))
			return
		}
		idempotencyKey = computed
	}

	ctx := r.Context()
	if s.Cache != nil {
		if cached, hit, err := s.Cache.Get(ctx, idempotencyKey); err == nil && hit {
			writeResponse(w, cached)
			return
		}
	}

	resp, err := s.Executor.Execute(ctx, &req)
	if err != nil {
		writeProtocolError(w, asProtocolError(err))
		return
	}
	if err := validate.Response(resp); err != nil {
		writeProtocolError(w, asProtocolError(err))
		return
	}

	if s.Cache != nil {
		ttl := time.Duration(req.EffectiveMode().TimeoutMS) * time.Millisecond
		_ = s.Cache.Put(ctx, idempotencyKey, resp, ttl)
	}
	writeResponse(w, resp)
}

// handleJobsCreate implements POST /v1/jobs: the async enqueue path.
// Requests submitted here are forced into async mode regardless of what
// the caller's Mode said, since the endpoint's entire contract is
// "accepted now, poll or stream later."
func (s *Server) handleJobsCreate(w http.ResponseWriter, r *http.Request) {
	var req protocol.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProtocolError(w, protocol.NewError(protocol.ErrInvalidInputSchema, "malformed JSON body").WithCause(err))
		return
	}
	asyncMode := protocol.Mode{Type: protocol.ModeAsync, TimeoutMS: req.EffectiveMode().TimeoutMS}
	req.Mode = &asyncMode

	if err := validate.Request(&req); err != nil {
		writeProtocolError(w, asProtocolError(err))
		return
	}

	resp, err := s.Executor.Execute(r.Context(), &req)
	if err != nil {
		writeProtocolError(w, asProtocolError(err))
		return
	}
	writeResponse(w, resp)
}

// handleJobsGet implements GET /v1/jobs/{id}.
func (s *Server) handleJobsGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.Jobs.Job(id)
	if !ok {
		writeProtocolError(w, protocol.NewFieldError(protocol.ErrUnknown, "id", "no such job"))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleJobsEvents implements GET /v1/jobs/{id}/events: a server-sent
// event stream of the job's lifecycle events, ending when a terminal
// event is delivered or the client disconnects.
func (s *Server) handleJobsEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProtocolError(w, protocol.NewError(protocol.ErrUnknown, "streaming unsupported by this response writer"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	events := make(chan protocol.JobEvent, 16)
	unsubscribe := s.Bus.Subscribe(id, func(ctx context.Context, event protocol.JobEvent) error {
		select {
		case events <- event:
		default:
		}
		return nil
	})
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			if event.EventType.IsTerminal() {
				return
			}
		}
	}
}

// StatusFor maps a protocol.Error carried in a failed Response to the §6
// HTTP status table.
func StatusFor(resp *protocol.Response) int {
	if resp == nil {
		return http.StatusInternalServerError
	}
	switch resp.Status {
	case protocol.StatusSucceeded:
		return http.StatusOK
	case protocol.StatusAccepted:
		return http.StatusAccepted
	case protocol.StatusFailed:
		if resp.Error == nil {
			return http.StatusInternalServerError
		}
		switch resp.Error.Kind {
		case protocol.ErrInvalidInputSchema, protocol.ErrInvalidInputSemantic, protocol.ErrInvalidInputSize:
			return http.StatusBadRequest
		case protocol.ErrTimeout:
			return http.StatusRequestTimeout
		case protocol.ErrBackendUnavailable:
			return http.StatusBadGateway
		case protocol.ErrOOM:
			return http.StatusInsufficientStorage
		default:
			return http.StatusInternalServerError
		}
	default:
		return http.StatusInternalServerError
	}
}

func writeResponse(w http.ResponseWriter, resp *protocol.Response) {
	writeJSON(w, StatusFor(resp), resp)
}

func writeProtocolError(w http.ResponseWriter, err *protocol.Error) {
	resp := &protocol.Response{
		ESRPVersion: protocol.KernelVersion(),
		Status:      protocol.StatusFailed,
		Error:       err,
	}
	writeJSON(w, StatusFor(resp), resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// asProtocolError normalizes any error into *protocol.Error, wrapping
// non-kernel errors as UNKNOWN rather than leaking internal error types
// across the wire boundary.
func asProtocolError(err error) *protocol.Error {
	if kernelErr, ok := err.(*protocol.Error); ok {
		return kernelErr
	}
	return protocol.NewError(protocol.ErrUnknown, err.Error())
}
