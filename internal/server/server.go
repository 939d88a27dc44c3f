// Package server provides the bedrockcall HTTP API server.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jxucoder/bedrockcall/internal/engine"
	"github.com/jxucoder/bedrockcall/pkg/bedrock"
	"github.com/jxucoder/bedrockcall/pkg/eventbus"
	"github.com/jxucoder/bedrockcall/pkg/model"
	"github.com/jxucoder/bedrockcall/pkg/store"
)

const defaultListLimit = 50

// Server is the bedrockcall HTTP API server.
type Server struct {
	engine *engine.Engine
	router chi.Router
}

// New creates a Server around an engine. The engine must have a store.
func New(eng *engine.Engine) *Server {
	s := &Server{engine: eng}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves on addr until ctx is canceled. It returns once in-flight
// requests have drained or the shutdown timeout passes.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
		case <-stop:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("bedrockcall server listening on %s", addr)
	err := srv.ListenAndServe()
	close(stop)
	<-stopped
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/invocations", s.handleCreateInvocation)
		r.Get("/invocations", s.handleListInvocations)
		r.Get("/invocations/{id}", s.handleGetInvocation)
		r.Get("/invocations/{id}/events", s.handleInvocationEvents)
		r.Get("/events", s.handleAllEvents)
	})

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}

// --- Request/Response types ---

type createInvocationRequest struct {
	Prompt string `json:"prompt"`
	Async  bool   `json:"async,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- Handlers ---

func (s *Server) handleCreateInvocation(w http.ResponseWriter, r *http.Request) {
	var req createInvocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	if req.Async {
		inv, err := s.engine.Submit("api", req.Prompt)
		if err != nil {
			log.Printf("Error submitting invocation: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to create invocation")
			return
		}
		writeJSON(w, http.StatusAccepted, inv)
		return
	}

	inv, err := s.engine.Run(r.Context(), "api", req.Prompt)
	if errors.Is(err, engine.ErrRecord) {
		log.Printf("Error creating invocation: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create invocation")
		return
	}
	if err != nil {
		log.Printf("Invocation %s failed: %v", inv.ID, err)
		writeJSON(w, statusFor(err), inv)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (s *Server) handleListInvocations(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	invs, err := s.engine.Store().ListInvocations(r.Context(), limit)
	if err != nil {
		log.Printf("Error listing invocations: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list invocations")
		return
	}
	if invs == nil {
		invs = []*model.Invocation{}
	}
	writeJSON(w, http.StatusOK, invs)
}

func (s *Server) handleGetInvocation(w http.ResponseWriter, r *http.Request) {
	inv, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleInvocationEvents(w http.ResponseWriter, r *http.Request) {
	inv, ok := s.lookup(w, r)
	if !ok {
		return
	}

	flusher, ok := startSSE(w)
	if !ok {
		return
	}

	// Subscribe before replaying so nothing falls between the two.
	bus := s.engine.Bus()
	var ch chan *model.Event
	if bus != nil {
		ch = bus.Subscribe(inv.ID)
		defer bus.Unsubscribe(inv.ID, ch)
	}

	// Send historical events first.
	events, _ := s.engine.Store().GetEvents(r.Context(), inv.ID, 0)
	var lastID int64
	for _, e := range events {
		writeSSE(w, e)
		lastID = e.ID
		if e.Type == model.EventDone {
			flusher.Flush()
			return
		}
	}
	flusher.Flush()

	if ch == nil {
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if event.ID != 0 && event.ID <= lastID {
				continue
			}
			writeSSE(w, event)
			flusher.Flush()
			if event.Type == model.EventDone {
				return
			}
		}
	}
}

func (s *Server) handleAllEvents(w http.ResponseWriter, r *http.Request) {
	bus := s.engine.Bus()
	if bus == nil {
		writeError(w, http.StatusNotImplemented, "live events are disabled")
		return
	}

	flusher, ok := startSSE(w)
	if !ok {
		return
	}
	flusher.Flush()

	ch := bus.Subscribe(eventbus.All)
	defer bus.Unsubscribe(eventbus.All, ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, event)
			flusher.Flush()
		}
	}
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*model.Invocation, bool) {
	id := chi.URLParam(r, "id")
	inv, err := s.engine.Store().GetInvocation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "invocation not found")
		return nil, false
	}
	if err != nil {
		log.Printf("Error loading invocation %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to load invocation")
		return nil, false
	}
	return inv, true
}

// statusFor maps an invocation error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, bedrock.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// --- Helpers ---

func startSSE(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return flusher, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeSSE(w http.ResponseWriter, event *model.Event) {
	data, _ := json.Marshal(event)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
}
