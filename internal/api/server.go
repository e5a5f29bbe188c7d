// Package api exposes the scan service over HTTP. The scan endpoint streams
// progress envelopes as server-sent events; everything else is plain JSON.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/xploytlabs/xployt/internal/pipeline"
	"github.com/xploytlabs/xployt/internal/storage/sqlite"
)

// Server routes scan requests to the orchestrator.
type Server struct {
	orch   *pipeline.Orchestrator
	store  *sqlite.Store
	router *chi.Mux
}

// NewServer wires the HTTP routes. store may be nil when run history is
// disabled.
func NewServer(orch *pipeline.Orchestrator, store *sqlite.Store) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	s := &Server{orch: orch, store: store, router: r}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/scans", s.handleStartScan)
		r.Post("/scans/stage", s.handleRunStage)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}/findings", s.handleRunFindings)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// scanRequest triggers a run: id distinguishes this scan's working area,
// path is the absolute target root.
type scanRequest struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// handleStartScan starts a run and streams its envelopes as SSE until the
// terminal envelope. A client that disconnects stops receiving events, but
// the run keeps executing; started stage work is never cancelled.
func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" || req.Path == "" {
		http.Error(w, "id and path are required", http.StatusBadRequest)
		return
	}

	run, stream, err := s.orch.Start(req.ID, req.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Run-ID", run.ID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			slog.Info("scan client disconnected, run continues", "run_id", run.ID)
			return
		case env, ok := <-stream.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(env)
			if err != nil {
				slog.Error("failed to marshal envelope", "error", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// stageRequest runs one registry stage synchronously, by position.
type stageRequest struct {
	ID    string `json:"id"`
	Path  string `json:"path"`
	Index int    `json:"index"`
}

// handleRunStage is the manual debugging entry point: it executes a single
// stage and returns whatever the stage logged.
func (s *Server) handleRunStage(w http.ResponseWriter, r *http.Request) {
	var req stageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" || req.Path == "" {
		http.Error(w, "id and path are required", http.StatusBadRequest)
		return
	}

	output, err := s.orch.ExecuteStage(r.Context(), req.Index, req.ID, req.Path)
	resp := map[string]any{"output": output}
	status := http.StatusOK
	if err != nil {
		resp["error"] = err.Error()
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "run history disabled", http.StatusNotFound)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRunFindings(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "run history disabled", http.StatusNotFound)
		return
	}
	list, err := s.store.ListFindings(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// ListenAndServe blocks serving HTTP on addr.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
