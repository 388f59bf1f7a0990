// Package web provides the HTTP server for the swarm monitor: a JSON API
// over the ticket store and the container runtime, plus the dashboard's
// static assets.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/arctek/swarm/internal/db"
	"github.com/arctek/swarm/internal/docker"
	"github.com/arctek/swarm/internal/queue"
	"github.com/arctek/swarm/ticket"
)

// Runtime is the container runtime surface the server needs. Implemented
// by internal/docker; stubbed in tests.
type Runtime interface {
	ListAgents(ctx context.Context) ([]docker.Agent, error)
	Stats(ctx context.Context, id string) (*docker.Stats, error)
	Logs(ctx context.Context, id string, tail int) (string, error)
}

// Server is the swarm monitor web server. It holds no database handle:
// each request opens the store, so agents writing through the CLI and the
// dashboard never share a connection, and a database that appears after
// startup is picked up without a restart.
type Server struct {
	dbPath    string
	runtime   Runtime
	staticDir string
	logger    *slog.Logger
	server    *http.Server
}

// NewServer creates a monitor server. runtime may be nil when no container
// runtime is reachable; agent endpoints then degrade.
func NewServer(dbPath string, runtime Runtime, staticDir string, logger *slog.Logger) *Server {
	return &Server{
		dbPath:    dbPath,
		runtime:   runtime,
		staticDir: staticDir,
		logger:    logger,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/tickets", s.apiListTickets)
	mux.HandleFunc("GET /api/tickets/{id}", s.apiGetTicket)
	mux.HandleFunc("POST /api/tickets", s.apiCreateTicket)
	mux.HandleFunc("POST /api/tickets/{id}/comment", s.apiAddComment)
	mux.HandleFunc("POST /api/tickets/{id}/complete", s.apiCompleteTicket)
	mux.HandleFunc("POST /api/tickets/{id}/update", s.apiUpdateTicket)
	mux.HandleFunc("GET /api/activity", s.apiActivity)
	mux.HandleFunc("GET /api/agents", s.apiAgents)
	mux.HandleFunc("GET /api/agents/{name}/logs", s.apiAgentLogs)
	mux.HandleFunc("GET /api/stats", s.apiStats)

	mux.HandleFunc("GET /", s.handleStatic)

	return s.withLogging(withCORS(mux))
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting monitor server", "addr", addr, "db", s.dbPath)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// openQueue opens the store for one request. The version gate applies
// here too: a missing or mismatched schema fails the request rather than
// being papered over.
func (s *Server) openQueue() (*db.DB, *queue.Coordinator, error) {
	d, err := db.Open(s.dbPath)
	if err != nil {
		return nil, nil, err
	}
	return d, queue.New(d), nil
}

// withCORS answers preflight requests and marks every response permissive.
// The dashboard is served from the same origin; the open policy is for
// local tooling poking at the API.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withLogging wraps a handler with request logging. Each request gets a
// short id so concurrent request logs interleave legibly.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := uuid.New().String()[:8]
		next.ServeHTTP(w, r)
		s.logger.Debug("HTTP request",
			"id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

// jsonResponse writes data as JSON.
func (s *Server) jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

// jsonError writes a JSON error response.
func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// domainError maps a coordinator error to a status code and writes it.
func (s *Server) domainError(w http.ResponseWriter, err error) {
	var schemaErr *ticket.SchemaError
	switch {
	case errors.Is(err, ticket.ErrValidation):
		s.jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ticket.ErrNotFound):
		s.jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ticket.ErrUnavailable):
		s.jsonError(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, ticket.ErrConflict):
		s.jsonError(w, err.Error(), http.StatusConflict)
	case errors.As(err, &schemaErr):
		s.jsonError(w, schemaErr.Error(), http.StatusInternalServerError)
	default:
		s.logger.Error("Request failed", "error", err)
		s.jsonError(w, "Database error", http.StatusInternalServerError)
	}
}
