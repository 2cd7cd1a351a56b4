package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/me/godnc/internal/config"
	"github.com/me/godnc/internal/material"
	"github.com/me/godnc/internal/registry"
	"github.com/me/godnc/internal/scheduler"
	"github.com/me/godnc/internal/store"
)

// Conns manages machine protocol connections. The protocol manager
// implements it; tests substitute fakes.
type Conns interface {
	Connect(ctx context.Context, machineID string) error
	Disconnect(machineID string) error
	Connected(machineID string) bool
}

// Server is the godnc REST API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.ServerConfig
	startTime time.Time
	machines  *registry.MachineRegistry
	tasks     *registry.TaskRegistry
	scheduler scheduler.Scheduler
	conns     Conns            // optional; machine connect/disconnect endpoints
	engine    *material.Engine // optional; material check endpoint
	archive   store.Store      // optional; history endpoints
	metrics   http.Handler     // optional; Prometheus exposition
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithConns sets the connection manager used by /machines connect endpoints.
func WithConns(c Conns) Option {
	return func(s *Server) {
		s.conns = c
	}
}

// WithEngine sets the material engine used by /materials endpoints.
func WithEngine(e *material.Engine) Option {
	return func(s *Server) {
		s.engine = e
	}
}

// WithArchive sets the store backing the /history endpoints.
func WithArchive(st store.Store) Option {
	return func(s *Server) {
		s.archive = st
	}
}

// WithMetricsHandler mounts the given handler at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// New creates a new Server with all routes registered.
// sched may be nil if no scheduling is desired (e.g. in tests).
func New(cfg config.ServerConfig, machines *registry.MachineRegistry, tasks *registry.TaskRegistry, sched scheduler.Scheduler, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		config:    cfg,
		startTime: time.Now(),
		machines:  machines,
		tasks:     tasks,
		scheduler: sched,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health
		r.Get("/health", s.handleHealth)

		// Tasks
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Post("/pause", s.handlePauseTask)
				r.Post("/resume", s.handleResumeTask)
				r.Post("/cancel", s.handleCancelTask)
			})
		})

		// Machines
		r.Route("/machines", func(r chi.Router) {
			r.Get("/", s.handleListMachines)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetMachine)
				r.Post("/connect", s.handleConnectMachine)
				r.Post("/disconnect", s.handleDisconnectMachine)
			})
		})

		// Materials
		r.Post("/materials/check", s.handleCheckMaterial)

		// Scheduling
		r.Route("/scheduling", func(r chi.Router) {
			r.Get("/strategy", s.handleGetStrategy)
			r.Put("/strategy", s.handleSetStrategy)
			r.Post("/execute", s.handleExecuteCycle)
		})

		// History (archived tasks and dispatch log)
		r.Route("/history", func(r chi.Router) {
			r.Get("/tasks", s.handleListArchivedTasks)
			r.Get("/tasks/{id}", s.handleGetArchivedTask)
			r.Get("/dispatches", s.handleListDispatches)
		})

		// SSE endpoints for real-time updates
		r.Route("/sse", func(r chi.Router) {
			r.Get("/tasks/{id}", s.handleSSETask)
		})
	})
}
