// Package http exposes the sync engine as a JSON API with a websocket stream
// of state snapshots and notifications.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"spendsync/internal/core"
	"spendsync/internal/engine"
	"spendsync/internal/gateway"
	"spendsync/internal/log"
	"spendsync/internal/middleware/ratelimit"
	"spendsync/internal/middleware/security"
	"spendsync/internal/middleware/trace"
)

// Engine is the part of the sync engine the handlers drive.
type Engine interface {
	State() engine.State
	Watch() (<-chan engine.State, func())
	CreateExpense(ctx context.Context, req core.CreateRequest) (core.Expense, error)
	UpdateExpense(ctx context.Context, req core.UpdateRequest) (core.Expense, error)
	DeleteExpense(ctx context.Context, id core.ExpenseID) error
	Refresh(ctx context.Context) error
	ClearError()
	SetOnline(ctx context.Context, online bool)
	Queue() []engine.PendingMutation
	DeadLetters() []engine.DeadLetter
}

// ReportService freezes and exports expense reports.
type ReportService interface {
	Generate(ctx context.Context, userID string, expenses []core.Expense) (core.Report, error)
	Get(ctx context.Context, id string) (core.Report, error)
	Export(ctx context.Context, id string) (string, error)
}

// Config holds server configuration
type Config struct {
	Addr              string
	RateLimit         ratelimit.Config
	Headers           security.HeadersConfig
	TrustedProxies    []string
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	// StaleAfter is how old unsubscribed data may get before /api/state
	// flags it. Zero disables the flag.
	StaleAfter        time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Addr:              ":8081",
		RateLimit:         ratelimit.DefaultConfig(),
		Headers:           security.DefaultHeadersConfig(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		StaleAfter:        time.Minute,
	}
}

// Deps are the collaborators the server is built over.
type Deps struct {
	Engine  Engine
	Auth    gateway.Authenticator
	Reports ReportService
	Hub     *Hub
}

type Server struct {
	http.Server
	engine  Engine
	auth    gateway.Authenticator
	reports ReportService
	hub     *Hub

	staleAfter time.Duration

	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	logger   *log.Logger

	stopWatch    func()
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server. It starts forwarding engine state to the hub right away.
func NewServer(config Config, deps Deps) (*Server, error) {
	logger := log.ForComponent(log.ComponentHTTP)

	detector := security.NewDetector()
	for _, cidr := range config.TrustedProxies {
		if err := detector.AddTrustedProxy(cidr); err != nil {
			return nil, err
		}
	}

	hub := deps.Hub
	if hub == nil {
		hub = NewHub()
	}

	s := &Server{
		Server: http.Server{
			Addr:              config.Addr,
			ReadHeaderTimeout: config.ReadHeaderTimeout,
			IdleTimeout:       config.IdleTimeout,
		},
		engine:     deps.Engine,
		auth:       deps.Auth,
		reports:    deps.Reports,
		hub:        hub,
		staleAfter: config.StaleAfter,
		limiter:    ratelimit.NewLimiter(config.RateLimit),
		detector:   detector,
		tracer:     trace.NewMiddleware(detector.ExtractClientIP, logger),
		logger:     logger,
	}

	mux := http.NewServeMux()
	s.routes(mux)

	var handler http.Handler = mux
	handler = s.limiter.Middleware(detector.ExtractClientIP, ratelimit.Mutating, rateLimited)(handler)
	handler = detector.Middleware(handler)
	handler = security.NewHeadersMiddleware(config.Headers).Middleware(handler)
	handler = s.tracer.Middleware(handler)
	s.Handler = handler

	states, stop := s.engine.Watch()
	s.stopWatch = stop
	go hub.Run(states)

	return s, nil
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/queue", s.handleQueue)
	mux.HandleFunc("GET /api/expenses", s.handleListExpenses)
	mux.HandleFunc("POST /api/expenses", s.handleCreateExpense)
	mux.HandleFunc("PATCH /api/expenses/{id}", s.handleUpdateExpense)
	mux.HandleFunc("DELETE /api/expenses/{id}", s.handleDeleteExpense)
	mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/error/clear", s.handleClearError)
	mux.HandleFunc("POST /api/connectivity", s.handleConnectivity)

	mux.HandleFunc("POST /api/reports", s.handleCreateReport)
	mux.HandleFunc("GET /api/reports/{id}", s.handleGetReport)
	mux.HandleFunc("POST /api/reports/{id}/export", s.handleExportReport)

	mux.HandleFunc("GET /api/stream", s.handleStream)
}

// Shutdown stops the state feed, disconnects websocket clients and shuts
// down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.stopWatch != nil {
			s.stopWatch()
		}
		s.hub.Close()
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
		s.logger.InfoContext(ctx, "HTTP server stopped",
			"requests", s.tracer.TotalRequests(),
			"rate_limited", s.limiter.Hits(),
			"suspicious", s.detector.Suspicious())
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if st := s.engine.State().Status; st != engine.StatusReady {
		http.Error(w, "engine "+st.String(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
