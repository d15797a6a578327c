// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/danilotorrisi/csm/internal/api/handlers"
	"github.com/danilotorrisi/csm/internal/api/middleware"
	"github.com/danilotorrisi/csm/internal/auth"
	"github.com/danilotorrisi/csm/internal/config"
	"github.com/danilotorrisi/csm/internal/eventbus"
	"github.com/danilotorrisi/csm/internal/master"
	"github.com/danilotorrisi/csm/internal/rules"
	"github.com/danilotorrisi/csm/internal/session"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Host    string
	Port    int
	TLSCert string // Path to TLS certificate file
	TLSKey  string // Path to TLS private key file
}

// Dependencies holds every component the router wires into handlers.
type Dependencies struct {
	Aggregator     *master.Aggregator
	SessionManager *session.Manager
	Bus            *eventbus.Bus
	Tokens         *auth.TokenStore
	Config         *config.MasterConfig
	ConfigPath     string
	RuleEngine     *rules.Engine
	TmuxSender     handlers.TextSender // optional: nil disables the tmux message fallback
}

// NewRouter builds the CSM master's HTTP router: every /api/* route of
// §6.1 behind the bearer-auth/CORS/recovery/logging middleware chain, plus
// the CLI-facing /ws/sessions upgrade endpoint of §0/§6.2.
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS)
	r.Use(middleware.RequireAuth(deps.Tokens))

	// Every route below is method-restricted, so a preflight request would
	// otherwise get mux's 405 without running the middleware chain; this
	// catch-all lets middleware.CORS answer it with 204.
	r.Methods(http.MethodOptions).HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	healthHandler := handlers.NewHealthHandler(deps.Aggregator)
	r.HandleFunc("/api/health", healthHandler.Health).Methods(http.MethodGet)

	workerHandler := handlers.NewWorkerHandler(deps.Aggregator, deps.Bus)
	r.HandleFunc("/api/worker-events", workerHandler.IngestEvent).Methods(http.MethodPost)
	r.HandleFunc("/api/worker-sync", workerHandler.Sync).Methods(http.MethodPost)
	r.HandleFunc("/api/workers", workerHandler.List).Methods(http.MethodGet)

	eventHandler := handlers.NewEventHandler(deps.Aggregator, deps.Bus)
	r.HandleFunc("/api/events", eventHandler.History).Methods(http.MethodGet)
	r.HandleFunc("/api/events/ws", eventHandler.WebSocket).Methods(http.MethodGet)
	r.HandleFunc("/api/state", eventHandler.State).Methods(http.MethodGet)

	sessionsHandler := handlers.NewSessionsHandler(deps.SessionManager, deps.Aggregator, deps.Bus, deps.TmuxSender)
	r.HandleFunc("/api/sessions", sessionsHandler.List).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{name}/message", sessionsHandler.SendMessage).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions/{name}/stream", sessionsHandler.Stream).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{name}/approve-tool", sessionsHandler.ApproveTool).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions/{name}/diff", sessionsHandler.Diff).Methods(http.MethodGet)

	authHandler := handlers.NewAuthHandler(deps.Tokens)
	r.HandleFunc("/api/auth/setup", authHandler.Setup).Methods(http.MethodGet)
	r.HandleFunc("/api/auth/validate", authHandler.Validate).Methods(http.MethodPost)

	configHandler := handlers.NewConfigHandler(deps.Config, deps.ConfigPath, deps.RuleEngine)
	r.HandleFunc("/api/config", configHandler.Get).Methods(http.MethodGet)
	r.HandleFunc("/api/config", configHandler.Patch).Methods(http.MethodPatch)

	wsSessionHandler := handlers.NewWSSessionHandler(deps.SessionManager)
	r.Handle("/ws/sessions", wsSessionHandler).Methods(http.MethodGet)

	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	return r
}

// Server wraps the router with a lifecycle: start, graceful shutdown, and
// optional TLS, grounded on the teacher's own Server shape.
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	server *http.Server
}

// NewServer constructs a Server for cfg wired against deps.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	return &Server{router: NewRouter(deps), cfg: cfg}
}

// Router returns the underlying router, e.g. for httptest.NewServer in
// tests that want a full HTTP round-trip without a real listener.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the server. If TLS is configured (tls_cert and
// tls_key), it serves HTTPS; otherwise plain HTTP.
func (s *Server) ListenAndServe() error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	tlsEnabled, err := CheckTLSConfig(s.cfg.TLSCert, s.cfg.TLSKey)
	if err != nil {
		return fmt.Errorf("TLS configuration error: %w", err)
	}

	if tlsEnabled {
		certPath := expandPath(s.cfg.TLSCert)
		keyPath := expandPath(s.cfg.TLSKey)
		log.Printf("API server listening on https://%s (TLS enabled)", addr)
		return s.server.ListenAndServeTLS(certPath, keyPath)
	}

	log.Printf("API server listening on http://%s", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server, giving in-flight requests
// (including long-lived SSE/WS connections) up to the context deadline —
// 30s if none is set — to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	log.Println("Shutting down API server...")

	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	return s.server.Shutdown(shutdownCtx)
}
