// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package masterapp wires every master-side component (the rule engine
// and its hot-reloading loader, the WS session manager, the worker
// aggregator, the event bus, the bearer token store, and the HTTP API
// server) into one process lifecycle, following the same
// Options→New→Initialize→Start→Run→Shutdown shape the teacher's
// internal/app.App used.
package masterapp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/danilotorrisi/csm/internal/api"
	"github.com/danilotorrisi/csm/internal/auth"
	"github.com/danilotorrisi/csm/internal/config"
	"github.com/danilotorrisi/csm/internal/eventbus"
	"github.com/danilotorrisi/csm/internal/master"
	"github.com/danilotorrisi/csm/internal/rules"
	"github.com/danilotorrisi/csm/internal/session"
)

// Options configures a new App.
type Options struct {
	Config     *config.MasterConfig
	ConfigPath string
	Logger     *log.Logger
}

// App is the running master process: every wired component plus the HTTP
// server that fronts them.
type App struct {
	cfg        *config.MasterConfig
	configPath string
	logger     *log.Logger

	Bus        *eventbus.Bus
	RuleEngine *rules.Engine
	RuleLoader *rules.Loader
	Aggregator *master.Aggregator
	Sessions   *session.Manager
	Tokens     *auth.TokenStore
	Server     *api.Server
}

// New constructs an App from opts but does not start anything yet —
// callers must call Initialize then Start.
func New(opts Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[master] ", log.LstdFlags)
	}
	return &App{cfg: opts.Config, configPath: opts.ConfigPath, logger: logger}
}

// Initialize constructs every component and wires them together. It opens
// the rule file (performing one synchronous load) but does not yet start
// the background watch or the HTTP listener.
func (a *App) Initialize() error {
	a.Bus = eventbus.New(a.logger)
	a.RuleEngine = rules.NewEngine(nil)

	loader, err := rules.NewLoader(a.cfg.Rules.File, a.RuleEngine, a.logger)
	if err != nil {
		return fmt.Errorf("initialize rule loader: %w", err)
	}
	a.RuleLoader = loader

	a.Aggregator = master.New(nil)
	a.Sessions = session.NewManager(a.Bus, a.RuleEngine, a.logger)
	a.Tokens = auth.NewTokenStore(a.cfg.AuthToken)

	a.Server = api.NewServer(api.ServerConfig{
		Host:    a.cfg.Server.Host,
		Port:    a.cfg.Server.Port,
		TLSCert: "",
		TLSKey:  "",
	}, api.Dependencies{
		Aggregator:     a.Aggregator,
		SessionManager: a.Sessions,
		Bus:            a.Bus,
		Tokens:         a.Tokens,
		Config:         a.cfg,
		ConfigPath:     a.configPath,
		RuleEngine:     a.RuleEngine,
		TmuxSender:     nil, // the master never shells out to tmux directly; only workers do
	})

	return nil
}

// Start begins the rule file's background watch.
func (a *App) Start() {
	a.RuleLoader.Watch()
}

// Run blocks serving the HTTP API until ctx is cancelled, then shuts down
// gracefully. Mirrors the teacher's own App.Run: one errgroup supervising
// the listener goroutine against the parent context's cancellation.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}

// Shutdown stops the rule file watch and gracefully shuts down the HTTP
// server.
func (a *App) Shutdown(ctx context.Context) error {
	a.RuleLoader.Close()
	return a.Server.Shutdown(ctx)
}
