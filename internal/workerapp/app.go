// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package workerapp wires the worker-side components (the durable state
// store, the tmux multiplexer, the agent's poll/heartbeat loops, and the
// push client to the master) into one process lifecycle, the same
// Options→New→Initialize→Start→Run→Shutdown shape masterapp follows.
package workerapp

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/danilotorrisi/csm/internal/config"
	"github.com/danilotorrisi/csm/internal/worker"
	"github.com/danilotorrisi/csm/internal/workerstore"
	"github.com/danilotorrisi/csm/pkg/client"
)

// Options configures a new App.
type Options struct {
	Config *config.WorkerConfig
	Logger *log.Logger
}

// App is the running worker process: its durable store, its multiplexer,
// its push client to the master, and the agent that ties them together.
type App struct {
	cfg    *config.WorkerConfig
	logger *log.Logger

	Store      *workerstore.Store
	Multiplex  *worker.TmuxMultiplexer
	MasterConn *client.Client
	Agent      *worker.Agent
}

// New constructs an App from opts.
func New(opts Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[worker] ", log.LstdFlags)
	}
	return &App{cfg: opts.Config, logger: logger}
}

// Initialize opens the durable state store, constructs the master push
// client, and builds the Agent. Must be called before Start/Run.
func (a *App) Initialize() error {
	store, err := workerstore.Open(a.cfg.StateFile, a.cfg.WorkerID, a.logger)
	if err != nil {
		return fmt.Errorf("open worker state store: %w", err)
	}
	a.Store = store

	a.Multiplex = worker.NewTmuxMultiplexer()
	a.MasterConn = client.New(a.cfg.MasterURL, client.WithToken(a.cfg.AuthToken))

	bootTime := time.Now()
	hostname, _ := os.Hostname()
	agentCfg := worker.Config{
		WorkerID:          a.cfg.WorkerID,
		PollInterval:      a.cfg.PollInterval(),
		HeartbeatInterval: a.cfg.HeartbeatInterval(),
		HostInfoFunc: func() worker.HostInfo {
			return worker.CurrentHostInfo(hostname, runtime.GOOS, runtime.GOARCH, runtime.NumCPU(), bootTime)
		},
	}

	a.Agent = worker.NewAgent(agentCfg, a.Multiplex, a.Store, a.MasterConn.Worker, worker.NoopSessionInfoProvider{}, a.logger)
	return nil
}

// Start is a no-op placeholder kept for lifecycle symmetry with masterapp
// (the agent has nothing to start ahead of Run — its timers begin inside
// Run itself).
func (a *App) Start() {}

// Run blocks running the agent's poll/heartbeat loops until ctx is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	a.Agent.Run(ctx)
	return nil
}

// Shutdown stops the agent if Run is still active.
func (a *App) Shutdown(context.Context) error {
	a.Agent.Stop()
	return nil
}
