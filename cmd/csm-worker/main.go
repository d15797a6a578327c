// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Command csm-worker runs one CSM worker: it enumerates local tmux
// sessions, pushes state changes to a master, and persists its own
// durable queue across restarts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/danilotorrisi/csm/internal/config"
	"github.com/danilotorrisi/csm/internal/workerapp"
)

func main() {
	configPath := flag.String("config", "", "path to csm-worker.hjson/.json (default: search current directory)")
	dumpConfig := flag.String("dump-config", "", "dump the resolved config in the given format (yaml) and exit")
	flag.Parse()

	logger := log.New(os.Stderr, "[worker] ", log.LstdFlags)

	path := *configPath
	if path == "" {
		found, err := config.WorkerConfigLoader.FindConfig()
		if err != nil {
			logger.Fatalf("locate config: %v", err)
		}
		path = found
	}

	cfg, err := config.WorkerConfigLoader.LoadWithDefaults(path)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	if *dumpConfig != "" {
		if *dumpConfig != "yaml" {
			logger.Fatalf("unsupported --dump-config format %q (only yaml is supported)", *dumpConfig)
		}
		out, err := config.DumpYAML(cfg)
		if err != nil {
			logger.Fatalf("dump config: %v", err)
		}
		fmt.Print(out)
		return
	}

	app := workerapp.New(workerapp.Options{Config: cfg, Logger: logger})
	if err := app.Initialize(); err != nil {
		logger.Fatalf("initialize: %v", err)
	}
	app.Start()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx); err != nil {
		logger.Fatalf("run: %v", err)
	}
}
