// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Command csm-master runs the CSM master: the WS session manager, the
// worker aggregator, the tool-approval rule engine, and the HTTP API that
// fronts them.
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
	"github.com/danilotorrisi/csm/internal/masterapp"
)

func main() {
	configPath := flag.String("config", "", "path to csm-master.hjson/.json (default: search current directory)")
	dumpConfig := flag.String("dump-config", "", "dump the resolved config in the given format (yaml) and exit")
	flag.Parse()

	logger := log.New(os.Stderr, "[master] ", log.LstdFlags)

	path := *configPath
	if path == "" {
		found, err := config.MasterConfigLoader.FindConfig()
		if err != nil {
			logger.Fatalf("locate config: %v", err)
		}
		path = found
	}

	cfg, err := config.MasterConfigLoader.LoadWithDefaults(path)
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

	app := masterapp.New(masterapp.Options{Config: cfg, ConfigPath: path, Logger: logger})
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
