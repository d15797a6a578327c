// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/danilotorrisi/csm/internal/watcher"
)

// Loader watches a rules file on disk and keeps an Engine's rule list in
// sync with it, reloading on every debounced write. A malformed file on
// reload is logged and the previous rule list is left untouched — unlike
// the worker state store, a rules file is never silently replaced with an
// empty list, since that would fail open on every tool-use request.
type Loader struct {
	path      string
	engine    *Engine
	logger    *log.Logger
	watcher   *fsnotify.Watcher
	debouncer *watcher.Debouncer
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

// NewLoader constructs a Loader for the given rules file path and engine.
// It performs one synchronous initial load before returning.
func NewLoader(path string, engine *Engine, logger *log.Logger) (*Loader, error) {
	if logger == nil {
		logger = log.Default()
	}
	l := &Loader{
		path:      path,
		engine:    engine,
		logger:    logger,
		debouncer: watcher.NewDebouncer(200 * time.Millisecond),
		closeCh:   make(chan struct{}),
	}
	l.reload()
	return l, nil
}

// Watch starts the background fsnotify watch. Failure to establish a
// filesystem watch is non-fatal: the engine keeps serving whatever rule
// list the initial load produced.
func (l *Loader) Watch() {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		l.logger.Printf("rules: file watch disabled, fsnotify unavailable: %v", err)
		return
	}
	dir := filepath.Dir(l.path)
	if err := fsWatcher.Add(dir); err != nil {
		l.logger.Printf("rules: failed to watch %s: %v", dir, err)
		fsWatcher.Close()
		return
	}
	l.watcher = fsWatcher
	l.wg.Add(1)
	go l.processEvents()
}

func (l *Loader) processEvents() {
	defer l.wg.Done()
	for {
		select {
		case <-l.closeCh:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(l.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			l.debouncer.Debounce(l.path, l.reload)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Printf("rules: watch error: %v", err)
		}
	}
}

func (l *Loader) reload() {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			l.logger.Printf("rules: %s does not exist, keeping current rule list", l.path)
			return
		}
		l.logger.Printf("rules: failed to read %s: %v", l.path, err)
		return
	}
	parsed, err := ParseRuleFile(data)
	if err != nil {
		l.logger.Printf("rules: %s is malformed, keeping current rule list: %v", l.path, err)
		return
	}
	l.engine.SetRules(parsed)
	l.logger.Printf("rules: loaded %d rules from %s", len(parsed), l.path)
}

// Close stops the background watch.
func (l *Loader) Close() {
	if l.watcher == nil {
		return
	}
	close(l.closeCh)
	l.debouncer.Stop()
	l.watcher.Close()
	l.wg.Wait()
}
