/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package loader builds the registry snapshot from the configuration file
// and rebuilds it when the file or a local playbook directory changes.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"sigs.k8s.io/yaml"

	"github.com/marcus-qen/robusta/internal/action"
	"github.com/marcus-qen/robusta/internal/config"
	"github.com/marcus-qen/robusta/internal/playbook"
	"github.com/marcus-qen/robusta/internal/registry"
	"github.com/marcus-qen/robusta/internal/runner"
	"github.com/marcus-qen/robusta/internal/scheduler"
	"github.com/marcus-qen/robusta/internal/sink"
)

// Plugin registers a package of actions.
type Plugin func(r *action.Registry)

// JobUpdater replaces the scheduled playbook jobs.
type JobUpdater interface {
	Update(ctx context.Context, jobs []*scheduler.Job) error
}

// Options configure a Loader.
type Options struct {
	// ConfigPath is the runner configuration file.
	ConfigPath string

	// InternalPath is an optional file of playbooks placed before the
	// configured ones. A missing file is ignored.
	InternalPath string

	Plugins   []Plugin
	Sinks     *sink.Registry
	Scheduler JobUpdater

	// Lookup resolves {{ env.VAR }} references. Defaults to os.LookupEnv.
	Lookup config.LookupFunc

	// Debounce is the quiet period before a change triggers a reload.
	Debounce time.Duration

	PlatformEnabled bool

	// GlobalDefaults are merged under the configured global_config.
	GlobalDefaults map[string]any
}

// Loader owns the reload cycle.
type Loader struct {
	log    logr.Logger
	holder *registry.Holder
	opts   Options

	mu     sync.Mutex
	dirs   []string
	resync chan struct{}
}

// New creates a loader publishing into holder.
func New(holder *registry.Holder, log logr.Logger, opts Options) *Loader {
	if opts.Lookup == nil {
		opts.Lookup = os.LookupEnv
	}
	return &Loader{
		log:    log.WithName("loader"),
		holder: holder,
		opts:   opts,
		resync: make(chan struct{}, 1),
	}
}

// Reload parses the configuration and publishes a new snapshot. On any
// failure the running registries are left untouched.
func (l *Loader) Reload(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()
	data, err := os.ReadFile(l.opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("read config %s: %w", l.opts.ConfigPath, err)
	}
	cfg, err := config.Parse(data, l.opts.Lookup)
	if err != nil {
		return fmt.Errorf("config %s: %w", l.opts.ConfigPath, err)
	}

	actions := action.NewRegistry(l.log)
	for _, p := range l.opts.Plugins {
		p(actions)
	}
	internal, err := l.internalPlaybooks()
	if err != nil {
		return err
	}
	global := maps.Clone(l.opts.GlobalDefaults)
	if global == nil {
		global = map[string]any{}
	}
	maps.Copy(global, cfg.GlobalConfig)

	playbooks, err := playbook.NewRegistry(actions, playbook.Options{
		Internal:     internal,
		Playbooks:    cfg.ActivePlaybooks,
		GlobalConfig: global,
	})
	if err != nil {
		return fmt.Errorf("load playbooks: %w", err)
	}

	err = l.holder.Update(func(*registry.Snapshot) (*registry.Snapshot, error) {
		var sinks *sink.Set
		if l.opts.Sinks != nil {
			set, err := l.opts.Sinks.Reconcile(cfg.SinksConfig)
			if err != nil {
				return nil, fmt.Errorf("reconcile sinks: %w", err)
			}
			sinks = set
		}
		return &registry.Snapshot{
			Actions:         actions,
			Playbooks:       playbooks,
			Sinks:           sinks,
			Relabel:         cfg.AlertRelabel,
			LightActions:    cfg.LightActions,
			PlatformEnabled: l.opts.PlatformEnabled,
		}, nil
	})
	if err != nil {
		return err
	}

	l.dirs = cfg.LocalPaths()
	select {
	case l.resync <- struct{}{}:
	default:
	}

	l.log.Info("Configuration loaded",
		"actions", actions.Len(),
		"playbooks", len(playbooks.All()),
		"sinks", l.holder.Load().Sinks.Len(),
		"duration", time.Since(start).String())

	if l.opts.Scheduler != nil {
		if err := l.opts.Scheduler.Update(ctx, runner.PlaybookJobs(playbooks)); err != nil {
			return fmt.Errorf("update scheduled playbooks: %w", err)
		}
	}
	return nil
}

func (l *Loader) internalPlaybooks() ([]*playbook.Definition, error) {
	if l.opts.InternalPath == "" {
		return nil, nil
	}
	data, err := os.ReadFile(l.opts.InternalPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read internal playbooks: %w", err)
	}
	var defs []*playbook.Definition
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("decode internal playbooks %s: %w", l.opts.InternalPath, err)
	}
	return defs, nil
}

// LocalDirs returns the local playbook directories of the last successful
// reload.
func (l *Loader) LocalDirs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.dirs...)
}

// Watch reloads on changes to the configuration file or a local playbook
// directory until ctx is done. Changes are debounced. The configuration's
// directory is watched rather than the file so that editors replacing the
// file and ConfigMap symlink swaps are seen.
func (l *Loader) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	path, err := filepath.Abs(l.opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	cfgDir, cfgBase := filepath.Dir(path), filepath.Base(path)
	if err := w.Add(cfgDir); err != nil {
		return fmt.Errorf("watch %s: %w", cfgDir, err)
	}

	deb := NewDebouncer(l.opts.Debounce, func() {
		if ctx.Err() != nil {
			return
		}
		if err := l.Reload(ctx); err != nil {
			l.log.Error(err, "Failed to reload configuration, keeping the running registries")
		}
	})
	defer deb.Stop()

	m := &dirWatch{w: w, log: l.log, dirs: map[string]string{}}
	m.sync(l.LocalDirs())
	l.log.Info("Watching configuration", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.resync:
			m.sync(l.LocalDirs())
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			if filepath.Dir(ev.Name) == cfgDir && isConfigChange(filepath.Base(ev.Name), cfgBase) {
				l.log.V(1).Info("Configuration changed", "event", ev.String())
				deb.Trigger()
				continue
			}
			if root, ok := m.rootOf(ev.Name); ok {
				if ev.Has(fsnotify.Create) {
					if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
						m.addTree(root, ev.Name)
					}
				}
				l.log.V(1).Info("Playbook directory changed", "event", ev.String())
				deb.Trigger()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.log.Error(err, "Watcher error")
		}
	}
}

// isConfigChange matches the configuration file itself and the ".." entries
// Kubernetes uses to swap mounted ConfigMap contents.
func isConfigChange(name, cfgBase string) bool {
	return name == cfgBase || strings.HasPrefix(name, "..")
}

// dirWatch tracks the watched local playbook directories. dirs maps each
// watched directory to the root it was added under.
type dirWatch struct {
	w    *fsnotify.Watcher
	log  logr.Logger
	dirs map[string]string
}

func (m *dirWatch) sync(roots []string) {
	want := make(map[string]bool, len(roots))
	for _, r := range roots {
		want[filepath.Clean(r)] = true
	}
	for dir, root := range m.dirs {
		if !want[root] {
			_ = m.w.Remove(dir)
			delete(m.dirs, dir)
		}
	}
	for root := range want {
		if _, ok := m.dirs[root]; !ok {
			m.addTree(root, root)
		}
	}
}

func (m *dirWatch) addTree(root, dir string) {
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if _, ok := m.dirs[p]; ok {
			return nil
		}
		if err := m.w.Add(p); err != nil {
			m.log.Error(err, "Failed to watch directory", "dir", p)
			return nil
		}
		m.dirs[p] = root
		return nil
	})
	if err != nil {
		m.log.Error(err, "Failed to walk playbook directory", "dir", dir)
	}
}

func (m *dirWatch) rootOf(name string) (string, bool) {
	if root, ok := m.dirs[filepath.Dir(name)]; ok {
		return root, true
	}
	root, ok := m.dirs[name]
	return root, ok
}
