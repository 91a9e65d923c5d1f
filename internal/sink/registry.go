/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package sink

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// Set is an immutable view of the live sink instances.
type Set struct {
	instances map[string]*Instance
	defaults  []string
}

// Get returns the named instance.
func (s *Set) Get(name string) (*Instance, bool) {
	if s == nil {
		return nil, false
	}
	i, ok := s.instances[name]
	return i, ok
}

// Names returns the sink names, sorted.
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.instances))
	for n := range s.instances {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultSinks returns the names of the default sinks in configuration
// order.
func (s *Set) DefaultSinks() []string {
	if s == nil {
		return nil
	}
	return s.defaults
}

// Len returns the number of sinks.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.instances)
}

// Registry owns the live sink instances.
type Registry struct {
	log logr.Logger
	env Env

	mu      sync.Mutex
	current *Set
}

// NewRegistry creates an empty registry. env is handed to every factory.
func NewRegistry(log logr.Logger, env Env) *Registry {
	env.Log = log
	return &Registry{
		log:     log.WithName("sinks"),
		env:     env,
		current: &Set{instances: map[string]*Instance{}},
	}
}

// Current returns the live sink set.
func (r *Registry) Current() *Set {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Reconcile brings the live sinks in line with configs. Sinks with
// unchanged parameters keep their instance, and with it their grouping
// state. When any sink fails to construct, nothing changes and the joined
// errors are returned.
func (r *Registry) Reconcile(configs []Config) (*Set, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current
	next := &Set{instances: make(map[string]*Instance, len(configs))}
	var created []*Instance
	var errs []error

	for _, cfg := range configs {
		name := cfg.Base.Name
		if name == "" {
			errs = append(errs, fmt.Errorf("%s: sink name is required", cfg.Type))
			continue
		}
		if _, dup := next.instances[name]; dup {
			errs = append(errs, fmt.Errorf("duplicate sink name %q", name))
			continue
		}
		if existing, ok := old.instances[name]; ok && existing.fingerprint == cfg.fingerprint() {
			next.instances[name] = existing
		} else {
			inst, err := r.build(cfg)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			created = append(created, inst)
			next.instances[name] = inst
		}
		if cfg.Base.IsDefault() {
			next.defaults = append(next.defaults, name)
		}
	}

	if len(errs) > 0 {
		for _, inst := range created {
			inst.Stop()
		}
		return nil, errors.Join(errs...)
	}

	for name, inst := range old.instances {
		if next.instances[name] == inst {
			continue
		}
		if _, replaced := next.instances[name]; replaced {
			r.log.Info("Updating sink", "sink", name, "type", inst.Type)
		} else {
			r.log.Info("Deleting sink", "sink", name, "type", inst.Type)
		}
		inst.Stop()
	}
	for _, inst := range created {
		if _, ok := old.instances[inst.Name]; !ok {
			r.log.Info("Adding sink", "sink", inst.Name, "type", inst.Type)
		}
	}
	r.current = next
	return next, nil
}

func (r *Registry) build(cfg Config) (*Instance, error) {
	factory, ok := lookupFactory(cfg.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, cfg.Type)
	}
	s, err := factory(cfg, r.env)
	if err != nil {
		return nil, fmt.Errorf("create %s %q: %w", cfg.Type, cfg.Base.Name, err)
	}
	inst, err := NewInstance(cfg, s, r.env)
	if err != nil {
		s.Stop()
		return nil, err
	}
	return inst, nil
}

// Prune drops idle notification groups of every sink.
func (r *Registry) Prune(now time.Time) int {
	removed := 0
	for _, inst := range r.Current().instances {
		removed += inst.Prune(now)
	}
	return removed
}

// Stop stops every live sink.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, inst := range r.current.instances {
		r.log.Info("Stopping sink", "sink", name)
		inst.Stop()
	}
	r.current = &Set{instances: map[string]*Instance{}}
}
