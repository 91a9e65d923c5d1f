/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package registry publishes the set of registries a dispatch runs
// against. A reload swaps the whole set at once; dispatches capture the
// current set when they start and never observe a partial update.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/marcus-qen/robusta/internal/action"
	"github.com/marcus-qen/robusta/internal/event"
	"github.com/marcus-qen/robusta/internal/playbook"
	"github.com/marcus-qen/robusta/internal/sink"
)

// Snapshot is an immutable set of registries.
type Snapshot struct {
	Actions   *action.Registry
	Playbooks *playbook.Registry
	Sinks     *sink.Set

	// Relabel rules applied to incoming alerts.
	Relabel []event.RelabelRule

	// LightActions may be requested through the relay without a signature.
	LightActions []string

	// PlatformEnabled is passed to every sink delivery.
	PlatformEnabled bool
}

// DefaultSinks returns the sinks playbooks without explicit sinks use.
func (s *Snapshot) DefaultSinks() []string {
	if s.Playbooks != nil && s.Playbooks.DefaultSinks() != nil {
		return s.Playbooks.DefaultSinks()
	}
	return s.Sinks.DefaultSinks()
}

// GlobalConfig returns the parameters merged into every action's params.
func (s *Snapshot) GlobalConfig() map[string]any {
	if s.Playbooks == nil {
		return map[string]any{}
	}
	return s.Playbooks.GlobalConfig()
}

// Holder holds the current snapshot.
type Holder struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

// NewHolder creates a holder publishing s.
func NewHolder(s *Snapshot) *Holder {
	h := &Holder{}
	h.current.Store(s)
	return h
}

// Load returns the current snapshot.
func (h *Holder) Load() *Snapshot { return h.current.Load() }

// Update builds the next snapshot from the current one under the reload
// lock. The current snapshot is kept when build fails.
func (h *Holder) Update(build func(current *Snapshot) (*Snapshot, error)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	next, err := build(h.current.Load())
	if err != nil {
		return err
	}
	h.current.Store(next)
	return nil
}
