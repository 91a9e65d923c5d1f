/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package playbook

import (
	"errors"
	"fmt"
	"slices"

	"github.com/marcus-qen/robusta/internal/action"
	"github.com/marcus-qen/robusta/internal/event"
)

var (
	// ErrUnknownAction is returned when a playbook names an action that is
	// not registered.
	ErrUnknownAction = errors.New("unknown action")

	// ErrEventTypeMismatch is returned when a trigger produces events the
	// action cannot run against.
	ErrEventTypeMismatch = errors.New("trigger event type not accepted by action")

	// ErrInvalidScheduledPlaybook is returned when a scheduled playbook does
	// not have exactly one trigger and one action.
	ErrInvalidScheduledPlaybook = errors.New("scheduled playbooks must have exactly one trigger and one action")
)

// Options configures a Registry.
type Options struct {
	// Internal playbooks are placed before the configured ones.
	Internal     []*Definition
	Playbooks    []*Definition
	GlobalConfig map[string]any
	DefaultSinks []string
}

// Registry is an immutable, validated set of playbooks indexed by the
// kind of raw event that can fire them.
type Registry struct {
	playbooks    []*Definition
	byKind       map[event.Kind][]*Definition
	scheduled    []*Definition
	globalConfig map[string]any
	defaultSinks []string
}

// NewRegistry validates every enabled playbook against actions and indexes
// them. All validation failures are reported together.
func NewRegistry(actions *action.Registry, opts Options) (*Registry, error) {
	r := &Registry{
		byKind:       map[event.Kind][]*Definition{},
		globalConfig: opts.GlobalConfig,
		defaultSinks: opts.DefaultSinks,
	}
	if r.globalConfig == nil {
		r.globalConfig = map[string]any{}
	}

	var errs []error
	all := make([]*Definition, 0, len(opts.Internal)+len(opts.Playbooks))
	all = append(all, opts.Internal...)
	all = append(all, opts.Playbooks...)
	for i, pb := range all {
		if pb == nil || pb.Disabled {
			continue
		}
		if err := r.validate(actions, pb); err != nil {
			errs = append(errs, fmt.Errorf("playbook %d (%s): %w", i, pb.DisplayName(), err))
			continue
		}
		r.playbooks = append(r.playbooks, pb)
		if _, ok := pb.ScheduledTrigger(); ok {
			r.scheduled = append(r.scheduled, pb)
			continue
		}
		seen := map[event.Kind]bool{}
		for _, t := range pb.Triggers {
			kind := t.EventKind()
			if seen[kind] {
				continue
			}
			seen[kind] = true
			r.byKind[kind] = append(r.byKind[kind], pb)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

func (r *Registry) validate(actions *action.Registry, pb *Definition) error {
	if len(pb.Triggers) == 0 {
		return errors.New("no triggers")
	}
	if len(pb.Actions) == 0 {
		return errors.New("no actions")
	}
	if _, ok := pb.ScheduledTrigger(); ok && (len(pb.Triggers) != 1 || len(pb.Actions) != 1) {
		return ErrInvalidScheduledPlaybook
	}

	var errs []error
	for i := range pb.Actions {
		a := &pb.Actions[i]
		registered := actions.Get(a.Name)
		if registered == nil {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownAction, a.Name))
			continue
		}
		a.FuncHash = registered.FuncHash
		for _, t := range pb.Triggers {
			if !registered.Accepts(t.EventType()) {
				errs = append(errs, fmt.Errorf("%w: %s requires %s, trigger %s produces %s",
					ErrEventTypeMismatch, a.Name, registered.EventType, t.Name(), t.EventType()))
			}
		}
		params, err := registered.NewParams(a.MergedParams(r.globalConfig))
		if err != nil {
			errs = append(errs, fmt.Errorf("action %s: %w", a.Name, err))
			continue
		}
		if pd, ok := params.(action.PreDeployer); ok {
			for _, t := range pb.Triggers {
				if err := pd.PreDeploy(t); err != nil {
					errs = append(errs, fmt.Errorf("action %s pre-deploy for %s: %w", a.Name, t.Name(), err))
				}
			}
		}
	}
	return errors.Join(errs...)
}

// ForEvent returns the playbooks with at least one trigger of kind, in
// configuration order.
func (r *Registry) ForEvent(kind event.Kind) []*Definition { return r.byKind[kind] }

// Scheduled returns the playbooks driven by the scheduler.
func (r *Registry) Scheduled() []*Definition { return r.scheduled }

// All returns every enabled playbook, internal ones first.
func (r *Registry) All() []*Definition { return r.playbooks }

// DefaultSinks returns the sinks used by playbooks without their own.
func (r *Registry) DefaultSinks() []string { return r.defaultSinks }

// GlobalConfig returns the parameters merged into every action's params.
func (r *Registry) GlobalConfig() map[string]any { return r.globalConfig }

// Kinds returns the raw event kinds at least one playbook listens to.
func (r *Registry) Kinds() []event.Kind {
	kinds := make([]event.Kind, 0, len(r.byKind))
	for k := range r.byKind {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}
