/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package runner dispatches events through the playbooks of the current
// registry snapshot and fans the resulting findings out to sinks.
//
// A dispatch loads the snapshot once. Playbooks run in configuration order
// against one shared findings map; actions run in declared order, and one
// failing action never aborts the others. Each sink receives its own deep
// copy of every finding it accepts.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"runtime/debug"
	"slices"
	"sort"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/marcus-qen/robusta/internal/event"
	"github.com/marcus-qen/robusta/internal/finding"
	"github.com/marcus-qen/robusta/internal/playbook"
	"github.com/marcus-qen/robusta/internal/registry"
	"github.com/marcus-qen/robusta/internal/sink"
	"github.com/marcus-qen/robusta/internal/trigger"
)

var tracer = otel.Tracer("github.com/marcus-qen/robusta/internal/runner")

// Options configure a Runner.
type Options struct {
	// Hydrator loads the resources alerts refer to. Optional.
	Hydrator trigger.Hydrator

	// Deps are passed to from-params event constructors.
	Deps event.Deps

	// Metrics defaults to collectors registered nowhere.
	Metrics *Metrics
}

// Runner is the event dispatcher.
type Runner struct {
	registries *registry.Holder
	log        logr.Logger
	hydrator   trigger.Hydrator
	deps       event.Deps
	metrics    *Metrics

	inflight atomic.Int64
}

// New creates a dispatcher over the snapshots published by registries.
func New(registries *registry.Holder, log logr.Logger, opts Options) *Runner {
	m := opts.Metrics
	if m == nil {
		m = NewMetrics(nil)
	}
	return &Runner{
		registries: registries,
		log:        log.WithName("runner"),
		hydrator:   opts.Hydrator,
		deps:       opts.Deps,
		metrics:    m,
	}
}

// InFlightCount returns the number of dispatches in progress.
func (r *Runner) InFlightCount() int { return int(r.inflight.Load()) }

// HandleTrigger runs every playbook listening on the raw event's kind and
// delivers the findings. It returns the last non-empty action response, or
// nil when no playbook ran.
func (r *Runner) HandleTrigger(ctx context.Context, raw event.TriggerEvent) map[string]any {
	r.inflight.Add(1)
	defer r.inflight.Add(-1)

	snap := r.registries.Load()
	if snap == nil || snap.Playbooks == nil {
		return nil
	}
	playbooks := snap.Playbooks.ForEvent(raw.EventKind())
	if len(playbooks) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "HandleTrigger", trace.WithAttributes(
		attribute.String("event.kind", string(raw.EventKind())),
		attribute.String("event.name", raw.EventName()),
	))
	defer span.End()

	log := r.log.WithValues("event", raw.EventName())
	findings := event.Findings{}
	bc := trigger.NewBuildContext(log, r.hydrator)

	var (
		response map[string]any
		last     event.ExecutionEvent
	)
	for _, pb := range playbooks {
		fired := firedTrigger(raw, pb)
		if fired == nil {
			continue
		}
		e, err := fired.Build(ctx, raw, bc)
		if err != nil {
			log.Info("Failed to build execution event", "playbook", pb.DisplayName(), "trigger", fired.Name(), "error", err.Error())
			continue
		}
		if e == nil {
			continue
		}

		sinks := pb.Sinks
		if sinks == nil {
			sinks = snap.DefaultSinks()
		}
		event.Attach(e, findings, slices.Clone(sinks), log)
		last = e

		resp := r.runPlaybook(ctx, snap, pb, e)
		if len(resp) > 0 {
			response = resp
		}
		if pb.Stop || e.Base().StopProcessing {
			log.V(1).Info("Stopping playbook processing", "playbook", pb.DisplayName(), "stop", pb.Stop)
			break
		}
	}

	if last != nil {
		r.fanOut(ctx, snap, findings, last.Base().NamedSinks)
	}
	return response
}

func firedTrigger(raw event.TriggerEvent, pb *playbook.Definition) trigger.Trigger {
	id := pb.ID()
	for _, t := range pb.Triggers {
		if t.Trigger.EventKind() != raw.EventKind() {
			continue
		}
		if t.ShouldFire(raw, id) {
			return t.Trigger
		}
	}
	return nil
}

func (r *Runner) runPlaybook(ctx context.Context, snap *registry.Snapshot, pb *playbook.Definition, e event.ExecutionEvent) map[string]any {
	ctx, span := tracer.Start(ctx, "RunPlaybook", trace.WithAttributes(
		attribute.String("playbook.name", pb.DisplayName()),
		attribute.StringSlice("playbook.actions", pb.ActionNames()),
	))
	defer span.End()
	return r.runActions(ctx, snap, e, pb.Actions, "")
}

// RunActions runs actions against an event built outside trigger matching,
// e.g. by the scheduler or an external request. Events without named sinks
// use the default sinks unless noSinks is set. With syncResponse the
// findings are also returned in the response under "findings".
func (r *Runner) RunActions(ctx context.Context, e event.ExecutionEvent, actions []playbook.Action, syncResponse, noSinks bool) map[string]any {
	r.inflight.Add(1)
	defer r.inflight.Add(-1)

	snap := r.registries.Load()
	b := e.Base()
	sinks := b.NamedSinks
	if noSinks {
		sinks = nil
	} else if sinks == nil {
		sinks = slices.Clone(snap.DefaultSinks())
	}
	event.Attach(e, b.Findings, sinks, r.log)

	source := ""
	if syncResponse {
		source = SourceManualAction
	}
	ctx, span := tracer.Start(ctx, "RunActions", trace.WithAttributes(
		attribute.StringSlice("actions", actionNames(actions)),
		attribute.Bool("sync_response", syncResponse),
	))
	defer span.End()

	resp := r.runActions(ctx, snap, e, actions, source)
	r.fanOut(ctx, snap, b.Findings, b.NamedSinks)
	if syncResponse {
		resp["findings"] = r.serialize(b.Findings)
	}
	return resp
}

func (r *Runner) runActions(ctx context.Context, snap *registry.Snapshot, e event.ExecutionEvent, actions []playbook.Action, source string) map[string]any {
	b := e.Base()
	b.Response = map[string]any{"success": true}
	start := time.Now()
	defer func() {
		r.metrics.ProcessTime.WithLabelValues(source).Observe(time.Since(start).Seconds())
	}()

	for _, a := range actions {
		if b.StopProcessing {
			return b.Response
		}
		if resp := r.runAction(ctx, snap, e, a); resp != nil {
			b.Response = resp
			r.metrics.PlaybookErrors.WithLabelValues(source).Inc()
		}
	}
	return b.Response
}

// runAction returns an error response when the action failed.
func (r *Runner) runAction(ctx context.Context, snap *registry.Snapshot, e event.ExecutionEvent, a playbook.Action) map[string]any {
	log := r.log.WithValues("action", a.Name)
	def := snap.Actions.Get(a.Name)
	if def == nil {
		msg := fmt.Sprintf("action %s not found. Skipping for event %T", a.Name, e)
		log.Error(errors.New(msg), "Action not registered")
		return errorResponse(CodeActionNotRegistered, msg)
	}
	if !event.IsInstance(e, def.EventType) {
		msg := fmt.Sprintf("Action %s requires %s", a.Name, def.EventType)
		log.Error(errors.New(msg), "Execution event mismatch", "event", fmt.Sprintf("%T", e))
		return errorResponse(CodeExecutionEventMismatch, msg)
	}

	var params any
	if def.HasParams() {
		merged := a.MergedParams(snap.GlobalConfig())
		p, err := def.NewParams(merged)
		if err != nil {
			msg := fmt.Sprintf("Failed to create %s using %v for running %s: %v", def.ParamsType, paramKeys(merged), a.Name, err)
			log.Error(err, "Failed to create action params", "params", paramKeys(merged))
			return errorResponse(CodeParamsInstantiationFailed, msg)
		}
		params = p
	}

	ctx, span := tracer.Start(ctx, "RunAction", trace.WithAttributes(attribute.String("action.name", a.Name)))
	defer span.End()
	if err := invoke(ctx, def.Run, e, params); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error(err, "Failed to execute action", "params", paramKeys(a.Params))
		return errorResponse(CodeActionUnexpectedError, CodeActionUnexpectedError.String())
	}
	return nil
}

func invoke(ctx context.Context, run func(context.Context, event.ExecutionEvent, any) error, e event.ExecutionEvent, params any) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("action panicked: %v\n%s", rec, debug.Stack())
		}
	}()
	return run(ctx, e, params)
}

// ExternalRequest asks for one action to run against an event built from
// its parameters. It is the body of manual triggers and relay requests.
type ExternalRequest struct {
	ActionName   string         `json:"action_name"`
	ActionParams map[string]any `json:"action_params,omitempty"`
	Sinks        []string       `json:"sinks,omitempty"`
	SyncResponse bool           `json:"sync_response,omitempty"`
	NoSinks      bool           `json:"no_sinks,omitempty"`
}

// RunExternalAction builds the event of an external action from the request
// parameters and runs the action.
func (r *Runner) RunExternalAction(ctx context.Context, req ExternalRequest) map[string]any {
	snap := r.registries.Load()
	log := r.log.WithValues("action", req.ActionName)

	def := snap.Actions.Get(req.ActionName)
	if def == nil {
		msg := fmt.Sprintf("External action not found %s", req.ActionName)
		log.Error(errors.New(msg), "Rejected external action")
		return errorResponse(CodeActionNotFound, msg)
	}
	ctor, ok := event.LookupConstructor(def.EventType)
	if !ok {
		msg := fmt.Sprintf("Action %s cannot run using external event", req.ActionName)
		log.Error(errors.New(msg), "Rejected external action")
		return errorResponse(CodeNotExternalAction, msg)
	}

	params := maps.Clone(req.ActionParams)
	if params == nil {
		params = map[string]any{}
	}
	if !req.NoSinks && len(req.Sinks) > 0 {
		params["named_sinks"] = slices.Clone(req.Sinks)
	}
	eventParams, err := ctor.NewParams(params)
	if err != nil {
		msg := fmt.Sprintf("Failed to create execution instance for %s %s %v: %v", req.ActionName, ctor.ParamsType, paramKeys(params), err)
		log.Error(err, "Failed to create event params", "params", paramKeys(params))
		return errorResponse(CodeEventParamsInstantiationFailed, msg)
	}
	e, err := ctor.Build(ctx, r.deps, eventParams)
	if err != nil || e == nil {
		msg := fmt.Sprintf("Failed to create execution event for %s %v", req.ActionName, paramKeys(params))
		if err != nil {
			msg = fmt.Sprintf("%s: %v", msg, err)
		}
		log.Error(err, "Failed to create execution event", "params", paramKeys(params))
		return errorResponse(CodeEventInstantiationFailed, msg)
	}
	if s, ok := eventParams.(interface{ Sinks() []string }); ok && len(s.Sinks()) > 0 {
		e.Base().NamedSinks = s.Sinks()
	}

	action := playbook.Action{Name: req.ActionName, Params: params}
	return r.RunActions(ctx, e, []playbook.Action{action}, req.SyncResponse, req.NoSinks)
}

// fanOut writes every finding to every named sink that accepts it. A sink
// with stop set ends delivery of that finding to the remaining sinks.
func (r *Runner) fanOut(ctx context.Context, snap *registry.Snapshot, findings event.Findings, sinks []string) {
	if len(findings) == 0 || len(sinks) == 0 {
		return
	}
	for _, f := range ordered(findings) {
		for _, name := range sinks {
			inst, ok := snap.Sinks.Get(name)
			if !ok {
				r.log.Error(fmt.Errorf("%w: %s", ErrSinkNotFound, name), "Skipping finding", "finding", f.Title)
				continue
			}
			if !inst.Accepts(f) {
				continue
			}
			r.write(ctx, inst, f.DeepCopy(), snap.PlatformEnabled)
			if inst.Params.Stop {
				break
			}
		}
	}
}

func (r *Runner) write(ctx context.Context, inst *sink.Instance, f *finding.Finding, platformEnabled bool) {
	ctx, span := tracer.Start(ctx, "WriteFinding", trace.WithAttributes(
		attribute.String("sink.name", inst.Name),
		attribute.String("sink.type", inst.Type),
		attribute.String("finding.aggregation_key", f.AggregationKey),
	))
	defer span.End()

	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("sink panicked: %v\n%s", rec, debug.Stack())
			}
		}()
		return inst.Write(ctx, f, platformEnabled)
	}()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.SinkErrors.WithLabelValues(inst.Name, inst.Type).Inc()
		r.log.Error(err, "Failed to publish finding to sink", "sink", inst.Name, "finding", f.Title)
		return
	}
	r.metrics.SinkFindings.WithLabelValues(inst.Name, inst.Type).Inc()
}

// serialize renders findings for synchronous responses.
func (r *Runner) serialize(findings event.Findings) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(findings))
	for _, f := range ordered(findings) {
		body, err := json.Marshal(f)
		if err != nil {
			r.log.Error(err, "Failed to serialize finding", "finding", f.Title)
			continue
		}
		out = append(out, body)
	}
	return out
}

// ordered returns findings by start time, then key.
func ordered(findings event.Findings) []*finding.Finding {
	keys := make([]string, 0, len(findings))
	for k := range findings {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		fa, fb := findings[keys[a]], findings[keys[b]]
		if !fa.StartsAt.Equal(fb.StartsAt) {
			return fa.StartsAt.Before(fb.StartsAt)
		}
		return keys[a] < keys[b]
	})
	out := make([]*finding.Finding, 0, len(keys))
	for _, k := range keys {
		out = append(out, findings[k])
	}
	return out
}

// paramKeys lists parameter names for logs. Values may carry secrets.
func paramKeys(params map[string]any) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func actionNames(actions []playbook.Action) []string {
	names := make([]string, 0, len(actions))
	for _, a := range actions {
		names = append(names, a.Name)
	}
	return names
}
