/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package trigger promotes raw ingress events into typed execution events.
// Each trigger listens on one raw-event kind, filters the events of that
// kind and builds the execution event its playbook's actions run against.
package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	"github.com/marcus-qen/robusta/internal/event"
)

// Trigger filters raw events and builds execution events from them.
type Trigger interface {
	// Name is the configuration key of the trigger, e.g. "on_pod_create".
	Name() string

	// EventKind is the raw-event kind the trigger listens on.
	EventKind() event.Kind

	// EventType is the execution event type Build produces.
	EventType() reflect.Type

	// ShouldFire evaluates the trigger's filters.
	ShouldFire(raw event.TriggerEvent, playbookID string) bool

	// Build creates the execution event. A nil event without error means
	// the playbook should be skipped.
	Build(ctx context.Context, raw event.TriggerEvent, bc *BuildContext) (event.ExecutionEvent, error)
}

// Hydrator loads the Kubernetes resources an alert refers to.
type Hydrator interface {
	HydrateAlert(ctx context.Context, e *event.PrometheusAlertEvent)
}

// BuildContext is shared by the triggers of one dispatch so payloads are
// parsed and resources are read once.
type BuildContext struct {
	Log      logr.Logger
	Hydrator Hydrator

	mu    sync.Mutex
	cache map[string]any
}

// NewBuildContext creates a context for one dispatch. hydrator may be nil.
func NewBuildContext(log logr.Logger, hydrator Hydrator) *BuildContext {
	return &BuildContext{Log: log, Hydrator: hydrator, cache: make(map[string]any)}
}

func (bc *BuildContext) load(key string, build func() (any, error)) (any, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if v, ok := bc.cache[key]; ok {
		return v, nil
	}
	v, err := build()
	if err != nil {
		return nil, err
	}
	bc.cache[key] = v
	return v, nil
}

// Factory decodes the parameters of one trigger name.
type Factory func(name string, params json.RawMessage) (Trigger, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// RegisterFactory makes a trigger name available in configuration.
func RegisterFactory(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Names returns every known trigger name, sorted.
func Names() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Decode builds a trigger from its single-key configuration form,
// e.g. {"on_prometheus_alert": {"alert_name": "HighCPU"}}.
func Decode(data []byte) (Trigger, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode trigger: %w", err)
	}
	if len(raw) != 1 {
		keys := make([]string, 0, len(raw))
		for k := range raw {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("trigger must have exactly one key, got %d (%s)", len(raw), strings.Join(keys, ", "))
	}
	for name, params := range raw {
		factoriesMu.RLock()
		f, ok := factories[name]
		factoriesMu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("unknown trigger %q", name)
		}
		if len(params) == 0 || string(params) == "null" {
			params = json.RawMessage("{}")
		}
		t, err := f(name, params)
		if err != nil {
			return nil, fmt.Errorf("trigger %s: %w", name, err)
		}
		return t, nil
	}
	return nil, nil
}

// Definition is a configured trigger. It keeps its raw form so playbook ids
// and reload comparisons can use the configuration as written.
type Definition struct {
	Trigger
	Raw json.RawMessage
}

func (d *Definition) UnmarshalJSON(data []byte) error {
	t, err := Decode(data)
	if err != nil {
		return err
	}
	d.Trigger = t
	d.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func (d Definition) MarshalJSON() ([]byte, error) {
	if d.Raw == nil {
		return []byte("null"), nil
	}
	return d.Raw, nil
}

// decodeStrict decodes trigger params, rejecting unknown fields.
func decodeStrict(params json.RawMessage, out any) error {
	dec := json.NewDecoder(bytes.NewReader(params))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

// exactMatch passes when no expected value is configured.
func exactMatch(expected, value string) bool {
	return expected == "" || expected == value
}

// prefixMatch passes when no prefix is configured.
func prefixMatch(prefix, value string) bool {
	return prefix == "" || strings.HasPrefix(value, prefix)
}
