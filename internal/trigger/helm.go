/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package trigger

import (
	"context"
	"encoding/json"
	"reflect"
	"slices"
	"strings"

	"github.com/marcus-qen/robusta/internal/event"
)

// HelmUpdateTrigger fires on Helm release status updates.
type HelmUpdateTrigger struct {
	Status    string   `json:"status,omitempty"`
	NamesIn   []string `json:"names_in,omitempty"`
	Namespace string   `json:"namespace,omitempty"`
}

func newHelmUpdateTrigger(_ string, params json.RawMessage) (Trigger, error) {
	t := &HelmUpdateTrigger{}
	if err := decodeStrict(params, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *HelmUpdateTrigger) Name() string            { return "on_helm_update" }
func (t *HelmUpdateTrigger) EventKind() event.Kind   { return event.KindHelmRelease }
func (t *HelmUpdateTrigger) EventType() reflect.Type { return reflect.TypeOf(&event.HelmReleaseEvent{}) }

func (t *HelmUpdateTrigger) ShouldFire(raw event.TriggerEvent, _ string) bool {
	e, ok := raw.(*event.HelmReleasesTriggerEvent)
	if !ok {
		return false
	}
	r := e.Release
	if t.Status != "" && !strings.EqualFold(t.Status, r.Info.Status) {
		return false
	}
	if len(t.NamesIn) > 0 && !slices.Contains(t.NamesIn, r.Name) {
		return false
	}
	return exactMatch(t.Namespace, r.Namespace)
}

func (t *HelmUpdateTrigger) Build(_ context.Context, raw event.TriggerEvent, _ *BuildContext) (event.ExecutionEvent, error) {
	return &event.HelmReleaseEvent{Release: raw.(*event.HelmReleasesTriggerEvent).Release}, nil
}

func init() {
	RegisterFactory("on_helm_update", newHelmUpdateTrigger)
}
