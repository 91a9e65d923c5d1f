/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package playbook

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/go-logr/logr"
	"sigs.k8s.io/yaml"

	"github.com/marcus-qen/robusta/internal/action"
	"github.com/marcus-qen/robusta/internal/event"
)

type silenceParams struct {
	Severity string `json:"severity" validate:"required"`
	Cluster  string `json:"cluster_name,omitempty"`
}

type strictParams struct {
	Mode string `json:"mode"`
}

func (p *strictParams) PreDeploy(t action.Trigger) error {
	if p.Mode == "pods-only" && t.Name() != "on_pod_create" {
		return fmt.Errorf("mode %q only supports on_pod_create", p.Mode)
	}
	return nil
}

func testActions() *action.Registry {
	r := action.NewRegistry(logr.Discard())
	action.Register(r, "severity_silencer", func(context.Context, *event.PrometheusAlertEvent, *silenceParams) error { return nil })
	action.RegisterSimple(r, "pod_enricher", func(context.Context, event.PodEvent) error { return nil })
	action.RegisterSimple(r, "generic", func(context.Context, event.ExecutionEvent) error { return nil })
	action.Register(r, "strict", func(context.Context, event.ExecutionEvent, *strictParams) error { return nil })
	return r
}

func parse(t *testing.T, doc string) []*Definition {
	t.Helper()
	var defs []*Definition
	if err := yaml.Unmarshal([]byte(doc), &defs); err != nil {
		t.Fatalf("parse playbooks: %v", err)
	}
	return defs
}

func TestAction_Unmarshal(t *testing.T) {
	defs := parse(t, `
- triggers:
  - on_pod_create: {}
  actions:
  - pod_enricher:
  - severity_silencer:
      severity: low
`)
	acts := defs[0].Actions
	if len(acts) != 2 || acts[0].Name != "pod_enricher" || acts[1].Name != "severity_silencer" {
		t.Fatalf("unexpected actions: %+v", acts)
	}
	if acts[1].Params["severity"] != "low" {
		t.Errorf("expected severity low, got %v", acts[1].Params["severity"])
	}

	var a Action
	if err := yaml.Unmarshal([]byte("{a: {}, b: {}}"), &a); err == nil {
		t.Error("expected error for two action names")
	}
}

func TestAction_MergedParams(t *testing.T) {
	a := Action{Name: "x", Params: map[string]any{"severity": "high"}}
	merged := a.MergedParams(map[string]any{"severity": "low", "cluster_name": "prod"})
	if merged["severity"] != "high" {
		t.Errorf("expected action value to win, got %v", merged["severity"])
	}
	if merged["cluster_name"] != "prod" {
		t.Errorf("expected global value, got %v", merged["cluster_name"])
	}
}

func TestDefinition_ID(t *testing.T) {
	a := parse(t, `
- triggers:
  - on_prometheus_alert: {alert_name: A, status: firing}
  actions:
  - generic: {}
`)[0]
	reordered := parse(t, `
- triggers:
  - on_prometheus_alert: {status: firing, alert_name: A}
  actions:
  - generic: {}
`)[0]
	if a.ID() != reordered.ID() {
		t.Error("expected key order not to change the id")
	}
	if len(a.ID()) != 32 {
		t.Errorf("expected md5 hex id, got %q", a.ID())
	}

	withSinks := *a
	withSinks.Sinks = []string{"slack"}
	if withSinks.ID() == a.ID() {
		t.Error("expected sinks to change the id")
	}
	emptySinks := *a
	emptySinks.Sinks = []string{}
	if emptySinks.ID() == a.ID() {
		t.Error("expected empty sinks to differ from default sinks")
	}
	stopped := *a
	stopped.Stop = true
	if stopped.ID() == a.ID() {
		t.Error("expected stop to change the id")
	}

	hashed := *a
	hashed.Actions = []Action{{Name: "generic", Params: map[string]any{}, FuncHash: "abc"}}
	if hashed.ID() == a.ID() {
		t.Error("expected func hash to change the id")
	}
}

func TestNewRegistry_ForEvent(t *testing.T) {
	defs := parse(t, `
- name: first
  triggers:
  - on_prometheus_alert: {alert_name: KubePodCrashLooping}
  actions:
  - pod_enricher: {}
- name: disabled
  disabled: true
  triggers:
  - on_prometheus_alert: {}
  actions:
  - generic: {}
- name: second
  triggers:
  - on_pod_create: {}
  - on_prometheus_alert: {}
  actions:
  - generic: {}
- name: scheduled
  triggers:
  - on_schedule:
      fixed_delay_repeat: {repeat: 2, seconds_delay: 10}
  actions:
  - generic: {}
`)
	internal := parse(t, `
- name: discovery
  triggers:
  - on_kubernetes_any_resource_all_changes: {}
  actions:
  - generic: {}
`)
	r, err := NewRegistry(testActions(), Options{
		Internal:     internal,
		Playbooks:    defs,
		DefaultSinks: []string{"main"},
		GlobalConfig: map[string]any{"cluster_name": "prod"},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	var names []string
	for _, pb := range r.ForEvent(event.KindPrometheus) {
		names = append(names, pb.Name)
	}
	if !reflect.DeepEqual(names, []string{"first", "second"}) {
		t.Errorf("expected [first second], got %v", names)
	}
	k8s := r.ForEvent(event.KindKubernetes)
	if len(k8s) != 2 || k8s[0].Name != "discovery" || k8s[1].Name != "second" {
		t.Errorf("expected internal playbook first, got %v", k8s)
	}
	if len(r.Scheduled()) != 1 || r.Scheduled()[0].Name != "scheduled" {
		t.Errorf("expected one scheduled playbook, got %d", len(r.Scheduled()))
	}
	if len(r.ForEvent(event.KindScheduled)) != 0 {
		t.Error("scheduled playbooks must not be matched by raw events")
	}
	if len(r.All()) != 4 {
		t.Errorf("expected 4 enabled playbooks, got %d", len(r.All()))
	}
	if !reflect.DeepEqual(r.Kinds(), []event.Kind{event.KindKubernetes, event.KindPrometheus}) {
		t.Errorf("unexpected kinds %v", r.Kinds())
	}
	if !reflect.DeepEqual(r.DefaultSinks(), []string{"main"}) {
		t.Errorf("unexpected default sinks %v", r.DefaultSinks())
	}
	if defs[0].Actions[0].FuncHash == "" {
		t.Error("expected func hash to be recorded on validation")
	}
}

func TestNewRegistry_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{
			name: "unknown action",
			doc: `
- triggers: [{on_pod_create: {}}]
  actions: [{missing: {}}]
`,
			want: ErrUnknownAction,
		},
		{
			name: "event type mismatch",
			doc: `
- triggers: [{on_deployment_update: {}}]
  actions: [{pod_enricher: {}}]
`,
			want: ErrEventTypeMismatch,
		},
		{
			name: "missing required param",
			doc: `
- triggers: [{on_prometheus_alert: {}}]
  actions: [{severity_silencer: {}}]
`,
			want: action.ErrInvalidParams,
		},
		{
			name: "scheduled with two actions",
			doc: `
- triggers: [{on_schedule: {fixed_delay_repeat: {repeat: 1, seconds_delay: 1}}}]
  actions: [{generic: {}}, {generic: {}}]
`,
			want: ErrInvalidScheduledPlaybook,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(testActions(), Options{Playbooks: parse(t, tt.doc)})
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestNewRegistry_GlobalConfigSatisfiesParams(t *testing.T) {
	defs := parse(t, `
- triggers: [{on_prometheus_alert: {}}]
  actions: [{severity_silencer: {}}]
`)
	_, err := NewRegistry(testActions(), Options{
		Playbooks:    defs,
		GlobalConfig: map[string]any{"severity": "info"},
	})
	if err != nil {
		t.Errorf("expected global config to fill required params, got %v", err)
	}
}

func TestNewRegistry_PreDeploy(t *testing.T) {
	defs := parse(t, `
- triggers: [{on_pod_create: {}}, {on_pod_update: {}}]
  actions: [{strict: {mode: pods-only}}]
`)
	if _, err := NewRegistry(testActions(), Options{Playbooks: defs}); err == nil {
		t.Error("expected pre-deploy failure for on_pod_update")
	}
}

func TestNewRegistry_JoinsAllErrors(t *testing.T) {
	defs := parse(t, `
- triggers: [{on_pod_create: {}}]
  actions: [{missing_one: {}}]
- triggers: [{on_pod_create: {}}]
  actions: [{missing_two: {}}]
`)
	_, err := NewRegistry(testActions(), Options{Playbooks: defs})
	if err == nil {
		t.Fatal("expected error")
	}
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) || len(joined.Unwrap()) != 2 {
		t.Errorf("expected two joined errors, got %v", err)
	}
}
