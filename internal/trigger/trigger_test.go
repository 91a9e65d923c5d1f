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
	"errors"
	"reflect"
	"testing"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/marcus-qen/robusta/internal/event"
	"github.com/marcus-qen/robusta/internal/scheduler"
)

func mustDecode(t *testing.T, s string) Trigger {
	t.Helper()
	tr, err := Decode([]byte(s))
	if err != nil {
		t.Fatalf("decode %s: %v", s, err)
	}
	return tr
}

func alertEvent(labels map[string]string, status string) *event.PrometheusTriggerEvent {
	return &event.PrometheusTriggerEvent{Alert: event.PrometheusAlert{Labels: labels, Status: status}}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"unknown trigger", `{"on_nothing": {}}`},
		{"two keys", `{"on_prometheus_alert": {}, "on_pod_create": {}}`},
		{"unknown field", `{"on_prometheus_alert": {"alertname": "x"}}`},
		{"not an object", `["on_prometheus_alert"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.in)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDecode_NullParams(t *testing.T) {
	tr := mustDecode(t, `{"on_pod_create": null}`)
	if tr.Name() != "on_pod_create" {
		t.Errorf("expected on_pod_create, got %s", tr.Name())
	}
}

func TestDefinition_RoundTrip(t *testing.T) {
	var defs []Definition
	in := `[{"on_prometheus_alert":{"alert_name":"HighCPU"}},{"on_deployment_update":{}}]`
	if err := json.Unmarshal([]byte(in), &defs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(defs) != 2 || defs[1].EventKind() != event.KindKubernetes {
		t.Fatalf("unexpected definitions %+v", defs)
	}
	out, err := json.Marshal(defs)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != in {
		t.Errorf("expected %s, got %s", in, out)
	}
}

func TestPrometheusTrigger_ShouldFire(t *testing.T) {
	labels := map[string]string{"alertname": "HighCPU", "pod": "web-0", "namespace": "prod", "instance": "10.0.0.1:9100"}
	tests := []struct {
		name   string
		config string
		status string
		want   bool
	}{
		{"match by name", `{"alert_name":"HighCPU"}`, "firing", true},
		{"other name", `{"alert_name":"LowCPU"}`, "firing", false},
		{"resolved skipped by default", `{"alert_name":"HighCPU"}`, "resolved", false},
		{"status all", `{"alert_name":"HighCPU","status":"all"}`, "resolved", true},
		{"status resolved", `{"status":"resolved"}`, "resolved", true},
		{"pod prefix", `{"pod_name_prefix":"web"}`, "firing", true},
		{"pod prefix miss", `{"pod_name_prefix":"api"}`, "firing", false},
		{"namespace prefix", `{"namespace_prefix":"pr"}`, "firing", true},
		{"instance prefix miss", `{"instance_name_prefix":"192."}`, "firing", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := mustDecode(t, `{"on_prometheus_alert":`+tt.config+`}`)
			if got := tr.ShouldFire(alertEvent(labels, tt.status), "pb"); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}

	tr := mustDecode(t, `{"on_prometheus_alert":{}}`)
	if tr.ShouldFire(&event.K8sTriggerEvent{}, "pb") {
		t.Error("expected prometheus trigger to ignore kubernetes events")
	}
}

type countingHydrator struct{ calls int }

func (h *countingHydrator) HydrateAlert(_ context.Context, e *event.PrometheusAlertEvent) {
	h.calls++
	e.Pod = &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: e.Alert.Labels["pod"], Namespace: "prod"}}
}

func TestPrometheusTrigger_BuildHydratesOnce(t *testing.T) {
	h := &countingHydrator{}
	bc := NewBuildContext(logr.Discard(), h)
	tr := mustDecode(t, `{"on_prometheus_alert":{}}`)
	raw := alertEvent(map[string]string{"alertname": "HighCPU", "pod": "web-0"}, "firing")

	first, err := tr.Build(context.Background(), raw, bc)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	second, err := tr.Build(context.Background(), raw, bc)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if h.calls != 1 {
		t.Errorf("expected 1 hydration, got %d", h.calls)
	}
	if first == second {
		t.Error("expected a fresh execution event per build")
	}
	if first.(*event.PrometheusAlertEvent).Pod.Name != "web-0" {
		t.Error("expected hydrated pod")
	}
	if reflect.TypeOf(first) != tr.EventType() {
		t.Errorf("expected %v, got %T", tr.EventType(), first)
	}
}

func podPayload(op string, labels map[string]any) *event.K8sTriggerEvent {
	return &event.K8sTriggerEvent{Payload: event.IncomingK8sEventPayload{
		Operation:   op,
		Kind:        "Pod",
		APIVersion:  "v1",
		Description: "pod\nchanged",
		ClusterUID:  "c-1",
		Obj: map[string]any{
			"apiVersion": "v1",
			"kind":       "Pod",
			"metadata": map[string]any{
				"name":          "web-0",
				"namespace":     "prod",
				"labels":        labels,
				"managedFields": []any{map[string]any{"manager": "kubectl"}},
			},
			"spec": map[string]any{"nodeName": "node-a"},
		},
	}}
}

func TestKubernetesTrigger_Names(t *testing.T) {
	names := Names()
	for _, want := range []string{
		"on_pod_create", "on_pod_update", "on_pod_delete", "on_pod_all_changes",
		"on_deployment_update", "on_configmap_create",
		"on_kubernetes_any_resource_all_changes", "on_schedule", "on_helm_update", "on_log_line",
	} {
		found := false
		for _, n := range names {
			if n == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected trigger %s to be registered", want)
		}
	}
}

func TestKubernetesTrigger_ShouldFire(t *testing.T) {
	labels := map[string]any{"app": "web", "tier": "front"}
	tests := []struct {
		name   string
		config string
		op     string
		want   bool
	}{
		{"kind and op", `{"on_pod_create":{}}`, "create", true},
		{"wrong op", `{"on_pod_create":{}}`, "update", false},
		{"all changes", `{"on_pod_all_changes":{}}`, "delete", true},
		{"wrong kind", `{"on_deployment_all_changes":{}}`, "create", false},
		{"any resource", `{"on_kubernetes_any_resource_update":{}}`, "update", true},
		{"name prefix", `{"on_pod_update":{"name_prefix":"web"}}`, "update", true},
		{"name prefix miss", `{"on_pod_update":{"name_prefix":"api"}}`, "update", false},
		{"namespace prefix miss", `{"on_pod_update":{"namespace_prefix":"kube"}}`, "update", false},
		{"labels selector", `{"on_pod_update":{"labels_selector":"app=web, tier=front"}}`, "update", true},
		{"labels selector miss", `{"on_pod_update":{"labels_selector":"app=api"}}`, "update", false},
		{"scope include", `{"on_pod_update":{"scope":{"include":[{"namespace":"prod"}]}}}`, "update", true},
		{"scope exclude", `{"on_pod_update":{"scope":{"exclude":[{"labels":"app=web"}]}}}`, "update", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := mustDecode(t, tt.config)
			if got := tr.ShouldFire(podPayload(tt.op, labels), "pb"); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestKubernetesTrigger_InvalidSelector(t *testing.T) {
	if _, err := Decode([]byte(`{"on_pod_update":{"labels_selector":"app"}}`)); err == nil {
		t.Error("expected illegal selector error")
	}
}

func TestKubernetesTrigger_BuildTyped(t *testing.T) {
	tr := mustDecode(t, `{"on_pod_update":{}}`)
	e, err := tr.Build(context.Background(), podPayload("update", nil), NewBuildContext(logr.Discard(), nil))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	pe, ok := e.(event.PodEvent)
	if !ok {
		t.Fatalf("expected pod event, got %T", e)
	}
	pod := pe.GetPod()
	if pod.Name != "web-0" || pod.Spec.NodeName != "node-a" {
		t.Errorf("unexpected pod %s on %s", pod.Name, pod.Spec.NodeName)
	}
	if len(pod.ManagedFields) != 0 {
		t.Error("expected managed fields to be dropped")
	}
	ce := e.(*event.PodChangeEvent)
	if ce.Description != "podchanged" || ce.ClusterUID != "c-1" {
		t.Errorf("unexpected change info %q %q", ce.Description, ce.ClusterUID)
	}
	if reflect.TypeOf(e) != tr.EventType() {
		t.Errorf("expected %v, got %T", tr.EventType(), e)
	}
}

func TestKubernetesTrigger_BuildAny(t *testing.T) {
	tr := mustDecode(t, `{"on_kubernetes_any_resource_all_changes":{}}`)
	e, err := tr.Build(context.Background(), podPayload("create", nil), NewBuildContext(logr.Discard(), nil))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	ae, ok := e.(*event.AnyChangeEvent)
	if !ok {
		t.Fatalf("expected any change event, got %T", e)
	}
	if ae.Resource().GetName() != "web-0" || ae.OldResource() != nil {
		t.Error("unexpected resource")
	}
}

func TestKubernetesTrigger_UnknownKind(t *testing.T) {
	tr := mustDecode(t, `{"on_kubernetes_any_resource_all_changes":{}}`)
	raw := &event.K8sTriggerEvent{Payload: event.IncomingK8sEventPayload{
		Operation: "create",
		Kind:      "Widget",
		Obj:       map[string]any{"metadata": map[string]any{"name": "w"}},
	}}
	if !tr.ShouldFire(raw, "pb") {
		t.Fatal("expected any-resource trigger to fire")
	}
	e, err := tr.Build(context.Background(), raw, NewBuildContext(logr.Discard(), nil))
	if err != nil || e != nil {
		t.Errorf("expected nil event and no error, got %v, %v", e, err)
	}
}

func TestScheduledTrigger(t *testing.T) {
	tr := mustDecode(t, `{"on_schedule":{"fixed_delay_repeat":{"repeat":3,"seconds_delay":60}}}`)
	st, ok := tr.(*ScheduledTrigger)
	if !ok {
		t.Fatalf("expected scheduled trigger, got %T", tr)
	}
	if st.SchedulingParams().FixedDelayRepeat.Repeat != 3 {
		t.Errorf("unexpected params %+v", st.SchedulingParams())
	}
	if tr.ShouldFire(alertEvent(nil, "firing"), "pb") {
		t.Error("scheduled triggers never fire from raw events")
	}

	_, err := Decode([]byte(`{"on_schedule":{}}`))
	if !errors.Is(err, scheduler.ErrInvalidParams) {
		t.Errorf("expected ErrInvalidParams, got %v", err)
	}
	if _, err := Decode([]byte(`{"on_schedule":{"cron_schedule_repeat":{"cron_expression":"not a cron"}}}`)); err == nil {
		t.Error("expected invalid cron error")
	}
}

func TestHelmUpdateTrigger(t *testing.T) {
	tr := mustDecode(t, `{"on_helm_update":{"status":"failed","names_in":["api"],"namespace":"prod"}}`)
	raw := &event.HelmReleasesTriggerEvent{Release: event.HelmRelease{
		Name: "api", Namespace: "prod", Info: event.HelmReleaseInfo{Status: "FAILED"},
	}}
	if !tr.ShouldFire(raw, "pb") {
		t.Error("expected helm trigger to fire")
	}
	raw.Release.Name = "web"
	if tr.ShouldFire(raw, "pb") {
		t.Error("expected names_in to filter")
	}
}

func TestLogLineTrigger(t *testing.T) {
	tr := mustDecode(t, `{"on_log_line":{"namespace_prefix":"prod","search_regex":"OOM|panic"}}`)
	raw := &event.LogLineTriggerEvent{Line: event.LogLine{
		Message:    "runtime: panic",
		Kubernetes: event.LogLineKubernetes{PodName: "web-0", PodNamespace: "prod"},
	}}
	if !tr.ShouldFire(raw, "pb") {
		t.Error("expected log line trigger to fire")
	}
	raw.Line.Message = "all good"
	if tr.ShouldFire(raw, "pb") {
		t.Error("expected regex to filter")
	}
	if _, err := Decode([]byte(`{"on_log_line":{"search_regex":"("}}`)); err == nil {
		t.Error("expected invalid regex error")
	}
}
