/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package event

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/go-logr/logr"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/marcus-qen/robusta/internal/finding"
)

func highCPUAlert() PrometheusAlert {
	return PrometheusAlert{
		Status: "firing",
		Labels: map[string]string{
			"alertname": "HighCPU",
			"severity":  "warning",
			"pod":       "web-0",
			"namespace": "prod",
		},
		Annotations: map[string]string{"description": "CPU above 90%"},
		StartsAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Fingerprint: "fp-1",
	}
}

func TestPrometheusDefaultFinding(t *testing.T) {
	e := &PrometheusAlertEvent{Alert: highCPUAlert()}
	f := e.CreateDefaultFinding()

	if f.Title != "HighCPU" {
		t.Errorf("expected title HighCPU, got %q", f.Title)
	}
	if f.AggregationKey != "HighCPU" {
		t.Errorf("expected aggregation key HighCPU, got %q", f.AggregationKey)
	}
	if f.Severity != finding.SeverityMedium {
		t.Errorf("expected MEDIUM severity, got %s", f.Severity)
	}
	if f.Subject.Type != finding.SubjectPod || f.Subject.Name != "web-0" || f.Subject.Namespace != "prod" {
		t.Errorf("unexpected subject %+v", f.Subject)
	}
	if f.Fingerprint != "fp-1" {
		t.Errorf("expected alert fingerprint, got %q", f.Fingerprint)
	}
	if f.Source != finding.SourcePrometheus {
		t.Errorf("expected prometheus source, got %s", f.Source)
	}
	if !f.StartsAt.Equal(e.Alert.StartsAt) {
		t.Errorf("expected starts_at from alert, got %v", f.StartsAt)
	}
}

func TestPrometheusDefaultFinding_Resolved(t *testing.T) {
	alert := highCPUAlert()
	alert.Status = "resolved"
	alert.Annotations["summary"] = "CPU is high"
	f := (&PrometheusAlertEvent{Alert: alert}).CreateDefaultFinding()
	if f.Title != "[RESOLVED] CPU is high" {
		t.Errorf("unexpected title %q", f.Title)
	}
	if f.Status() != finding.StatusResolved {
		t.Error("expected resolved status")
	}
}

func TestPrometheusSubject_PrefersHydratedPod(t *testing.T) {
	e := &PrometheusAlertEvent{Alert: highCPUAlert()}
	e.Pod = &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "web-0", Namespace: "prod", Labels: map[string]string{"app": "web"}},
		Spec:       corev1.PodSpec{NodeName: "node-a"},
	}
	s := e.Subject()
	if s.Node != "node-a" || s.Labels["app"] != "web" {
		t.Errorf("expected subject from hydrated pod, got %+v", s)
	}
}

func TestPrometheusSubject_NodeFromInstance(t *testing.T) {
	e := &PrometheusAlertEvent{Alert: PrometheusAlert{
		Labels: map[string]string{"alertname": "NodeDown", "instance": "10.0.0.1:9100"},
	}}
	s := e.Subject()
	if s.Type != finding.SubjectNode || s.Name != "10.0.0.1" {
		t.Errorf("expected node subject from instance, got %+v", s)
	}
}

func TestAlertSeverity(t *testing.T) {
	cases := map[string]finding.Severity{
		"critical": finding.SeverityHigh,
		"warning":  finding.SeverityMedium,
		"low":      finding.SeverityLow,
		"info":     finding.SeverityInfo,
		"":         finding.SeverityInfo,
		"bogus":    finding.SeverityInfo,
	}
	for label, want := range cases {
		if got := AlertSeverity(label); got != want {
			t.Errorf("AlertSeverity(%q): expected %s, got %s", label, want, got)
		}
	}
}

func TestAddEnrichment_UsesOwnerDefaultFinding(t *testing.T) {
	e := &PrometheusAlertEvent{Alert: highCPUAlert()}
	Attach(e, nil, []string{"S1"}, logr.Discard())

	e.AddEnrichment([]finding.Block{&finding.MarkdownBlock{Text: "x"}}, nil, finding.EnrichmentNone, "")
	f, ok := e.Findings[DefaultFindingKey]
	if !ok {
		t.Fatal("expected default finding to be created")
	}
	if f.Title != "HighCPU" {
		t.Errorf("expected alert default finding, got %q", f.Title)
	}
	if len(f.Enrichments) != 1 {
		t.Errorf("expected 1 enrichment, got %d", len(f.Enrichments))
	}
}

func TestAddFinding_KeysAndOverride(t *testing.T) {
	e := &BaseEvent{}
	Attach(e, Findings{}, nil, logr.Discard())

	e.AddFinding(finding.New("a", "a"), "")
	e.AddFinding(finding.New("b", "b"), "")
	if len(e.Findings) != 2 {
		t.Fatalf("expected 2 findings with generated keys, got %d", len(e.Findings))
	}
	e.AddFinding(finding.New("c", "c"), "k")
	e.AddFinding(finding.New("d", "d"), "k")
	if e.Findings["k"].Title != "d" {
		t.Errorf("expected duplicate key to overwrite, got %q", e.Findings["k"].Title)
	}
}

func TestFindingsMapShared(t *testing.T) {
	shared := Findings{}
	first := &PrometheusAlertEvent{Alert: highCPUAlert()}
	second := &PrometheusAlertEvent{Alert: highCPUAlert()}
	Attach(first, shared, nil, logr.Discard())
	Attach(second, shared, nil, logr.Discard())

	first.AddEnrichment([]finding.Block{&finding.MarkdownBlock{Text: "one"}}, nil, finding.EnrichmentNone, "")
	second.AddEnrichment([]finding.Block{&finding.MarkdownBlock{Text: "two"}}, nil, finding.EnrichmentNone, "")

	if n := len(shared[DefaultFindingKey].Enrichments); n != 2 {
		t.Fatalf("expected both events to enrich one finding, got %d enrichments", n)
	}
}

func TestAssignable(t *testing.T) {
	alertType := reflect.TypeOf(&PrometheusAlertEvent{})
	podKind, _ := LookupKind("Pod")

	tests := []struct {
		name     string
		actual   reflect.Type
		required reflect.Type
		want     bool
	}{
		{"root interface", alertType, TypeOf[ExecutionEvent](), true},
		{"same concrete", alertType, alertType, true},
		{"alert is pod event", alertType, TypeOf[PodEvent](), true},
		{"pod change is pod event", podKind.EventType, TypeOf[PodEvent](), true},
		{"pod change is resource event", podKind.EventType, TypeOf[KubernetesResourceEvent](), true},
		{"alert is not resource event", alertType, TypeOf[KubernetesResourceEvent](), false},
		{"scheduled is not alert", reflect.TypeOf(&ScheduledEvent{}), alertType, false},
		{"nil actual", nil, alertType, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Assignable(tt.actual, tt.required); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestResourceKind_Build(t *testing.T) {
	kind, ok := LookupKind("Deployment")
	if !ok {
		t.Fatal("expected Deployment kind")
	}
	obj := &appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Name: "api", Namespace: "prod"}}
	e := kind.Build(OperationUpdate, obj, nil)

	if reflect.TypeOf(e) != kind.EventType {
		t.Errorf("expected %v, got %T", kind.EventType, e)
	}
	if e.OldResource() != nil {
		t.Error("expected nil old resource")
	}
	dep, ok := e.(DeploymentEvent)
	if !ok || dep.GetDeployment().Name != "api" {
		t.Fatalf("expected deployment event, got %T", e)
	}
	f := e.CreateDefaultFinding()
	if f.Title != "Update Deployment prod/api" {
		t.Errorf("unexpected title %q", f.Title)
	}
	if f.AggregationKey != "DeploymentUpdate" {
		t.Errorf("unexpected aggregation key %q", f.AggregationKey)
	}
	if f.Type != finding.TypeConfChange {
		t.Errorf("expected CONF_CHANGE, got %s", f.Type)
	}
}

func TestLookupKind_Unknown(t *testing.T) {
	if _, ok := LookupKind("Widget"); ok {
		t.Error("expected unknown kind")
	}
}

func TestConstructor_Pod(t *testing.T) {
	pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "web-0", Namespace: "prod"}}
	c := fake.NewClientBuilder().WithScheme(scheme.Scheme).WithObjects(pod).Build()

	ctor, ok := LookupConstructor(TypeOf[PodEvent]())
	if !ok {
		t.Fatal("expected pod constructor")
	}
	params, err := ctor.NewParams(map[string]any{"name": "web-0", "namespace": "prod"})
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	e, err := ctor.Build(context.Background(), Deps{Client: c}, params)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if e.(PodEvent).GetPod().Name != "web-0" {
		t.Errorf("expected pod web-0")
	}

	if _, err := ctor.Build(context.Background(), Deps{}, params); !errors.Is(err, ErrNoClient) {
		t.Errorf("expected ErrNoClient, got %v", err)
	}
}

func TestConstructor_BaseIsExternal(t *testing.T) {
	ctor, ok := LookupConstructor(TypeOf[ExecutionEvent]())
	if !ok {
		t.Fatal("expected base constructor")
	}
	params, err := ctor.NewParams(map[string]any{"named_sinks": []any{"S1"}})
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if got := params.(*BaseParams).NamedSinks; len(got) != 1 || got[0] != "S1" {
		t.Errorf("unexpected named sinks %v", got)
	}
	if _, ok := LookupConstructor(reflect.TypeOf(&PrometheusAlertEvent{})); ok {
		t.Error("alert events must not be externally constructible")
	}
}
