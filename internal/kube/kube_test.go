/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package kube

import (
	"context"
	"errors"
	"testing"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/marcus-qen/robusta/internal/event"
)

const testKubeconfig = `
apiVersion: v1
kind: Config
clusters:
- name: test
  cluster:
    server: https://10.0.0.1:6443
contexts:
- name: test
  context:
    cluster: test
    user: test
current-context: test
users:
- name: test
  user:
    token: abc
`

func meta(name, ns string) metav1.ObjectMeta {
	return metav1.ObjectMeta{Name: name, Namespace: ns}
}

func newHydrator(objs ...client.Object) *Hydrator {
	c := fake.NewClientBuilder().WithScheme(Scheme()).WithObjects(objs...).Build()
	return NewHydrator(c, zap.New(zap.UseDevMode(true)))
}

func alert(labels map[string]string) *event.PrometheusAlertEvent {
	return &event.PrometheusAlertEvent{Alert: event.PrometheusAlert{Labels: labels}}
}

func TestHydrateAlert_Workloads(t *testing.T) {
	h := newHydrator(
		&appsv1.Deployment{ObjectMeta: meta("api", "prod")},
		&appsv1.DaemonSet{ObjectMeta: meta("agent", "prod")},
		&appsv1.StatefulSet{ObjectMeta: meta("db", "prod")},
		&batchv1.Job{ObjectMeta: meta("backup", "prod")},
		&corev1.Pod{ObjectMeta: meta("api-123", "prod"), Spec: corev1.PodSpec{NodeName: "node-1"}},
		&corev1.Node{ObjectMeta: meta("node-1", "")},
	)
	e := alert(map[string]string{
		"namespace":   "prod",
		"deployment":  "api",
		"daemonset":   "agent",
		"statefulset": "db",
		"job_name":    "backup",
		"pod":         "api-123",
		"node":        "node-1",
	})
	h.HydrateAlert(context.Background(), e)

	if e.Deployment == nil || e.Deployment.Name != "api" {
		t.Errorf("expected deployment api, got %v", e.Deployment)
	}
	if e.DaemonSet == nil || e.StatefulSet == nil || e.Job == nil {
		t.Errorf("expected daemonset, statefulset and job to be hydrated")
	}
	if e.Pod == nil || e.Pod.Spec.NodeName != "node-1" {
		t.Errorf("expected pod api-123, got %v", e.Pod)
	}
	if e.Node == nil || e.Node.Name != "node-1" {
		t.Errorf("expected node node-1, got %v", e.Node)
	}
}

func TestHydrateAlert_InstanceLabel(t *testing.T) {
	h := newHydrator(&corev1.Node{ObjectMeta: meta("10.0.0.7", "")})
	e := alert(map[string]string{"instance": "10.0.0.7:9100"})
	h.HydrateAlert(context.Background(), e)
	if e.Node == nil {
		t.Fatal("expected node from instance label")
	}
}

func TestHydrateAlert_MissingResourcesStayNil(t *testing.T) {
	h := newHydrator()
	e := alert(map[string]string{"namespace": "prod", "pod": "gone", "deployment": "gone"})
	h.HydrateAlert(context.Background(), e)
	if e.Pod != nil || e.Deployment != nil || e.Node != nil {
		t.Errorf("expected nothing hydrated, got pod=%v deployment=%v", e.Pod, e.Deployment)
	}
}

func TestHydrateAlert_ReadErrorStaysNil(t *testing.T) {
	c := fake.NewClientBuilder().WithScheme(Scheme()).WithInterceptorFuncs(interceptor.Funcs{
		Get: func(context.Context, client.WithWatch, client.ObjectKey, client.Object, ...client.GetOption) error {
			return errors.New("connection refused")
		},
	}).Build()
	h := NewHydrator(c, zap.New(zap.UseDevMode(true)))
	e := alert(map[string]string{"namespace": "prod", "pod": "api-123"})
	h.HydrateAlert(context.Background(), e)
	if e.Pod != nil {
		t.Errorf("expected no pod, got %v", e.Pod)
	}
}

func TestRESTConfigFromKubeconfig(t *testing.T) {
	cfg, err := RESTConfigFromKubeconfig([]byte(testKubeconfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Host != "https://10.0.0.1:6443" {
		t.Errorf("expected host from kubeconfig, got %q", cfg.Host)
	}
	if cfg.QPS != DefaultQPS || cfg.Burst != DefaultBurst {
		t.Errorf("expected default rate limits, got qps=%v burst=%d", cfg.QPS, cfg.Burst)
	}
	if cfg.BearerToken != "abc" {
		t.Errorf("expected token from kubeconfig, got %q", cfg.BearerToken)
	}
}

func TestRESTConfigFromKubeconfig_Invalid(t *testing.T) {
	if _, err := RESTConfigFromKubeconfig([]byte("not: [valid")); err == nil {
		t.Fatal("expected error for invalid kubeconfig")
	}
}

func TestRESTConfig_ExplicitPathMissing(t *testing.T) {
	if _, err := RESTConfig("/nonexistent/kubeconfig"); err == nil {
		t.Fatal("expected error for missing kubeconfig file")
	}
}
