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

	"github.com/go-logr/logr"
	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/marcus-qen/robusta/internal/event"
)

// Hydrator reads the resources an alert's labels name.
type Hydrator struct {
	client client.Client
	log    logr.Logger
}

// NewHydrator creates a hydrator reading through c.
func NewHydrator(c client.Client, log logr.Logger) *Hydrator {
	return &Hydrator{client: c, log: log.WithName("hydrator")}
}

// HydrateAlert fills in the workload and node of e. Namespaced resources
// are looked up in the alert's namespace label. A resource that cannot be
// read is logged and left nil.
func (h *Hydrator) HydrateAlert(ctx context.Context, e *event.PrometheusAlertEvent) {
	labels := e.Alert.Labels
	ns := labels["namespace"]

	if name := labels["deployment"]; name != "" {
		d := &appsv1.Deployment{}
		if h.get(ctx, "deployment", ns, name, d) {
			e.Deployment = d
		}
	}
	if name := labels["daemonset"]; name != "" {
		d := &appsv1.DaemonSet{}
		if h.get(ctx, "daemonset", ns, name, d) {
			e.DaemonSet = d
		}
	}
	if name := labels["statefulset"]; name != "" {
		s := &appsv1.StatefulSet{}
		if h.get(ctx, "statefulset", ns, name, s) {
			e.StatefulSet = s
		}
	}
	if name := labels["job_name"]; name != "" {
		j := &batchv1.Job{}
		if h.get(ctx, "job", ns, name, j) {
			e.Job = j
		}
	}
	if name := labels["pod"]; name != "" {
		p := &corev1.Pod{}
		if h.get(ctx, "pod", ns, name, p) {
			e.Pod = p
		}
	}

	if node := event.AlertNodeName(labels); node != "" {
		n := &corev1.Node{}
		if h.get(ctx, "node", "", node, n) {
			e.Node = n
		}
	}
}

func (h *Hydrator) get(ctx context.Context, kind, namespace, name string, obj client.Object) bool {
	err := h.client.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, obj)
	switch {
	case err == nil:
		return true
	case apierrors.IsNotFound(err):
		h.log.V(1).Info("Alert resource not found", "kind", kind, "namespace", namespace, "name", name)
	default:
		h.log.Error(err, "Failed to read alert resource", "kind", kind, "namespace", namespace, "name", name)
	}
	return false
}
