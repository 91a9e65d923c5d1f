/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package event defines the raw events produced by ingress adapters and the
// typed execution events that actions run against.
//
// A raw TriggerEvent is consumed once by the dispatcher. A trigger that
// accepts it builds an ExecutionEvent, which carries the findings map, the
// named sinks and the stop flag for the rest of the dispatch.
package event

import (
	"fmt"
	"time"
)

// Kind is the raw-event kind playbooks are indexed by.
type Kind string

const (
	KindPrometheus  Kind = "prometheus"
	KindKubernetes  Kind = "kubernetes"
	KindScheduled   Kind = "scheduled"
	KindHelmRelease Kind = "helm_release"
	KindLogLine     Kind = "log_line"
)

// TriggerEvent is a raw event as received from an ingress adapter.
type TriggerEvent interface {
	// EventKind selects the playbooks that may handle the event.
	EventKind() Kind

	// EventName describes the event for logs.
	EventName() string
}

// --- Prometheus ---

// PrometheusAlert is a single alert of an alertmanager webhook payload.
type PrometheusAlert struct {
	EndsAt       time.Time         `json:"endsAt"`
	GeneratorURL string            `json:"generatorURL"`
	StartsAt     time.Time         `json:"startsAt"`
	Fingerprint  string            `json:"fingerprint"`
	Status       string            `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
}

// Name returns the alertname label.
func (a PrometheusAlert) Name() string {
	return a.Labels["alertname"]
}

// AlertManagerEvent is the alertmanager v4 webhook envelope.
type AlertManagerEvent struct {
	Alerts            []PrometheusAlert `json:"alerts"`
	ExternalURL       string            `json:"externalURL"`
	GroupKey          string            `json:"groupKey"`
	Version           string            `json:"version"`
	CommonAnnotations map[string]string `json:"commonAnnotations,omitempty"`
	CommonLabels      map[string]string `json:"commonLabels,omitempty"`
	GroupLabels       map[string]string `json:"groupLabels,omitempty"`
	Receiver          string            `json:"receiver,omitempty"`
	Status            string            `json:"status,omitempty"`
}

// PrometheusTriggerEvent wraps one alert of an alertmanager group.
type PrometheusTriggerEvent struct {
	Alert PrometheusAlert
}

func (e *PrometheusTriggerEvent) EventKind() Kind { return KindPrometheus }
func (e *PrometheusTriggerEvent) EventName() string {
	return fmt.Sprintf("prometheus alert %s (%s)", e.Alert.Name(), e.Alert.Status)
}

// --- Kubernetes ---

// IncomingK8sEventPayload is a Kubernetes change as forwarded by the watcher.
type IncomingK8sEventPayload struct {
	Operation   string         `json:"operation"`
	Kind        string         `json:"kind"`
	APIVersion  string         `json:"apiVersion"`
	ClusterUID  string         `json:"clusterUid"`
	Description string         `json:"description"`
	Obj         map[string]any `json:"obj"`
	OldObj      map[string]any `json:"oldObj,omitempty"`
}

// K8sTriggerEvent wraps a Kubernetes change payload.
type K8sTriggerEvent struct {
	Payload IncomingK8sEventPayload
}

func (e *K8sTriggerEvent) EventKind() Kind { return KindKubernetes }
func (e *K8sTriggerEvent) EventName() string {
	return fmt.Sprintf("kubernetes %s %s", e.Payload.Operation, e.Payload.Kind)
}

// --- Helm releases ---

// HelmReleaseInfo is the status block of a Helm release.
type HelmReleaseInfo struct {
	FirstDeployed string `json:"first_deployed,omitempty"`
	LastDeployed  string `json:"last_deployed,omitempty"`
	Deleted       string `json:"deleted,omitempty"`
	Description   string `json:"description,omitempty"`
	Status        string `json:"status"`
	Notes         string `json:"notes,omitempty"`
}

// HelmRelease is one release reported by the release watcher.
type HelmRelease struct {
	Name      string          `json:"name"`
	Namespace string          `json:"namespace"`
	Chart     string          `json:"chart,omitempty"`
	Version   int             `json:"version"`
	Info      HelmReleaseInfo `json:"info"`
}

// HelmReleasesTriggerEvent wraps a single Helm release update.
type HelmReleasesTriggerEvent struct {
	Release HelmRelease
}

func (e *HelmReleasesTriggerEvent) EventKind() Kind { return KindHelmRelease }
func (e *HelmReleasesTriggerEvent) EventName() string {
	return fmt.Sprintf("helm release %s/%s (%s)", e.Release.Namespace, e.Release.Name, e.Release.Info.Status)
}

// --- Log lines ---

// LogLineKubernetes is the Kubernetes metadata a log shipper attaches to a line.
type LogLineKubernetes struct {
	PodName       string            `json:"pod_name"`
	PodNamespace  string            `json:"pod_namespace"`
	ContainerName string            `json:"container_name"`
	PodNodeName   string            `json:"pod_node_name,omitempty"`
	PodLabels     map[string]string `json:"pod_labels,omitempty"`
}

// LogLine is a single log line forwarded to /api/vector.
type LogLine struct {
	Message    string            `json:"message"`
	Timestamp  time.Time         `json:"timestamp"`
	SourceType string            `json:"source_type,omitempty"`
	Kubernetes LogLineKubernetes `json:"kubernetes"`
}

// LogLineTriggerEvent wraps a forwarded log line.
type LogLineTriggerEvent struct {
	Line LogLine
}

func (e *LogLineTriggerEvent) EventKind() Kind { return KindLogLine }
func (e *LogLineTriggerEvent) EventName() string {
	return fmt.Sprintf("log line %s/%s", e.Line.Kubernetes.PodNamespace, e.Line.Kubernetes.PodName)
}
