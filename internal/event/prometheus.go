/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package event

import (
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"

	"github.com/marcus-qen/robusta/internal/finding"
)

// PodEvent is satisfied by events that reference a pod.
type PodEvent interface {
	ExecutionEvent
	GetPod() *corev1.Pod
}

// DeploymentEvent is satisfied by events that reference a deployment.
type DeploymentEvent interface {
	ExecutionEvent
	GetDeployment() *appsv1.Deployment
}

// NodeEvent is satisfied by events that reference a node.
type NodeEvent interface {
	ExecutionEvent
	GetNode() *corev1.Node
}

// PrometheusAlertEvent is an alert plus the Kubernetes resources its labels
// point to. Resources that could not be read are nil.
type PrometheusAlertEvent struct {
	BaseEvent

	Alert       PrometheusAlert
	Pod         *corev1.Pod
	Deployment  *appsv1.Deployment
	DaemonSet   *appsv1.DaemonSet
	StatefulSet *appsv1.StatefulSet
	Job         *batchv1.Job
	Node        *corev1.Node
}

func (e *PrometheusAlertEvent) GetPod() *corev1.Pod               { return e.Pod }
func (e *PrometheusAlertEvent) GetDeployment() *appsv1.Deployment { return e.Deployment }
func (e *PrometheusAlertEvent) GetNode() *corev1.Node             { return e.Node }

// AlertName returns the alertname label.
func (e *PrometheusAlertEvent) AlertName() string { return e.Alert.Name() }

// IsResolved reports whether alertmanager marked the alert resolved.
func (e *PrometheusAlertEvent) IsResolved() bool {
	return e.Alert.Status == "resolved"
}

var alertSeverities = map[string]finding.Severity{
	"critical": finding.SeverityHigh,
	"high":     finding.SeverityHigh,
	"medium":   finding.SeverityMedium,
	"error":    finding.SeverityMedium,
	"warning":  finding.SeverityMedium,
	"low":      finding.SeverityLow,
	"info":     finding.SeverityInfo,
}

// AlertSeverity maps an alert severity label to a finding severity.
func AlertSeverity(label string) finding.Severity {
	if sev, ok := alertSeverities[strings.ToLower(label)]; ok {
		return sev
	}
	return finding.SeverityInfo
}

// CreateDefaultFinding uses the alert name as aggregation key and takes the
// subject identity from the alert labels and hydrated resources.
func (e *PrometheusAlertEvent) CreateDefaultFinding() *finding.Finding {
	title := e.Alert.Annotations["summary"]
	if title == "" {
		title = e.AlertName()
	}
	if e.IsResolved() {
		title = "[RESOLVED] " + title
	}
	return finding.New(title, e.AlertName(),
		finding.WithSeverity(AlertSeverity(e.Alert.Labels["severity"])),
		finding.WithSource(finding.SourcePrometheus),
		finding.WithType(finding.TypeIssue),
		finding.WithDescription(e.Alert.Annotations["description"]),
		finding.WithSubject(e.Subject()),
		finding.WithFingerprint(e.Alert.Fingerprint),
		finding.WithStartsAt(e.Alert.StartsAt),
		finding.WithEndsAt(e.Alert.EndsAt),
		finding.WithSilenceURL(true),
		finding.WithSilenceLabels(e.Alert.Labels),
	)
}

// Subject picks the most specific resource the alert is about.
func (e *PrometheusAlertEvent) Subject() finding.Subject {
	labels := e.Alert.Labels
	switch {
	case e.Pod != nil:
		return subjectFromMeta(finding.SubjectPod, e.Pod.Name, e.Pod.Namespace, e.Pod.Spec.NodeName, e.Pod.Labels, e.Pod.Annotations)
	case e.Job != nil:
		return subjectFromMeta(finding.SubjectJob, e.Job.Name, e.Job.Namespace, "", e.Job.Labels, e.Job.Annotations)
	case e.Deployment != nil:
		return subjectFromMeta(finding.SubjectDeployment, e.Deployment.Name, e.Deployment.Namespace, "", e.Deployment.Labels, e.Deployment.Annotations)
	case e.DaemonSet != nil:
		return subjectFromMeta(finding.SubjectDaemonSet, e.DaemonSet.Name, e.DaemonSet.Namespace, "", e.DaemonSet.Labels, e.DaemonSet.Annotations)
	case e.StatefulSet != nil:
		return subjectFromMeta(finding.SubjectStatefulSet, e.StatefulSet.Name, e.StatefulSet.Namespace, "", e.StatefulSet.Labels, e.StatefulSet.Annotations)
	case e.Node != nil:
		return subjectFromMeta(finding.SubjectNode, e.Node.Name, "", e.Node.Name, e.Node.Labels, e.Node.Annotations)
	}

	// Nothing hydrated: fall back to the labels themselves.
	subject := finding.Subject{
		Namespace:   labels["namespace"],
		Labels:      copyLabels(labels),
		Annotations: copyLabels(e.Alert.Annotations),
	}
	for _, candidate := range []struct {
		label string
		typ   finding.SubjectType
	}{
		{"pod", finding.SubjectPod},
		{"job_name", finding.SubjectJob},
		{"deployment", finding.SubjectDeployment},
		{"daemonset", finding.SubjectDaemonSet},
		{"statefulset", finding.SubjectStatefulSet},
	} {
		if name := labels[candidate.label]; name != "" {
			subject.Name = name
			subject.Type = candidate.typ
			subject.Node = labels["node"]
			return subject
		}
	}
	if node := AlertNodeName(labels); node != "" {
		subject.Name = node
		subject.Type = finding.SubjectNode
		subject.Node = node
		subject.Namespace = ""
		return subject
	}
	subject.Type = finding.SubjectNone
	return subject
}

// AlertNodeName returns the node label, or the instance label without its port.
func AlertNodeName(labels map[string]string) string {
	if node := labels["node"]; node != "" {
		return node
	}
	instance := labels["instance"]
	if host, _, found := strings.Cut(instance, ":"); found {
		return host
	}
	return instance
}

func subjectFromMeta(typ finding.SubjectType, name, namespace, node string, labels, annotations map[string]string) finding.Subject {
	return finding.Subject{
		Name:        name,
		Type:        typ,
		Namespace:   namespace,
		Node:        node,
		Labels:      copyLabels(labels),
		Annotations: copyLabels(annotations),
	}
}

func copyLabels(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
