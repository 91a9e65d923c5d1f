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

	"github.com/marcus-qen/robusta/internal/event"
)

const statusAll = "all"

// PrometheusAlertTrigger fires on alertmanager alerts.
type PrometheusAlertTrigger struct {
	AlertName          string   `json:"alert_name,omitempty"`
	Status             string   `json:"status,omitempty"`
	PodNamePrefix      string   `json:"pod_name_prefix,omitempty"`
	NamespacePrefix    string   `json:"namespace_prefix,omitempty"`
	InstanceNamePrefix string   `json:"instance_name_prefix,omitempty"`
	K8sProviders       []string `json:"k8s_providers,omitempty"`
}

func newPrometheusAlertTrigger(_ string, params json.RawMessage) (Trigger, error) {
	t := &PrometheusAlertTrigger{Status: "firing"}
	if err := decodeStrict(params, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *PrometheusAlertTrigger) Name() string            { return "on_prometheus_alert" }
func (t *PrometheusAlertTrigger) EventKind() event.Kind   { return event.KindPrometheus }
func (t *PrometheusAlertTrigger) EventType() reflect.Type { return reflect.TypeOf(&event.PrometheusAlertEvent{}) }

func (t *PrometheusAlertTrigger) ShouldFire(raw event.TriggerEvent, _ string) bool {
	e, ok := raw.(*event.PrometheusTriggerEvent)
	if !ok {
		return false
	}
	labels := e.Alert.Labels
	if !exactMatch(t.AlertName, labels["alertname"]) {
		return false
	}
	if t.Status != statusAll && !exactMatch(t.Status, e.Alert.Status) {
		return false
	}
	return prefixMatch(t.PodNamePrefix, labels["pod"]) &&
		prefixMatch(t.NamespacePrefix, labels["namespace"]) &&
		prefixMatch(t.InstanceNamePrefix, labels["instance"])
}

// hydratedAlert is the per-dispatch cache entry for alert resources.
type hydratedAlert struct {
	resources event.PrometheusAlertEvent
}

// Build creates an alert event. Resources named by the alert labels are
// read once per dispatch and shared by every playbook.
func (t *PrometheusAlertTrigger) Build(ctx context.Context, raw event.TriggerEvent, bc *BuildContext) (event.ExecutionEvent, error) {
	e := raw.(*event.PrometheusTriggerEvent)
	v, err := bc.load("prometheus", func() (any, error) {
		h := &hydratedAlert{resources: event.PrometheusAlertEvent{Alert: e.Alert}}
		if bc.Hydrator != nil {
			bc.Hydrator.HydrateAlert(ctx, &h.resources)
		}
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	r := &v.(*hydratedAlert).resources
	return &event.PrometheusAlertEvent{
		Alert:       e.Alert,
		Pod:         r.Pod,
		Deployment:  r.Deployment,
		DaemonSet:   r.DaemonSet,
		StatefulSet: r.StatefulSet,
		Job:         r.Job,
		Node:        r.Node,
	}, nil
}

func init() {
	RegisterFactory("on_prometheus_alert", newPrometheusAlertTrigger)
}
