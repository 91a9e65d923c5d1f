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
	"fmt"
	"reflect"
	"strings"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/marcus-qen/robusta/internal/event"
	"github.com/marcus-qen/robusta/internal/finding"
)

// anyKind matches every Kubernetes kind with a typed model.
const anyKind = "Any"

var operationSuffixes = map[string]event.Operation{
	"create":      event.OperationCreate,
	"update":      event.OperationUpdate,
	"delete":      event.OperationDelete,
	"all_changes": "",
}

// KubernetesTrigger fires on Kubernetes resource changes.
type KubernetesTrigger struct {
	NamePrefix      string         `json:"name_prefix,omitempty"`
	NamespacePrefix string         `json:"namespace_prefix,omitempty"`
	LabelsSelector  string         `json:"labels_selector,omitempty"`
	Scope           *finding.Scope `json:"scope,omitempty"`

	name      string
	kind      string
	operation event.Operation
	selector  labels.Set
	eventType reflect.Type
	matcher   *finding.Matcher
}

func newKubernetesTrigger(kind string, op event.Operation, eventType reflect.Type) Factory {
	return func(name string, params json.RawMessage) (Trigger, error) {
		t := &KubernetesTrigger{
			name:      name,
			kind:      kind,
			operation: op,
			eventType: eventType,
			matcher:   finding.NewMatcher(logr.Discard()),
		}
		if err := decodeStrict(params, t); err != nil {
			return nil, err
		}
		if t.LabelsSelector != "" {
			sel, err := parseEqualitySelector(t.LabelsSelector)
			if err != nil {
				return nil, err
			}
			t.selector = sel
		}
		if t.Scope != nil {
			if err := t.Scope.Validate(); err != nil {
				return nil, err
			}
		}
		return t, nil
	}
}

// parseEqualitySelector parses "k=v,k2=v2".
func parseEqualitySelector(s string) (labels.Set, error) {
	set := labels.Set{}
	for _, part := range strings.Split(s, ",") {
		kv := strings.Split(part, "=")
		if len(kv) != 2 {
			return nil, fmt.Errorf("illegal label selector %q", part)
		}
		set[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return set, nil
}

func (t *KubernetesTrigger) Name() string            { return t.name }
func (t *KubernetesTrigger) EventKind() event.Kind   { return event.KindKubernetes }
func (t *KubernetesTrigger) EventType() reflect.Type { return t.eventType }

// Kind is the Kubernetes kind the trigger listens on, or "Any".
func (t *KubernetesTrigger) Kind() string { return t.kind }

// Operation is the change operation the trigger listens on; empty for all.
func (t *KubernetesTrigger) Operation() event.Operation { return t.operation }

func (t *KubernetesTrigger) ShouldFire(raw event.TriggerEvent, _ string) bool {
	e, ok := raw.(*event.K8sTriggerEvent)
	if !ok {
		return false
	}
	p := e.Payload
	if t.kind != anyKind && t.kind != p.Kind {
		return false
	}
	if t.operation != "" {
		op, err := event.ParseOperation(p.Operation)
		if err != nil || op != t.operation {
			return false
		}
	}

	meta := metadataOf(p.Obj)
	if !prefixMatch(t.NamePrefix, meta.GetName()) || !prefixMatch(t.NamespacePrefix, meta.GetNamespace()) {
		return false
	}
	if len(t.selector) > 0 {
		objLabels := labels.Set(meta.GetLabels())
		for k, v := range t.selector {
			if objLabels.Get(k) != v {
				return false
			}
		}
	}
	if t.Scope != nil {
		data := map[string]any{
			"name":        meta.GetName(),
			"namespace":   meta.GetNamespace(),
			"labels":      nonNil(meta.GetLabels()),
			"annotations": nonNil(meta.GetAnnotations()),
		}
		return t.matcher.ScopeMatches(data, t.Scope)
	}
	return true
}

func metadataOf(obj map[string]any) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: obj}
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

type parsedObjects struct {
	obj, old client.Object
}

// Build parses the payload into the typed model of its kind. Kinds without
// a typed model yield no event.
func (t *KubernetesTrigger) Build(_ context.Context, raw event.TriggerEvent, bc *BuildContext) (event.ExecutionEvent, error) {
	p := raw.(*event.K8sTriggerEvent).Payload
	kind, ok := event.LookupKind(p.Kind)
	if !ok {
		bc.Log.Info("No typed model for kind, skipping", "kind", p.Kind, "description", p.Description)
		return nil, nil
	}
	op, err := event.ParseOperation(p.Operation)
	if err != nil {
		return nil, err
	}

	var e event.KubernetesResourceEvent
	if t.kind == anyKind {
		obj := &unstructured.Unstructured{Object: p.Obj}
		var old *unstructured.Unstructured
		if p.OldObj != nil {
			old = &unstructured.Unstructured{Object: p.OldObj}
		}
		e = event.NewKubernetesChangeEvent(op, p.Kind, obj, old, old != nil)
	} else {
		v, err := bc.load("kubernetes", func() (any, error) {
			return parseObjects(kind, p)
		})
		if err != nil {
			return nil, err
		}
		parsed := v.(*parsedObjects)
		e = kind.Build(op, parsed.obj, parsed.old)
	}
	setChangeInfo(e, p)
	return e, nil
}

func parseObjects(kind event.ResourceKind, p event.IncomingK8sEventPayload) (*parsedObjects, error) {
	obj, err := toTyped(kind, p.Obj)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", p.Kind, err)
	}
	out := &parsedObjects{obj: obj}
	if p.OldObj != nil {
		if out.old, err = toTyped(kind, p.OldObj); err != nil {
			return nil, fmt.Errorf("parse old %s: %w", p.Kind, err)
		}
	}
	return out, nil
}

func toTyped(kind event.ResourceKind, raw map[string]any) (client.Object, error) {
	body, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	obj := kind.NewObject()
	if err := json.Unmarshal(body, obj); err != nil {
		return nil, err
	}
	obj.SetManagedFields(nil)
	return obj, nil
}

// changeInfo is implemented by every KubernetesChangeEvent.
type changeInfo interface {
	SetChangeInfo(description, clusterUID string)
}

func setChangeInfo(e event.KubernetesResourceEvent, p event.IncomingK8sEventPayload) {
	if c, ok := e.(changeInfo); ok {
		c.SetChangeInfo(strings.ReplaceAll(p.Description, "\n", ""), p.ClusterUID)
	}
}

func init() {
	for _, kind := range event.Kinds() {
		k, _ := event.LookupKind(kind)
		prefix := "on_" + strings.ToLower(kind) + "_"
		for suffix, op := range operationSuffixes {
			RegisterFactory(prefix+suffix, newKubernetesTrigger(kind, op, k.EventType))
		}
	}
	for suffix, op := range operationSuffixes {
		RegisterFactory("on_kubernetes_any_resource_"+suffix, newKubernetesTrigger(anyKind, op, event.AnyKindEventType))
	}
}
