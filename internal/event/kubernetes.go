/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package event

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/marcus-qen/robusta/internal/finding"
)

// Operation is the kind of change observed on a Kubernetes resource.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// ParseOperation normalises an operation name.
func ParseOperation(op string) (Operation, error) {
	switch Operation(strings.ToLower(op)) {
	case OperationCreate:
		return OperationCreate, nil
	case OperationUpdate:
		return OperationUpdate, nil
	case OperationDelete:
		return OperationDelete, nil
	}
	return "", fmt.Errorf("unknown operation %q", op)
}

// KubernetesResourceEvent is satisfied by every Kubernetes change event.
type KubernetesResourceEvent interface {
	ExecutionEvent
	Resource() client.Object
	OldResource() client.Object
	ChangeOperation() Operation
	ResourceKind() string
}

// KubernetesChangeEvent is a change to a resource of type T.
type KubernetesChangeEvent[T client.Object] struct {
	BaseEvent

	Operation   Operation
	Kind        string
	Description string
	ClusterUID  string
	Obj         T
	OldObj      T
	hasOld      bool
}

// NewKubernetesChangeEvent builds a change event. old may be the zero value.
func NewKubernetesChangeEvent[T client.Object](op Operation, kind string, obj, old T, hasOld bool) *KubernetesChangeEvent[T] {
	return &KubernetesChangeEvent[T]{Operation: op, Kind: kind, Obj: obj, OldObj: old, hasOld: hasOld}
}

func (e *KubernetesChangeEvent[T]) Resource() client.Object { return e.Obj }

func (e *KubernetesChangeEvent[T]) OldResource() client.Object {
	if !e.hasOld {
		return nil
	}
	return e.OldObj
}

// SetChangeInfo records the watcher's description and the cluster uid.
func (e *KubernetesChangeEvent[T]) SetChangeInfo(description, clusterUID string) {
	e.Description = description
	e.ClusterUID = clusterUID
}

func (e *KubernetesChangeEvent[T]) ChangeOperation() Operation { return e.Operation }
func (e *KubernetesChangeEvent[T]) ResourceKind() string       { return e.Kind }

// CreateDefaultFinding encodes the operation and kind of the change.
func (e *KubernetesChangeEvent[T]) CreateDefaultFinding() *finding.Finding {
	obj := e.Resource()
	name, namespace := obj.GetName(), obj.GetNamespace()
	op := string(e.Operation)
	title := fmt.Sprintf("%s %s %s", capitalize(op), e.Kind, name)
	if namespace != "" {
		title = fmt.Sprintf("%s %s %s/%s", capitalize(op), e.Kind, namespace, name)
	}
	subjectType := finding.SubjectType(strings.ToLower(e.Kind))
	node := ""
	if pod, ok := obj.(*corev1.Pod); ok {
		node = pod.Spec.NodeName
	}
	return finding.New(title, e.Kind+capitalize(op),
		finding.WithSource(finding.SourceKubernetesAPIServer),
		finding.WithType(finding.TypeConfChange),
		finding.WithFailure(false),
		finding.WithDescription(e.Description),
		finding.WithSubject(subjectFromMeta(subjectType, name, namespace, node, obj.GetLabels(), obj.GetAnnotations())),
	)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// PodChangeEvent is a change to a pod.
type PodChangeEvent struct {
	KubernetesChangeEvent[*corev1.Pod]
}

func (e *PodChangeEvent) GetPod() *corev1.Pod { return e.Obj }

// DeploymentChangeEvent is a change to a deployment.
type DeploymentChangeEvent struct {
	KubernetesChangeEvent[*appsv1.Deployment]
}

func (e *DeploymentChangeEvent) GetDeployment() *appsv1.Deployment { return e.Obj }

// NodeChangeEvent is a change to a node.
type NodeChangeEvent struct {
	KubernetesChangeEvent[*corev1.Node]
}

func (e *NodeChangeEvent) GetNode() *corev1.Node { return e.Obj }

// Per-kind change events without extra accessors.
type (
	DaemonSetChangeEvent   = KubernetesChangeEvent[*appsv1.DaemonSet]
	StatefulSetChangeEvent = KubernetesChangeEvent[*appsv1.StatefulSet]
	ReplicaSetChangeEvent  = KubernetesChangeEvent[*appsv1.ReplicaSet]
	JobChangeEvent         = KubernetesChangeEvent[*batchv1.Job]
	ServiceChangeEvent     = KubernetesChangeEvent[*corev1.Service]
	ConfigMapChangeEvent   = KubernetesChangeEvent[*corev1.ConfigMap]
	NamespaceChangeEvent   = KubernetesChangeEvent[*corev1.Namespace]
	EventChangeEvent       = KubernetesChangeEvent[*corev1.Event]
	AnyChangeEvent         = KubernetesChangeEvent[*unstructured.Unstructured]
)

// ResourceKind describes a Kubernetes kind that has a typed execution event.
type ResourceKind struct {
	// Kind is the Kubernetes kind, e.g. "Pod".
	Kind string

	// EventType is the execution event type triggers on this kind produce.
	EventType reflect.Type

	// NewObject returns an empty typed object to decode payloads into.
	NewObject func() client.Object

	// Build wraps decoded objects in the execution event. old may be nil.
	Build func(op Operation, obj, old client.Object) KubernetesResourceEvent
}

func typedKind[T client.Object](kind string, newObj func() T, wrap func(*KubernetesChangeEvent[T]) KubernetesResourceEvent) ResourceKind {
	return ResourceKind{
		Kind:      kind,
		EventType: reflect.TypeOf(wrap(&KubernetesChangeEvent[T]{})),
		NewObject: func() client.Object { return newObj() },
		Build: func(op Operation, obj, old client.Object) KubernetesResourceEvent {
			var oldT T
			hasOld := false
			if old != nil {
				oldT, hasOld = old.(T)
			}
			return wrap(NewKubernetesChangeEvent(op, kind, obj.(T), oldT, hasOld))
		},
	}
}

func plain[T client.Object](e *KubernetesChangeEvent[T]) KubernetesResourceEvent { return e }

var resourceKinds = map[string]ResourceKind{}

func registerKind(k ResourceKind) { resourceKinds[k.Kind] = k }

func init() {
	registerKind(typedKind("Pod", func() *corev1.Pod { return &corev1.Pod{} },
		func(e *KubernetesChangeEvent[*corev1.Pod]) KubernetesResourceEvent { return &PodChangeEvent{*e} }))
	registerKind(typedKind("Deployment", func() *appsv1.Deployment { return &appsv1.Deployment{} },
		func(e *KubernetesChangeEvent[*appsv1.Deployment]) KubernetesResourceEvent {
			return &DeploymentChangeEvent{*e}
		}))
	registerKind(typedKind("Node", func() *corev1.Node { return &corev1.Node{} },
		func(e *KubernetesChangeEvent[*corev1.Node]) KubernetesResourceEvent { return &NodeChangeEvent{*e} }))
	registerKind(typedKind("DaemonSet", func() *appsv1.DaemonSet { return &appsv1.DaemonSet{} }, plain[*appsv1.DaemonSet]))
	registerKind(typedKind("StatefulSet", func() *appsv1.StatefulSet { return &appsv1.StatefulSet{} }, plain[*appsv1.StatefulSet]))
	registerKind(typedKind("ReplicaSet", func() *appsv1.ReplicaSet { return &appsv1.ReplicaSet{} }, plain[*appsv1.ReplicaSet]))
	registerKind(typedKind("Job", func() *batchv1.Job { return &batchv1.Job{} }, plain[*batchv1.Job]))
	registerKind(typedKind("Service", func() *corev1.Service { return &corev1.Service{} }, plain[*corev1.Service]))
	registerKind(typedKind("ConfigMap", func() *corev1.ConfigMap { return &corev1.ConfigMap{} }, plain[*corev1.ConfigMap]))
	registerKind(typedKind("Namespace", func() *corev1.Namespace { return &corev1.Namespace{} }, plain[*corev1.Namespace]))
	registerKind(typedKind("Event", func() *corev1.Event { return &corev1.Event{} }, plain[*corev1.Event]))
}

// LookupKind returns the typed model for a Kubernetes kind.
func LookupKind(kind string) (ResourceKind, bool) {
	k, ok := resourceKinds[kind]
	return k, ok
}

// AnyKindEventType is the execution event produced by triggers on any kind.
var AnyKindEventType = reflect.TypeOf(&AnyChangeEvent{})

// Kinds returns the Kubernetes kinds with a typed model, sorted.
func Kinds() []string {
	kinds := make([]string, 0, len(resourceKinds))
	for kind := range resourceKinds {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
