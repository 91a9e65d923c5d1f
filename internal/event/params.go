/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package event

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/marcus-qen/robusta/internal/finding"
)

// ErrNoClient is returned when an event needs the Kubernetes API but no
// client is configured.
var ErrNoClient = errors.New("kubernetes client not configured")

// Deps are the collaborators from-params constructors may use.
type Deps struct {
	Client client.Client
}

// BaseParams are accepted by every from-params constructor.
type BaseParams struct {
	NamedSinks []string `json:"named_sinks,omitempty"`
}

// Sinks returns the sinks named in the request.
func (p *BaseParams) Sinks() []string { return p.NamedSinks }

// ResourceParams identify a namespaced resource.
type ResourceParams struct {
	BaseParams
	Name      string `json:"name" validate:"required"`
	Namespace string `json:"namespace"`
}

// Constructor builds an execution event from external request parameters.
// Events with a constructor can be triggered manually and by callbacks.
type Constructor struct {
	// ParamsType is the struct the raw parameters decode into.
	ParamsType reflect.Type

	// Build creates the event from decoded parameters (a pointer to ParamsType).
	Build func(ctx context.Context, deps Deps, params any) (ExecutionEvent, error)
}

// NewParams decodes raw parameters into a new ParamsType value.
func (c Constructor) NewParams(raw map[string]any) (any, error) {
	out := reflect.New(c.ParamsType).Interface()
	if err := Decode(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

var constructors = map[reflect.Type]Constructor{}

// RegisterConstructor makes events of type eventType constructible from params.
func RegisterConstructor(eventType reflect.Type, c Constructor) {
	constructors[eventType] = c
}

// LookupConstructor returns the from-params constructor for eventType.
func LookupConstructor(eventType reflect.Type) (Constructor, bool) {
	c, ok := constructors[eventType]
	return c, ok
}

// Decode converts a generic parameter map into out through JSON.
func Decode(raw map[string]any, out any) error {
	if raw == nil {
		raw = map[string]any{}
	}
	body, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}

// PodRequestEvent is a pod event created from external request parameters.
type PodRequestEvent struct {
	BaseEvent
	Pod *corev1.Pod
}

func (e *PodRequestEvent) GetPod() *corev1.Pod { return e.Pod }
func (e *PodRequestEvent) CreateDefaultFinding() *finding.Finding {
	return requestFinding("Pod", finding.SubjectPod, e.Pod.Name, e.Pod.Namespace, e.Pod.Spec.NodeName, e.Pod.Labels)
}

// DeploymentRequestEvent is a deployment event created from external request parameters.
type DeploymentRequestEvent struct {
	BaseEvent
	Deployment *appsv1.Deployment
}

func (e *DeploymentRequestEvent) GetDeployment() *appsv1.Deployment { return e.Deployment }
func (e *DeploymentRequestEvent) CreateDefaultFinding() *finding.Finding {
	d := e.Deployment
	return requestFinding("Deployment", finding.SubjectDeployment, d.Name, d.Namespace, "", d.Labels)
}

// NodeRequestEvent is a node event created from external request parameters.
type NodeRequestEvent struct {
	BaseEvent
	Node *corev1.Node
}

func (e *NodeRequestEvent) GetNode() *corev1.Node { return e.Node }
func (e *NodeRequestEvent) CreateDefaultFinding() *finding.Finding {
	return requestFinding("Node", finding.SubjectNode, e.Node.Name, "", e.Node.Name, e.Node.Labels)
}

func requestFinding(kind string, typ finding.SubjectType, name, namespace, node string, labels map[string]string) *finding.Finding {
	return finding.New(fmt.Sprintf("%s %s", kind, name), kind+"Request",
		finding.WithSource(finding.SourceManual),
		finding.WithFailure(false),
		finding.WithSubject(finding.Subject{
			Name:      name,
			Type:      typ,
			Namespace: namespace,
			Node:      node,
			Labels:    copyLabels(labels),
		}),
	)
}

func getResource(ctx context.Context, deps Deps, p *ResourceParams, obj client.Object) error {
	if deps.Client == nil {
		return ErrNoClient
	}
	key := types.NamespacedName{Namespace: p.Namespace, Name: p.Name}
	if err := deps.Client.Get(ctx, key, obj); err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return nil
}

func init() {
	RegisterConstructor(TypeOf[ExecutionEvent](), Constructor{
		ParamsType: reflect.TypeOf(BaseParams{}),
		Build: func(_ context.Context, _ Deps, params any) (ExecutionEvent, error) {
			return &BaseEvent{}, nil
		},
	})
	RegisterConstructor(TypeOf[PodEvent](), Constructor{
		ParamsType: reflect.TypeOf(ResourceParams{}),
		Build: func(ctx context.Context, deps Deps, params any) (ExecutionEvent, error) {
			pod := &corev1.Pod{}
			if err := getResource(ctx, deps, params.(*ResourceParams), pod); err != nil {
				return nil, err
			}
			return &PodRequestEvent{Pod: pod}, nil
		},
	})
	RegisterConstructor(TypeOf[DeploymentEvent](), Constructor{
		ParamsType: reflect.TypeOf(ResourceParams{}),
		Build: func(ctx context.Context, deps Deps, params any) (ExecutionEvent, error) {
			dep := &appsv1.Deployment{}
			if err := getResource(ctx, deps, params.(*ResourceParams), dep); err != nil {
				return nil, err
			}
			return &DeploymentRequestEvent{Deployment: dep}, nil
		},
	})
	RegisterConstructor(TypeOf[NodeEvent](), Constructor{
		ParamsType: reflect.TypeOf(ResourceParams{}),
		Build: func(ctx context.Context, deps Deps, params any) (ExecutionEvent, error) {
			p := params.(*ResourceParams)
			p.Namespace = ""
			node := &corev1.Node{}
			if err := getResource(ctx, deps, p, node); err != nil {
				return nil, err
			}
			return &NodeRequestEvent{Node: node}, nil
		},
	})
}
