/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/yaml"

	"github.com/marcus-qen/robusta/internal/event"
	"github.com/marcus-qen/robusta/internal/finding"
)

var (
	defaultFieldsToMonitor = []string{"spec"}
	defaultOmittedFields   = []string{
		"status",
		"metadata.generation",
		"metadata.resourceVersion",
		"metadata.managedFields",
		"spec.replicas",
	}
)

// BabysitterParams select the fields whose changes are reported. A change
// matches when its dotted path contains one of FieldsToMonitor.
type BabysitterParams struct {
	FieldsToMonitor []string `json:"fields_to_monitor,omitempty"`
	OmittedFields   []string `json:"omitted_fields,omitempty"`
}

type diffKind int

const (
	diffAddition diffKind = iota
	diffDeletion
	diffModification
)

type change struct {
	finding.DiffDetail
	kind diffKind
}

func resourceBabysitter(_ context.Context, e event.KubernetesResourceEvent, p *BabysitterParams) error {
	monitor := p.FieldsToMonitor
	if monitor == nil {
		monitor = defaultFieldsToMonitor
	}
	omitted := p.OmittedFields
	if omitted == nil {
		omitted = defaultOmittedFields
	}

	obj, err := stripped(e.Resource(), omitted)
	if err != nil {
		return err
	}
	old, err := stripped(e.OldResource(), omitted)
	if err != nil {
		return err
	}

	var changes []change
	op := e.ChangeOperation()
	switch op {
	case event.OperationUpdate:
		all, err := diffObjects(old, obj)
		if err != nil {
			return err
		}
		for _, c := range all {
			if matchesAny(c.Path, monitor) {
				changes = append(changes, c)
			}
		}
		if len(changes) == 0 {
			return nil
		}
	case event.OperationDelete:
		old, obj = obj, nil
	}

	res := e.Resource()
	name := resourceName(e.ResourceKind(), res.GetNamespace(), res.GetName())
	block := &finding.KubernetesDiffBlock{ResourceName: name, Diffs: []finding.DiffDetail{}}
	for _, c := range changes {
		block.Diffs = append(block.Diffs, c.DiffDetail)
		switch c.kind {
		case diffAddition:
			block.NumAdditions++
		case diffDeletion:
			block.NumDeletions++
		default:
			block.NumModifications++
		}
	}
	if block.OldYAML, err = toYAML(old); err != nil {
		return err
	}
	if block.NewYAML, err = toYAML(obj); err != nil {
		return err
	}

	f := finding.New(fmt.Sprintf("%s %sd", name, op), "ConfigurationChange/KubernetesResource/"+string(op),
		finding.WithSource(finding.SourceKubernetesAPIServer),
		finding.WithType(finding.TypeConfChange),
		finding.WithFailure(false),
		finding.WithDescription(fmt.Sprintf("Updates to significant fields: %d additions, %d deletions, %d changes.",
			block.NumAdditions, block.NumDeletions, block.NumModifications)),
		finding.WithSubject(finding.Subject{
			Name:      res.GetName(),
			Type:      finding.SubjectType(strings.ToLower(e.ResourceKind())),
			Namespace: res.GetNamespace(),
		}),
	)
	f.AddEnrichment([]finding.Block{block}, nil, finding.EnrichmentDiff, "")
	e.Base().AddFinding(f, "")
	return nil
}

func resourceName(kind, namespace, name string) string {
	if namespace == "" {
		return kind + "/" + name
	}
	return kind + "/" + namespace + "/" + name
}

// stripped converts obj to a generic map without the omitted dotted paths.
func stripped(obj client.Object, omitted []string) (map[string]any, error) {
	if obj == nil || reflect.ValueOf(obj).IsNil() {
		return nil, nil
	}
	m, err := runtime.DefaultUnstructuredConverter.ToUnstructured(obj)
	if err != nil {
		return nil, fmt.Errorf("convert %T: %w", obj, err)
	}
	m = runtime.DeepCopyJSON(m)
	for _, field := range omitted {
		unstructured.RemoveNestedField(m, strings.Split(field, ".")...)
	}
	return m, nil
}

// diffObjects lists the leaf changes from old to obj, derived from their
// JSON merge patch.
func diffObjects(old, obj map[string]any) ([]change, error) {
	if old == nil {
		old = map[string]any{}
	}
	if obj == nil {
		obj = map[string]any{}
	}
	oldJSON, err := json.Marshal(old)
	if err != nil {
		return nil, fmt.Errorf("encode old object: %w", err)
	}
	newJSON, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode object: %w", err)
	}
	patchJSON, err := jsonpatch.CreateMergePatch(oldJSON, newJSON)
	if err != nil {
		return nil, fmt.Errorf("create merge patch: %w", err)
	}
	var patch map[string]any
	if err := json.Unmarshal(patchJSON, &patch); err != nil {
		return nil, fmt.Errorf("decode merge patch: %w", err)
	}
	var out []change
	walkPatch(nil, patch, old, &out)
	return out, nil
}

func walkPatch(path []string, patch, old map[string]any, out *[]change) {
	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p := append(append([]string(nil), path...), k)
		v := patch[k]
		oldV, had := old[k]
		if sub, ok := v.(map[string]any); ok {
			if oldSub, ok := oldV.(map[string]any); ok {
				walkPatch(p, sub, oldSub, out)
				continue
			}
		}
		c := change{DiffDetail: finding.DiffDetail{Path: p}}
		switch {
		case v == nil:
			c.kind = diffDeletion
			c.Other = formatValue(oldV)
		case !had:
			c.kind = diffAddition
			c.Value = formatValue(v)
		default:
			c.kind = diffModification
			c.Other = formatValue(oldV)
			c.Value = formatValue(v)
		}
		*out = append(*out, c)
	}
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func matchesAny(path []string, fields []string) bool {
	joined := strings.Join(path, ".")
	for _, f := range fields {
		if strings.Contains(joined, f) {
			return true
		}
	}
	return false
}

func toYAML(m map[string]any) (string, error) {
	if m == nil {
		return "", nil
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode yaml: %w", err)
	}
	return string(data), nil
}
