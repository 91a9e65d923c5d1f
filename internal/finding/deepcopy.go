/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package finding

import (
	"maps"
	"slices"
)

// DeepCopy returns a copy that shares no mutable state with f.
func (f *Finding) DeepCopy() *Finding {
	if f == nil {
		return nil
	}
	out := *f
	out.Subject = f.Subject.DeepCopy()
	out.SilenceLabels = maps.Clone(f.SilenceLabels)
	out.Links = slices.Clone(f.Links)
	out.VideoLinks = slices.Clone(f.VideoLinks)
	if f.EndsAt != nil {
		end := *f.EndsAt
		out.EndsAt = &end
	}
	if f.Enrichments != nil {
		out.Enrichments = make([]Enrichment, len(f.Enrichments))
		for i, e := range f.Enrichments {
			out.Enrichments[i] = e.DeepCopy()
		}
	}
	return &out
}

// DeepCopy returns a copy of the subject with its own label maps.
func (s Subject) DeepCopy() Subject {
	s.Labels = maps.Clone(s.Labels)
	s.Annotations = maps.Clone(s.Annotations)
	return s
}

// DeepCopy returns a copy of the enrichment with copied blocks.
func (e Enrichment) DeepCopy() Enrichment {
	out := Enrichment{
		Annotations: maps.Clone(e.Annotations),
		Type:        e.Type,
		Title:       e.Title,
	}
	if e.Blocks != nil {
		out.Blocks = make([]Block, len(e.Blocks))
		for i, b := range e.Blocks {
			out.Blocks[i] = b.DeepCopyBlock()
		}
	}
	return out
}

func deepCopyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = deepCopyValue(item)
		}
		return out
	case map[string]string:
		return maps.Clone(t)
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}
