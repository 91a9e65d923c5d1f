/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package event

import "maps"

// RelabelOperation is what a relabel rule does with the source label.
type RelabelOperation string

const (
	RelabelAdd     RelabelOperation = "add"
	RelabelReplace RelabelOperation = "replace"
)

// RelabelRule copies the value of the Source label to Target. Replace also
// deletes the source label.
type RelabelRule struct {
	Source    string           `json:"source" validate:"required"`
	Target    string           `json:"target" validate:"required"`
	Operation RelabelOperation `json:"operation,omitempty" validate:"omitempty,oneof=add replace"`
}

// Relabel applies rules to a copy of the alert's labels. Rules whose source
// label is absent are skipped.
func (a PrometheusAlert) Relabel(rules []RelabelRule) PrometheusAlert {
	if len(rules) == 0 {
		return a
	}
	labels := maps.Clone(a.Labels)
	if labels == nil {
		labels = map[string]string{}
	}
	for _, r := range rules {
		v, ok := labels[r.Source]
		if !ok {
			continue
		}
		labels[r.Target] = v
		if r.Operation == RelabelReplace && r.Source != r.Target {
			delete(labels, r.Source)
		}
	}
	a.Labels = labels
	return a
}
