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
	"regexp"

	"github.com/marcus-qen/robusta/internal/event"
)

// LogLineTrigger fires on forwarded pod log lines.
type LogLineTrigger struct {
	PodNamePrefix   string `json:"pod_name_prefix,omitempty"`
	NamespacePrefix string `json:"namespace_prefix,omitempty"`
	ContainerName   string `json:"container_name,omitempty"`
	SearchRegex     string `json:"search_regex,omitempty"`

	re *regexp.Regexp
}

func newLogLineTrigger(_ string, params json.RawMessage) (Trigger, error) {
	t := &LogLineTrigger{}
	if err := decodeStrict(params, t); err != nil {
		return nil, err
	}
	if t.SearchRegex != "" {
		re, err := regexp.Compile(t.SearchRegex)
		if err != nil {
			return nil, fmt.Errorf("invalid search_regex: %w", err)
		}
		t.re = re
	}
	return t, nil
}

func (t *LogLineTrigger) Name() string            { return "on_log_line" }
func (t *LogLineTrigger) EventKind() event.Kind   { return event.KindLogLine }
func (t *LogLineTrigger) EventType() reflect.Type { return reflect.TypeOf(&event.LogLineEvent{}) }

func (t *LogLineTrigger) ShouldFire(raw event.TriggerEvent, _ string) bool {
	e, ok := raw.(*event.LogLineTriggerEvent)
	if !ok {
		return false
	}
	k := e.Line.Kubernetes
	if !prefixMatch(t.PodNamePrefix, k.PodName) || !prefixMatch(t.NamespacePrefix, k.PodNamespace) {
		return false
	}
	if !exactMatch(t.ContainerName, k.ContainerName) {
		return false
	}
	return t.re == nil || t.re.MatchString(e.Line.Message)
}

func (t *LogLineTrigger) Build(_ context.Context, raw event.TriggerEvent, _ *BuildContext) (event.ExecutionEvent, error) {
	return &event.LogLineEvent{Line: raw.(*event.LogLineTriggerEvent).Line}, nil
}

func init() {
	RegisterFactory("on_log_line", newLogLineTrigger)
}
