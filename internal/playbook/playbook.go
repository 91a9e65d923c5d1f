/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package playbook holds configured playbooks and the validated, ordered
// registry the dispatcher walks.
package playbook

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"github.com/marcus-qen/robusta/internal/trigger"
)

// Action is one action invocation of a playbook.
type Action struct {
	Name   string
	Params map[string]any

	// FuncHash is set when the playbook is validated against the action registry.
	FuncHash string
}

// UnmarshalJSON decodes the single-key form {"action_name": {params}}.
func (a *Action) UnmarshalJSON(data []byte) error {
	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode action: %w", err)
	}
	if len(raw) != 1 {
		return fmt.Errorf("action must have a single name, got %d keys", len(raw))
	}
	for name, params := range raw {
		a.Name = name
		a.Params = params
	}
	return nil
}

func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]map[string]any{a.Name: a.Params})
}

// MergedParams overlays the action's params on the global config. Action
// values win.
func (a Action) MergedParams(global map[string]any) map[string]any {
	merged := make(map[string]any, len(global)+len(a.Params))
	maps.Copy(merged, global)
	maps.Copy(merged, a.Params)
	return merged
}

// Definition is one configured playbook.
type Definition struct {
	Name     string               `json:"name,omitempty"`
	Triggers []trigger.Definition `json:"triggers"`
	Actions  []Action             `json:"actions"`

	// Sinks overrides the default sinks. nil means "use the defaults".
	Sinks    []string `json:"sinks,omitempty"`
	Stop     bool     `json:"stop,omitempty"`
	Priority int      `json:"priority,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Disabled bool     `json:"disabled,omitempty"`
}

// ID identifies the playbook by its triggers, actions, sinks and stop flag.
// Scheduled jobs are keyed by it. Action func hashes take part once the
// playbook was validated, so changing the action code reschedules the job.
func (d *Definition) ID() string {
	triggers := make([]string, 0, len(d.Triggers))
	for _, t := range d.Triggers {
		triggers = append(triggers, string(canonical(t.Raw)))
	}
	actions := make([]string, 0, len(d.Actions))
	for _, a := range d.Actions {
		body, _ := json.Marshal(a)
		actions = append(actions, a.FuncHash+string(body))
	}
	sinks := "None"
	if d.Sinks != nil {
		sinks = "[" + strings.Join(d.Sinks, ", ") + "]"
	}
	input := strings.Join(triggers, ".") + strings.Join(actions, ".") + sinks + fmt.Sprint(d.Stop)
	sum := md5.Sum([]byte(input))
	return hex.EncodeToString(sum[:])
}

// DisplayName is the configured name or a short form of the id.
func (d *Definition) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID()[:8]
}

// ActionNames lists the playbook's actions in order.
func (d *Definition) ActionNames() []string {
	names := make([]string, 0, len(d.Actions))
	for _, a := range d.Actions {
		names = append(names, a.Name)
	}
	return names
}

// ScheduledTrigger returns the playbook's schedule trigger, if any.
func (d *Definition) ScheduledTrigger() (*trigger.ScheduledTrigger, bool) {
	for _, t := range d.Triggers {
		if st, ok := t.Trigger.(*trigger.ScheduledTrigger); ok {
			return st, true
		}
	}
	return nil, false
}

// canonical re-encodes JSON with sorted keys so ids do not depend on the
// key order of the configuration file.
func canonical(raw json.RawMessage) []byte {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}
