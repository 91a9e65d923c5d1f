/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Problem is a structural issue found in a configuration document.
type Problem struct {
	Line    int
	Message string
}

func (p Problem) String() string { return fmt.Sprintf("line %d: %s", p.Line, p.Message) }

var topLevelKeys = map[string]bool{
	"playbook_repos":   true,
	"sinks_config":     true,
	"global_config":    true,
	"active_playbooks": true,
	"alert_relabel":    true,
	"light_actions":    true,
}

var playbookKeys = map[string]bool{
	"name":     true,
	"triggers": true,
	"actions":  true,
	"sinks":    true,
	"stop":     true,
	"priority": true,
	"tags":     true,
	"disabled": true,
}

// Lint reports structural problems with their line numbers: unknown keys,
// sink wrappers and actions without exactly one key, playbooks without
// triggers or actions. It does not decode typed values; Parse does.
func Lint(data []byte) ([]Problem, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return []Problem{{Line: root.Line, Message: "config root must be a mapping"}}, nil
	}

	var problems []Problem
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		if !topLevelKeys[key.Value] {
			problems = append(problems, Problem{key.Line, fmt.Sprintf("unknown key %q", key.Value)})
			continue
		}
		switch key.Value {
		case "sinks_config":
			problems = append(problems, lintSingleKeyList(value, "sinks_config", "sink wrapper")...)
		case "active_playbooks":
			problems = append(problems, lintPlaybooks(value)...)
		case "playbook_repos", "global_config":
			if value.Kind != yaml.MappingNode && !isNull(value) {
				problems = append(problems, Problem{value.Line, key.Value + " must be a mapping"})
			}
		}
	}
	return problems, nil
}

func lintPlaybooks(n *yaml.Node) []Problem {
	if isNull(n) {
		return nil
	}
	if n.Kind != yaml.SequenceNode {
		return []Problem{{n.Line, "active_playbooks must be a list"}}
	}
	var problems []Problem
	for i, pb := range n.Content {
		if pb.Kind != yaml.MappingNode {
			problems = append(problems, Problem{pb.Line, fmt.Sprintf("active_playbooks[%d] must be a mapping", i)})
			continue
		}
		seen := map[string]bool{}
		for j := 0; j+1 < len(pb.Content); j += 2 {
			key, value := pb.Content[j], pb.Content[j+1]
			seen[key.Value] = true
			if !playbookKeys[key.Value] {
				problems = append(problems, Problem{key.Line, fmt.Sprintf("active_playbooks[%d]: unknown key %q", i, key.Value)})
				continue
			}
			switch key.Value {
			case "triggers":
				problems = append(problems, lintSingleKeyList(value, fmt.Sprintf("active_playbooks[%d].triggers", i), "trigger")...)
			case "actions":
				problems = append(problems, lintSingleKeyList(value, fmt.Sprintf("active_playbooks[%d].actions", i), "action")...)
			}
		}
		for _, required := range []string{"triggers", "actions"} {
			if !seen[required] {
				problems = append(problems, Problem{pb.Line, fmt.Sprintf("active_playbooks[%d]: %s is required", i, required)})
			}
		}
	}
	return problems
}

// lintSingleKeyList checks a list whose items are single-key mappings.
func lintSingleKeyList(n *yaml.Node, path, item string) []Problem {
	if isNull(n) {
		return nil
	}
	if n.Kind != yaml.SequenceNode {
		return []Problem{{n.Line, path + " must be a list"}}
	}
	var problems []Problem
	for i, entry := range n.Content {
		if entry.Kind != yaml.MappingNode || len(entry.Content) != 2 {
			problems = append(problems, Problem{entry.Line, fmt.Sprintf("%s[%d]: %s must have exactly one key", path, i, item)})
		}
	}
	return problems
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.Tag == "!!null"
}
