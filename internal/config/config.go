/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package config decodes the runner configuration file and the process
// settings.
//
// The configuration file is YAML with the top-level keys playbook_repos,
// sinks_config, global_config, active_playbooks and alert_relabel. String
// values of the form {{ env.VAR }} are replaced with the environment
// variable before the typed decode.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"sigs.k8s.io/yaml"

	"github.com/marcus-qen/robusta/internal/event"
	"github.com/marcus-qen/robusta/internal/playbook"
	"github.com/marcus-qen/robusta/internal/sink"
)

const (
	// SchemeGit marks repositories cloned from git.
	SchemeGit = "git://"

	// SchemeLocalPath marks repositories read from a local directory.
	SchemeLocalPath = "local-path://"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// PlaybookRepo is an actions package the runner loads.
type PlaybookRepo struct {
	URL        string `json:"url" validate:"required"`
	Key        string `json:"key,omitempty"`
	PipInstall *bool  `json:"pip_install,omitempty"`
}

// LocalPath returns the directory of a local-path repository.
func (r PlaybookRepo) LocalPath() (string, bool) {
	if !strings.HasPrefix(r.URL, SchemeLocalPath) {
		return "", false
	}
	return strings.TrimPrefix(r.URL, SchemeLocalPath), true
}

// RunnerConfig is the runner configuration file.
type RunnerConfig struct {
	PlaybookRepos   map[string]PlaybookRepo `json:"playbook_repos,omitempty" validate:"dive"`
	SinksConfig     []sink.Config           `json:"sinks_config,omitempty"`
	GlobalConfig    map[string]any          `json:"global_config,omitempty"`
	ActivePlaybooks []*playbook.Definition  `json:"active_playbooks,omitempty"`
	AlertRelabel    []event.RelabelRule     `json:"alert_relabel,omitempty" validate:"dive"`
	LightActions    []string                `json:"light_actions,omitempty"`
}

// LocalPaths returns the directories of the local-path repositories,
// sorted by repository name.
func (c *RunnerConfig) LocalPaths() []string {
	names := make([]string, 0, len(c.PlaybookRepos))
	for name := range c.PlaybookRepos {
		names = append(names, name)
	}
	sort.Strings(names)
	var paths []string
	for _, name := range names {
		if p, ok := c.PlaybookRepos[name].LocalPath(); ok {
			paths = append(paths, p)
		}
	}
	return paths
}

// Validate checks the configuration. Every problem is reported.
func (c *RunnerConfig) Validate() error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		errs = append(errs, err)
	}
	names := make([]string, 0, len(c.PlaybookRepos))
	for name := range c.PlaybookRepos {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		url := c.PlaybookRepos[name].URL
		if !strings.HasPrefix(url, SchemeGit) && !strings.HasPrefix(url, SchemeLocalPath) {
			errs = append(errs, fmt.Errorf("playbook repo %s: unsupported url %q", name, url))
		}
	}
	seen := map[string]bool{}
	for i, s := range c.SinksConfig {
		if s.Base.Name == "" {
			errs = append(errs, fmt.Errorf("sinks_config[%d] (%s): name is required", i, s.Type))
			continue
		}
		if seen[s.Base.Name] {
			errs = append(errs, fmt.Errorf("sinks_config[%d]: duplicate sink name %q", i, s.Base.Name))
		}
		seen[s.Base.Name] = true
	}
	for i, pb := range c.ActivePlaybooks {
		for _, name := range pb.Sinks {
			if !seen[name] {
				errs = append(errs, fmt.Errorf("active_playbooks[%d] (%s): unknown sink %q", i, pb.DisplayName(), name))
			}
		}
	}
	return errors.Join(errs...)
}

// Load reads and decodes the configuration file at path.
func Load(path string) (*RunnerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a configuration document. lookup resolves
// {{ env.VAR }} references.
func Parse(data []byte, lookup LookupFunc) (*RunnerConfig, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if _, ok := raw.(map[string]any); !ok {
		return nil, fmt.Errorf("config root must be a mapping, got %T", raw)
	}
	resolved, err := SubstituteEnv(raw, lookup)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	cfg := &RunnerConfig{}
	if err := json.Unmarshal(body, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.GlobalConfig == nil {
		cfg.GlobalConfig = map[string]any{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
