/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package sink delivers findings to notification and storage destinations.
//
// A Sink is a wire implementation (Slack, Telegram, webhook, file). Every
// configured sink is wrapped in an Instance which applies the common
// behaviour: match rules, activity windows, grouping and rate limiting.
// The Registry holds the live instances and reconciles them on reload.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/marcus-qen/robusta/internal/finding"
)

// Sink is the interface for finding destinations.
type Sink interface {
	// WriteFinding delivers f. f is a private copy the sink may mutate.
	WriteFinding(ctx context.Context, f *finding.Finding, platformEnabled bool) error

	// Stop releases resources and flushes in-flight work.
	Stop()
}

// SummaryWriter is implemented by sinks that support grouping in summary
// mode.
type SummaryWriter interface {
	// WriteSummary posts s, or replaces the message identified by
	// s.MessageID when it is set. It returns the id of the message.
	WriteSummary(ctx context.Context, s *Summary) (string, error)
}

// ThreadWriter is implemented by sinks that can reply to a previously sent
// message.
type ThreadWriter interface {
	WriteFindingInThread(ctx context.Context, f *finding.Finding, platformEnabled bool, threadID string) error
}

// Env is what sink factories receive besides their parameters.
type Env struct {
	ClusterName string
	AccountID   string
	Log         logr.Logger
	HTTPClient  *http.Client
}

func (e Env) httpClient() *http.Client {
	if e.HTTPClient != nil {
		return e.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// Factory constructs a sink from its configuration.
type Factory func(cfg Config, env Env) (Sink, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// RegisterType makes a sink type available to configuration under
// typeName, e.g. "webhook_sink".
func RegisterType(typeName string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[typeName] = f
}

// Types returns the registered sink type names.
func Types() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func lookupFactory(typeName string) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[typeName]
	return f, ok
}

// ErrUnknownType is returned for sink wrappers naming an unregistered type.
var ErrUnknownType = errors.New("unknown sink type")

// Config is one sink wrapper from the configuration file: a single-key map
// from sink type to its parameters.
type Config struct {
	Type   string
	Params json.RawMessage
	Base   BaseParams
}

// UnmarshalJSON decodes the wrapper and the common parameters.
func (c *Config) UnmarshalJSON(data []byte) error {
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return fmt.Errorf("decode sink wrapper: %w", err)
	}
	if len(wrapper) != 1 {
		return fmt.Errorf("sink wrapper must hold exactly one sink, got %d", len(wrapper))
	}
	for typ, params := range wrapper {
		c.Type = typ
		c.Params = params
	}
	if err := json.Unmarshal(c.Params, &c.Base); err != nil {
		return fmt.Errorf("decode %s params: %w", c.Type, err)
	}
	return nil
}

func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]json.RawMessage{c.Type: c.Params})
}

// Decode decodes the sink-specific parameters into out, which usually
// embeds BaseParams. Unknown fields are rejected.
func (c Config) Decode(out any) error {
	dec := json.NewDecoder(bytes.NewReader(c.Params))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode %s %q: %w", c.Type, c.Base.Name, err)
	}
	return validate.Struct(out)
}

// fingerprint is used to detect parameter changes across reloads.
func (c Config) fingerprint() string {
	var v any
	if err := json.Unmarshal(c.Params, &v); err != nil {
		return c.Type + string(c.Params)
	}
	out, _ := json.Marshal(v)
	return c.Type + string(out)
}
