/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package sink

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	builtMu sync.Mutex
	built   []*recordingSink
)

func init() {
	RegisterType("test_sink", func(cfg Config, _ Env) (Sink, error) {
		var p struct {
			BaseParams
			Fail  bool   `json:"fail,omitempty"`
			Token string `json:"token,omitempty"`
		}
		if err := cfg.Decode(&p); err != nil {
			return nil, err
		}
		if p.Fail {
			return nil, errors.New("cannot connect")
		}
		s := &recordingSink{}
		builtMu.Lock()
		built = append(built, s)
		builtMu.Unlock()
		return s, nil
	})
}

func configs(t *testing.T, doc string) []Config {
	t.Helper()
	var out []Config
	require.NoError(t, json.Unmarshal([]byte(doc), &out))
	return out
}

func TestRegistry_Reconcile(t *testing.T) {
	r := NewRegistry(logr.Discard(), Env{ClusterName: "c"})

	set, err := r.Reconcile(configs(t, `[
		{"test_sink": {"name": "a", "token": "1"}},
		{"test_sink": {"name": "b", "default": false}},
		{"test_sink": {"name": "c", "token": "x"}}
	]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, set.Names())
	assert.Equal(t, []string{"a", "c"}, set.DefaultSinks())

	a, _ := set.Get("a")
	b, _ := set.Get("b")
	c, _ := set.Get("c")

	// unchanged a, changed c, removed b, new d
	next, err := r.Reconcile(configs(t, `[
		{"test_sink": {"token": "1", "name": "a"}},
		{"test_sink": {"name": "c", "token": "y"}},
		{"test_sink": {"name": "d"}}
	]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "d"}, next.Names())

	a2, _ := next.Get("a")
	c2, _ := next.Get("c")
	assert.Same(t, a, a2, "unchanged params keep the live instance")
	assert.NotSame(t, c, c2)
	assert.True(t, b.Sink().(*recordingSink).stopped)
	assert.True(t, c.Sink().(*recordingSink).stopped)
	assert.False(t, a.Sink().(*recordingSink).stopped)
	assert.Same(t, next, r.Current())
}

func TestRegistry_ReconcileUnchangedBuildsNothing(t *testing.T) {
	r := NewRegistry(logr.Discard(), Env{})
	doc := `[{"test_sink": {"name": "a"}}, {"test_sink": {"name": "b"}}]`
	_, err := r.Reconcile(configs(t, doc))
	require.NoError(t, err)

	builtMu.Lock()
	before := len(built)
	builtMu.Unlock()

	_, err = r.Reconcile(configs(t, doc))
	require.NoError(t, err)

	builtMu.Lock()
	defer builtMu.Unlock()
	assert.Equal(t, before, len(built))
}

func TestRegistry_ReconcileFailureKeepsCurrent(t *testing.T) {
	r := NewRegistry(logr.Discard(), Env{})
	first, err := r.Reconcile(configs(t, `[{"test_sink": {"name": "a"}}]`))
	require.NoError(t, err)

	_, err = r.Reconcile(configs(t, `[
		{"test_sink": {"name": "a", "token": "new"}},
		{"test_sink": {"name": "b", "fail": true}},
		{"nope_sink": {"name": "c"}}
	]`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownType)
	assert.Contains(t, err.Error(), "cannot connect")

	assert.Same(t, first, r.Current())
	a, ok := r.Current().Get("a")
	require.True(t, ok)
	assert.False(t, a.Sink().(*recordingSink).stopped)
}

func TestRegistry_ReconcileRejectsDuplicates(t *testing.T) {
	r := NewRegistry(logr.Discard(), Env{})
	_, err := r.Reconcile(configs(t, `[{"test_sink": {"name": "a"}}, {"test_sink": {"name": "a"}}]`))
	assert.ErrorContains(t, err, "duplicate sink name")
}

func TestRegistry_Stop(t *testing.T) {
	r := NewRegistry(logr.Discard(), Env{})
	set, err := r.Reconcile(configs(t, `[{"test_sink": {"name": "a"}}]`))
	require.NoError(t, err)
	a, _ := set.Get("a")

	r.Stop()
	assert.True(t, a.Sink().(*recordingSink).stopped)
	assert.Equal(t, 0, r.Current().Len())
}

func TestConfig_Decode(t *testing.T) {
	var cfg Config
	err := json.Unmarshal([]byte(`{"a_sink": {"name": "x"}, "b_sink": {"name": "y"}}`), &cfg)
	assert.Error(t, err)

	cfg = configs(t, `[{"test_sink": {"name": "x", "unknown": 1}}]`)[0]
	var p struct{ BaseParams }
	assert.Error(t, cfg.Decode(&p), "unknown fields are rejected")

	cfg = configs(t, `[{"test_sink": {"default": true}}]`)[0]
	var unnamed struct{ BaseParams }
	assert.Error(t, cfg.Decode(&unnamed), "name is required")
}
