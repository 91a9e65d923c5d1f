/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/marcus-qen/robusta/internal/action"
	"github.com/marcus-qen/robusta/internal/config"
	"github.com/marcus-qen/robusta/internal/event"
	"github.com/marcus-qen/robusta/internal/registry"
	"github.com/marcus-qen/robusta/internal/scheduler"
	"github.com/marcus-qen/robusta/internal/sink"
)

const configTemplate = `
sinks_config:
- file_sink:
    name: out
    file_name: %s
global_config:
  cluster_name: "{{ env.CLUSTER }}"
light_actions: [enrich]
active_playbooks:
- name: %s
  triggers:
  - on_prometheus_alert:
      alert_name: HighCPU
  actions:
  - enrich: {}
- triggers:
  - on_schedule:
      fixed_delay_repeat: {repeat: 2, seconds_delay: 60}
  actions:
  - enrich: {}
`

func enrichPlugin(r *action.Registry) {
	action.RegisterSimple(r, "enrich", func(context.Context, event.ExecutionEvent) error { return nil })
}

type recordingJobs struct {
	mu    sync.Mutex
	calls [][]*scheduler.Job
}

func (r *recordingJobs) Update(_ context.Context, jobs []*scheduler.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, jobs)
	return nil
}

func (r *recordingJobs) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fixture struct {
	dir    string
	path   string
	holder *registry.Holder
	jobs   *recordingJobs
	loader *Loader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:    dir,
		path:   filepath.Join(dir, "active_playbooks.yaml"),
		holder: registry.NewHolder(&registry.Snapshot{}),
		jobs:   &recordingJobs{},
	}
	sinks := sink.NewRegistry(logr.Discard(), sink.Env{})
	t.Cleanup(sinks.Stop)
	f.loader = New(f.holder, logr.Discard(), Options{
		ConfigPath:     f.path,
		Plugins:        []Plugin{enrichPlugin},
		Sinks:          sinks,
		Scheduler:      f.jobs,
		Lookup:         config.MapLookup(map[string]string{"CLUSTER": "prod"}),
		Debounce:       50 * time.Millisecond,
		GlobalDefaults: map[string]any{"cluster_name": "unset", "signing_key": "k"},
	})
	return f
}

func (f *fixture) write(t *testing.T, playbookName string) {
	t.Helper()
	body := fmt.Sprintf(configTemplate, filepath.Join(f.dir, "findings.jsonl"), playbookName)
	if err := os.WriteFile(f.path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestReload_PublishesSnapshot(t *testing.T) {
	f := newFixture(t)
	f.write(t, "cpu")
	if err := f.loader.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	snap := f.holder.Load()
	if snap.Actions.Get("enrich") == nil {
		t.Error("expected plugin action to be registered")
	}
	if got := len(snap.Playbooks.All()); got != 2 {
		t.Errorf("expected 2 playbooks, got %d", got)
	}
	if got := snap.Sinks.DefaultSinks(); len(got) != 1 || got[0] != "out" {
		t.Errorf("expected default sink out, got %v", got)
	}
	global := snap.GlobalConfig()
	if global["cluster_name"] != "prod" {
		t.Errorf("expected configured cluster_name to win, got %v", global["cluster_name"])
	}
	if global["signing_key"] != "k" {
		t.Errorf("expected defaults to be merged, got %v", global["signing_key"])
	}
	if len(snap.LightActions) != 1 || snap.LightActions[0] != "enrich" {
		t.Errorf("expected light actions [enrich], got %v", snap.LightActions)
	}
	if f.jobs.count() != 1 || len(f.jobs.calls[0]) != 1 {
		t.Errorf("expected one scheduler update with one job, got %v", f.jobs.calls)
	}
}

func TestReload_UnchangedConfigKeepsSinkInstances(t *testing.T) {
	f := newFixture(t)
	f.write(t, "cpu")
	if err := f.loader.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	before, _ := f.holder.Load().Sinks.Get("out")
	if err := f.loader.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	after, _ := f.holder.Load().Sinks.Get("out")
	if before != after {
		t.Error("expected the sink instance to survive an unchanged reload")
	}
}

func TestReload_InvalidConfigKeepsRegistries(t *testing.T) {
	f := newFixture(t)
	f.write(t, "cpu")
	if err := f.loader.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	good := f.holder.Load()

	cases := map[string]string{
		"bad yaml":       "active_playbooks: [",
		"unknown action": "active_playbooks:\n- triggers: [{on_prometheus_alert: {}}]\n  actions: [{missing: {}}]\n",
		"missing env":    "global_config: {x: '{{ env.NOPE }}'}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if err := os.WriteFile(f.path, []byte(body), 0o600); err != nil {
				t.Fatal(err)
			}
			if err := f.loader.Reload(context.Background()); err == nil {
				t.Fatal("expected reload to fail")
			}
			if f.holder.Load() != good {
				t.Error("expected the running snapshot to be kept")
			}
		})
	}
}

func TestReload_SinkConstructionFailureKeepsRunningSinks(t *testing.T) {
	f := newFixture(t)
	f.write(t, "cpu")
	if err := f.loader.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	good := f.holder.Load()
	out, _ := good.Sinks.Get("out")

	body := fmt.Sprintf("sinks_config:\n- file_sink:\n    name: out\n    file_name: %s\n- webhook_sink:\n    name: hook\n",
		filepath.Join(f.dir, "findings.jsonl"))
	if err := os.WriteFile(f.path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := f.loader.Reload(context.Background()); err == nil {
		t.Fatal("expected reload to fail on a webhook sink without url")
	}
	snap := f.holder.Load()
	if snap != good {
		t.Fatal("expected the running snapshot to be kept")
	}
	if _, ok := snap.Sinks.Get("hook"); ok {
		t.Error("expected no partially reconciled sink")
	}
	if still, _ := snap.Sinks.Get("out"); still != out {
		t.Error("expected the running sink instance to be kept")
	}
}

func TestReload_InternalPlaybooks(t *testing.T) {
	f := newFixture(t)
	f.write(t, "cpu")
	internal := filepath.Join(f.dir, "internal.yaml")
	body := "- name: internal\n  triggers: [{on_prometheus_alert: {}}]\n  actions: [{enrich: {}}]\n"
	if err := os.WriteFile(internal, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	f.loader.opts.InternalPath = internal
	if err := f.loader.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	all := f.holder.Load().Playbooks.All()
	if len(all) != 3 || all[0].Name != "internal" {
		t.Errorf("expected internal playbook first, got %d playbooks", len(all))
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	f := newFixture(t)
	f.write(t, "cpu")
	if err := f.loader.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.loader.Watch(ctx) }()
	// Give the watcher time to register.
	time.Sleep(200 * time.Millisecond)

	f.write(t, "memory")
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		all := f.holder.Load().Playbooks.All()
		if len(all) > 0 && all[0].Name == "memory" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected the watcher to reload the changed configuration")
}

func TestIsConfigChange(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"active_playbooks.yaml", true},
		{"..data", true},
		{"..2026_10_14_12_00_00.123", true},
		{"other.yaml", false},
		{".active_playbooks.yaml.swp", false},
	}
	for _, tt := range tests {
		if got := isConfigChange(tt.name, "active_playbooks.yaml"); got != tt.want {
			t.Errorf("isConfigChange(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestDebouncer_CoalescesBursts(t *testing.T) {
	var fired atomic.Int32
	d := NewDebouncer(50*time.Millisecond, func() { fired.Add(1) })
	for i := 0; i < 5; i++ {
		d.Trigger()
		time.Sleep(10 * time.Millisecond)
	}
	if !d.Pending() {
		t.Error("expected a pending run")
	}
	time.Sleep(200 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Errorf("expected 1 run, got %d", got)
	}

	d.Trigger()
	d.Stop()
	time.Sleep(100 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Errorf("expected no run after Stop, got %d", got)
	}
}

func TestDebouncer_StaleTimerDoesNotFire(t *testing.T) {
	var fired atomic.Int32
	d := NewDebouncer(time.Hour, func() { fired.Add(1) })
	defer d.Stop()

	d.Trigger()
	stale := d.gen
	d.Trigger()

	// A timer that fired before Trigger could stop it.
	d.fire(stale)
	if got := fired.Load(); got != 0 {
		t.Errorf("expected superseded timer not to run, got %d runs", got)
	}
	if !d.Pending() {
		t.Error("expected the newer run to stay pending")
	}

	d.fire(d.gen)
	if got := fired.Load(); got != 1 {
		t.Errorf("expected 1 run, got %d", got)
	}
	if d.Pending() {
		t.Error("expected no pending run after firing")
	}
}

func TestDebouncer_TriggerDuringRunStaysPending(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var fired atomic.Int32
	d := NewDebouncer(10*time.Millisecond, func() {
		if fired.Add(1) == 1 {
			close(started)
			<-release
		}
	})
	defer d.Stop()

	d.Trigger()
	<-started
	d.Trigger()
	if !d.Pending() {
		t.Error("expected the trigger during a run to be pending")
	}
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for fired.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := fired.Load(); got != 2 {
		t.Errorf("expected 2 runs, got %d", got)
	}
}
