/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/marcus-qen/robusta/internal/actions"
	"github.com/marcus-qen/robusta/internal/config"
	"github.com/marcus-qen/robusta/internal/finding"
	"github.com/marcus-qen/robusta/internal/ingress"
	"github.com/marcus-qen/robusta/internal/loader"
	"github.com/marcus-qen/robusta/internal/registry"
	"github.com/marcus-qen/robusta/internal/runner"
	"github.com/marcus-qen/robusta/internal/scheduler"
	"github.com/marcus-qen/robusta/internal/sink"
)

// recordingSink keeps every delivery for assertions.
type recordingSink struct {
	mu        sync.Mutex
	findings  []*finding.Finding
	summaries []*sink.Summary
}

func (s *recordingSink) WriteFinding(_ context.Context, f *finding.Finding, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings = append(s.findings, f)
	return nil
}

func (s *recordingSink) WriteSummary(_ context.Context, sum *sink.Summary) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, sum)
	if sum.MessageID != "" {
		return sum.MessageID, nil
	}
	return "msg-" + strconv.Itoa(len(s.summaries)), nil
}

func (s *recordingSink) Stop() {}

func (s *recordingSink) Findings() []*finding.Finding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*finding.Finding(nil), s.findings...)
}

func (s *recordingSink) Summaries() []*sink.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*sink.Summary(nil), s.summaries...)
}

var (
	recordersMu sync.Mutex
	recorders   = map[string]*recordingSink{}
)

func init() {
	sink.RegisterType("recording_sink", func(cfg sink.Config, _ sink.Env) (sink.Sink, error) {
		var p sink.BaseParams
		if err := cfg.Decode(&p); err != nil {
			return nil, err
		}
		rec := &recordingSink{}
		recordersMu.Lock()
		recorders[p.Name] = rec
		recordersMu.Unlock()
		return rec, nil
	})
}

func recorder(name string) *recordingSink {
	recordersMu.Lock()
	defer recordersMu.Unlock()
	return recorders[name]
}

// runnerHarness is a runner wired the way serve wires it, on test ports.
type runnerHarness struct {
	ConfigPath string
	Holder     *registry.Holder
	Loader     *loader.Loader
	Scheduler  *scheduler.Scheduler
	Store      *scheduler.MemoryStore
	Metrics    *prometheus.Registry
	Server     *httptest.Server

	cancel context.CancelFunc
	done   chan struct{}
}

func startRunner(cfg string, store *scheduler.MemoryStore) *runnerHarness {
	GinkgoHelper()
	log := ctrl.Log.WithName("e2e")
	dir := GinkgoT().TempDir()
	path := filepath.Join(dir, "active_playbooks.yaml")
	Expect(os.WriteFile(path, []byte(cfg), 0o644)).To(Succeed())

	stackOverflow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		items := []map[string]string{}
		if r.URL.Query().Get("q") == "OOMKilled" {
			items = append(items, map[string]string{"title": "Pod OOMKilled", "link": "https://stackoverflow.com/q/1"})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
	}))
	DeferCleanup(stackOverflow.Close)

	if store == nil {
		store = scheduler.NewMemoryStore()
	}
	sched := scheduler.New(store, log)
	sinks := sink.NewRegistry(log, sink.Env{ClusterName: "e2e", Log: log})
	holder := registry.NewHolder(&registry.Snapshot{})
	r := runner.New(holder, log, runner.Options{})
	r.RegisterScheduled(sched)

	ld := loader.New(holder, log, loader.Options{
		ConfigPath: path,
		Plugins: []loader.Plugin{actions.Plugin(actions.Options{
			HTTPClient:       stackOverflow.Client(),
			StackOverflowURL: stackOverflow.URL,
		})},
		Sinks:     sinks,
		Scheduler: sched,
		Lookup:    config.MapLookup(nil),
	})
	ctx, cancel := context.WithCancel(context.Background())
	Expect(ld.Reload(ctx)).To(Succeed())

	metrics := prometheus.NewRegistry()
	srv := ingress.New(holder, r, log, ingress.Options{
		QueueSize:  100,
		Workers:    1,
		Reloader:   ld,
		Registerer: metrics,
		Gatherer:   metrics,
	})
	srv.Start(ctx)
	ts := httptest.NewServer(srv.Handler())

	h := &runnerHarness{
		ConfigPath: path,
		Holder:     holder,
		Loader:     ld,
		Scheduler:  sched,
		Store:      store,
		Metrics:    metrics,
		Server:     ts,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		_ = sched.Start(ctx)
	}()
	DeferCleanup(func() {
		ts.Close()
		_ = srv.Shutdown(context.Background())
		sched.Stop()
		cancel()
		<-h.done
		sinks.Stop()
	})
	return h
}

func (h *runnerHarness) post(path string, body any) (int, map[string]any) {
	GinkgoHelper()
	data, err := json.Marshal(body)
	Expect(err).NotTo(HaveOccurred())
	resp, err := http.Post(h.Server.URL+path, "application/json", strings.NewReader(string(data)))
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	var out map[string]any
	Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
	return resp.StatusCode, out
}

func (h *runnerHarness) postAlerts(alerts ...map[string]any) {
	GinkgoHelper()
	code, out := h.post("/api/alerts", map[string]any{"alerts": alerts})
	Expect(code).To(Equal(http.StatusOK))
	Expect(out).To(HaveKeyWithValue("success", true))
}

// rewrite replaces the configuration file and reloads it.
func (h *runnerHarness) rewrite(cfg string) {
	GinkgoHelper()
	Expect(os.WriteFile(h.ConfigPath, []byte(cfg), 0o644)).To(Succeed())
	Expect(h.Loader.Reload(context.Background())).To(Succeed())
}

// rejected sums queue_rejected_total across queues.
func (h *runnerHarness) rejected() float64 {
	GinkgoHelper()
	families, err := h.Metrics.Gather()
	Expect(err).NotTo(HaveOccurred())
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != "queue_rejected_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func alert(status string, labels map[string]string) map[string]any {
	return map[string]any{
		"status":      status,
		"labels":      labels,
		"annotations": map[string]string{},
		"startsAt":    time.Now().UTC().Format(time.RFC3339),
	}
}
