/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package ingress is the runner's HTTP surface. Alerts, Kubernetes changes,
// Helm releases and log lines are queued on bounded task queues and handed
// to the dispatcher by the queue workers. Action requests are dispatched
// synchronously.
package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/marcus-qen/robusta/internal/event"
	"github.com/marcus-qen/robusta/internal/registry"
	"github.com/marcus-qen/robusta/internal/runner"
)

const maxBodyBytes = 10 << 20

// Dispatcher runs raw events and external action requests.
type Dispatcher interface {
	HandleTrigger(ctx context.Context, raw event.TriggerEvent) map[string]any
	RunExternalAction(ctx context.Context, req runner.ExternalRequest) map[string]any
}

// Reloader forces a configuration reload.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Options configure a Server.
type Options struct {
	// Addr is the listen address, e.g. ":5000".
	Addr string

	// QueueSize bounds each task queue.
	QueueSize int

	// Workers is the worker count of each task queue.
	Workers int

	// ProcessedAlerts drops re-sent alerts. Nil disables deduplication.
	ProcessedAlerts *ProcessedAlerts

	// Reloader serves /api/playbooks/reload. Nil disables the route.
	Reloader Reloader

	// Registerer receives the queue metrics; Gatherer serves /metrics.
	// Both default to the Prometheus default registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// Server is the ingress HTTP server.
type Server struct {
	log        logr.Logger
	registries *registry.Holder
	dispatcher Dispatcher
	opts       Options

	apiQueue    *TaskQueue
	alertsQueue *TaskQueue
	http        *http.Server
}

// New creates a server. Call Start before serving so queued events are
// processed.
func New(registries *registry.Holder, dispatcher Dispatcher, log logr.Logger, opts Options) *Server {
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	metrics := NewQueueMetrics(opts.Registerer)
	log = log.WithName("ingress")
	s := &Server{
		log:         log,
		registries:  registries,
		dispatcher:  dispatcher,
		opts:        opts,
		apiQueue:    NewTaskQueue(APIServerQueue, opts.QueueSize, opts.Workers, metrics, log),
		alertsQueue: NewTaskQueue(AlertsQueue, opts.QueueSize, opts.Workers, metrics, log),
	}
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the instrumented route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/alerts", s.handleAlerts)
	mux.HandleFunc("POST /api/handle", s.handleK8s)
	mux.HandleFunc("POST /api/trigger", s.handleTrigger)
	mux.HandleFunc("POST /api/helm-releases", s.handleHelmReleases)
	mux.HandleFunc("POST /api/vector", s.handleVector)
	mux.HandleFunc("GET /api/actions", s.handleActions)
	if s.opts.Reloader != nil {
		mux.HandleFunc("POST /api/playbooks/reload", s.handleReload)
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	return otelhttp.NewHandler(mux, "ingress")
}

// Start launches the queue workers. Queued dispatches run with ctx.
func (s *Server) Start(ctx context.Context) {
	s.apiQueue.Start(ctx)
	s.alertsQueue.Start(ctx)
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("Ingress listening", "addr", ln.Addr().String())
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and drains the task queues.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.apiQueue.Close()
	s.alertsQueue.Close()
	if s.opts.ProcessedAlerts != nil {
		s.opts.ProcessedAlerts.Close()
	}
	return err
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	var payload event.AlertManagerEvent
	if !s.decode(w, r, &payload) {
		return
	}
	relabel := s.registries.Load().Relabel
	queued, skipped := 0, 0
	for _, alert := range payload.Alerts {
		alert = alert.Relabel(relabel)
		if s.opts.ProcessedAlerts.Seen(alert) {
			skipped++
			continue
		}
		s.enqueue(s.alertsQueue, &event.PrometheusTriggerEvent{Alert: alert})
		queued++
	}
	s.log.V(1).Info("Alerts received", "alerts", len(payload.Alerts), "queued", queued, "duplicates", skipped)
	writeSuccess(w)
}

func (s *Server) handleK8s(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Data event.IncomingK8sEventPayload `json:"data"`
	}
	if !s.decode(w, r, &payload) {
		return
	}
	s.enqueue(s.apiQueue, &event.K8sTriggerEvent{Payload: payload.Data})
	writeSuccess(w)
}

func (s *Server) handleHelmReleases(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Data []event.HelmRelease `json:"data"`
	}
	if !s.decode(w, r, &payload) {
		return
	}
	for _, release := range payload.Data {
		s.enqueue(s.apiQueue, &event.HelmReleasesTriggerEvent{Release: release})
	}
	writeSuccess(w)
}

func (s *Server) handleVector(w http.ResponseWriter, r *http.Request) {
	var lines []event.LogLine
	if !s.decode(w, r, &lines) {
		return
	}
	for _, line := range lines {
		s.enqueue(s.apiQueue, &event.LogLineTriggerEvent{Line: line})
	}
	writeSuccess(w)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req runner.ExternalRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ActionName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "msg": "action_name is required"})
		return
	}
	s.log.Info("Manual action requested", "action", req.ActionName, "sinks", req.Sinks)
	writeJSON(w, http.StatusOK, s.dispatcher.RunExternalAction(r.Context(), req))
}

func (s *Server) handleActions(w http.ResponseWriter, _ *http.Request) {
	actions, err := s.registries.Load().Actions.ListExternal()
	if err != nil {
		s.log.Error(err, "Failed to list external actions")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "msg": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Reloader.Reload(r.Context()); err != nil {
		s.log.Error(err, "Failed to reload configuration")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "msg": err.Error()})
		return
	}
	writeSuccess(w)
}

func (s *Server) enqueue(q *TaskQueue, raw event.TriggerEvent) {
	q.Add(func(ctx context.Context) {
		s.dispatcher.HandleTrigger(ctx, raw)
	})
}

// decode reads a JSON body into v, answering 400 when it cannot.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "msg": "failed to read body"})
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		s.log.Info("Rejected malformed request", "path", r.URL.Path, "error", err.Error())
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "msg": fmt.Sprintf("invalid body: %v", err)})
		return false
	}
	return true
}

func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
