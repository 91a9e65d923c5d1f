/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package relay receives action requests over a long-lived websocket to the
// relay service and dispatches them like manual /api/trigger requests.
package relay

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/marcus-qen/robusta/internal/runner"
)

// ActionRunner runs external action requests.
type ActionRunner interface {
	RunExternalAction(ctx context.Context, req runner.ExternalRequest) map[string]any
}

// Options configure a Receiver.
type Options struct {
	URL         string
	AccountID   string
	ClusterName string
	Token       string
	Version     string

	PingInterval   time.Duration
	PingTimeout    time.Duration
	ReconnectDelay time.Duration

	// Workers bounds the requests processed concurrently.
	Workers int

	Validator *Validator
	Dialer    *websocket.Dialer
}

// Receiver keeps a websocket open to the relay.
type Receiver struct {
	log    logr.Logger
	runner ActionRunner
	opts   Options
	sem    chan struct{}
	wg     sync.WaitGroup

	mu       sync.Mutex
	conn     *websocket.Conn
	stopping bool
}

// New creates a receiver. It does nothing until Run is called.
func New(r ActionRunner, log logr.Logger, opts Options) *Receiver {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 120 * time.Second
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 30 * time.Second
	}
	if opts.Workers <= 0 {
		opts.Workers = 10
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Validator == nil {
		opts.Validator = &Validator{}
	}
	return &Receiver{
		log:    log.WithName("relay"),
		runner: r,
		opts:   opts,
		sem:    make(chan struct{}, opts.Workers),
	}
}

// Enabled reports whether a relay address is configured.
func (r *Receiver) Enabled() bool { return r.opts.URL != "" }

// Run connects and reconnects until ctx is done or Stop is called.
// Connections are attempted at most once per reconnect delay.
func (r *Receiver) Run(ctx context.Context) error {
	if !r.Enabled() {
		r.log.Info("Relay address empty, not starting the receiver")
		return nil
	}
	if r.opts.AccountID == "" || r.opts.ClusterName == "" {
		return fmt.Errorf("relay receiver requires account id and cluster name")
	}
	limit := rate.Inf
	if r.opts.ReconnectDelay > 0 {
		limit = rate.Every(r.opts.ReconnectDelay)
	}
	limiter := rate.NewLimiter(limit, 1)
	r.log.Info("Starting relay receiver", "url", r.opts.URL)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		if r.isStopping() {
			return nil
		}
		if err := r.connectOnce(ctx); err != nil {
			r.log.Info("Relay websocket closed", "error", err.Error())
		}
		if ctx.Err() != nil || r.isStopping() {
			return nil
		}
	}
}

// Stop closes the connection and waits for in-flight requests.
func (r *Receiver) Stop() {
	r.mu.Lock()
	r.stopping = true
	conn := r.conn
	r.mu.Unlock()
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}
	r.wg.Wait()
	r.log.Info("Relay receiver stopped")
}

func (r *Receiver) isStopping() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopping
}

func (r *Receiver) connectOnce(ctx context.Context) error {
	conn, _, err := r.opts.Dialer.DialContext(ctx, r.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	r.mu.Lock()
	if r.stopping {
		r.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	r.conn = conn
	r.mu.Unlock()

	s := &session{receiver: r, conn: conn}
	defer func() {
		r.mu.Lock()
		r.conn = nil
		r.mu.Unlock()
		_ = conn.Close()
	}()
	return s.serve(ctx)
}

// session is one websocket connection. Writes are serialised by mu.
type session struct {
	receiver *Receiver
	conn     *websocket.Conn
	mu       sync.Mutex
}

func (s *session) writeJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *session) serve(ctx context.Context) error {
	r := s.receiver
	r.log.Info("Connecting to relay", "account_id", r.opts.AccountID, "cluster_name", r.opts.ClusterName)
	if err := s.writeJSON(map[string]any{
		"action":       "auth",
		"account_id":   r.opts.AccountID,
		"cluster_name": r.opts.ClusterName,
		"version":      r.opts.Version,
		"token":        r.opts.Token,
	}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	deadline := r.opts.PingInterval + r.opts.PingTimeout
	_ = s.conn.SetReadDeadline(time.Now().Add(deadline))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	done := make(chan struct{})
	defer close(done)
	go s.ping(done)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(deadline))
		s.handle(ctx, data)
	}
}

func (s *session) ping(done <-chan struct{}) {
	r := s.receiver
	ticker := time.NewTicker(r.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, []byte("p"), time.Now().Add(r.opts.PingTimeout)); err != nil {
				r.log.V(1).Info("Relay ping failed", "error", err.Error())
				return
			}
		}
	}
}

func (s *session) handle(ctx context.Context, data []byte) {
	r := s.receiver
	requests, err := parseMessage(data)
	if err != nil {
		r.log.Error(err, "Failed to parse incoming relay message")
		return
	}
	for _, in := range requests {
		r.sem <- struct{}{}
		r.wg.Add(1)
		go func(in incoming) {
			defer func() {
				<-r.sem
				r.wg.Done()
			}()
			s.process(ctx, in)
		}(in)
	}
}

func (s *session) process(ctx context.Context, in incoming) {
	r := s.receiver
	req := in.req
	log := r.log.WithValues("action", req.Body.ActionName, "request_id", req.RequestID, "params", paramKeys(req.Body.ActionParams))
	defer func() {
		if p := recover(); p != nil {
			log.Error(fmt.Errorf("panic: %v", p), "Failed to run incoming request")
		}
	}()

	if err := r.opts.Validator.Validate(&req, !in.slack); err != nil {
		log.Error(err, "Failed to validate action request", "origin", origin(req.Body))
		if req.RequestID != "" {
			status, body := validationResponse(err)
			s.respond(log, req.RequestID, status, body)
		}
		return
	}

	params := maps.Clone(req.Body.ActionParams)
	if in.slack {
		if params == nil {
			params = map[string]any{}
		}
		params["slack_username"] = req.SlackUsername
		params["slack_message"] = req.SlackMessage
	}
	syncResponse := req.RequestID != ""
	log.V(1).Info("Running callback")
	resp := r.runner.RunExternalAction(ctx, runner.ExternalRequest{
		ActionName:   req.Body.ActionName,
		ActionParams: params,
		Sinks:        req.Body.Sinks,
		SyncResponse: syncResponse,
		NoSinks:      req.NoSinks,
	})
	if !syncResponse {
		return
	}
	status := 200
	if !runner.Succeeded(resp) {
		status = 500
	}
	s.respond(log, req.RequestID, status, resp)
}

func (s *session) respond(log logr.Logger, requestID string, status int, data any) {
	err := s.writeJSON(map[string]any{
		"action":      "response",
		"request_id":  requestID,
		"status_code": status,
		"data":        data,
	})
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		log.Error(err, "Failed to write relay response")
	}
}

func origin(b RequestBody) string {
	if b.Origin == nil {
		return ""
	}
	return *b.Origin
}

// paramKeys lists parameter names only; values may carry secrets.
func paramKeys(params map[string]any) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
