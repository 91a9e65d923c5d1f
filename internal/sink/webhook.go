/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/marcus-qen/robusta/internal/finding"
)

const defaultWebhookSizeLimit = 4096

// WebhookParams configures a generic webhook sink.
type WebhookParams struct {
	BaseParams
	URL           string `json:"url" validate:"required,url"`
	Format        string `json:"format,omitempty" validate:"omitempty,oneof=json text"`
	Authorization string `json:"authorization,omitempty"`
	SizeLimit     int    `json:"size_limit,omitempty" validate:"gte=0"`
}

// WebhookSink POSTs findings to a URL, as JSON or plain text.
type WebhookSink struct {
	params      WebhookParams
	clusterName string
	client      *http.Client
}

// webhookKeys is the order in which finding fields are kept when the JSON
// payload is trimmed to the size limit.
var webhookKeys = []string{
	"id", "title", "aggregation_key", "severity", "source", "finding_type", "failure",
	"description", "subject", "fingerprint", "starts_at", "ends_at", "links",
	"video_links", "add_silence_url", "silence_labels", "enrichments",
}

func NewWebhookSink(cfg Config, env Env) (Sink, error) {
	var p WebhookParams
	if err := cfg.Decode(&p); err != nil {
		return nil, err
	}
	if p.Format == "" {
		p.Format = "json"
	}
	if p.SizeLimit == 0 {
		p.SizeLimit = defaultWebhookSizeLimit
	}
	return &WebhookSink{params: p, clusterName: env.ClusterName, client: env.httpClient()}, nil
}

func (s *WebhookSink) WriteFinding(ctx context.Context, f *finding.Finding, _ bool) error {
	var (
		body        []byte
		contentType string
		err         error
	)
	switch s.params.Format {
	case "text":
		body = []byte(findingText(f, s.clusterName, s.params.SizeLimit))
		contentType = "text/plain; charset=utf-8"
	default:
		body, err = s.jsonPayload(f)
		if err != nil {
			return err
		}
		contentType = "application/json"
	}
	return s.post(ctx, body, contentType)
}

func (s *WebhookSink) jsonPayload(f *finding.Finding) ([]byte, error) {
	full, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal finding: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(full, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal finding: %w", err)
	}
	fields["cluster_name"], _ = json.Marshal(s.clusterName)

	out := map[string]json.RawMessage{}
	size := 0
	for _, key := range append([]string{"cluster_name"}, webhookKeys...) {
		value, ok := fields[key]
		if !ok {
			continue
		}
		pair := len(key) + len(value) + 6
		if size+pair > s.params.SizeLimit {
			break
		}
		out[key] = value
		size += pair
	}
	return json.Marshal(out)
}

func (s *WebhookSink) post(ctx context.Context, body []byte, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.params.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if s.params.Authorization != "" {
		req.Header.Set("Authorization", s.params.Authorization)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send to webhook %s: %w", s.params.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook %s returned %d: %s", s.params.URL, resp.StatusCode, string(respBody))
	}
	return nil
}

func (s *WebhookSink) Stop() {}

func init() {
	RegisterType("webhook_sink", NewWebhookSink)
}
