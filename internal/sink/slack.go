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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/marcus-qen/robusta/internal/finding"
)

// Slack limits section text to 3000 characters.
const slackSectionLimit = 2900

// SlackParams configures a Slack incoming-webhook sink.
type SlackParams struct {
	BaseParams
	WebhookURL string `json:"webhook_url" validate:"required,url"`
	Channel    string `json:"slack_channel,omitempty"`
}

// SlackSink posts block-kit messages through an incoming webhook.
type SlackSink struct {
	params      SlackParams
	clusterName string
	client      *http.Client
}

func NewSlackSink(cfg Config, env Env) (Sink, error) {
	var p SlackParams
	if err := cfg.Decode(&p); err != nil {
		return nil, err
	}
	return &SlackSink{params: p, clusterName: env.ClusterName, client: env.httpClient()}, nil
}

type slackPayload struct {
	Channel string       `json:"channel,omitempty"`
	Text    string       `json:"text"`
	Blocks  []slackBlock `json:"blocks,omitempty"`
}

type slackBlock struct {
	Type string     `json:"type"`
	Text *slackText `json:"text,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (s *SlackSink) WriteFinding(ctx context.Context, f *finding.Finding, _ bool) error {
	return s.send(ctx, formatSlackFinding(f, s.clusterName, s.params.Channel))
}

// WriteSummary posts a new summary message. Incoming webhooks cannot edit
// messages, so the returned id only identifies the content.
func (s *SlackSink) WriteSummary(ctx context.Context, sum *Summary) (string, error) {
	text := sum.Text()
	payload := slackPayload{
		Channel: s.params.Channel,
		Text:    "Summary for: " + strings.Join(sum.GroupBy, ", "),
		Blocks: []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: "Summary for: " + strings.Join(sum.GroupBy, ", ")}},
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: "```\n" + truncate(text, slackSectionLimit) + "\n```"}},
		},
	}
	if err := s.send(ctx, payload); err != nil {
		return "", err
	}
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:8]), nil
}

func (s *SlackSink) send(ctx context.Context, payload slackPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.params.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("slack returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (s *SlackSink) Stop() {}

func formatSlackFinding(f *finding.Finding, clusterName, channel string) slackPayload {
	status := f.Status()
	title := strings.TrimPrefix(f.Title, "[RESOLVED] ")
	header := fmt.Sprintf("%s %s %s %s", status.Emoji(), status, f.Severity.Emoji(), title)

	blocks := []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: truncate(header, 150)}},
	}
	source := fmt.Sprintf("*Source:* `%s`", clusterName)
	if f.Subject.Name != "" {
		source += fmt.Sprintf("  *Subject:* `%s`", f.Subject)
	}
	blocks = append(blocks, slackBlock{Type: "section", Text: &slackText{Type: "mrkdwn", Text: source}})

	if f.Description != "" {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: truncate(f.Description, slackSectionLimit)},
		})
	}
	for _, e := range f.Enrichments {
		for _, b := range e.Blocks {
			if _, isDivider := b.(*finding.DividerBlock); isDivider {
				blocks = append(blocks, slackBlock{Type: "divider"})
				continue
			}
			text := blockText(b)
			if text == "" {
				continue
			}
			if _, isTable := b.(*finding.TableBlock); isTable {
				text = "```\n" + text + "\n```"
			}
			blocks = append(blocks, slackBlock{
				Type: "section",
				Text: &slackText{Type: "mrkdwn", Text: truncate(text, slackSectionLimit)},
			})
		}
	}
	if len(f.Links) > 0 {
		links := make([]string, 0, len(f.Links))
		for _, l := range f.Links {
			links = append(links, fmt.Sprintf("<%s|%s>", l.URL, l.Name))
		}
		blocks = append(blocks, slackBlock{Type: "section", Text: &slackText{Type: "mrkdwn", Text: strings.Join(links, " | ")}})
	}

	return slackPayload{Channel: channel, Text: header, Blocks: blocks}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n… (truncated)"
}

func init() {
	RegisterType("slack_sink", NewSlackSink)
}
