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
	"strconv"
	"strings"

	"github.com/marcus-qen/robusta/internal/finding"
)

const (
	defaultTelegramURL = "https://api.telegram.org"
	// Telegram rejects messages over 4096 characters.
	telegramMessageLimit = 4000
)

// TelegramParams configures a Telegram Bot API sink.
type TelegramParams struct {
	BaseParams
	BotToken string `json:"bot_token" validate:"required"`
	ChatID   int64  `json:"chat_id" validate:"required"`
	ThreadID int64  `json:"thread_id,omitempty"`
	APIURL   string `json:"api_url,omitempty" validate:"omitempty,url"`
}

// TelegramSink sends findings with sendMessage. Summaries are edited in
// place with editMessageText.
type TelegramSink struct {
	params      TelegramParams
	clusterName string
	client      *http.Client
}

func NewTelegramSink(cfg Config, env Env) (Sink, error) {
	var p TelegramParams
	if err := cfg.Decode(&p); err != nil {
		return nil, err
	}
	if p.APIURL == "" {
		p.APIURL = defaultTelegramURL
	}
	p.APIURL = strings.TrimSuffix(p.APIURL, "/")
	return &TelegramSink{params: p, clusterName: env.ClusterName, client: env.httpClient()}, nil
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

func (s *TelegramSink) WriteFinding(ctx context.Context, f *finding.Finding, _ bool) error {
	_, err := s.call(ctx, "sendMessage", s.message(findingText(f, s.clusterName, telegramMessageLimit), 0))
	return err
}

func (s *TelegramSink) WriteFindingInThread(ctx context.Context, f *finding.Finding, _ bool, threadID string) error {
	replyTo, err := strconv.ParseInt(threadID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram message id %q: %w", threadID, err)
	}
	_, err = s.call(ctx, "sendMessage", s.message(findingText(f, s.clusterName, telegramMessageLimit), replyTo))
	return err
}

func (s *TelegramSink) WriteSummary(ctx context.Context, sum *Summary) (string, error) {
	text := "```\n" + truncate(sum.Text(), telegramMessageLimit-10) + "\n```"
	if sum.MessageID != "" {
		id, err := strconv.ParseInt(sum.MessageID, 10, 64)
		if err == nil {
			payload := map[string]any{
				"chat_id":    s.params.ChatID,
				"message_id": id,
				"text":       text,
				"parse_mode": "Markdown",
			}
			if _, err := s.call(ctx, "editMessageText", payload); err != nil {
				return "", err
			}
			return sum.MessageID, nil
		}
	}
	id, err := s.call(ctx, "sendMessage", s.message(text, 0))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

func (s *TelegramSink) message(text string, replyTo int64) map[string]any {
	payload := map[string]any{
		"chat_id":                  s.params.ChatID,
		"text":                     text,
		"parse_mode":               "Markdown",
		"disable_web_page_preview": true,
	}
	if s.params.ThreadID != 0 {
		payload["message_thread_id"] = s.params.ThreadID
	}
	if replyTo != 0 {
		payload["reply_to_message_id"] = replyTo
	}
	return payload
}

// call invokes a Bot API method and returns the message id of the result.
func (s *TelegramSink) call(ctx context.Context, method string, payload map[string]any) (int64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal telegram payload: %w", err)
	}

	apiURL := fmt.Sprintf("%s/bot%s/%s", s.params.APIURL, s.params.BotToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send to telegram: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("telegram returned %d: %s", resp.StatusCode, truncate(string(respBody), 1024))
	}
	var tr telegramResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return 0, fmt.Errorf("decode telegram response: %w", err)
	}
	if !tr.OK {
		return 0, fmt.Errorf("telegram %s failed: %s", method, tr.Description)
	}
	return tr.Result.MessageID, nil
}

func (s *TelegramSink) Stop() {}

func init() {
	RegisterType("telegram_sink", NewTelegramSink)
}
