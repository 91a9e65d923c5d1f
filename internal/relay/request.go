/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package relay

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	// ErrBadSignature is returned when a request signature does not match.
	ErrBadSignature = errors.New("signature mismatch")

	// ErrStaleRequest is returned when a request timestamp is outside the
	// accepted window.
	ErrStaleRequest = errors.New("illegal timestamp")

	// ErrNoSigningKey is returned when a signed request arrives but no
	// signing key is configured.
	ErrNoSigningKey = errors.New("no signing key")

	// ErrUnauthorizedLightAction is returned for unsigned requests naming an
	// action outside the light actions list.
	ErrUnauthorizedLightAction = errors.New("unauthorized action requested")
)

// Validation error codes reported back to the relay.
const (
	CodeIllegalTimestamp        = 4500
	CodeNoSigningKey            = 4501
	CodeSignatureMismatch       = 4502
	CodeUnauthorizedLightAction = 4607
)

// RequestBody is the signed part of an action request.
type RequestBody struct {
	AccountID    string         `json:"account_id"`
	ClusterName  string         `json:"cluster_name"`
	ActionName   string         `json:"action_name"`
	Timestamp    int64          `json:"timestamp"`
	ActionParams map[string]any `json:"action_params,omitempty"`
	Sinks        []string       `json:"sinks,omitempty"`
	Origin       *string        `json:"origin,omitempty"`
}

// canonicalMap is the body as signed: unset optional fields are omitted.
func (b RequestBody) canonicalMap() map[string]any {
	m := map[string]any{
		"account_id":   b.AccountID,
		"cluster_name": b.ClusterName,
		"action_name":  b.ActionName,
		"timestamp":    b.Timestamp,
	}
	if b.ActionParams != nil {
		m["action_params"] = b.ActionParams
	}
	if b.Sinks != nil {
		m["sinks"] = b.Sinks
	}
	if b.Origin != nil {
		m["origin"] = *b.Origin
	}
	return m
}

// ExternalActionRequest is an action request delivered by the relay.
type ExternalActionRequest struct {
	Body      RequestBody `json:"body"`
	Signature string      `json:"signature,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	NoSinks   bool        `json:"no_sinks,omitempty"`

	// Set for requests that arrive through Slack interactivity.
	SlackUsername string `json:"slack_username,omitempty"`
	SlackMessage  any    `json:"slack_message,omitempty"`
}

// Sign returns the v0 signature of body.
func Sign(body RequestBody, key string) (string, error) {
	if key == "" {
		return "", ErrNoSigningKey
	}
	canonical, err := Canonical(body.canonicalMap())
	if err != nil {
		return "", fmt.Errorf("sign request: %w", err)
	}
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte("v0:"))
	mac.Write(canonical)
	return "v0=" + hex.EncodeToString(mac.Sum(nil)), nil
}

// Validator authenticates action requests.
type Validator struct {
	// SigningKey returns the current signing key.
	SigningKey func() string

	// LightActions returns the actions that may run unsigned.
	LightActions func() []string

	// Window is the maximum request age. Zero disables the check.
	Window time.Duration

	now func() time.Time
}

// Validate checks the request's timestamp and signature. Unsigned requests
// are accepted only for light actions. Every request needs a signing key.
func (v *Validator) Validate(req *ExternalActionRequest, checkTimestamp bool) error {
	now := time.Now
	if v.now != nil {
		now = v.now
	}
	if checkTimestamp && v.Window > 0 {
		age := now().Sub(time.Unix(req.Body.Timestamp, 0))
		if age > v.Window {
			return fmt.Errorf("%w: request is %s old", ErrStaleRequest, age.Truncate(time.Second))
		}
	}
	key := ""
	if v.SigningKey != nil {
		key = v.SigningKey()
	}
	if key == "" {
		return ErrNoSigningKey
	}
	if req.Signature == "" {
		if v.LightActions != nil && slices.Contains(v.LightActions(), req.Body.ActionName) {
			return nil
		}
		return ErrUnauthorizedLightAction
	}
	want, err := Sign(req.Body, key)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(want), []byte(req.Signature)) {
		return ErrBadSignature
	}
	return nil
}

// validationResponse maps a validation error to the status and data
// written back for synchronous requests.
func validationResponse(err error) (int, map[string]any) {
	code := CodeSignatureMismatch
	status := 401
	switch {
	case errors.Is(err, ErrStaleRequest):
		code, status = CodeIllegalTimestamp, 400
	case errors.Is(err, ErrNoSigningKey):
		code, status = CodeNoSigningKey, 500
	case errors.Is(err, ErrUnauthorizedLightAction):
		code, status = CodeUnauthorizedLightAction, 401
	}
	return status, map[string]any{"error_code": code, "error_msg": err.Error()}
}

type slackAction struct {
	Value string `json:"value"`
}

type slackActionsMessage struct {
	Actions []slackAction `json:"actions"`
	User    *struct {
		Username string `json:"username"`
	} `json:"user"`
}

// incoming is one request parsed from a relay message.
type incoming struct {
	req   ExternalActionRequest
	slack bool
}

// parseMessage decodes a relay message. Slack interactivity messages carry
// one or more requests in actions[].value; their timestamps are not
// checked. Any other message is a single ExternalActionRequest.
func parseMessage(data []byte) ([]incoming, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if _, ok := probe["actions"]; ok {
		return parseSlackMessage(data)
	}
	var req ExternalActionRequest
	if err := decodeNumbers(data, &req); err != nil {
		return nil, fmt.Errorf("decode action request: %w", err)
	}
	return []incoming{{req: req}}, nil
}

func parseSlackMessage(data []byte) ([]incoming, error) {
	var msg slackActionsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode slack message: %w", err)
	}
	var whole any
	if err := json.Unmarshal(data, &whole); err != nil {
		return nil, fmt.Errorf("decode slack message: %w", err)
	}
	out := make([]incoming, 0, len(msg.Actions))
	for i, a := range msg.Actions {
		var req ExternalActionRequest
		if err := decodeNumbers([]byte(a.Value), &req); err != nil {
			return nil, fmt.Errorf("decode slack action %d: %w", i, err)
		}
		if msg.User != nil {
			req.SlackUsername = msg.User.Username
		}
		req.SlackMessage = whole
		out = append(out, incoming{req: req, slack: true})
	}
	return out, nil
}

// decodeNumbers keeps numbers as json.Number so the signed form of
// action_params matches what was sent.
func decodeNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
