/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package event

import (
	"reflect"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/marcus-qen/robusta/internal/finding"
)

// DefaultFindingKey is the findings-map key used when an action enriches
// the event without naming a finding.
const DefaultFindingKey = "DEFAULT"

// Findings is shared by every playbook of one dispatch so playbooks can
// cooperate on a finding by key.
type Findings map[string]*finding.Finding

// ExecutionEvent is the value actions run against.
type ExecutionEvent interface {
	// Base exposes the shared dispatch state.
	Base() *BaseEvent

	// CreateDefaultFinding builds the finding used when an action enriches
	// the event without adding a finding first.
	CreateDefaultFinding() *finding.Finding
}

// BaseEvent carries the dispatch state common to all execution events.
// Concrete events embed it.
type BaseEvent struct {
	NamedSinks     []string
	Findings       Findings
	StopProcessing bool
	Response       map[string]any

	owner ExecutionEvent
	log   logr.Logger
}

// Base implements ExecutionEvent.
func (e *BaseEvent) Base() *BaseEvent { return e }

// CreateDefaultFinding implements ExecutionEvent for events without a
// specific subject.
func (e *BaseEvent) CreateDefaultFinding() *finding.Finding {
	return finding.New("Generic finding", "Generic finding key")
}

// Attach prepares e for a dispatch. It must be called before actions run.
func Attach(e ExecutionEvent, findings Findings, namedSinks []string, log logr.Logger) {
	b := e.Base()
	if findings == nil {
		findings = Findings{}
	}
	b.Findings = findings
	b.NamedSinks = namedSinks
	b.owner = e
	b.log = log
}

// AddFinding stores f under key. An empty key gets a fresh UUID; an existing
// key is overwritten with a warning.
func (e *BaseEvent) AddFinding(f *finding.Finding, key string) {
	if e.Findings == nil {
		e.Findings = Findings{}
	}
	if key == "" {
		key = uuid.NewString()
	}
	if existing, ok := e.Findings[key]; ok {
		e.log.Info("Overriding existing finding", "key", key, "title", existing.Title)
	}
	e.Findings[key] = f
}

// DefaultFinding returns the finding stored under key, creating it from
// the event's default-finding factory when absent.
func (e *BaseEvent) DefaultFinding(key string) *finding.Finding {
	if key == "" {
		key = DefaultFindingKey
	}
	if e.Findings == nil {
		e.Findings = Findings{}
	}
	if f, ok := e.Findings[key]; ok {
		return f
	}
	var f *finding.Finding
	if e.owner != nil {
		f = e.owner.CreateDefaultFinding()
	} else {
		f = e.CreateDefaultFinding()
	}
	e.Findings[key] = f
	return f
}

// AddEnrichment appends blocks to the default finding.
func (e *BaseEvent) AddEnrichment(blocks []finding.Block, annotations map[string]string, typ finding.EnrichmentType, title string) {
	e.AddEnrichmentTo(DefaultFindingKey, blocks, annotations, typ, title)
}

// AddEnrichmentTo appends blocks to the finding stored under key.
func (e *BaseEvent) AddEnrichmentTo(key string, blocks []finding.Block, annotations map[string]string, typ finding.EnrichmentType, title string) {
	if len(blocks) == 0 {
		return
	}
	e.DefaultFinding(key).AddEnrichment(blocks, annotations, typ, title)
}

// SetError records a failed action on the response.
func (e *BaseEvent) SetError(msg string) {
	e.Response = map[string]any{"success": false, "msg": msg}
}

// Logger returns the dispatch logger.
func (e *BaseEvent) Logger() logr.Logger { return e.log }

// TypeOf returns the reflect.Type used to declare event requirements.
// For interfaces it returns the interface type itself.
func TypeOf[E any]() reflect.Type {
	return reflect.TypeOf((*E)(nil)).Elem()
}

// Assignable reports whether events of type actual satisfy required.
func Assignable(actual, required reflect.Type) bool {
	if actual == nil || required == nil {
		return false
	}
	if required.Kind() == reflect.Interface {
		return actual.Implements(required)
	}
	return actual == required
}

// IsInstance reports whether e satisfies required.
func IsInstance(e ExecutionEvent, required reflect.Type) bool {
	return Assignable(reflect.TypeOf(e), required)
}
