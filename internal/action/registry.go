/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package action holds the named actions playbooks run. Actions are plain
// Go functions registered with the execution event type they accept and,
// optionally, a parameter struct.
package action

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/go-playground/validator/v10"
	"github.com/google/jsonschema-go/jsonschema"

	"github.com/marcus-qen/robusta/internal/event"
)

var (
	// ErrEventMismatch is returned when an action runs against an event it
	// does not accept.
	ErrEventMismatch = errors.New("execution event type mismatch")

	// ErrInvalidParams wraps parameter decoding and validation failures.
	ErrInvalidParams = errors.New("invalid action params")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Func is the uniform signature actions are adapted to. params is a pointer
// to the action's parameter struct, or nil for actions without parameters.
type Func func(ctx context.Context, e event.ExecutionEvent, params any) error

// Trigger is the part of a trigger a pre-deploy hook can inspect.
type Trigger interface {
	Name() string
	EventType() reflect.Type
}

// PreDeployer is implemented by parameter structs that validate themselves
// against each trigger of the playbook at load time.
type PreDeployer interface {
	PreDeploy(t Trigger) error
}

// Action is one registered action.
type Action struct {
	Name        string
	Description string

	// EventType is the execution event type the action requires. Interface
	// types accept every event implementing them.
	EventType reflect.Type

	// ParamsType is the parameter struct type, nil when the action takes none.
	ParamsType reflect.Type

	// FuncHash identifies the function and its signature. Scheduled jobs
	// are fingerprinted with it.
	FuncHash string

	fn Func
}

// HasParams reports whether the action takes parameters.
func (a *Action) HasParams() bool { return a.ParamsType != nil }

// IsExternal reports whether the action can be invoked by manual and
// callback requests, which requires a from-params event constructor.
func (a *Action) IsExternal() bool {
	_, ok := event.LookupConstructor(a.EventType)
	return ok
}

// Accepts reports whether the action can run against events of type t.
func (a *Action) Accepts(t reflect.Type) bool {
	return event.Assignable(t, a.EventType)
}

// NewParams decodes and validates raw into a new parameter struct. It
// returns nil for actions without parameters.
func (a *Action) NewParams(raw map[string]any) (any, error) {
	if a.ParamsType == nil {
		return nil, nil
	}
	out := reflect.New(a.ParamsType).Interface()
	if err := event.Decode(raw, out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	if a.ParamsType.Kind() == reflect.Struct {
		if err := validate.Struct(out); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
		}
	}
	return out, nil
}

// Run invokes the action.
func (a *Action) Run(ctx context.Context, e event.ExecutionEvent, params any) error {
	return a.fn(ctx, e, params)
}

// Option customises an action at registration.
type Option func(*Action)

// WithDescription sets the description advertised to external callers.
func WithDescription(d string) Option {
	return func(a *Action) { a.Description = d }
}

// Registry maps action names to actions. Registering an existing name
// replaces the previous action.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]*Action
	log     logr.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log logr.Logger) *Registry {
	return &Registry{
		actions: make(map[string]*Action),
		log:     log.WithName("actions"),
	}
}

// Register adds an action taking parameters of type P.
func Register[E event.ExecutionEvent, P any](r *Registry, name string, fn func(context.Context, E, *P) error, opts ...Option) {
	paramsType := reflect.TypeOf((*P)(nil)).Elem()
	a := &Action{
		Name:       name,
		EventType:  event.TypeOf[E](),
		ParamsType: paramsType,
		fn: func(ctx context.Context, e event.ExecutionEvent, params any) error {
			ev, ok := e.(E)
			if !ok {
				return fmt.Errorf("%w: %s requires %s, got %T", ErrEventMismatch, name, event.TypeOf[E](), e)
			}
			p, _ := params.(*P)
			if p == nil {
				p = new(P)
			}
			return fn(ctx, ev, p)
		},
	}
	a.FuncHash = funcHash(fn, a.EventType, paramsType)
	r.add(a, opts)
}

// RegisterSimple adds an action without parameters.
func RegisterSimple[E event.ExecutionEvent](r *Registry, name string, fn func(context.Context, E) error, opts ...Option) {
	a := &Action{
		Name:      name,
		EventType: event.TypeOf[E](),
		fn: func(ctx context.Context, e event.ExecutionEvent, _ any) error {
			ev, ok := e.(E)
			if !ok {
				return fmt.Errorf("%w: %s requires %s, got %T", ErrEventMismatch, name, event.TypeOf[E](), e)
			}
			return fn(ctx, ev)
		},
	}
	a.FuncHash = funcHash(fn, a.EventType, nil)
	r.add(a, opts)
}

func (r *Registry) add(a *Action, opts []Option) {
	for _, opt := range opts {
		opt(a)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[a.Name]; exists {
		r.log.Info("Replacing action", "action", a.Name)
	}
	r.actions[a.Name] = a
	r.log.V(1).Info("Registered action", "action", a.Name, "event", a.EventType.String())
}

// Get returns the named action or nil.
func (r *Registry) Get(name string) *Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.actions[name]
}

// Names returns the registered action names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered actions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}

// External describes an action invocable through the external request channel.
type External struct {
	Name          string             `json:"action_name"`
	Description   string             `json:"description,omitempty"`
	EventParams   *jsonschema.Schema `json:"from_params_schema,omitempty"`
	ActionParams  *jsonschema.Schema `json:"params_schema,omitempty"`
	EventTypeName string             `json:"event_type"`
}

// ListExternal returns the external actions with their parameter schemas,
// sorted by name.
func (r *Registry) ListExternal() ([]External, error) {
	var out []External
	for _, name := range r.Names() {
		a := r.Get(name)
		ctor, ok := event.LookupConstructor(a.EventType)
		if !ok {
			continue
		}
		ext := External{Name: a.Name, Description: a.Description, EventTypeName: a.EventType.String()}
		var err error
		if ext.EventParams, err = jsonschema.ForType(ctor.ParamsType, &jsonschema.ForOptions{}); err != nil {
			return nil, fmt.Errorf("event params schema for %s: %w", a.Name, err)
		}
		if a.ParamsType != nil {
			if ext.ActionParams, err = jsonschema.ForType(a.ParamsType, &jsonschema.ForOptions{}); err != nil {
				return nil, fmt.Errorf("action params schema for %s: %w", a.Name, err)
			}
		}
		out = append(out, ext)
	}
	return out, nil
}

func funcHash(fn any, eventType, paramsType reflect.Type) string {
	name := "unknown"
	if f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()); f != nil {
		name = f.Name()
	}
	params := "none"
	if paramsType != nil {
		params = paramsType.String()
	}
	sum := sha256.Sum256([]byte(name + "|" + eventType.String() + "|" + params))
	return hex.EncodeToString(sum[:])
}
