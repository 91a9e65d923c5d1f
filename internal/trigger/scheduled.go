/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package trigger

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/marcus-qen/robusta/internal/event"
	"github.com/marcus-qen/robusta/internal/scheduler"
)

// ScheduledTrigger marks a playbook as scheduled. Scheduled playbooks are
// run by the scheduler, never by raw events.
type ScheduledTrigger struct {
	scheduler.Params
}

func newScheduledTrigger(_ string, params json.RawMessage) (Trigger, error) {
	t := &ScheduledTrigger{}
	if err := decodeStrict(params, &t.Params); err != nil {
		return nil, err
	}
	if err := t.Params.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *ScheduledTrigger) Name() string            { return "on_schedule" }
func (t *ScheduledTrigger) EventKind() event.Kind   { return event.KindScheduled }
func (t *ScheduledTrigger) EventType() reflect.Type { return reflect.TypeOf(&event.ScheduledEvent{}) }

func (t *ScheduledTrigger) ShouldFire(event.TriggerEvent, string) bool { return false }

func (t *ScheduledTrigger) Build(context.Context, event.TriggerEvent, *BuildContext) (event.ExecutionEvent, error) {
	return &event.ScheduledEvent{}, nil
}

// SchedulingParams returns the schedule of the playbook.
func (t *ScheduledTrigger) SchedulingParams() scheduler.Params { return t.Params }

func init() {
	RegisterFactory("on_schedule", newScheduledTrigger)
}
