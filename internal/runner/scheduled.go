/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package runner

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/marcus-qen/robusta/internal/event"
	"github.com/marcus-qen/robusta/internal/playbook"
	"github.com/marcus-qen/robusta/internal/scheduler"
)

// ScheduledIntegrationTask is the runnable of scheduled playbooks.
const ScheduledIntegrationTask = "scheduled_integration_task"

// ScheduledIntegrationParams are the runnable params of a scheduled playbook job.
type ScheduledIntegrationParams struct {
	ActionFuncName string         `json:"action_func_name"`
	ActionParams   map[string]any `json:"action_params,omitempty"`
	NamedSinks     []string       `json:"named_sinks,omitempty"`
}

func (p ScheduledIntegrationParams) toMap() map[string]any {
	out := map[string]any{"action_func_name": p.ActionFuncName}
	if p.ActionParams != nil {
		out["action_params"] = maps.Clone(p.ActionParams)
	}
	if p.NamedSinks != nil {
		out["named_sinks"] = slices.Clone(p.NamedSinks)
	}
	return out
}

// RegisterScheduled registers the runnable that fires scheduled playbooks.
func (r *Runner) RegisterScheduled(s *scheduler.Scheduler) {
	s.RegisterRunnable(ScheduledIntegrationTask, r.runScheduled)
}

func (r *Runner) runScheduled(ctx context.Context, job scheduler.Job) error {
	var params ScheduledIntegrationParams
	if err := event.Decode(job.RunnableParams, &params); err != nil {
		return fmt.Errorf("decode scheduled params of %s: %w", job.ID, err)
	}
	if params.ActionFuncName == "" {
		return fmt.Errorf("scheduled job %s has no action", job.ID)
	}
	e := &event.ScheduledEvent{JobID: job.ID, Recurrence: job.State.ExecCount}
	e.NamedSinks = params.NamedSinks
	action := playbook.Action{Name: params.ActionFuncName, Params: params.ActionParams}
	resp := r.RunActions(ctx, e, []playbook.Action{action}, false, false)
	if !Succeeded(resp) {
		return fmt.Errorf("scheduled action %s failed: %v", params.ActionFuncName, resp["msg"])
	}
	return nil
}

// PlaybookJobs returns the scheduler jobs of the registry's scheduled
// playbooks. Jobs are keyed by playbook id so an edited playbook is
// unscheduled and scheduled anew.
func PlaybookJobs(playbooks *playbook.Registry) []*scheduler.Job {
	var jobs []*scheduler.Job
	for _, pb := range playbooks.Scheduled() {
		st, ok := pb.ScheduledTrigger()
		if !ok || len(pb.Actions) != 1 {
			continue
		}
		a := pb.Actions[0]
		jobs = append(jobs, &scheduler.Job{
			ID:           pb.ID(),
			RunnableName: ScheduledIntegrationTask,
			RunnableParams: ScheduledIntegrationParams{
				ActionFuncName: a.Name,
				ActionParams:   a.Params,
				NamedSinks:     pb.Sinks,
			}.toMap(),
			Params: st.SchedulingParams(),
			State:  scheduler.JobState{Status: scheduler.StatusNew},
		})
	}
	return jobs
}

// ActionJob returns a standalone job running one action on a schedule. The
// id is derived from the action, its params and key, so scheduling the same
// task twice keeps a single job.
func ActionJob(actionName, funcHash, key string, params map[string]any, sinks []string, sp scheduler.Params) *scheduler.Job {
	body, _ := json.Marshal(map[string]any{"params": params, "key": key})
	sum := md5.Sum(append([]byte(funcHash+actionName), body...))
	return &scheduler.Job{
		ID:           hex.EncodeToString(sum[:]),
		RunnableName: ScheduledIntegrationTask,
		RunnableParams: ScheduledIntegrationParams{
			ActionFuncName: actionName,
			ActionParams:   params,
			NamedSinks:     sinks,
		}.toMap(),
		Params:     sp,
		State:      scheduler.JobState{Status: scheduler.StatusNew},
		Standalone: true,
	}
}
