/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package scheduler runs scheduled playbooks: fixed delay, dynamic delay and
// cron schedules, with per-job state persisted across restarts.
package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusNew     Status = "NEW"
	StatusRunning Status = "RUNNING"
	StatusDone    Status = "DONE"
)

// FixedDelayRepeat fires Repeat times, SecondsDelay apart. Repeat -1 fires forever.
type FixedDelayRepeat struct {
	Repeat       int `json:"repeat" validate:"gte=-1"`
	SecondsDelay int `json:"seconds_delay" validate:"gte=0"`
}

// DynamicDelayRepeat fires once per delay period, each measured from the
// previous fire.
type DynamicDelayRepeat struct {
	DelayPeriods []int `json:"delay_periods" validate:"min=1,dive,gte=0"`
}

// CronScheduleRepeat fires forever on a five-field cron expression.
type CronScheduleRepeat struct {
	CronExpression string `json:"cron_expression" validate:"required"`
	Timezone       string `json:"timezone,omitempty"`
}

// Params holds exactly one scheduling mode.
type Params struct {
	FixedDelayRepeat   *FixedDelayRepeat   `json:"fixed_delay_repeat,omitempty"`
	DynamicDelayRepeat *DynamicDelayRepeat `json:"dynamic_delay_repeat,omitempty"`
	CronScheduleRepeat *CronScheduleRepeat `json:"cron_schedule_repeat,omitempty"`
}

// ErrInvalidParams is returned for scheduling params without exactly one mode.
var ErrInvalidParams = errors.New("exactly one of fixed_delay_repeat, dynamic_delay_repeat, cron_schedule_repeat is required")

// Validate checks that exactly one mode is set and cron expressions parse.
func (p Params) Validate() error {
	set := 0
	if p.FixedDelayRepeat != nil {
		set++
	}
	if p.DynamicDelayRepeat != nil {
		set++
		if len(p.DynamicDelayRepeat.DelayPeriods) == 0 {
			return fmt.Errorf("dynamic_delay_repeat: delay_periods must not be empty")
		}
	}
	if p.CronScheduleRepeat != nil {
		set++
		if _, err := parseCron(p.CronScheduleRepeat.CronExpression); err != nil {
			return err
		}
		if _, err := loadTimezone(p.CronScheduleRepeat.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", p.CronScheduleRepeat.Timezone, err)
		}
	}
	if set != 1 {
		return ErrInvalidParams
	}
	return nil
}

// Mode names the scheduling mode for logs.
func (p Params) Mode() string {
	switch {
	case p.FixedDelayRepeat != nil:
		return "fixed_delay_repeat"
	case p.DynamicDelayRepeat != nil:
		return "dynamic_delay_repeat"
	case p.CronScheduleRepeat != nil:
		return "cron_schedule_repeat"
	}
	return "none"
}

// JobState is persisted before every fire is scheduled.
type JobState struct {
	Status       Status    `json:"job_status"`
	ExecCount    int       `json:"exec_count"`
	LastExecTime time.Time `json:"last_exec_time"`
}

// Job is one scheduled runnable.
type Job struct {
	ID              string         `json:"job_id"`
	RunnableName    string         `json:"runnable_name"`
	RunnableParams  map[string]any `json:"runnable_params,omitempty"`
	Params          Params         `json:"scheduling_params"`
	State           JobState       `json:"state"`
	ReplaceExisting bool           `json:"replace_existing,omitempty"`
	Standalone      bool           `json:"standalone_task,omitempty"`

	// FinishedAt is set when the job becomes DONE.
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// IsDone reports whether the job has fired as often as its params allow.
func (j *Job) IsDone() bool {
	switch {
	case j.Params.DynamicDelayRepeat != nil:
		return j.State.ExecCount >= len(j.Params.DynamicDelayRepeat.DelayPeriods)
	case j.Params.FixedDelayRepeat != nil:
		repeat := j.Params.FixedDelayRepeat.Repeat
		return repeat >= 0 && j.State.ExecCount >= repeat
	}
	return false
}

// NextDelay computes how long to wait before the next fire. minDelay is the
// floor applied to new and overdue jobs.
func NextDelay(j *Job, now time.Time, minDelay time.Duration) (time.Duration, error) {
	if c := j.Params.CronScheduleRepeat; c != nil {
		next, err := nextCronRun(c.CronExpression, c.Timezone, now)
		if err != nil {
			return 0, err
		}
		return next.Sub(now), nil
	}

	if j.State.Status == StatusNew {
		if d := j.Params.DynamicDelayRepeat; d != nil {
			return seconds(d.DelayPeriods[0]), nil
		}
		return minDelay, nil
	}

	var delay time.Duration
	switch {
	case j.Params.DynamicDelayRepeat != nil:
		periods := j.Params.DynamicDelayRepeat.DelayPeriods
		if j.State.ExecCount >= len(periods) {
			return 0, fmt.Errorf("job %s has no delay period left", j.ID)
		}
		delay = seconds(periods[j.State.ExecCount])
	case j.Params.FixedDelayRepeat != nil:
		delay = seconds(j.Params.FixedDelayRepeat.SecondsDelay)
	default:
		return 0, ErrInvalidParams
	}

	remaining := j.State.LastExecTime.Add(delay).Sub(now)
	if remaining < minDelay {
		return minDelay, nil
	}
	return remaining, nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// --- Cron ---

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func parseCron(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// nextCronRun returns the next fire time after now in the given timezone.
func nextCronRun(expr, tz string, now time.Time) (time.Time, error) {
	sched, err := parseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := loadTimezone(tz)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return sched.Next(now.In(loc)), nil
}

func loadTimezone(tz string) (*time.Location, error) {
	if tz == "" || tz == "UTC" {
		return time.UTC, nil
	}
	return time.LoadLocation(tz)
}
