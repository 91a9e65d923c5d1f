/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// DefaultMinDelay is the delay of a job's first fire and the floor for
// overdue fires after a restart.
const DefaultMinDelay = 5 * time.Second

// Runnable executes one fire of a job. job.State.ExecCount is the number of
// previous fires.
type Runnable func(ctx context.Context, job Job) error

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithMinDelay overrides DefaultMinDelay.
func WithMinDelay(d time.Duration) Option {
	return func(s *Scheduler) { s.minDelay = d }
}

// WithClock overrides the clock used for exec times and delays.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

type entry struct {
	gen   uint64
	timer *time.Timer
}

type fire struct {
	id  string
	gen uint64
}

// Scheduler fires jobs on a single worker. Job state is written to the
// store before the next fire is armed, so a restart resumes where the
// previous process stopped.
type Scheduler struct {
	store    Store
	log      logr.Logger
	minDelay time.Duration
	now      func() time.Time
	tracker  *RunTracker

	mu        sync.Mutex
	runnables map[string]Runnable
	entries   map[string]*entry
	gen       uint64

	// active holds the job ids of the last Update.
	active  map[string]bool
	stopped bool

	fires    chan fire
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a scheduler over store. Call Start to begin firing jobs.
func New(store Store, log logr.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:     store,
		log:       log.WithName("scheduler"),
		minDelay:  DefaultMinDelay,
		now:       time.Now,
		tracker:   NewRunTracker(),
		runnables: make(map[string]Runnable),
		entries:   make(map[string]*entry),
		fires:     make(chan fire, 64),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRunnable makes name available to jobs.
func (s *Scheduler) RegisterRunnable(name string, r Runnable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runnables[name] = r
}

// Start schedules the persisted standalone jobs and runs the worker until
// ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list scheduled jobs: %w", err)
	}
	for _, j := range jobs {
		if !j.Standalone {
			continue
		}
		s.log.Info("Scheduling standalone job", "job", j.ID)
		if err := s.Schedule(ctx, j); err != nil {
			s.log.Error(err, "Failed to schedule standalone job", "job", j.ID)
		}
	}

	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return nil
		case <-s.done:
			return nil
		case f := <-s.fires:
			if ctx.Err() != nil {
				s.Stop()
				return nil
			}
			s.execute(ctx, f)
		}
	}
}

// Stop cancels every pending fire. A fire in progress completes.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.stopped = true
		for id, e := range s.entries {
			e.timer.Stop()
			delete(s.entries, id)
		}
		s.log.Info("Scheduler stopped")
	})
}

// Schedule arms job. Unless ReplaceExisting is set, an already scheduled
// job is left alone and persisted state wins over job.State; a persisted
// DONE job is not scheduled again.
func (s *Scheduler) Schedule(ctx context.Context, job *Job) error {
	if err := job.Params.Validate(); err != nil {
		return fmt.Errorf("job %s: %w", job.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var saved *Job
	if job.ReplaceExisting {
		s.cancelLocked(job.ID)
	} else {
		if _, ok := s.entries[job.ID]; ok {
			s.log.V(1).Info("Job already scheduled", "job", job.ID)
			return nil
		}
		var err error
		saved, err = s.store.Get(ctx, job.ID)
		if err != nil && !errors.Is(err, ErrJobNotFound) {
			return fmt.Errorf("load job %s: %w", job.ID, err)
		}
	}

	if saved == nil {
		if err := s.store.Put(ctx, job); err != nil {
			return fmt.Errorf("save job %s: %w", job.ID, err)
		}
		saved = job
	} else if saved.State.Status == StatusDone {
		s.log.Info("Scheduled job already done, skipping", "job", saved.ID)
		return nil
	}

	delay, err := NextDelay(saved, s.now(), s.minDelay)
	if err != nil {
		return fmt.Errorf("job %s: %w", job.ID, err)
	}
	s.log.Info("Scheduling job", "job", saved.ID, "mode", saved.Params.Mode(), "delay", delay)
	s.armLocked(saved.ID, delay)
	return nil
}

// ScheduleStandalone schedules a job that survives Update.
func (s *Scheduler) ScheduleStandalone(ctx context.Context, job *Job) error {
	job.Standalone = true
	return s.Schedule(ctx, job)
}

// Unschedule cancels the job and deletes its state.
func (s *Scheduler) Unschedule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(id)
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

// Update makes the non-standalone jobs match jobs: persisted jobs missing
// from the set are unscheduled and new ones are scheduled.
func (s *Scheduler) Update(ctx context.Context, jobs []*Job) error {
	active := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		active[j.ID] = true
	}
	s.mu.Lock()
	s.active = active
	s.mu.Unlock()

	stored, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list scheduled jobs: %w", err)
	}
	var errs []error
	for _, j := range stored {
		if j.Standalone || active[j.ID] {
			continue
		}
		s.log.Info("Unscheduling deleted job", "job", j.ID)
		if err := s.Unschedule(ctx, j.ID); err != nil {
			errs = append(errs, err)
		}
	}
	for _, j := range jobs {
		if s.IsScheduled(j.ID) {
			continue
		}
		if err := s.Schedule(ctx, j); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsScheduled reports whether the job has a pending fire.
func (s *Scheduler) IsScheduled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// Jobs returns the persisted jobs sorted by id.
func (s *Scheduler) Jobs(ctx context.Context) ([]*Job, error) {
	return s.store.List(ctx)
}

// PruneDone deletes DONE jobs that finished before cutoff and are not part
// of the last Update. Configured jobs keep their DONE state so a reload does
// not run them again.
func (s *Scheduler) PruneDone(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	pruned := 0
	for _, j := range jobs {
		if j.State.Status != StatusDone || s.active[j.ID] || !j.FinishedAt.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, j.ID); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

// InFlightCount returns how many job fires are running.
func (s *Scheduler) InFlightCount() int { return s.tracker.InFlightCount() }

func (s *Scheduler) armLocked(id string, delay time.Duration) {
	s.cancelLocked(id)
	if s.stopped {
		return
	}
	s.gen++
	f := fire{id: id, gen: s.gen}
	t := time.AfterFunc(delay, func() {
		select {
		case s.fires <- f:
		case <-s.done:
		}
	})
	s.entries[id] = &entry{gen: f.gen, timer: t}
}

func (s *Scheduler) cancelLocked(id string) {
	if e, ok := s.entries[id]; ok {
		e.timer.Stop()
		delete(s.entries, id)
	}
}

// currentLocked reports whether f is still the pending fire of its job.
func (s *Scheduler) currentLocked(f fire) bool {
	e, ok := s.entries[f.id]
	return ok && e.gen == f.gen
}

func (s *Scheduler) execute(ctx context.Context, f fire) {
	// state written after the runnable must survive a shutdown during it
	storeCtx := context.WithoutCancel(ctx)

	s.mu.Lock()
	if !s.currentLocked(f) {
		s.mu.Unlock()
		return
	}
	job, err := s.store.Get(ctx, f.id)
	run := s.runnables[jobRunnable(job)]
	s.mu.Unlock()
	if err != nil {
		s.log.Error(err, "Failed to load scheduled job", "job", f.id)
		return
	}

	if !s.tracker.TryStart(job.ID, job.State.ExecCount) {
		s.log.Info("Previous fire still running, skipping", "job", job.ID)
		return
	}
	defer s.tracker.Complete(job.ID)

	if job.State.Status == StatusNew {
		job.State.Status = StatusRunning
	}
	job.State.LastExecTime = s.now()
	s.log.Info("Running scheduled job", "job", job.ID, "execCount", job.State.ExecCount)

	if run == nil {
		s.log.Error(fmt.Errorf("runnable %q not registered", job.RunnableName), "Failed to run scheduled job", "job", job.ID)
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.currentLocked(f) {
			s.doneLocked(storeCtx, job)
		}
		return
	}
	if err := s.invoke(ctx, run, *job); err != nil {
		s.log.Error(err, "Failed to execute runnable", "job", job.ID, "runnable", job.RunnableName, "execCount", job.State.ExecCount)
	}
	job.State.ExecCount++

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped && !s.currentLocked(f) {
		// unscheduled or replaced while running
		return
	}
	if job.IsDone() {
		s.doneLocked(storeCtx, job)
		return
	}
	if err := s.store.Put(storeCtx, job); err != nil {
		s.log.Error(err, "Failed to save scheduled job", "job", job.ID)
	}
	delay, err := NextDelay(job, s.now(), s.minDelay)
	if err != nil {
		s.log.Error(err, "Failed to compute next fire", "job", job.ID)
		delete(s.entries, job.ID)
		return
	}
	s.armLocked(job.ID, delay)
}

func (s *Scheduler) doneLocked(ctx context.Context, job *Job) {
	job.State.Status = StatusDone
	job.FinishedAt = s.now()
	var err error
	if job.Standalone {
		err = s.store.Delete(ctx, job.ID)
	} else {
		err = s.store.Put(ctx, job)
	}
	if err != nil {
		s.log.Error(err, "Failed to save finished job", "job", job.ID)
	}
	delete(s.entries, job.ID)
	s.log.Info("Scheduled job done", "job", job.ID, "executions", job.State.ExecCount)
}

func (s *Scheduler) invoke(ctx context.Context, run Runnable, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("runnable panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return run(ctx, job)
}

func jobRunnable(j *Job) string {
	if j == nil {
		return ""
	}
	return j.RunnableName
}
