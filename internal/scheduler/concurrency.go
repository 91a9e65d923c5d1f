/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package scheduler

import (
	"sync"
	"time"
)

// RunTracker tracks jobs whose runnable is executing so a job never runs
// twice at once. Thread-safe.
type RunTracker struct {
	mu       sync.RWMutex
	inflight map[string]*RunInfo
	now      func() time.Time
}

// RunInfo records metadata about an in-flight fire.
type RunInfo struct {
	ExecCount int
	StartedAt time.Time
}

// NewRunTracker creates a new tracker.
func NewRunTracker() *RunTracker {
	return &RunTracker{
		inflight: make(map[string]*RunInfo),
		now:      time.Now,
	}
}

// TryStart marks a job as running. It returns false when the job already
// has a fire in progress.
func (t *RunTracker) TryStart(jobID string, execCount int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.inflight[jobID]; exists {
		return false
	}
	t.inflight[jobID] = &RunInfo{
		ExecCount: execCount,
		StartedAt: t.now(),
	}
	return true
}

// Complete marks a job fire as finished.
func (t *RunTracker) Complete(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inflight, jobID)
}

// IsRunning returns true if the job has a fire in progress.
func (t *RunTracker) IsRunning(jobID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, exists := t.inflight[jobID]
	return exists
}

// GetRunInfo returns info about an in-flight fire, or nil if not running.
func (t *RunTracker) GetRunInfo(jobID string) *RunInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, exists := t.inflight[jobID]
	if !exists {
		return nil
	}
	cp := *info
	return &cp
}

// InFlightCount returns how many jobs are currently running.
func (t *RunTracker) InFlightCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.inflight)
}
