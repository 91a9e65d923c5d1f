/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package lifecycle coordinates graceful shutdown of the runner. Intake is
// stopped first, in-flight dispatches are drained up to a deadline, and
// only then are sinks, the scheduler and its store closed.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// RunTracker reports work still in progress.
type RunTracker interface {
	InFlightCount() int
}

// Step is one named shutdown action.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// ShutdownManager runs the shutdown sequence.
type ShutdownManager struct {
	trackers     []RunTracker
	log          logr.Logger
	drainTimeout time.Duration
	pollInterval time.Duration

	mu      sync.Mutex
	before  []Step
	after   []Step
	cancels map[string]context.CancelFunc
}

// NewShutdownManager creates a shutdown coordinator. drainTimeout is the
// maximum time to wait for the trackers to reach zero.
func NewShutdownManager(drainTimeout time.Duration, log logr.Logger, trackers ...RunTracker) *ShutdownManager {
	return &ShutdownManager{
		trackers:     trackers,
		log:          log.WithName("shutdown"),
		drainTimeout: drainTimeout,
		pollInterval: 100 * time.Millisecond,
		cancels:      make(map[string]context.CancelFunc),
	}
}

// BeforeDrain adds a step run, in order, before waiting for in-flight work.
// Steps that stop intake belong here.
func (s *ShutdownManager) BeforeDrain(name string, fn func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.before = append(s.before, Step{Name: name, Run: fn})
}

// AfterDrain adds a step run, in order, once in-flight work finished or the
// drain timed out.
func (s *ShutdownManager) AfterDrain(name string, fn func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.after = append(s.after, Step{Name: name, Run: fn})
}

// RegisterRun tracks a cancel function called when the drain times out.
func (s *ShutdownManager) RegisterRun(key string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancels[key] = cancel
	s.mu.Unlock()
}

// DeregisterRun removes a cancel function.
func (s *ShutdownManager) DeregisterRun(key string) {
	s.mu.Lock()
	delete(s.cancels, key)
	s.mu.Unlock()
}

// ActiveRuns returns the number of registered cancel functions.
func (s *ShutdownManager) ActiveRuns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cancels)
}

// InFlightCount sums the trackers.
func (s *ShutdownManager) InFlightCount() int {
	n := 0
	for _, t := range s.trackers {
		n += t.InFlightCount()
	}
	return n
}

// Shutdown runs the before steps, drains, then runs the after steps. A
// failing step is logged and does not stop the sequence; all step errors
// are returned joined.
func (s *ShutdownManager) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	before := append([]Step(nil), s.before...)
	after := append([]Step(nil), s.after...)
	s.mu.Unlock()

	var errs []error
	errs = append(errs, s.runSteps(ctx, before)...)
	if cancelled := s.WaitForDrain(); cancelled > 0 {
		s.log.Info("Shutdown forced", "cancelled", cancelled)
	}
	errs = append(errs, s.runSteps(ctx, after)...)
	if len(errs) == 0 {
		s.log.Info("Shutdown complete")
	}
	return errors.Join(errs...)
}

func (s *ShutdownManager) runSteps(ctx context.Context, steps []Step) []error {
	var errs []error
	for _, step := range steps {
		s.log.V(1).Info("Running shutdown step", "step", step.Name)
		if err := step.Run(ctx); err != nil {
			s.log.Error(err, "Failed to run shutdown step", "step", step.Name)
			errs = append(errs, fmt.Errorf("%s: %w", step.Name, err))
		}
	}
	return errs
}

// WaitForDrain blocks until all in-flight work finishes or the drain
// timeout is reached. On timeout every registered run is cancelled.
//
// Returns the number of in-flight units left at the deadline.
func (s *ShutdownManager) WaitForDrain() int {
	inflight := s.InFlightCount()
	if inflight == 0 {
		s.log.Info("No in-flight dispatches, clean shutdown")
		return 0
	}

	s.log.Info("Waiting for in-flight dispatches to complete",
		"inflight", inflight,
		"timeout", s.drainTimeout,
	)

	deadline := time.After(s.drainTimeout)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			remaining := s.InFlightCount()
			if remaining > 0 {
				s.log.Info("Drain timeout reached, cancelling remaining dispatches",
					"remaining", remaining,
				)
				s.cancelAll()
				return remaining
			}
			return 0

		case <-ticker.C:
			if s.InFlightCount() == 0 {
				s.log.Info("All in-flight dispatches completed")
				return 0
			}
		}
	}
}

func (s *ShutdownManager) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, cancel := range s.cancels {
		s.log.Info("Cancelling in-flight work", "key", key)
		cancel()
	}
	s.cancels = make(map[string]context.CancelFunc)
}
