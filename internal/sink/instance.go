/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"

	"github.com/marcus-qen/robusta/internal/finding"
)

// Instance is a live, configured sink.
type Instance struct {
	Name   string
	Type   string
	Params BaseParams

	sink        Sink
	fingerprint string
	matcher     *finding.Matcher
	slices      []timeSlice
	limiter     *rate.Limiter
	clusterName string
	log         logr.Logger
	now         func() time.Time

	// mu serialises grouping decisions and the deliveries they trigger.
	mu     sync.Mutex
	groups map[string]*notificationGroup
}

// NewInstance wraps s with the behaviour configured in cfg.
func NewInstance(cfg Config, s Sink, env Env) (*Instance, error) {
	p := cfg.Base
	if err := validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("sink %q: %w", p.Name, err)
	}
	if p.Scope != nil {
		if err := p.Scope.Validate(); err != nil {
			return nil, fmt.Errorf("sink %q: %w", p.Name, err)
		}
	}
	slices, err := p.Activity.timeSlices()
	if err != nil {
		return nil, fmt.Errorf("sink %q: %w", p.Name, err)
	}
	if g := p.Grouping; g != nil {
		if err := g.validateMode(); err != nil {
			return nil, fmt.Errorf("sink %q: %w", p.Name, err)
		}
		if g.mode().Summary != nil {
			if _, ok := s.(SummaryWriter); !ok {
				return nil, fmt.Errorf("sink %q: %s does not support summary notifications", p.Name, cfg.Type)
			}
		}
	}

	log := env.Log.WithName("sink").WithValues("sink", p.Name)
	i := &Instance{
		Name:        p.Name,
		Type:        cfg.Type,
		Params:      p,
		sink:        s,
		fingerprint: cfg.fingerprint(),
		matcher:     finding.NewMatcher(log),
		slices:      slices,
		clusterName: env.ClusterName,
		log:         log,
		now:         time.Now,
		groups:      map[string]*notificationGroup{},
	}
	if rl := p.RateLimit; rl != nil {
		burst := rl.Burst
		if burst <= 0 {
			burst = 1
		}
		i.limiter = rate.NewLimiter(rate.Limit(rl.PerSecond), burst)
	}
	return i, nil
}

// Sink returns the wrapped wire implementation.
func (i *Instance) Sink() Sink { return i.sink }

// SetClock overrides the time source used for activity windows and grouping.
func (i *Instance) SetClock(now func() time.Time) { i.now = now }

// Accepts reports whether f passes the match rules and the sink is active.
func (i *Instance) Accepts(f *finding.Finding) bool {
	if !i.matcher.Matches(f, i.Params.Match, i.Params.Scope) {
		return false
	}
	return i.activeAt(i.now())
}

func (i *Instance) activeAt(t time.Time) bool {
	if len(i.slices) == 0 {
		return true
	}
	for _, ts := range i.slices {
		if ts.activeAt(t) {
			return true
		}
	}
	return false
}

// Write delivers an accepted finding, applying grouping when configured.
func (i *Instance) Write(ctx context.Context, f *finding.Finding, platformEnabled bool) error {
	g := i.Params.Grouping
	if g == nil {
		return i.deliver(ctx, f, platformEnabled)
	}

	data := i.findingData(f)
	columns, values := groupValues(g.GroupBy, data)
	key := joinKey(values)
	now := i.now()

	i.mu.Lock()
	defer i.mu.Unlock()

	grp, ok := i.groups[key]
	if !ok {
		grp = &notificationGroup{}
		grp.reset(now)
		i.groups[key] = grp
	} else if now.Sub(grp.start) > g.interval() {
		grp.reset(now)
	}
	grp.count++
	grp.lastSeen = now

	mode := g.mode()
	if mode.Summary != nil {
		return i.writeSummary(ctx, f, platformEnabled, grp, mode.Summary, describe(columns, values), data)
	}
	if grp.count <= mode.Regular.IgnoreFirst {
		i.log.V(1).Info("Finding suppressed by grouping", "group", key, "count", grp.count)
		return nil
	}
	return i.deliver(ctx, f, platformEnabled)
}

func (i *Instance) writeSummary(ctx context.Context, f *finding.Finding, platformEnabled bool, grp *notificationGroup, mode *SummaryMode, groupBy []string, data map[string]any) error {
	columns, values := groupValues(mode.By, data)
	if grp.summary == nil {
		grp.summary = &summaryTable{columns: columns, rows: map[string]*SummaryRow{}, start: grp.start}
	}
	grp.summary.record(values, f.Status() == finding.StatusResolved)

	if i.limiter != nil && !i.limiter.Allow() {
		i.log.V(1).Info("Summary update dropped by rate limit")
		return nil
	}
	id, err := i.sink.(SummaryWriter).WriteSummary(ctx, grp.summary.snapshot(groupBy, i.Params.Grouping.interval()))
	if err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	grp.summary.id = id

	if mode.Threaded && id != "" {
		if tw, ok := i.sink.(ThreadWriter); ok {
			return tw.WriteFindingInThread(ctx, f, platformEnabled, id)
		}
	}
	return nil
}

func (i *Instance) deliver(ctx context.Context, f *finding.Finding, platformEnabled bool) error {
	if i.limiter != nil && !i.limiter.Allow() {
		i.log.V(1).Info("Finding dropped by rate limit", "title", f.Title)
		return nil
	}
	return i.sink.WriteFinding(ctx, f, platformEnabled)
}

// findingData is the flat attribute view grouping keys are computed from.
func (i *Instance) findingData(f *finding.Finding) map[string]any {
	data := f.AttributeMap()
	data["cluster"] = i.clusterName
	data["workload"] = f.Subject.Name
	data["status"] = f.Status().String()
	return data
}

// Prune drops notification groups idle for more than twice the grouping
// interval. It returns the number of groups removed.
func (i *Instance) Prune(now time.Time) int {
	g := i.Params.Grouping
	if g == nil {
		return 0
	}
	limit := 2 * g.interval()

	i.mu.Lock()
	defer i.mu.Unlock()
	removed := 0
	for key, grp := range i.groups {
		if now.Sub(grp.lastSeen) > limit {
			delete(i.groups, key)
			removed++
		}
	}
	return removed
}

// Groups returns the number of tracked notification groups.
func (i *Instance) Groups() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.groups)
}

// Stop stops the wrapped sink.
func (i *Instance) Stop() { i.sink.Stop() }

func describe(columns, values []string) []string {
	out := make([]string, len(columns))
	for n := range columns {
		out[n] = columns[n] + "=" + values[n]
	}
	return out
}
