/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package retention periodically drops state that is no longer needed:
// idle notification groups held by the sinks and finished scheduler jobs.
//
// Configuration:
//   - ScanInterval: How often to scan (default 10 minutes)
//   - JobTTL: How long DONE scheduler jobs are kept (default 24 hours)
package retention

import (
	"context"
	"time"

	"github.com/go-logr/logr"
)

// GroupPruner drops idle notification groups.
type GroupPruner interface {
	Prune(now time.Time) int
}

// JobPruner deletes finished jobs last run before cutoff.
type JobPruner interface {
	PruneDone(ctx context.Context, cutoff time.Time) (int, error)
}

// Config configures the retention controller.
type Config struct {
	// ScanInterval is how often the cleaner runs.
	ScanInterval time.Duration

	// JobTTL is how long DONE jobs are retained.
	JobTTL time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ScanInterval: 10 * time.Minute,
		JobTTL:       24 * time.Hour,
	}
}

// Controller runs the periodic scans. Either pruner may be nil.
type Controller struct {
	groups GroupPruner
	jobs   JobPruner
	config Config
	log    logr.Logger
	now    func() time.Time // injectable clock for testing
}

// NewController creates a retention controller.
func NewController(groups GroupPruner, jobs JobPruner, cfg Config, log logr.Logger) *Controller {
	def := DefaultConfig()
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = def.ScanInterval
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = def.JobTTL
	}
	return &Controller{
		groups: groups,
		jobs:   jobs,
		config: cfg,
		log:    log.WithName("retention"),
		now:    time.Now,
	}
}

// Start scans on every interval until ctx is done.
func (c *Controller) Start(ctx context.Context) error {
	c.log.Info("Retention controller starting",
		"scanInterval", c.config.ScanInterval,
		"jobTTL", c.config.JobTTL,
	)

	ticker := time.NewTicker(c.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("Retention controller stopping")
			return nil
		case <-ticker.C:
			c.scan(ctx)
		}
	}
}

// ScanResult captures what happened in a single scan.
type ScanResult struct {
	Groups int
	Jobs   int
	Errors int
}

func (c *Controller) scan(ctx context.Context) {
	result := c.doScan(ctx)

	if result.Groups > 0 || result.Jobs > 0 || result.Errors > 0 {
		c.log.Info("Retention scan complete",
			"groups", result.Groups,
			"jobs", result.Jobs,
			"errors", result.Errors,
		)
	} else {
		c.log.V(1).Info("Retention scan complete, nothing to clean")
	}
}

func (c *Controller) doScan(ctx context.Context) ScanResult {
	var result ScanResult
	now := c.now()

	if c.groups != nil {
		result.Groups = c.groups.Prune(now)
	}
	if c.jobs != nil {
		n, err := c.jobs.PruneDone(ctx, now.Add(-c.config.JobTTL))
		if err != nil {
			c.log.Error(err, "Failed to prune finished scheduler jobs")
			result.Errors++
		}
		result.Jobs = n
	}
	return result
}
