/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package ingress

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/marcus-qen/robusta/internal/event"
)

// ProcessedAlerts remembers alerts already enqueued so alertmanager
// re-sends of an unchanged alert are dropped.
type ProcessedAlerts struct {
	mu    sync.Mutex
	cache *ristretto.Cache[string, struct{}]
	ttl   time.Duration
}

// NewProcessedAlerts creates a cache holding up to maxSize alerts for ttl.
func NewProcessedAlerts(maxSize int64, ttl time.Duration) (*ProcessedAlerts, error) {
	if maxSize <= 0 {
		maxSize = 100_000
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, struct{}]{
		NumCounters: maxSize * 10,
		MaxCost:     maxSize,
		BufferItems: 64,
		// Every alert costs 1 so MaxCost counts alerts.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create processed alerts cache: %w", err)
	}
	return &ProcessedAlerts{cache: cache, ttl: ttl}, nil
}

// Seen records the alert and reports whether it had already been recorded.
// Alerts without a fingerprint are never considered seen.
func (p *ProcessedAlerts) Seen(a event.PrometheusAlert) bool {
	if p == nil || p.ttl <= 0 || a.Fingerprint == "" {
		return false
	}
	key := alertKey(a)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.cache.Get(key); ok {
		return true
	}
	p.cache.SetWithTTL(key, struct{}{}, 1, p.ttl)
	p.cache.Wait()
	return false
}

// Close releases the cache.
func (p *ProcessedAlerts) Close() {
	if p != nil {
		p.cache.Close()
	}
}

func alertKey(a event.PrometheusAlert) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s|%s|%s|%s", a.Fingerprint, a.Status,
		a.StartsAt.UTC().Format(time.RFC3339Nano), a.EndsAt.UTC().Format(time.RFC3339Nano))
	return hex.EncodeToString(h.Sum(nil))
}
