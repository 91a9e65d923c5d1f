/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package ingress

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcus-qen/robusta/internal/event"
)

func processedAlert(fingerprint string) event.PrometheusAlert {
	return event.PrometheusAlert{
		Fingerprint: fingerprint,
		Status:      "firing",
		StartsAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestProcessedAlerts_HoldsMaxSizeAlerts(t *testing.T) {
	p, err := NewProcessedAlerts(100, time.Hour)
	if err != nil {
		t.Fatalf("NewProcessedAlerts: %v", err)
	}
	defer p.Close()

	for i := range 50 {
		if p.Seen(processedAlert(fmt.Sprintf("fp-%d", i))) {
			t.Fatalf("expected fp-%d to be new", i)
		}
	}
	dropped := 0
	for i := range 50 {
		if p.Seen(processedAlert(fmt.Sprintf("fp-%d", i))) {
			dropped++
		}
	}
	if dropped != 50 {
		t.Errorf("expected 50 resent alerts dropped, got %d", dropped)
	}
}

func TestProcessedAlerts_ConcurrentResend(t *testing.T) {
	p, err := NewProcessedAlerts(100, time.Hour)
	if err != nil {
		t.Fatalf("NewProcessedAlerts: %v", err)
	}
	defer p.Close()

	var fresh atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !p.Seen(processedAlert("same")) {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := fresh.Load(); got != 1 {
		t.Errorf("expected exactly one alert to pass, got %d", got)
	}
}

func TestProcessedAlerts_StatusChangeIsNew(t *testing.T) {
	p, err := NewProcessedAlerts(100, time.Hour)
	if err != nil {
		t.Fatalf("NewProcessedAlerts: %v", err)
	}
	defer p.Close()

	a := processedAlert("f1")
	p.Seen(a)
	a.Status = "resolved"
	if p.Seen(a) {
		t.Error("expected a resolved alert to be new")
	}
	if p.Seen(event.PrometheusAlert{}) || p.Seen(event.PrometheusAlert{}) {
		t.Error("expected alerts without a fingerprint never to be seen")
	}
}
