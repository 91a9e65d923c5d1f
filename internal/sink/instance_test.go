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
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/gomega"

	"github.com/marcus-qen/robusta/internal/finding"
)

// recordingSink records every delivery.
type recordingSink struct {
	mu        sync.Mutex
	findings  []*finding.Finding
	summaries []*Summary
	threaded  map[string]int
	stopped   bool
	err       error
}

func (s *recordingSink) WriteFinding(_ context.Context, f *finding.Finding, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.findings = append(s.findings, f)
	return nil
}

func (s *recordingSink) WriteSummary(_ context.Context, sum *Summary) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, sum)
	if sum.MessageID != "" {
		return sum.MessageID, nil
	}
	return "msg-" + strconv.Itoa(len(s.summaries)), nil
}

func (s *recordingSink) WriteFindingInThread(_ context.Context, _ *finding.Finding, _ bool, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.threaded == nil {
		s.threaded = map[string]int{}
	}
	s.threaded[threadID]++
	return nil
}

func (s *recordingSink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

// plainSink supports neither summaries nor threads.
type plainSink struct{}

func (plainSink) WriteFinding(context.Context, *finding.Finding, bool) error { return nil }
func (plainSink) Stop()                                                      {}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func mustConfig(t *testing.T, doc string) Config {
	t.Helper()
	var cfg Config
	if err := json.Unmarshal([]byte(doc), &cfg); err != nil {
		t.Fatalf("decode sink config: %v", err)
	}
	return cfg
}

func newTestInstance(t *testing.T, doc string, s Sink) (*Instance, *fakeClock) {
	t.Helper()
	inst, err := NewInstance(mustConfig(t, doc), s, Env{Log: logr.Discard(), ClusterName: "prod-cluster"})
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}
	clock := &fakeClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	inst.SetClock(clock.now)
	return inst, clock
}

func alertFinding(title string, labels map[string]string, sev finding.Severity) *finding.Finding {
	return finding.New(title, "HighCPU",
		finding.WithSeverity(sev),
		finding.WithSubject(finding.Subject{Name: "web-0", Namespace: "prod", Type: finding.SubjectPod, Labels: labels}),
	)
}

func TestInstance_RegularModeIgnoreFirst(t *testing.T) {
	g := NewWithT(t)
	rec := &recordingSink{}
	inst, clock := newTestInstance(t, `{"test_sink": {
		"name": "S1",
		"grouping": {
			"group_by": ["severity", {"labels": ["alertname"]}],
			"interval": 300,
			"notification_mode": {"regular": {"ignore_first": 2}}
		}}}`, rec)

	for n := 0; n < 3; n++ {
		f := alertFinding("HighCPU", map[string]string{"alertname": "HighCPU"}, finding.SeverityMedium)
		g.Expect(inst.Accepts(f)).To(BeTrue())
		g.Expect(inst.Write(context.Background(), f, false)).To(Succeed())
		clock.advance(3 * time.Second)
	}
	g.Expect(rec.findings).To(HaveLen(1))
	g.Expect(inst.Groups()).To(Equal(1))

	// another group key is counted separately
	other := alertFinding("HighCPU", map[string]string{"alertname": "HighCPU"}, finding.SeverityHigh)
	g.Expect(inst.Write(context.Background(), other, false)).To(Succeed())
	g.Expect(rec.findings).To(HaveLen(1))
	g.Expect(inst.Groups()).To(Equal(2))
}

func TestInstance_GroupResetsAfterInterval(t *testing.T) {
	g := NewWithT(t)
	rec := &recordingSink{}
	inst, clock := newTestInstance(t, `{"test_sink": {
		"name": "S1",
		"grouping": {"group_by": ["namespace"], "interval": 60,
			"notification_mode": {"regular": {"ignore_first": 1}}}}}`, rec)

	write := func() {
		g.Expect(inst.Write(context.Background(), alertFinding("A", nil, finding.SeverityLow), false)).To(Succeed())
	}
	write()
	write()
	g.Expect(rec.findings).To(HaveLen(1))

	clock.advance(61 * time.Second)
	write()
	g.Expect(rec.findings).To(HaveLen(1), "first finding after reset is ignored again")
	write()
	g.Expect(rec.findings).To(HaveLen(2))
}

func TestInstance_SummaryMode(t *testing.T) {
	g := NewWithT(t)
	rec := &recordingSink{}
	inst, clock := newTestInstance(t, `{"test_sink": {
		"name": "S1",
		"grouping": {"group_by": ["namespace"], "interval": 600,
			"notification_mode": {"summary": {"by": ["identifier", {"labels": ["team"]}], "threaded": true}}}}}`, rec)

	ctx := context.Background()
	g.Expect(inst.Write(ctx, alertFinding("HighCPU", map[string]string{"team": "a"}, finding.SeverityHigh), false)).To(Succeed())
	g.Expect(inst.Write(ctx, alertFinding("HighCPU", map[string]string{"team": "a"}, finding.SeverityHigh), false)).To(Succeed())
	g.Expect(inst.Write(ctx, alertFinding("[RESOLVED] HighCPU", map[string]string{"team": "a"}, finding.SeverityHigh), false)).To(Succeed())
	g.Expect(inst.Write(ctx, alertFinding("HighCPU", nil, finding.SeverityHigh), false)).To(Succeed())

	g.Expect(rec.findings).To(BeEmpty())
	g.Expect(rec.summaries).To(HaveLen(4))
	last := rec.summaries[3]
	g.Expect(last.MessageID).To(Equal("msg-1"), "later updates edit the first message")
	g.Expect(last.GroupBy).To(Equal([]string{"namespace=prod"}))
	g.Expect(last.Columns).To(Equal([]string{"identifier", "labels.team"}))
	g.Expect(last.Rows).To(Equal([]SummaryRow{
		{Key: []string{"HighCPU", "(undefined)"}, Firing: 1},
		{Key: []string{"HighCPU", "a"}, Firing: 2, Resolved: 1},
	}))
	g.Expect(rec.threaded).To(Equal(map[string]int{"msg-1": 4}))

	total := 0
	for _, r := range last.Rows {
		total += r.Total()
	}
	g.Expect(total).To(Equal(4))

	clock.advance(601 * time.Second)
	g.Expect(inst.Write(ctx, alertFinding("HighCPU", nil, finding.SeverityHigh), false)).To(Succeed())
	g.Expect(rec.summaries[4].MessageID).To(BeEmpty(), "a reset group posts a new summary")
	g.Expect(rec.summaries[4].Rows).To(HaveLen(1))
}

func TestInstance_SummaryRequiresSupport(t *testing.T) {
	g := NewWithT(t)
	_, err := NewInstance(mustConfig(t, `{"test_sink": {"name": "S1",
		"grouping": {"notification_mode": {"summary": {"by": ["identifier"]}}}}}`), plainSink{}, Env{Log: logr.Discard()})
	g.Expect(err).To(HaveOccurred())
}

func TestInstance_MatchAndScope(t *testing.T) {
	g := NewWithT(t)
	inst, _ := newTestInstance(t, `{"test_sink": {
		"name": "S1",
		"match": {"severity": ["HIGH", "MEDIUM"], "namespace": "prod"},
		"scope": {"exclude": [{"labels": ["team=legacy"]}]}}}`, &recordingSink{})

	g.Expect(inst.Accepts(alertFinding("A", nil, finding.SeverityHigh))).To(BeTrue())
	g.Expect(inst.Accepts(alertFinding("A", nil, finding.SeverityLow))).To(BeFalse())
	g.Expect(inst.Accepts(alertFinding("A", map[string]string{"team": "legacy"}, finding.SeverityHigh))).To(BeFalse())
}

func TestInstance_Activity(t *testing.T) {
	g := NewWithT(t)
	inst, clock := newTestInstance(t, `{"test_sink": {
		"name": "S1",
		"activity": {"timezone": "UTC", "intervals": [
			{"days": ["mon", "tue"], "hours": [{"start": "09:00", "end": "17:00"}]},
			{"days": ["sat"]}
		]}}}`, &recordingSink{})
	f := alertFinding("A", nil, finding.SeverityHigh)

	// 2026-03-02 is a Monday.
	g.Expect(inst.Accepts(f)).To(BeTrue())
	clock.t = time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)
	g.Expect(inst.Accepts(f)).To(BeFalse())
	clock.t = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	g.Expect(inst.Accepts(f)).To(BeFalse(), "wednesday is not listed")
	clock.t = time.Date(2026, 3, 7, 23, 30, 0, 0, time.UTC)
	g.Expect(inst.Accepts(f)).To(BeTrue(), "saturday is active all day")
}

func TestInstance_InvalidActivity(t *testing.T) {
	tests := []string{
		`{"test_sink": {"name": "S1", "activity": {"intervals": [{"days": ["someday"]}]}}}`,
		`{"test_sink": {"name": "S1", "activity": {"timezone": "Mars/Olympus", "intervals": [{"days": ["mon"]}]}}}`,
		`{"test_sink": {"name": "S1", "activity": {"intervals": [{"days": ["mon"], "hours": [{"start": "25:00", "end": "26:00"}]}]}}}`,
		`{"test_sink": {"name": "S1", "activity": {"intervals": []}}}`,
	}
	for _, doc := range tests {
		if _, err := NewInstance(mustConfig(t, doc), &recordingSink{}, Env{Log: logr.Discard()}); err == nil {
			t.Errorf("expected error for %s", doc)
		}
	}
}

func TestInstance_RateLimit(t *testing.T) {
	g := NewWithT(t)
	rec := &recordingSink{}
	inst, _ := newTestInstance(t, `{"test_sink": {"name": "S1", "rate_limit": {"per_second": 0.001, "burst": 2}}}`, rec)
	for n := 0; n < 5; n++ {
		g.Expect(inst.Write(context.Background(), alertFinding("A", nil, finding.SeverityHigh), false)).To(Succeed())
	}
	g.Expect(rec.findings).To(HaveLen(2))
}

func TestInstance_Prune(t *testing.T) {
	g := NewWithT(t)
	inst, clock := newTestInstance(t, `{"test_sink": {"name": "S1", "grouping": {"group_by": ["name"], "interval": 60}}}`, &recordingSink{})
	g.Expect(inst.Write(context.Background(), alertFinding("A", nil, finding.SeverityHigh), false)).To(Succeed())
	g.Expect(inst.Prune(clock.t.Add(time.Minute))).To(Equal(0))
	g.Expect(inst.Prune(clock.t.Add(121 * time.Second))).To(Equal(1))
	g.Expect(inst.Groups()).To(Equal(0))
}
