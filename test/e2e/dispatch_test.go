/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package e2e

import (
	"context"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/marcus-qen/robusta/internal/finding"
	"github.com/marcus-qen/robusta/internal/runner"
	"github.com/marcus-qen/robusta/internal/scheduler"
	"github.com/marcus-qen/robusta/internal/sink"
)

var highCPU = map[string]string{
	"alertname": "HighCPU",
	"severity":  "warning",
	"pod":       "web-0",
	"namespace": "prod",
}

var _ = Describe("Alert dispatch", func() {
	It("delivers an enriched alert finding to the default sink", func() {
		h := startRunner(`
sinks_config:
- recording_sink:
    name: S1
active_playbooks:
- name: P1
  triggers:
  - on_prometheus_alert:
      alert_name: HighCPU
  actions:
  - default_enricher: {}
`, nil)
		h.postAlerts(alert("firing", highCPU))

		s1 := recorder("S1")
		Eventually(s1.Findings).Should(HaveLen(1))
		Consistently(s1.Findings, 300*time.Millisecond).Should(HaveLen(1))

		f := s1.Findings()[0]
		Expect(f.Title).To(Equal("HighCPU"))
		Expect(f.Severity).To(Equal(finding.SeverityMedium))
		Expect(f.Subject.Type).To(Equal(finding.SubjectPod))
		Expect(f.Subject.Name).To(Equal("web-0"))
		Expect(f.Subject.Namespace).To(Equal("prod"))
		Expect(f.Enrichments).To(HaveLen(1))
		Expect(f.Enrichments[0].Blocks[0]).To(BeAssignableToTypeOf(&finding.TableBlock{}))
		table := f.Enrichments[0].Blocks[0].(*finding.TableBlock)
		Expect(table.Rows).To(ContainElement([]string{"pod", "web-0"}))
	})

	It("skips later playbooks once a silencer stopped processing", func() {
		h := startRunner(`
sinks_config:
- recording_sink:
    name: S1
active_playbooks:
- name: P_sil
  triggers:
  - on_prometheus_alert:
      alert_name: HighCPU
  actions:
  - severity_silencer:
      severity: warning
  stop: false
- name: P_notify
  triggers:
  - on_prometheus_alert:
      alert_name: HighCPU
  actions:
  - default_enricher: {}
`, nil)
		h.postAlerts(alert("firing", highCPU))

		Consistently(recorder("S1").Findings, 500*time.Millisecond).Should(BeEmpty())
	})
})

var _ = Describe("Sink grouping", func() {
	It("suppresses the first findings of a group in regular mode", func() {
		h := startRunner(`
sinks_config:
- recording_sink:
    name: S1
    grouping:
      group_by: [severity, {labels: [alertname]}]
      interval: 300
      notification_mode:
        regular:
          ignore_first: 2
active_playbooks:
- triggers:
  - on_prometheus_alert:
      alert_name: HighCPU
  actions:
  - default_enricher: {}
`, nil)
		before := h.rejected()
		for range 3 {
			h.postAlerts(alert("firing", highCPU))
		}

		s1 := recorder("S1")
		Eventually(s1.Findings).Should(HaveLen(1))
		Consistently(s1.Findings, 300*time.Millisecond).Should(HaveLen(1))
		Expect(h.rejected()).To(Equal(before))
	})

	It("keeps one running summary per group in summary mode", func() {
		h := startRunner(`
sinks_config:
- recording_sink:
    name: S1
    grouping:
      group_by: [severity, {labels: [alertname]}]
      interval: 300
      notification_mode:
        summary:
          by: [{labels: [pod]}]
          threaded: true
active_playbooks:
- triggers:
  - on_prometheus_alert:
      alert_name: HighCPU
      status: all
  actions:
  - default_enricher: {}
`, nil)
		podAlert := func(status, pod string) map[string]any {
			return alert(status, map[string]string{"alertname": "HighCPU", "severity": "warning", "pod": pod, "namespace": "prod"})
		}
		h.postAlerts(
			podAlert("firing", "a"),
			podAlert("firing", "a"),
			podAlert("firing", "a"),
			podAlert("firing", "b"),
			podAlert("firing", "b"),
			podAlert("resolved", "a"),
		)

		s1 := recorder("S1")
		Eventually(s1.Summaries).Should(HaveLen(6))
		summaries := s1.Summaries()
		Expect(summaries[0].MessageID).To(BeEmpty(), "the first alert creates the summary")
		for _, s := range summaries[1:] {
			Expect(s.MessageID).To(Equal("msg-1"), "later alerts update the same summary")
		}
		Expect(summaries[5].Rows).To(Equal([]sink.SummaryRow{
			{Key: []string{"a"}, Firing: 3, Resolved: 1},
			{Key: []string{"b"}, Firing: 2, Resolved: 0},
		}))
		Expect(s1.Findings()).To(BeEmpty())
	})
})

var _ = Describe("Manual trigger", func() {
	It("runs an external action and delivers to the requested sink", func() {
		h := startRunner(`
sinks_config:
- recording_sink:
    name: S1
    default: false
`, nil)
		code, out := h.post("/api/trigger", map[string]any{
			"action_name":   "show_stackoverflow_search",
			"action_params": map[string]any{"search_term": "OOMKilled"},
			"sinks":         []string{"S1"},
		})
		Expect(code).To(Equal(http.StatusOK))
		Expect(out).To(HaveKeyWithValue("success", true))

		s1 := recorder("S1")
		Eventually(s1.Findings).Should(HaveLen(1))
		block := s1.Findings()[0].Enrichments[0].Blocks[0]
		Expect(block).To(Or(
			BeAssignableToTypeOf(&finding.ListBlock{}),
			BeAssignableToTypeOf(&finding.MarkdownBlock{}),
		))
	})

	It("rejects a request without an action name", func() {
		h := startRunner("{}\n", nil)
		code, _ := h.post("/api/trigger", map[string]any{"action_params": map[string]any{}})
		Expect(code).To(Equal(http.StatusBadRequest))
	})
})

var _ = Describe("Scheduler reload", func() {
	It("unschedules removed playbooks and keeps standalone jobs", func() {
		ctx := context.Background()
		standalone := runner.ActionJob("report_scheduling_event", "", "A", nil, nil, scheduler.Params{
			FixedDelayRepeat: &scheduler.FixedDelayRepeat{Repeat: -1, SecondsDelay: 3600},
		})
		standalone.State = scheduler.JobState{Status: scheduler.StatusRunning, ExecCount: 3, LastExecTime: time.Now()}
		store := scheduler.NewMemoryStore()
		Expect(store.Put(ctx, standalone)).To(Succeed())

		h := startRunner(`
active_playbooks:
- name: B
  triggers:
  - on_schedule:
      fixed_delay_repeat: {repeat: -1, seconds_delay: 3600}
  actions:
  - report_scheduling_event: {}
`, store)
		Expect(h.Scheduler.ScheduleStandalone(ctx, standalone)).To(Succeed())

		playbookJobs := runner.PlaybookJobs(h.Holder.Load().Playbooks)
		Expect(playbookJobs).To(HaveLen(1))
		b := playbookJobs[0].ID
		Expect(h.Scheduler.IsScheduled(b)).To(BeTrue())
		Expect(h.Scheduler.IsScheduled(standalone.ID)).To(BeTrue())

		h.rewrite("active_playbooks: []\n")

		Expect(h.Scheduler.IsScheduled(b)).To(BeFalse())
		_, err := store.Get(ctx, b)
		Expect(err).To(MatchError(scheduler.ErrJobNotFound))

		Expect(h.Scheduler.IsScheduled(standalone.ID)).To(BeTrue())
		saved, err := store.Get(ctx, standalone.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(saved.State.ExecCount).To(Equal(3))
	})
})
