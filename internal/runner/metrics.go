/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package runner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SourceManualAction labels metrics of synchronous external requests.
const SourceManualAction = "manual_action"

// Metrics are the dispatcher's Prometheus collectors.
type Metrics struct {
	// PlaybookErrors counts failed actions by source.
	PlaybookErrors *prometheus.CounterVec

	// ProcessTime observes the duration of one action run by source.
	ProcessTime *prometheus.SummaryVec

	// SinkFindings counts findings written per sink.
	SinkFindings *prometheus.CounterVec

	// SinkErrors counts failed sink writes per sink.
	SinkErrors *prometheus.CounterVec
}

// NewMetrics registers the dispatcher collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PlaybookErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "playbooks_errors",
			Help: "Number of playbooks failures.",
		}, []string{"source"}),
		ProcessTime: factory.NewSummaryVec(prometheus.SummaryOpts{
			Name: "playbooks_process_time",
			Help: "Total playbooks process time (seconds)",
		}, []string{"source"}),
		SinkFindings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sink_findings_total",
			Help: "Number of findings written to each sink.",
		}, []string{"sink", "type"}),
		SinkErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sink_errors_total",
			Help: "Number of failed finding writes per sink.",
		}, []string{"sink", "type"}),
	}
}
