/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package actions

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/marcus-qen/robusta/internal/event"
	"github.com/marcus-qen/robusta/internal/finding"
)

// SeverityParams name the severity label value to silence.
type SeverityParams struct {
	Severity string `json:"severity" validate:"required"`
}

// NameSilencerParams list the alert names to silence.
type NameSilencerParams struct {
	Names []string `json:"names" validate:"required,min=1"`
}

func defaultEnricher(_ context.Context, e *event.PrometheusAlertEvent) error {
	labels := e.Alert.Labels
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, labels[k]})
	}
	blocks := []finding.Block{&finding.TableBlock{
		Name:    "*Alert labels*",
		Headers: []string{"label", "value"},
		Rows:    rows,
	}}
	if md := annotationsMarkdown(e.Alert.Annotations); md != "" {
		blocks = append(blocks, &finding.MarkdownBlock{Text: md})
	}
	e.AddEnrichment(blocks, map[string]string{AnnotationAttachment: "true"}, finding.EnrichmentAlertLabels, "Alert labels")
	return nil
}

func annotationsMarkdown(annotations map[string]string) string {
	keys := make([]string, 0, len(annotations))
	for k := range annotations {
		if k == "summary" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "*%s:* %s\n", k, annotations[k])
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func severitySilencer(_ context.Context, e *event.PrometheusAlertEvent, p *SeverityParams) error {
	if e.Alert.Labels["severity"] == p.Severity {
		e.Logger().V(1).Info("Silencing alert by severity", "alert", e.AlertName(), "severity", p.Severity)
		e.StopProcessing = true
	}
	return nil
}

func nameSilencer(_ context.Context, e *event.PrometheusAlertEvent, p *NameSilencerParams) error {
	if slices.Contains(p.Names, e.AlertName()) {
		e.Logger().V(1).Info("Silencing alert by name", "alert", e.AlertName())
		e.StopProcessing = true
	}
	return nil
}

func stackOverflowEnricher(_ context.Context, e *event.PrometheusAlertEvent) error {
	name := e.AlertName()
	if name == "" {
		return nil
	}
	e.AddEnrichment([]finding.Block{&finding.CallbackBlock{
		Choices: map[string]finding.CallbackChoice{
			fmt.Sprintf("Search StackOverflow for %q", name): {
				Action: "show_stackoverflow_search",
				Params: map[string]any{"search_term": name},
			},
		},
	}}, nil, finding.EnrichmentNone, "")
	return nil
}
