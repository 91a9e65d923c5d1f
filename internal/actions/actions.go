/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package actions is the built-in action package: alert enrichment and
// silencing, resource change tracking, scheduled reports and the
// StackOverflow search callback.
package actions

import (
	"net/http"
	"time"

	"github.com/marcus-qen/robusta/internal/action"
)

// AnnotationAttachment asks chat sinks to render an enrichment as an
// attachment.
const AnnotationAttachment = "attachment"

const defaultStackOverflowURL = "https://api.stackexchange.com/2.2/search/advanced"

// Options configure the built-in actions.
type Options struct {
	// HTTPClient performs outbound lookups. Defaults to a client with a
	// 10 second timeout.
	HTTPClient *http.Client

	// StackOverflowURL is the StackExchange advanced search endpoint.
	StackOverflowURL string
}

// Plugin returns a registration hook for the built-in actions.
func Plugin(opts Options) func(r *action.Registry) {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.StackOverflowURL == "" {
		opts.StackOverflowURL = defaultStackOverflowURL
	}
	return func(r *action.Registry) {
		action.RegisterSimple(r, "default_enricher", defaultEnricher,
			action.WithDescription("Enrich an alert with its labels and annotations."))
		action.Register(r, "severity_silencer", severitySilencer,
			action.WithDescription("Silence alerts with the specified severity."))
		action.Register(r, "name_silencer", nameSilencer,
			action.WithDescription("Silence named alerts."))
		action.RegisterSimple(r, "stack_overflow_enricher", stackOverflowEnricher,
			action.WithDescription("Add a button searching StackOverflow for the alert name."))

		so := &stackOverflow{client: opts.HTTPClient, url: opts.StackOverflowURL}
		action.Register(r, "show_stackoverflow_search", so.search,
			action.WithDescription("Add a finding with the top StackOverflow results for a search term."))

		action.Register(r, "resource_babysitter", resourceBabysitter,
			action.WithDescription("Track changes to a Kubernetes resource and report the diff."))
		action.RegisterSimple(r, "report_scheduling_event", reportSchedulingEvent,
			action.WithDescription("Report every fire of a scheduled playbook."))
	}
}

// Register adds the built-in actions with default options.
func Register(r *action.Registry) {
	Plugin(Options{})(r)
}
