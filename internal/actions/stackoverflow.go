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
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"

	"github.com/marcus-qen/robusta/internal/event"
	"github.com/marcus-qen/robusta/internal/finding"
)

// SearchTermParams hold the StackOverflow query.
type SearchTermParams struct {
	SearchTerm string `json:"search_term" validate:"required"`
}

type stackOverflow struct {
	client *http.Client
	url    string
}

type stackOverflowResult struct {
	Items []struct {
		Title string `json:"title"`
		Link  string `json:"link"`
	} `json:"items"`
}

func (s *stackOverflow) search(ctx context.Context, e event.ExecutionEvent, p *SearchTermParams) error {
	q := url.Values{}
	q.Set("order", "desc")
	q.Set("sort", "relevance")
	q.Set("q", p.SearchTerm)
	q.Set("site", "stackoverflow")
	target := s.url + "?" + q.Encode()

	b := e.Base()
	b.Logger().Info("Searching StackOverflow", "url", target)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build stackoverflow request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("query stackoverflow: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("query stackoverflow: status %d", resp.StatusCode)
	}
	var result stackOverflowResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode stackoverflow response: %w", err)
	}

	f := finding.New(p.SearchTerm+" StackOverflow Results", "show_stackoverflow_search",
		finding.WithSource(finding.SourceManual),
		finding.WithFailure(false),
	)
	answers := make([]string, 0, len(result.Items))
	for _, item := range result.Items {
		answers = append(answers, fmt.Sprintf("<%s|%s>", item.Link, html.UnescapeString(item.Title)))
	}
	if len(answers) > 0 {
		f.AddEnrichment([]finding.Block{&finding.ListBlock{Items: answers}}, nil, finding.EnrichmentNone, "")
	} else {
		msg := fmt.Sprintf("Sorry, StackOverflow doesn't know anything about %q", p.SearchTerm)
		f.AddEnrichment([]finding.Block{&finding.MarkdownBlock{Text: msg}}, nil, finding.EnrichmentNone, "")
	}
	b.AddFinding(f, "")
	return nil
}
