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

	"github.com/marcus-qen/robusta/internal/event"
	"github.com/marcus-qen/robusta/internal/finding"
)

func reportSchedulingEvent(_ context.Context, e *event.ScheduledEvent) error {
	f := finding.New("Scheduled event", "ScheduledEventReport",
		finding.WithSource(finding.SourceScheduler),
		finding.WithType(finding.TypeReport),
		finding.WithFailure(false),
		finding.WithDescription(fmt.Sprintf("Job %s", e.JobID)),
	)
	f.AddEnrichment([]finding.Block{
		&finding.MarkdownBlock{Text: fmt.Sprintf("Scheduled event fired, recurrence %d", e.Recurrence)},
	}, nil, finding.EnrichmentNone, "")
	e.AddFinding(f, "")
	return nil
}
