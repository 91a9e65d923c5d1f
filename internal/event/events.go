/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package event

import (
	"fmt"
	"strings"

	"github.com/marcus-qen/robusta/internal/finding"
)

// ScheduledEvent is fired by the scheduler. Recurrence counts previous fires.
type ScheduledEvent struct {
	BaseEvent

	JobID      string
	Recurrence int
}

func (e *ScheduledEvent) CreateDefaultFinding() *finding.Finding {
	return finding.New("Scheduled task", "ScheduledTask",
		finding.WithSource(finding.SourceScheduler),
		finding.WithType(finding.TypeReport),
		finding.WithFailure(false),
	)
}

// HelmReleaseEvent is a Helm release status update.
type HelmReleaseEvent struct {
	BaseEvent

	Release HelmRelease
}

// helmFailedStatuses are the release statuses reported as failures.
var helmFailedStatuses = map[string]bool{
	"failed":           true,
	"pending-install":  true,
	"pending-upgrade":  true,
	"pending-rollback": true,
	"unknown":          true,
}

func (e *HelmReleaseEvent) CreateDefaultFinding() *finding.Finding {
	status := strings.ToLower(e.Release.Info.Status)
	severity := finding.SeverityInfo
	failure := helmFailedStatuses[status]
	if failure {
		severity = finding.SeverityHigh
	}
	title := fmt.Sprintf("Helm release %s/%s is %s", e.Release.Namespace, e.Release.Name, status)
	return finding.New(title, "HelmRelease"+capitalize(status),
		finding.WithSeverity(severity),
		finding.WithSource(finding.SourceKubernetesAPIServer),
		finding.WithType(finding.TypeConfChange),
		finding.WithFailure(failure),
		finding.WithDescription(e.Release.Info.Description),
		finding.WithSubject(finding.Subject{
			Name:      e.Release.Name,
			Type:      finding.SubjectHelmRelease,
			Namespace: e.Release.Namespace,
		}),
	)
}

// LogLineEvent is a single log line of a pod.
type LogLineEvent struct {
	BaseEvent

	Line LogLine
}

func (e *LogLineEvent) CreateDefaultFinding() *finding.Finding {
	k := e.Line.Kubernetes
	return finding.New(fmt.Sprintf("Log line matched in %s/%s", k.PodNamespace, k.PodName), "LogLineMatch",
		finding.WithSource(finding.SourceKubernetesAPIServer),
		finding.WithDescription(e.Line.Message),
		finding.WithSubject(finding.Subject{
			Name:      k.PodName,
			Type:      finding.SubjectPod,
			Namespace: k.PodNamespace,
			Node:      k.PodNodeName,
			Container: k.ContainerName,
			Labels:    copyLabels(k.PodLabels),
		}),
	)
}
