/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package finding defines the artifact delivered to sinks: a Finding with
// its subject, ordered enrichments and links.
//
// Actions only append to a Finding (AddEnrichment, AddLink, AddVideoLink).
// Sinks receive a deep copy and treat it as read-only.
package finding

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity classifies the urgency of a finding.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityLow
	SeverityMedium
	SeverityHigh
)

var severityNames = map[Severity]string{
	SeverityDebug:  "DEBUG",
	SeverityInfo:   "INFO",
	SeverityLow:    "LOW",
	SeverityMedium: "MEDIUM",
	SeverityHigh:   "HIGH",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// ParseSeverity converts a severity name (case-insensitive) to a Severity.
func ParseSeverity(name string) (Severity, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for sev, n := range severityNames {
		if n == upper {
			return sev, nil
		}
	}
	return SeverityInfo, fmt.Errorf("unknown severity %q", name)
}

// Emoji returns the marker used by chat sinks.
func (s Severity) Emoji() string {
	switch s {
	case SeverityDebug:
		return "🔵"
	case SeverityLow:
		return "🟡"
	case SeverityMedium:
		return "🟠"
	case SeverityHigh:
		return "🔴"
	default:
		return "⚪️"
	}
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	sev, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = sev
	return nil
}

// Source identifies where the event behind a finding came from.
type Source string

const (
	SourceNone                Source = "none"
	SourceKubernetesAPIServer Source = "kubernetes_api_server"
	SourcePrometheus          Source = "prometheus"
	SourceManual              Source = "manual"
	SourceCallback            Source = "callback"
	SourceScheduler           Source = "scheduler"
)

// Name is the upper-case form used by match rules.
func (s Source) Name() string {
	return strings.ToUpper(string(s))
}

// Type classifies what a finding reports.
type Type string

const (
	TypeIssue       Type = "issue"
	TypeConfChange  Type = "configuration_change"
	TypeHealthCheck Type = "health_check"
	TypeReport      Type = "report"
)

// Name is the upper-case form used by match rules.
func (t Type) Name() string {
	switch t {
	case TypeConfChange:
		return "CONF_CHANGE"
	case "":
		return "ISSUE"
	default:
		return strings.ToUpper(string(t))
	}
}

// Status is derived from the title: "[RESOLVED]" prefixed findings are resolved.
type Status int

const (
	StatusFiring Status = iota
	StatusResolved
)

const resolvedPrefix = "[RESOLVED]"

func (s Status) String() string {
	if s == StatusResolved {
		return "RESOLVED"
	}
	return "FIRING"
}

// Emoji returns the marker used by chat sinks.
func (s Status) Emoji() string {
	if s == StatusResolved {
		return "✅"
	}
	return "🔥"
}

// SubjectType is the kind of the resource a finding is about.
type SubjectType string

const (
	SubjectNone        SubjectType = "none"
	SubjectDeployment  SubjectType = "deployment"
	SubjectNode        SubjectType = "node"
	SubjectPod         SubjectType = "pod"
	SubjectJob         SubjectType = "job"
	SubjectDaemonSet   SubjectType = "daemonset"
	SubjectStatefulSet SubjectType = "statefulset"
	SubjectReplicaSet  SubjectType = "replicaset"
	SubjectService     SubjectType = "service"
	SubjectNamespace   SubjectType = "namespace"
	SubjectConfigMap   SubjectType = "configmap"
	SubjectHelmRelease SubjectType = "helmrelease"
)

// Subject identifies the resource a finding is about.
type Subject struct {
	Name        string            `json:"name,omitempty"`
	Type        SubjectType       `json:"subject_type"`
	Namespace   string            `json:"namespace,omitempty"`
	Node        string            `json:"node,omitempty"`
	Container   string            `json:"container,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

func (s Subject) kind() SubjectType {
	if s.Type == "" {
		return SubjectNone
	}
	return s.Type
}

func (s Subject) String() string {
	if s.Namespace != "" {
		return fmt.Sprintf("%s/%s/%s", s.Namespace, s.kind(), s.Name)
	}
	return fmt.Sprintf("%s/%s", s.kind(), s.Name)
}

// Link is a named URL rendered alongside a finding.
type Link struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// VideoLink points to a recording related to a finding.
type VideoLink struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// Finding is an event worth reporting to sinks.
type Finding struct {
	ID             uuid.UUID         `json:"id"`
	Title          string            `json:"title"`
	AggregationKey string            `json:"aggregation_key"`
	Severity       Severity          `json:"severity"`
	Source         Source            `json:"source"`
	Type           Type              `json:"finding_type"`
	Failure        bool              `json:"failure"`
	Description    string            `json:"description,omitempty"`
	Subject        Subject           `json:"subject"`
	Enrichments    []Enrichment      `json:"enrichments,omitempty"`
	Links          []Link            `json:"links,omitempty"`
	VideoLinks     []VideoLink       `json:"video_links,omitempty"`
	AddSilenceURL  bool              `json:"add_silence_url"`
	SilenceLabels  map[string]string `json:"silence_labels,omitempty"`
	Fingerprint    string            `json:"fingerprint"`
	StartsAt       time.Time         `json:"starts_at"`
	EndsAt         *time.Time        `json:"ends_at,omitempty"`
}

// Option customises a Finding at construction.
type Option func(*Finding)

func WithSeverity(s Severity) Option   { return func(f *Finding) { f.Severity = s } }
func WithSource(s Source) Option       { return func(f *Finding) { f.Source = s } }
func WithType(t Type) Option           { return func(f *Finding) { f.Type = t } }
func WithSubject(s Subject) Option     { return func(f *Finding) { f.Subject = s } }
func WithDescription(d string) Option  { return func(f *Finding) { f.Description = d } }
func WithFailure(failure bool) Option  { return func(f *Finding) { f.Failure = failure } }
func WithFingerprint(fp string) Option { return func(f *Finding) { f.Fingerprint = fp } }
func WithStartsAt(t time.Time) Option  { return func(f *Finding) { f.StartsAt = t } }
func WithSilenceURL(add bool) Option   { return func(f *Finding) { f.AddSilenceURL = add } }
func WithSilenceLabels(l map[string]string) Option {
	return func(f *Finding) { f.SilenceLabels = l }
}

// WithEndsAt sets the resolution time. Zero times are ignored.
func WithEndsAt(t time.Time) Option {
	return func(f *Finding) {
		if !t.IsZero() {
			end := t
			f.EndsAt = &end
		}
	}
}

// New creates a finding with a fresh id. When no fingerprint is given one is
// derived from the subject, source and aggregation key.
func New(title, aggregationKey string, opts ...Option) *Finding {
	f := &Finding{
		ID:             uuid.New(),
		Title:          title,
		AggregationKey: aggregationKey,
		Severity:       SeverityInfo,
		Source:         SourceNone,
		Type:           TypeIssue,
		Failure:        true,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.Subject.Type == "" {
		f.Subject.Type = SubjectNone
	}
	if f.Fingerprint == "" {
		f.Fingerprint = Fingerprint(f.Subject, f.Source, f.AggregationKey)
	}
	if f.StartsAt.IsZero() {
		f.StartsAt = time.Now()
	}
	return f
}

// Fingerprint identifies repeated occurrences of the same finding, the same
// way alertmanager fingerprints repeated alerts.
func Fingerprint(subject Subject, source Source, aggregationKey string) string {
	s := fmt.Sprintf("%s,%s,%s,%s,%s%s",
		subject.kind(), subject.Name, subject.Namespace, subject.Node, source, aggregationKey)
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Status reports whether the finding is firing or resolved.
func (f *Finding) Status() Status {
	if strings.HasPrefix(f.Title, resolvedPrefix) {
		return StatusResolved
	}
	return StatusFiring
}

// AddEnrichment appends an enrichment. Empty block lists are ignored.
func (f *Finding) AddEnrichment(blocks []Block, annotations map[string]string, typ EnrichmentType, title string) {
	if len(blocks) == 0 {
		return
	}
	if annotations == nil {
		annotations = map[string]string{}
	}
	f.Enrichments = append(f.Enrichments, Enrichment{
		Blocks:      blocks,
		Annotations: annotations,
		Type:        typ,
		Title:       title,
	})
}

// AddLink appends a link.
func (f *Finding) AddLink(link Link) {
	f.Links = append(f.Links, link)
}

// AddVideoLink appends a video link, defaulting its name.
func (f *Finding) AddVideoLink(link VideoLink) {
	if link.Name == "" {
		link.Name = "See more"
	}
	f.VideoLinks = append(f.VideoLinks, link)
}

// AttributeMap is the flat view used by sink match rules.
func (f *Finding) AttributeMap() map[string]any {
	labels := f.Subject.Labels
	if labels == nil {
		labels = map[string]string{}
	}
	annotations := f.Subject.Annotations
	if annotations == nil {
		annotations = map[string]string{}
	}
	return map[string]any{
		"title":       f.Title,
		"identifier":  f.AggregationKey,
		"severity":    f.Severity.String(),
		"source":      f.Source.Name(),
		"type":        f.Type.Name(),
		"kind":        string(f.Subject.kind()),
		"namespace":   f.Subject.Namespace,
		"node":        f.Subject.Node,
		"name":        f.Subject.Name,
		"labels":      labels,
		"annotations": annotations,
	}
}

func (f *Finding) String() string {
	return fmt.Sprintf("title: %s severity: %s subject: %s enrichments: %d",
		f.Title, f.Severity, f.Subject, len(f.Enrichments))
}
