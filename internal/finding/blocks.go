/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package finding

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// EnrichmentType is a rendering hint describing what an enrichment holds.
type EnrichmentType string

const (
	EnrichmentNone                 EnrichmentType = ""
	EnrichmentGraph                EnrichmentType = "graph"
	EnrichmentAIAnalysis           EnrichmentType = "ai_analysis"
	EnrichmentNodeInfo             EnrichmentType = "node_info"
	EnrichmentContainerInfo        EnrichmentType = "container_info"
	EnrichmentK8sEvents            EnrichmentType = "k8s_events"
	EnrichmentAlertLabels          EnrichmentType = "alert_labels"
	EnrichmentDiff                 EnrichmentType = "diff"
	EnrichmentTextFile             EnrichmentType = "text_file"
	EnrichmentCrashInfo            EnrichmentType = "crash_info"
	EnrichmentImagePullBackoffInfo EnrichmentType = "image_pull_backoff_info"
	EnrichmentPendingPodInfo       EnrichmentType = "pending_pod_info"
)

// Enrichment is an ordered group of blocks plus sink-specific rendering hints.
type Enrichment struct {
	Blocks      []Block
	Annotations map[string]string
	Type        EnrichmentType
	Title       string
}

// MarshalJSON tags every block with its type so consumers can render it.
func (e Enrichment) MarshalJSON() ([]byte, error) {
	blocks := make([]json.RawMessage, 0, len(e.Blocks))
	for i, b := range e.Blocks {
		raw, err := marshalBlock(b)
		if err != nil {
			return nil, fmt.Errorf("block %d (%s): %w", i, b.BlockType(), err)
		}
		blocks = append(blocks, raw)
	}
	return json.Marshal(struct {
		Blocks      []json.RawMessage `json:"blocks"`
		Annotations map[string]string `json:"annotations,omitempty"`
		Type        EnrichmentType    `json:"enrichment_type,omitempty"`
		Title       string            `json:"title,omitempty"`
	}{blocks, e.Annotations, e.Type, e.Title})
}

func marshalBlock(b Block) (json.RawMessage, error) {
	body, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	typ, _ := json.Marshal(b.BlockType())
	fields["type"] = typ
	return json.Marshal(fields)
}

// Block is one renderable unit of an enrichment.
type Block interface {
	BlockType() string
	DeepCopyBlock() Block
}

// MarkdownBlock holds markdown text.
type MarkdownBlock struct {
	Text string `json:"text"`
}

func (b *MarkdownBlock) BlockType() string { return "markdown" }
func (b *MarkdownBlock) DeepCopyBlock() Block {
	c := *b
	return &c
}

// HeaderBlock is a section heading.
type HeaderBlock struct {
	Text string `json:"text"`
}

func (b *HeaderBlock) BlockType() string { return "header" }
func (b *HeaderBlock) DeepCopyBlock() Block {
	c := *b
	return &c
}

// DividerBlock separates sections.
type DividerBlock struct{}

func (b *DividerBlock) BlockType() string    { return "divider" }
func (b *DividerBlock) DeepCopyBlock() Block { return &DividerBlock{} }

// ListBlock is a bulleted list.
type ListBlock struct {
	Items []string `json:"items"`
}

func (b *ListBlock) BlockType() string { return "list" }
func (b *ListBlock) DeepCopyBlock() Block {
	return &ListBlock{Items: slices.Clone(b.Items)}
}

// TableBlock is a table with optional column renderers keyed by header.
type TableBlock struct {
	Name            string            `json:"table_name,omitempty"`
	Headers         []string          `json:"headers"`
	Rows            [][]string        `json:"rows"`
	ColumnRenderers map[string]string `json:"column_renderers,omitempty"`
}

func (b *TableBlock) BlockType() string { return "table" }
func (b *TableBlock) DeepCopyBlock() Block {
	rows := make([][]string, len(b.Rows))
	for i, r := range b.Rows {
		rows[i] = slices.Clone(r)
	}
	return &TableBlock{
		Name:            b.Name,
		Headers:         slices.Clone(b.Headers),
		Rows:            rows,
		ColumnRenderers: maps.Clone(b.ColumnRenderers),
	}
}

// FileBlock carries an attachment.
type FileBlock struct {
	Filename string `json:"filename"`
	Contents []byte `json:"contents"`
}

func (b *FileBlock) BlockType() string { return "file" }
func (b *FileBlock) DeepCopyBlock() Block {
	return &FileBlock{Filename: b.Filename, Contents: slices.Clone(b.Contents)}
}

// JSONBlock holds a pre-serialised JSON document.
type JSONBlock struct {
	JSON string `json:"json_str"`
}

func (b *JSONBlock) BlockType() string { return "json" }
func (b *JSONBlock) DeepCopyBlock() Block {
	c := *b
	return &c
}

// DiffDetail is one changed path of a Kubernetes resource.
type DiffDetail struct {
	Path  []string `json:"path"`
	Other string   `json:"other_value"`
	Value string   `json:"value"`
}

// KubernetesDiffBlock describes the changes between two resource versions.
type KubernetesDiffBlock struct {
	ResourceName     string       `json:"resource_name"`
	Diffs            []DiffDetail `json:"diffs"`
	OldYAML          string       `json:"old,omitempty"`
	NewYAML          string       `json:"new,omitempty"`
	NumAdditions     int          `json:"num_additions"`
	NumDeletions     int          `json:"num_deletions"`
	NumModifications int          `json:"num_modifications"`
}

func (b *KubernetesDiffBlock) BlockType() string { return "kubernetes_diff" }
func (b *KubernetesDiffBlock) DeepCopyBlock() Block {
	c := *b
	c.Diffs = make([]DiffDetail, len(b.Diffs))
	for i, d := range b.Diffs {
		c.Diffs[i] = DiffDetail{Path: slices.Clone(d.Path), Other: d.Other, Value: d.Value}
	}
	return &c
}

// LinksBlock renders a list of links.
type LinksBlock struct {
	Links []Link `json:"links"`
}

func (b *LinksBlock) BlockType() string { return "links" }
func (b *LinksBlock) DeepCopyBlock() Block {
	return &LinksBlock{Links: slices.Clone(b.Links)}
}

// CallbackChoice is an external action to run when a button is pressed.
type CallbackChoice struct {
	Action string         `json:"action_name"`
	Params map[string]any `json:"action_params,omitempty"`
}

// CallbackBlock renders buttons that invoke external actions.
type CallbackBlock struct {
	Choices map[string]CallbackChoice `json:"choices"`
}

func (b *CallbackBlock) BlockType() string { return "callback" }
func (b *CallbackBlock) DeepCopyBlock() Block {
	choices := make(map[string]CallbackChoice, len(b.Choices))
	for label, c := range b.Choices {
		choices[label] = CallbackChoice{Action: c.Action, Params: deepCopyMap(c.Params)}
	}
	return &CallbackBlock{Choices: choices}
}

// PrometheusSeries is one series of a range query result.
type PrometheusSeries struct {
	Labels     map[string]string `json:"metric"`
	Timestamps []float64         `json:"timestamps"`
	Values     []string          `json:"values"`
}

// GraphLine is a horizontal overlay line such as an alert threshold.
type GraphLine struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// PrometheusGraphBlock holds the data behind a graph.
type PrometheusGraphBlock struct {
	Query           string             `json:"query"`
	Series          []PrometheusSeries `json:"series"`
	YAxisType       string             `json:"y_axis_type,omitempty"`
	VerticalLines   []GraphLine        `json:"vertical_lines,omitempty"`
	HorizontalLines []GraphLine        `json:"horizontal_lines,omitempty"`
}

func (b *PrometheusGraphBlock) BlockType() string { return "prometheus" }
func (b *PrometheusGraphBlock) DeepCopyBlock() Block {
	series := make([]PrometheusSeries, len(b.Series))
	for i, s := range b.Series {
		series[i] = PrometheusSeries{
			Labels:     maps.Clone(s.Labels),
			Timestamps: slices.Clone(s.Timestamps),
			Values:     slices.Clone(s.Values),
		}
	}
	return &PrometheusGraphBlock{
		Query:           b.Query,
		Series:          series,
		YAxisType:       b.YAxisType,
		VerticalLines:   slices.Clone(b.VerticalLines),
		HorizontalLines: slices.Clone(b.HorizontalLines),
	}
}

// ScanReportRow is a single check result of a scan.
type ScanReportRow struct {
	Scanner   string           `json:"scan_type"`
	Kind      string           `json:"kind"`
	Name      string           `json:"name"`
	Namespace string           `json:"namespace"`
	Container string           `json:"container,omitempty"`
	Priority  float64          `json:"priority"`
	Grade     string           `json:"grade"`
	Content   []map[string]any `json:"content,omitempty"`
}

// ScanReportBlock is a structured scan result.
type ScanReportBlock struct {
	Title     string          `json:"title"`
	ScanType  string          `json:"type"`
	Score     int             `json:"score"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time"`
	Rows      []ScanReportRow `json:"results"`
}

func (b *ScanReportBlock) BlockType() string { return "scan_report" }
func (b *ScanReportBlock) DeepCopyBlock() Block {
	c := *b
	c.Rows = make([]ScanReportRow, len(b.Rows))
	for i, r := range b.Rows {
		row := r
		row.Content = make([]map[string]any, len(r.Content))
		for j, m := range r.Content {
			row.Content[j] = deepCopyMap(m)
		}
		c.Rows[i] = row
	}
	return &c
}

// EventRow is one Kubernetes event.
type EventRow struct {
	Reason    string    `json:"reason"`
	Type      string    `json:"type"`
	Time      time.Time `json:"time"`
	Message   string    `json:"message"`
	Kind      string    `json:"kind"`
	Name      string    `json:"name"`
	Namespace string    `json:"namespace"`
}

// EventsBlock lists Kubernetes events related to the subject.
type EventsBlock struct {
	Events []EventRow `json:"events"`
}

func (b *EventsBlock) BlockType() string { return "events" }
func (b *EventsBlock) DeepCopyBlock() Block {
	return &EventsBlock{Events: slices.Clone(b.Events)}
}

// Rows renders the events as table rows.
func (b *EventsBlock) Rows() (headers []string, rows [][]string) {
	headers = []string{"reason", "type", "time", "message"}
	for _, e := range b.Events {
		rows = append(rows, []string{e.Reason, e.Type, e.Time.UTC().Format(time.RFC3339), e.Message})
	}
	return headers, rows
}
