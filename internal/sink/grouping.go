/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package sink

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/marcus-qen/robusta/internal/finding"
)

const (
	undefinedValue          = "(undefined)"
	defaultGroupingInterval = 15 * 60
)

// Grouping suppresses or aggregates findings sharing the same group key
// within an interval.
type Grouping struct {
	GroupBy          []GroupAttr       `json:"group_by,omitempty"`
	Interval         int               `json:"interval,omitempty" validate:"gte=0"`
	NotificationMode *NotificationMode `json:"notification_mode,omitempty"`
}

// NotificationMode selects regular or summary delivery. Regular is the
// default.
type NotificationMode struct {
	Regular *RegularMode `json:"regular,omitempty"`
	Summary *SummaryMode `json:"summary,omitempty"`
}

// RegularMode delivers full findings once IgnoreFirst findings of the
// group were seen.
type RegularMode struct {
	IgnoreFirst int `json:"ignore_first,omitempty" validate:"gte=0"`
}

// SummaryMode maintains one summary message per group, counting fired and
// resolved findings by the By attributes.
type SummaryMode struct {
	By       []GroupAttr `json:"by,omitempty"`
	Threaded bool        `json:"threaded,omitempty"`
}

func (g *Grouping) interval() time.Duration {
	if g.Interval <= 0 {
		return defaultGroupingInterval * time.Second
	}
	return time.Duration(g.Interval) * time.Second
}

func (g *Grouping) mode() NotificationMode {
	if g.NotificationMode == nil || (g.NotificationMode.Regular == nil && g.NotificationMode.Summary == nil) {
		return NotificationMode{Regular: &RegularMode{}}
	}
	return *g.NotificationMode
}

func (g *Grouping) validateMode() error {
	if g.NotificationMode != nil && g.NotificationMode.Regular != nil && g.NotificationMode.Summary != nil {
		return fmt.Errorf("notification_mode must be either regular or summary")
	}
	return nil
}

// GroupAttr is one group-by attribute: a plain finding attribute such as
// "severity" or a set of label or annotation names.
type GroupAttr struct {
	Attr        string
	Labels      []string
	Annotations []string
}

func (a *GroupAttr) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		a.Attr = s
		return nil
	}
	var m struct {
		Labels      []string `json:"labels"`
		Annotations []string `json:"annotations"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("group attribute must be a name or {labels|annotations: [...]}: %w", err)
	}
	if len(m.Labels) == 0 && len(m.Annotations) == 0 {
		return fmt.Errorf("group attribute map requires labels or annotations")
	}
	a.Labels = m.Labels
	a.Annotations = m.Annotations
	return nil
}

func (a GroupAttr) MarshalJSON() ([]byte, error) {
	if a.Attr != "" {
		return json.Marshal(a.Attr)
	}
	return json.Marshal(map[string][]string{"labels": a.Labels, "annotations": a.Annotations})
}

// groupValues resolves attrs against the finding data. It returns the
// column names alongside the values; missing values render as undefined.
func groupValues(attrs []GroupAttr, data map[string]any) (columns, values []string) {
	for _, a := range attrs {
		if a.Attr != "" {
			columns = append(columns, a.Attr)
			values = append(values, stringValue(data[a.Attr]))
			continue
		}
		for _, name := range a.Labels {
			columns = append(columns, "labels."+name)
			values = append(values, mapValue(data["labels"], name))
		}
		for _, name := range a.Annotations {
			columns = append(columns, "annotations."+name)
			values = append(values, mapValue(data["annotations"], name))
		}
	}
	return columns, values
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		if s == "" {
			return undefinedValue
		}
		return s
	case nil:
		return undefinedValue
	default:
		return fmt.Sprint(s)
	}
}

func mapValue(v any, key string) string {
	m, ok := v.(map[string]string)
	if !ok {
		return undefinedValue
	}
	if s, ok := m[key]; ok && s != "" {
		return s
	}
	return undefinedValue
}

func joinKey(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return strings.Join(quoted, ",")
}

// Summary is the state of one summary message.
type Summary struct {
	// GroupBy describes the group, e.g. "severity=HIGH".
	GroupBy []string
	// Columns names the summary key attributes.
	Columns []string
	Rows    []SummaryRow
	Start   time.Time
	// Interval is the grouping interval the summary covers.
	Interval time.Duration
	// MessageID identifies the message posted for this summary, empty
	// before the first post.
	MessageID string
}

// SummaryRow counts fired and resolved findings for one summary key.
type SummaryRow struct {
	Key      []string
	Firing   int
	Resolved int
}

// Total is the number of findings counted for the row.
func (r SummaryRow) Total() int { return r.Firing + r.Resolved }

// Table renders the summary as a table block.
func (s *Summary) Table() *finding.TableBlock {
	headers := append(append([]string{}, s.Columns...), "Fired", "Resolved")
	rows := make([][]string, 0, len(s.Rows))
	for _, r := range s.Rows {
		row := append(append([]string{}, r.Key...), strconv.Itoa(r.Firing), strconv.Itoa(r.Resolved))
		rows = append(rows, row)
	}
	return &finding.TableBlock{Headers: headers, Rows: rows}
}

// Text renders the summary as plain text.
func (s *Summary) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summary for: %s\n", strings.Join(s.GroupBy, ", "))
	fmt.Fprintf(&b, "Time interval: %s starting at %s\n", s.Interval, s.Start.UTC().Format("2006-01-02 15:04 UTC"))
	b.WriteString(renderTable(s.Table()))
	return b.String()
}

type summaryTable struct {
	columns []string
	rows    map[string]*SummaryRow
	start   time.Time
	id      string
}

func (t *summaryTable) record(values []string, resolved bool) {
	key := joinKey(values)
	row, ok := t.rows[key]
	if !ok {
		row = &SummaryRow{Key: values}
		t.rows[key] = row
	}
	if resolved {
		row.Resolved++
	} else {
		row.Firing++
	}
}

func (t *summaryTable) snapshot(groupBy []string, interval time.Duration) *Summary {
	keys := make([]string, 0, len(t.rows))
	for k := range t.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([]SummaryRow, 0, len(keys))
	for _, k := range keys {
		r := *t.rows[k]
		r.Key = append([]string{}, r.Key...)
		rows = append(rows, r)
	}
	return &Summary{
		GroupBy:   groupBy,
		Columns:   t.columns,
		Rows:      rows,
		Start:     t.start,
		Interval:  interval,
		MessageID: t.id,
	}
}

// notificationGroup is the grouping state of one group key.
type notificationGroup struct {
	start    time.Time
	lastSeen time.Time
	count    int
	summary  *summaryTable
}

func (g *notificationGroup) reset(now time.Time) {
	g.start = now
	g.count = 0
	g.summary = nil
}
