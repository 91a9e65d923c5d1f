/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package sink

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/marcus-qen/robusta/internal/finding"
)

// blockText renders a block as markdown-flavoured text. Blocks without a
// text form (files, graphs) render as a short placeholder or nothing.
func blockText(b finding.Block) string {
	switch v := b.(type) {
	case *finding.MarkdownBlock:
		return v.Text
	case *finding.HeaderBlock:
		return "*" + v.Text + "*"
	case *finding.DividerBlock:
		return "-------------------"
	case *finding.ListBlock:
		var sb strings.Builder
		for _, item := range v.Items {
			fmt.Fprintf(&sb, "• %s\n", item)
		}
		return strings.TrimSuffix(sb.String(), "\n")
	case *finding.TableBlock:
		text := renderTable(v)
		if v.Name != "" {
			text = v.Name + "\n" + text
		}
		return text
	case *finding.EventsBlock:
		headers, rows := v.Rows()
		return renderTable(&finding.TableBlock{Headers: headers, Rows: rows})
	case *finding.JSONBlock:
		return "```\n" + v.JSON + "\n```"
	case *finding.KubernetesDiffBlock:
		var sb strings.Builder
		fmt.Fprintf(&sb, "Updates to %s (+%d -%d ~%d)\n", v.ResourceName, v.NumAdditions, v.NumDeletions, v.NumModifications)
		for _, d := range v.Diffs {
			fmt.Fprintf(&sb, "• %s: %s ➔ %s\n", strings.Join(d.Path, "."), d.Other, d.Value)
		}
		return strings.TrimSuffix(sb.String(), "\n")
	case *finding.LinksBlock:
		lines := make([]string, 0, len(v.Links))
		for _, l := range v.Links {
			lines = append(lines, fmt.Sprintf("%s: %s", l.Name, l.URL))
		}
		return strings.Join(lines, "\n")
	case *finding.ScanReportBlock:
		return fmt.Sprintf("%s: score %d (%d results)", v.Title, v.Score, len(v.Rows))
	case *finding.FileBlock:
		return fmt.Sprintf("[file %s]", v.Filename)
	default:
		return ""
	}
}

// renderTable renders rows as an aligned plain-text table.
func renderTable(t *finding.TableBlock) string {
	widths := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i < len(widths) && utf8.RuneCountInString(cell) > widths[i] {
				widths[i] = utf8.RuneCountInString(cell)
			}
		}
	}
	line := func(cells []string) string {
		parts := make([]string, len(widths))
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			parts[i] = cell + strings.Repeat(" ", widths[i]-utf8.RuneCountInString(cell))
		}
		return strings.TrimRight(strings.Join(parts, " | "), " ")
	}

	var sb strings.Builder
	sb.WriteString(line(t.Headers))
	sb.WriteString("\n")
	seps := make([]string, len(widths))
	for i, w := range widths {
		seps[i] = strings.Repeat("-", w)
	}
	sb.WriteString(strings.Join(seps, "-+-"))
	for _, row := range t.Rows {
		sb.WriteString("\n")
		sb.WriteString(line(row))
	}
	return sb.String()
}

// findingText renders the title, description, links and text blocks of a
// finding, stopping before the message would exceed limit bytes.
func findingText(f *finding.Finding, clusterName string, limit int) string {
	status := f.Status()
	title := strings.TrimPrefix(f.Title, "[RESOLVED] ")
	lines := []string{
		fmt.Sprintf("%s %s %s %s", status.Emoji(), status, f.Severity.Emoji(), title),
	}
	if clusterName != "" {
		lines = append(lines, "Source: "+clusterName)
	}
	if len(f.Subject.Labels) > 0 {
		lines = append(lines, "Labels: "+sortedLabels(f.Subject.Labels))
	}
	if f.Description != "" {
		lines = append(lines, f.Description)
	}
	for _, l := range f.Links {
		lines = append(lines, fmt.Sprintf("%s: %s", l.Name, l.URL))
	}
	for _, e := range f.Enrichments {
		for _, b := range e.Blocks {
			if text := blockText(b); text != "" {
				lines = append(lines, text)
			}
		}
	}

	var sb strings.Builder
	for _, l := range lines {
		if limit > 0 && sb.Len()+len(l)+1 > limit {
			break
		}
		sb.WriteString(l)
		sb.WriteString("\n")
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func sortedLabels(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+labels[k])
	}
	return strings.Join(parts, ", ")
}
