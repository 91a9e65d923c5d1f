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
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/go-logr/logr"
)

// Expression is one match alternative: a regex for string attributes or a
// required subset for map attributes.
type Expression struct {
	Pattern string
	Subset  map[string]string

	re *regexp.Regexp
}

// Matches evaluates the expression against an attribute value.
func (e Expression) Matches(value any) bool {
	switch v := value.(type) {
	case string:
		if e.Subset != nil || e.re == nil {
			return false
		}
		return e.re.MatchString(v)
	case map[string]string:
		if e.Subset == nil {
			return false
		}
		for k, want := range e.Subset {
			if got, ok := v[k]; !ok || got != want {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// ExpressionList is an OR of expressions. It accepts a single expression or
// a list of them when decoded.
type ExpressionList []Expression

func (l *ExpressionList) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	items, isList := raw.([]any)
	if !isList {
		items = []any{raw}
	}
	out := make(ExpressionList, 0, len(items))
	for _, item := range items {
		expr, err := newExpression(item)
		if err != nil {
			return err
		}
		out = append(out, expr)
	}
	*l = out
	return nil
}

func (l ExpressionList) MarshalJSON() ([]byte, error) {
	out := make([]any, 0, len(l))
	for _, e := range l {
		if e.Subset != nil {
			out = append(out, e.Subset)
		} else {
			out = append(out, e.Pattern)
		}
	}
	return json.Marshal(out)
}

// NewPattern builds a start-anchored regex expression.
func NewPattern(pattern string) (Expression, error) {
	re, err := regexp.Compile("^(?:" + pattern + ")")
	if err != nil {
		return Expression{}, fmt.Errorf("invalid match expression %q: %w", pattern, err)
	}
	return Expression{Pattern: pattern, re: re}, nil
}

func newExpression(v any) (Expression, error) {
	switch t := v.(type) {
	case string:
		return NewPattern(t)
	case map[string]any:
		subset := make(map[string]string, len(t))
		for k, val := range t {
			subset[k] = fmt.Sprint(val)
		}
		return Expression{Subset: subset}, nil
	default:
		return Expression{}, fmt.Errorf("unsupported match expression %v (%T)", v, v)
	}
}

// Match maps attribute names to expressions. All attributes must match.
type Match map[string]ExpressionList

// ScopeEntry maps attribute names to full-match regexes (OR). For labels and
// annotations each regex is a "k=regex,k2!=regex" selector.
type ScopeEntry map[string][]string

func (s *ScopeEntry) UnmarshalJSON(data []byte) error {
	raw := map[string]any{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(ScopeEntry, len(raw))
	for attr, v := range raw {
		switch t := v.(type) {
		case nil:
			out[attr] = nil
		case string:
			out[attr] = []string{t}
		case []any:
			for _, item := range t {
				str, ok := item.(string)
				if !ok {
					return fmt.Errorf("scope attribute %q: expected string, got %T", attr, item)
				}
				out[attr] = append(out[attr], str)
			}
		default:
			return fmt.Errorf("scope attribute %q: expected string or list, got %T", attr, v)
		}
	}
	*s = out
	return nil
}

// Scope includes or excludes findings by attribute.
type Scope struct {
	Include []ScopeEntry `json:"include,omitempty"`
	Exclude []ScopeEntry `json:"exclude,omitempty"`
}

// Validate checks that the scope has at least one non-empty section.
func (s *Scope) Validate() error {
	if s.Include == nil && s.Exclude == nil {
		return fmt.Errorf("scope requires include and/or exclude subfield")
	}
	if (s.Include != nil && len(s.Include) == 0) || (s.Exclude != nil && len(s.Exclude) == 0) {
		return fmt.Errorf("scope include/exclude specification requires at least one matcher")
	}
	return nil
}

// Matcher evaluates match and scope rules against findings.
type Matcher struct {
	log logr.Logger
}

// NewMatcher creates a matcher that logs invalid rules to log.
func NewMatcher(log logr.Logger) *Matcher {
	return &Matcher{log: log.WithName("matcher")}
}

// Matches reports whether f satisfies the scope (if any) and every match rule.
func (m *Matcher) Matches(f *Finding, match Match, scope *Scope) bool {
	data := f.AttributeMap()
	accept := true

	if scope != nil {
		data["namespace_labels"] = map[string]string{}
		if len(scope.Exclude) > 0 && m.scopeMatches(data, scope.Exclude) {
			return false
		}
		if len(scope.Include) > 0 {
			if m.scopeMatches(data, scope.Include) {
				return true
			}
			accept = false
		}
	}

	var invalid []string
	for attr := range match {
		if _, ok := data[attr]; !ok {
			invalid = append(invalid, attr)
		}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		m.log.Info("Invalid match attributes", "attributes", invalid)
		return false
	}

	for attr, exprs := range match {
		value := data[attr]
		matched := false
		for _, e := range exprs {
			if e.Matches(value) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return accept
}

func (m *Matcher) scopeMatches(data map[string]any, entries []ScopeEntry) bool {
	for _, entry := range entries {
		if m.entryMatches(data, entry) {
			return true
		}
	}
	return false
}

func (m *Matcher) entryMatches(data map[string]any, entry ScopeEntry) bool {
	for attr, matchers := range entry {
		value, ok := data[attr]
		if !ok {
			m.log.Info("Scope match on non-existent attribute", "attribute", attr)
			return false
		}
		hit := false
		for _, expr := range matchers {
			if scopeValueMatches(attr, value, expr) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func scopeValueMatches(attr string, value any, expr string) bool {
	switch attr {
	case "labels", "annotations", "namespace_labels":
		labels, _ := value.(map[string]string)
		return selectorMatches(expr, labels)
	}
	s, ok := value.(string)
	if !ok {
		return false
	}
	re, err := fullMatchRegex(expr)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

// selectorMatches evaluates "k=regex,k2!=regex" against labels.
func selectorMatches(expr string, labels map[string]string) bool {
	for _, part := range strings.Split(expr, ",") {
		name, pattern, found := strings.Cut(part, "=")
		if !found {
			return false
		}
		name = strings.TrimSpace(name)
		pattern = strings.TrimSpace(pattern)
		expect := true
		if strings.HasSuffix(name, "!") {
			name = strings.TrimSpace(strings.TrimSuffix(name, "!"))
			expect = false
		}
		value, ok := labels[name]
		if !ok {
			return false
		}
		re, err := fullMatchRegex(pattern)
		if err != nil {
			return false
		}
		if re.MatchString(strings.TrimSpace(value)) != expect {
			return false
		}
	}
	return true
}

var regexCache sync.Map

func fullMatchRegex(pattern string) (*regexp.Regexp, error) {
	if cached, ok := regexCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, err
	}
	regexCache.Store(pattern, re)
	return re, nil
}

// ScopeMatches evaluates scope alone against an arbitrary attribute map.
// Exclude wins over include; a scope without include accepts by default.
func (m *Matcher) ScopeMatches(data map[string]any, scope *Scope) bool {
	if scope == nil {
		return true
	}
	if len(scope.Exclude) > 0 && m.scopeMatches(data, scope.Exclude) {
		return false
	}
	if len(scope.Include) > 0 {
		return m.scopeMatches(data, scope.Include)
	}
	return true
}
