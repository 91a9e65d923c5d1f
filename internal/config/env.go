/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package config

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
)

// ErrMissingEnv is returned when a configuration value references an
// environment variable that is not set.
var ErrMissingEnv = errors.New("missing environment variable")

// LookupFunc resolves an environment variable, like os.LookupEnv.
type LookupFunc func(name string) (string, bool)

// MapLookup resolves variables from m.
func MapLookup(m map[string]string) LookupFunc {
	return func(name string) (string, bool) {
		v, ok := m[name]
		return v, ok
	}
}

var envRef = regexp.MustCompile(`^\{\{\s*env\.([A-Za-z_][A-Za-z0-9_]*)\s*\}\}$`)

// SubstituteEnv returns a copy of v with every {{ env.VAR }} string value
// replaced. Map keys are never substituted. All missing variables are
// reported.
func SubstituteEnv(v any, lookup LookupFunc) (any, error) {
	var missing []string
	out := substitute(v, lookup, &missing)
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %v", ErrMissingEnv, missing)
	}
	return out, nil
}

func substitute(v any, lookup LookupFunc, missing *[]string) any {
	switch t := v.(type) {
	case string:
		m := envRef.FindStringSubmatch(t)
		if m == nil {
			return t
		}
		val, ok := lookup(m[1])
		if !ok {
			*missing = append(*missing, m[1])
			return t
		}
		return val
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = substitute(item, lookup, missing)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = substitute(item, lookup, missing)
		}
		return out
	}
	return v
}
