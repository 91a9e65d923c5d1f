/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package sink

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/marcus-qen/robusta/internal/finding"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// BaseParams are the parameters shared by every sink type.
type BaseParams struct {
	Name string `json:"name" validate:"required"`

	// Default sinks receive findings of playbooks without explicit sinks.
	// Unset means true.
	Default *bool `json:"default,omitempty"`

	Match     finding.Match  `json:"match,omitempty"`
	Scope     *finding.Scope `json:"scope,omitempty"`
	Activity  *Activity      `json:"activity,omitempty"`
	Grouping  *Grouping      `json:"grouping,omitempty"`
	RateLimit *RateLimit     `json:"rate_limit,omitempty"`

	// Stop ends the fan-out of a finding after this sink accepted it.
	Stop bool `json:"stop,omitempty"`
}

// IsDefault reports whether the sink is one of the default sinks.
func (p BaseParams) IsDefault() bool { return p.Default == nil || *p.Default }

// RateLimit is a token bucket applied to deliveries.
type RateLimit struct {
	PerSecond float64 `json:"per_second" validate:"gt=0"`
	Burst     int     `json:"burst,omitempty" validate:"gte=0"`
}
