/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/marcus-qen/robusta/internal/action"
	"github.com/marcus-qen/robusta/internal/config"
	"github.com/marcus-qen/robusta/internal/loader"
	"github.com/marcus-qen/robusta/internal/playbook"
	"github.com/marcus-qen/robusta/internal/sink"
)

var validateCmd = &cobra.Command{
	Use:   "validate <config-file>",
	Short: "Check a runner configuration file offline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "🔍 Validating %s ...\n\n", args[0])
		errs, warnings := validateConfig(w, args[0], os.LookupEnv, builtinPlugins())

		fmt.Fprintln(w)
		switch {
		case errs > 0:
			fmt.Fprintf(w, "❌ Validation failed: %d error(s), %d warning(s)\n", errs, warnings)
			return fmt.Errorf("%s is invalid", args[0])
		case warnings > 0:
			fmt.Fprintf(w, "⚠️  Validation passed with %d warning(s)\n", warnings)
		default:
			fmt.Fprintln(w, "✅ Validation passed")
		}
		return nil
	},
}

// validateConfig reports the problems of the configuration at path.
// Environment variables that lookup cannot resolve are warnings.
func validateConfig(w io.Writer, path string, lookup config.LookupFunc, plugins []loader.Plugin) (errs, warnings int) {
	data, err := os.ReadFile(path)
	if err != nil {
		printError(w, fmt.Sprintf("cannot read config: %v", err))
		return 1, 0
	}

	problems, err := config.Lint(data)
	if err != nil {
		printError(w, fmt.Sprintf("config is not valid YAML: %v", err))
		return 1, 0
	}
	for _, p := range problems {
		printError(w, p.String())
	}
	if len(problems) > 0 {
		return len(problems), 0
	}
	printOK(w, "structure is valid")

	missing := map[string]bool{}
	cfg, err := config.Parse(data, func(name string) (string, bool) {
		if v, ok := lookup(name); ok {
			return v, true
		}
		missing[name] = true
		return "", true
	})
	if err != nil {
		printErrors(w, err)
		return 1, 0
	}
	names := make([]string, 0, len(missing))
	for name := range missing {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		printWarning(w, fmt.Sprintf("environment variable %s is not set", name))
		warnings++
	}

	known := sink.Types()
	for _, s := range cfg.SinksConfig {
		if !slices.Contains(known, s.Type) {
			printError(w, fmt.Sprintf("sink %q: unknown type %s", s.Base.Name, s.Type))
			errs++
		}
	}
	if errs == 0 {
		printOK(w, fmt.Sprintf("%d sink(s) defined", len(cfg.SinksConfig)))
	}

	actions := action.NewRegistry(logr.Discard())
	for _, p := range plugins {
		p(actions)
	}
	playbooks, err := playbook.NewRegistry(actions, playbook.Options{
		Playbooks:    cfg.ActivePlaybooks,
		GlobalConfig: cfg.GlobalConfig,
	})
	if err != nil {
		errs += printErrors(w, err)
		return errs, warnings
	}
	if len(playbooks.All()) == 0 {
		printWarning(w, "no active playbooks")
		warnings++
	} else {
		printOK(w, fmt.Sprintf("%d playbook(s) valid, %d scheduled", len(playbooks.All()), len(playbooks.Scheduled())))
	}
	return errs, warnings
}

// printErrors prints each line of a joined error and returns the count.
func printErrors(w io.Writer, err error) int {
	n := 0
	for _, line := range strings.Split(err.Error(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			printError(w, line)
			n++
		}
	}
	return n
}

func printOK(w io.Writer, msg string) {
	fmt.Fprintf(w, "  ✅ %s\n", msg)
}

func printError(w io.Writer, msg string) {
	fmt.Fprintf(w, "  ❌ %s\n", msg)
}

func printWarning(w io.Writer, msg string) {
	fmt.Fprintf(w, "  ⚠️  %s\n", msg)
}
