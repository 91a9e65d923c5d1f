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

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/marcus-qen/robusta/internal/action"
	"github.com/marcus-qen/robusta/internal/actions"
	"github.com/marcus-qen/robusta/internal/loader"
)

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "List the built-in actions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return listActions(cmd.OutOrStdout(), builtinPlugins())
	},
}

// builtinPlugins are the action packages linked into the runner.
func builtinPlugins() []loader.Plugin {
	return []loader.Plugin{actions.Plugin(actions.Options{})}
}

func listActions(w io.Writer, plugins []loader.Plugin) error {
	r := action.NewRegistry(logr.Discard())
	for _, p := range plugins {
		p(r)
	}
	external, err := r.ListExternal()
	if err != nil {
		return err
	}
	callable := map[string]bool{}
	for _, e := range external {
		callable[e.Name] = true
	}

	fmt.Fprintf(w, "📋 %d action(s)\n", r.Len())
	for _, name := range r.Names() {
		a := r.Get(name)
		marker := " "
		if callable[name] {
			marker = "*"
		}
		fmt.Fprintf(w, "  %s %-28s %-36s %s\n", marker, name, a.EventType.String(), a.Description)
	}
	fmt.Fprintln(w, "\n* can be triggered manually or from the relay")
	return nil
}
