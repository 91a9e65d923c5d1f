/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Command robusta-runner routes alerts and Kubernetes changes through the
// configured playbooks and delivers the resulting findings to sinks.
package main

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	logDev   bool
	logLevel string
	settings = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "robusta-runner",
	Short: "Kubernetes alert routing and automation runner",
	Long: `robusta-runner receives Prometheus alerts, Kubernetes changes, scheduled
fires and relay callbacks, runs the matching playbook actions and sends the
findings to the configured sinks.

Settings are read from the environment (PLAYBOOKS_CONFIG_FILE_PATH, PORT,
RELAY_EXTERNAL_ACTIONS_URL, ...); flags override selected ones.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		log, err := newLogger(logDev, logLevel)
		if err != nil {
			return err
		}
		ctrl.SetLogger(log)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&logDev, "log-dev", false, "use the development log encoder")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, error)")

	rootCmd.Version = Version
	rootCmd.AddCommand(serveCmd, validateCmd, actionsCmd)
}

func newLogger(dev bool, level string) (logr.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return logr.Logger{}, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	return zap.New(zap.UseDevMode(dev), zap.Level(lvl)), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
