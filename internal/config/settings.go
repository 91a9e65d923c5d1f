/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Settings are the process settings read from the environment.
type Settings struct {
	ConfigFilePath        string `mapstructure:"PLAYBOOKS_CONFIG_FILE_PATH" validate:"required"`
	PlaybooksRoot         string `mapstructure:"PLAYBOOKS_ROOT"`
	InternalPlaybooksRoot string `mapstructure:"INTERNAL_PLAYBOOKS_ROOT"`
	InstallationNamespace string `mapstructure:"INSTALLATION_NAMESPACE"`
	Kubeconfig            string `mapstructure:"KUBECONFIG"`

	Port                       int `mapstructure:"PORT" validate:"gt=0,lt=65536"`
	NumEventThreads            int `mapstructure:"NUM_EVENT_THREADS" validate:"gt=0"`
	IncomingEventsQueueMaxSize int `mapstructure:"INCOMING_EVENTS_QUEUE_MAX_SIZE" validate:"gt=0"`

	ClusterName     string `mapstructure:"CLUSTER_NAME"`
	AccountID       string `mapstructure:"ACCOUNT_ID"`
	PlatformEnabled bool   `mapstructure:"PLATFORM_ENABLED"`

	RelayExternalActionsURL       string        `mapstructure:"RELAY_EXTERNAL_ACTIONS_URL"`
	RelayToken                    string        `mapstructure:"RELAY_TOKEN"`
	SigningKey                    string        `mapstructure:"SIGNING_KEY"`
	WebsocketPingIntervalSec      int           `mapstructure:"WEBSOCKET_PING_INTERVAL" validate:"gt=0"`
	WebsocketPingTimeoutSec       int           `mapstructure:"WEBSOCKET_PING_TIMEOUT" validate:"gt=0"`
	WebsocketReconnectDelaySec    int           `mapstructure:"INCOMING_WEBSOCKET_RECONNECT_DELAY_SEC" validate:"gte=0"`
	WebsocketThreadpoolSize       int           `mapstructure:"WEBSOCKET_THREADPOOL_SIZE" validate:"gt=0"`
	IncomingRequestTimeWindowSec  int           `mapstructure:"INCOMING_REQUEST_TIME_WINDOW_SECONDS" validate:"gt=0"`
	ProcessedAlertsCacheTTL       time.Duration `mapstructure:"PROCESSED_ALERTS_CACHE_TTL"`
	ProcessedAlertsCacheMaxSize   int64         `mapstructure:"PROCESSED_ALERTS_CACHE_MAX_SIZE" validate:"gt=0"`
	GroupingRetentionScanInterval time.Duration `mapstructure:"GROUPING_RETENTION_SCAN_INTERVAL"`
	SchedulerDoneJobTTL           time.Duration `mapstructure:"SCHEDULER_DONE_JOB_TTL"`
	SchedulerStateDir             string        `mapstructure:"SCHEDULER_STATE_DIR"`
	ReloadDebounce                time.Duration `mapstructure:"RELOAD_DEBOUNCE"`
	OTLPEndpoint                  string        `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// WebsocketPingInterval returns the relay ping period.
func (s *Settings) WebsocketPingInterval() time.Duration {
	return time.Duration(s.WebsocketPingIntervalSec) * time.Second
}

// WebsocketPingTimeout returns how long the relay waits for a pong.
func (s *Settings) WebsocketPingTimeout() time.Duration {
	return time.Duration(s.WebsocketPingTimeoutSec) * time.Second
}

// WebsocketReconnectDelay returns the pause between relay connections.
func (s *Settings) WebsocketReconnectDelay() time.Duration {
	return time.Duration(s.WebsocketReconnectDelaySec) * time.Second
}

// IncomingRequestTimeWindow returns the maximum age of signed requests.
func (s *Settings) IncomingRequestTimeWindow() time.Duration {
	return time.Duration(s.IncomingRequestTimeWindowSec) * time.Second
}

// SetDefaults registers every setting with v so AutomaticEnv can find it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("PLAYBOOKS_CONFIG_FILE_PATH", "/etc/robusta/config/active_playbooks.yaml")
	v.SetDefault("PLAYBOOKS_ROOT", "/etc/robusta/playbooks/")
	v.SetDefault("INTERNAL_PLAYBOOKS_ROOT", "")
	v.SetDefault("INSTALLATION_NAMESPACE", "robusta")
	v.SetDefault("KUBECONFIG", "")

	v.SetDefault("PORT", 5000)
	v.SetDefault("NUM_EVENT_THREADS", 20)
	v.SetDefault("INCOMING_EVENTS_QUEUE_MAX_SIZE", 500)

	v.SetDefault("CLUSTER_NAME", "")
	v.SetDefault("ACCOUNT_ID", "")
	v.SetDefault("PLATFORM_ENABLED", false)

	v.SetDefault("RELAY_EXTERNAL_ACTIONS_URL", "")
	v.SetDefault("RELAY_TOKEN", "")
	v.SetDefault("SIGNING_KEY", "")
	v.SetDefault("WEBSOCKET_PING_INTERVAL", 120)
	v.SetDefault("WEBSOCKET_PING_TIMEOUT", 30)
	v.SetDefault("INCOMING_WEBSOCKET_RECONNECT_DELAY_SEC", 3)
	v.SetDefault("WEBSOCKET_THREADPOOL_SIZE", 10)
	v.SetDefault("INCOMING_REQUEST_TIME_WINDOW_SECONDS", 3600)
	v.SetDefault("PROCESSED_ALERTS_CACHE_TTL", 2*time.Hour)
	v.SetDefault("PROCESSED_ALERTS_CACHE_MAX_SIZE", 100_000)
	v.SetDefault("GROUPING_RETENTION_SCAN_INTERVAL", 10*time.Minute)
	v.SetDefault("SCHEDULER_DONE_JOB_TTL", 24*time.Hour)
	v.SetDefault("SCHEDULER_STATE_DIR", "")
	v.SetDefault("RELOAD_DEBOUNCE", time.Second)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
}

// LoadSettings reads the settings from the environment. v may carry flag
// overrides; a nil v uses a fresh instance.
func LoadSettings(v *viper.Viper) (*Settings, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.AutomaticEnv()

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := validate.Struct(s); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}
