/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/marcus-qen/robusta/internal/config"
	"github.com/marcus-qen/robusta/internal/event"
	"github.com/marcus-qen/robusta/internal/ingress"
	"github.com/marcus-qen/robusta/internal/kube"
	"github.com/marcus-qen/robusta/internal/lifecycle"
	"github.com/marcus-qen/robusta/internal/loader"
	"github.com/marcus-qen/robusta/internal/registry"
	"github.com/marcus-qen/robusta/internal/relay"
	"github.com/marcus-qen/robusta/internal/retention"
	"github.com/marcus-qen/robusta/internal/runner"
	"github.com/marcus-qen/robusta/internal/scheduler"
	"github.com/marcus-qen/robusta/internal/sink"
	"github.com/marcus-qen/robusta/internal/telemetry"
)

const internalPlaybooksFile = "internal_playbooks.yaml"

var (
	drainTimeout      time.Duration
	heartbeatInterval time.Duration
	otlpInsecure      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the event runner",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := config.LoadSettings(settings)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, s, ctrl.Log.WithName("robusta"))
	},
}

func init() {
	f := serveCmd.Flags()
	f.DurationVar(&drainTimeout, "drain-timeout", 30*time.Second, "maximum time to wait for in-flight dispatches on shutdown")
	f.DurationVar(&heartbeatInterval, "heartbeat-interval", 0, "report a scheduled heartbeat finding this often (0 disables)")
	f.BoolVar(&otlpInsecure, "otlp-insecure", false, "connect to the OTLP endpoint without TLS")
	f.String("config", "", "runner configuration file (PLAYBOOKS_CONFIG_FILE_PATH)")
	f.Int("port", 0, "ingress listen port (PORT)")
	f.String("kubeconfig", "", "kubeconfig file (KUBECONFIG)")
	_ = settings.BindPFlag("PLAYBOOKS_CONFIG_FILE_PATH", f.Lookup("config"))
	_ = settings.BindPFlag("PORT", f.Lookup("port"))
	_ = settings.BindPFlag("KUBECONFIG", f.Lookup("kubeconfig"))
}

func serve(ctx context.Context, s *config.Settings, log logr.Logger) error {
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		Endpoint:    s.OTLPEndpoint,
		Insecure:    otlpInsecure,
		Version:     Version,
		ClusterName: s.ClusterName,
	}, log)
	if err != nil {
		return err
	}

	kc := kubeClient(s, log)
	store, err := openStore(s, log)
	if err != nil {
		return err
	}

	sched := scheduler.New(store, log)
	sinks := sink.NewRegistry(log, sink.Env{ClusterName: s.ClusterName, AccountID: s.AccountID, Log: log})
	holder := registry.NewHolder(&registry.Snapshot{})

	opts := runner.Options{
		Deps:    event.Deps{Client: kc},
		Metrics: runner.NewMetrics(prometheus.DefaultRegisterer),
	}
	if kc != nil {
		opts.Hydrator = kube.NewHydrator(kc, log)
	}
	r := runner.New(holder, log, opts)
	r.RegisterScheduled(sched)

	ld := loader.New(holder, log, loader.Options{
		ConfigPath:      s.ConfigFilePath,
		InternalPath:    internalPath(s.InternalPlaybooksRoot),
		Plugins:         builtinPlugins(),
		Sinks:           sinks,
		Scheduler:       sched,
		Debounce:        s.ReloadDebounce,
		PlatformEnabled: s.PlatformEnabled,
		GlobalDefaults: map[string]any{
			"cluster_name": s.ClusterName,
			"account_id":   s.AccountID,
		},
	})
	if err := ld.Reload(ctx); err != nil {
		sinks.Stop()
		_ = store.Close()
		return fmt.Errorf("initial configuration load: %w", err)
	}
	if heartbeatInterval > 0 {
		if err := scheduleHeartbeat(ctx, sched, holder, heartbeatInterval); err != nil {
			log.Error(err, "Failed to schedule heartbeat")
		}
	}

	processed, err := ingress.NewProcessedAlerts(s.ProcessedAlertsCacheMaxSize, s.ProcessedAlertsCacheTTL)
	if err != nil {
		return err
	}
	srv := ingress.New(holder, r, log, ingress.Options{
		Addr:            fmt.Sprintf(":%d", s.Port),
		QueueSize:       s.IncomingEventsQueueMaxSize,
		Workers:         s.NumEventThreads,
		ProcessedAlerts: processed,
		Reloader:        ld,
	})
	rc := relay.New(r, log, relay.Options{
		URL:            s.RelayExternalActionsURL,
		AccountID:      s.AccountID,
		ClusterName:    s.ClusterName,
		Token:          s.RelayToken,
		Version:        Version,
		PingInterval:   s.WebsocketPingInterval(),
		PingTimeout:    s.WebsocketPingTimeout(),
		ReconnectDelay: s.WebsocketReconnectDelay(),
		Workers:        s.WebsocketThreadpoolSize,
		Validator: &relay.Validator{
			SigningKey:   func() string { return signingKey(s, holder) },
			LightActions: func() []string { return holder.Load().LightActions },
			Window:       s.IncomingRequestTimeWindow(),
		},
	})
	rt := retention.NewController(sinks, sched, retention.Config{
		ScanInterval: s.GroupingRetentionScanInterval,
		JobTTL:       s.SchedulerDoneJobTTL,
	}, log)

	// Dispatches outlive the signal so they can drain; the shutdown
	// manager cancels them at the deadline.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	sm := lifecycle.NewShutdownManager(drainTimeout, log, r, sched)
	sm.RegisterRun("dispatches", cancelWork)
	sm.BeforeDrain("ingress", srv.Shutdown)
	sm.BeforeDrain("relay", func(context.Context) error { rc.Stop(); return nil })
	sm.AfterDrain("sinks", func(context.Context) error { sinks.Stop(); return nil })
	sm.AfterDrain("scheduler", func(context.Context) error { sched.Stop(); return nil })
	sm.AfterDrain("store", func(context.Context) error { return store.Close() })
	sm.AfterDrain("tracing", func(ctx context.Context) error { return shutdownTracing(ctx) })

	srv.Start(workCtx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error { return rc.Run(gctx) })
	g.Go(func() error { return ld.Watch(gctx) })
	g.Go(func() error { return rt.Start(gctx) })
	g.Go(func() error { return sched.Start(workCtx) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), drainTimeout+10*time.Second)
		defer cancel()
		return sm.Shutdown(sctx)
	})

	log.Info("Runner started", "version", Version, "port", s.Port, "cluster", s.ClusterName)
	return g.Wait()
}

// kubeClient returns nil when no cluster is reachable; alerts are then
// dispatched without resource hydration.
func kubeClient(s *config.Settings, log logr.Logger) client.Client {
	cfg, err := kube.RESTConfig(s.Kubeconfig)
	if err != nil {
		log.Info("No Kubernetes config, running without cluster access", "error", err.Error())
		return nil
	}
	c, err := kube.NewClient(cfg)
	if err != nil {
		log.Error(err, "Failed to create Kubernetes client, running without cluster access")
		return nil
	}
	return c
}

func openStore(s *config.Settings, log logr.Logger) (scheduler.Store, error) {
	if s.SchedulerStateDir == "" {
		log.Info("SCHEDULER_STATE_DIR not set, scheduled job state is kept in memory")
		return scheduler.NewMemoryStore(), nil
	}
	store, err := scheduler.OpenBadgerStore(s.SchedulerStateDir, log)
	if err != nil {
		return nil, fmt.Errorf("open scheduler store: %w", err)
	}
	return store, nil
}

func internalPath(root string) string {
	if root == "" {
		return ""
	}
	return filepath.Join(root, internalPlaybooksFile)
}

// signingKey prefers the SIGNING_KEY setting over global_config.signing_key.
func signingKey(s *config.Settings, holder *registry.Holder) string {
	if s.SigningKey != "" {
		return s.SigningKey
	}
	key, _ := holder.Load().GlobalConfig()["signing_key"].(string)
	return key
}

// scheduleHeartbeat adds a standalone job reporting every interval. It
// survives reloads and, with a persistent store, restarts.
func scheduleHeartbeat(ctx context.Context, sched *scheduler.Scheduler, holder *registry.Holder, interval time.Duration) error {
	const name = "report_scheduling_event"
	a := holder.Load().Actions.Get(name)
	if a == nil {
		return fmt.Errorf("action %s not registered", name)
	}
	job := runner.ActionJob(name, a.FuncHash, "heartbeat", nil, nil, scheduler.Params{
		FixedDelayRepeat: &scheduler.FixedDelayRepeat{Repeat: -1, SecondsDelay: int(interval.Seconds())},
	})
	return sched.ScheduleStandalone(ctx, job)
}
