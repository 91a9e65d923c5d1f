/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package telemetry

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestSetup_NoEndpointInstallsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), Options{}, logr.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := otel.GetTracerProvider().(noop.TracerProvider); !ok {
		t.Errorf("expected noop tracer provider, got %T", otel.GetTracerProvider())
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("unexpected shutdown error: %v", err)
	}
}

func TestSetup_EndpointInstallsSDKProvider(t *testing.T) {
	// The gRPC exporter connects lazily, so no collector is needed.
	shutdown, err := Setup(context.Background(), Options{Endpoint: "127.0.0.1:4317", Insecure: true, Version: "test"}, logr.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer otel.SetTracerProvider(noop.NewTracerProvider())
	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Errorf("expected sdk tracer provider, got %T", otel.GetTracerProvider())
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}
