package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Config configures metric export.
type Config struct {
	ServiceName  string
	ProcessID    string
	OTLPEndpoint string        // e.g. "localhost:4317"; empty disables export
	Insecure     bool          // plaintext gRPC to the collector
	Interval     time.Duration // export interval, default 10s
}

// Provider owns the meter provider for the process.
type Provider struct {
	meterProvider metric.MeterProvider
	shutdown      func(context.Context) error
}

// Setup builds a meter provider exporting over OTLP/gRPC, or a no-op
// provider when no endpoint is configured. The provider is also installed
// as the otel global.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.OTLPEndpoint == "" {
		mp := noop.NewMeterProvider()
		otel.SetMeterProvider(mp)
		return &Provider{meterProvider: mp, shutdown: func(context.Context) error { return nil }}, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = InstrumentationName
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.instance.id", cfg.ProcessID),
	)

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp)
	return &Provider{meterProvider: mp, shutdown: mp.Shutdown}, nil
}

// Meter returns the vtrace meter.
func (p *Provider) Meter() metric.Meter {
	return p.meterProvider.Meter(InstrumentationName)
}

// Shutdown flushes pending metrics.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.shutdown(ctx)
}
