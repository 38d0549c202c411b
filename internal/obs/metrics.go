// Package obs wraps OpenTelemetry metrics for the fabric's Socket and
// Repeater counters: lost/recoveries/drops/fails, active recovery
// records, and Repeater fan-out size. No-op unless a config enables an
// exporter.
package obs

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// ExporterType selects where metrics are sent.
type ExporterType string

const (
	// ExporterNone disables metrics collection (no-op).
	ExporterNone ExporterType = "none"
	// ExporterStdout writes metrics to stdout, for debugging.
	ExporterStdout ExporterType = "stdout"
	// ExporterOTLPGRPC exports metrics via OTLP over gRPC.
	ExporterOTLPGRPC ExporterType = "otlp-grpc"
	// ExporterOTLPHTTP exports metrics via OTLP over HTTP.
	ExporterOTLPHTTP ExporterType = "otlp-http"
)

// Config configures a Metrics instance.
type Config struct {
	// Enabled controls whether metrics collection is active. Default: false (no-op).
	Enabled bool
	// ServiceName attributes all metrics to this service.
	ServiceName string
	// ExporterType selects the backend; ignored when Enabled is false.
	ExporterType ExporterType
	// OTLPEndpoint is the endpoint for OTLP exporters (e.g. "localhost:4317").
	OTLPEndpoint string
	// OTLPInsecure disables TLS for OTLP connections.
	OTLPInsecure bool
}

// DefaultConfig returns a configuration with metrics disabled.
func DefaultConfig() *Config {
	return &Config{Enabled: false, ServiceName: "jsontalkie", ExporterType: ExporterNone}
}

// Metrics wraps the fabric's OpenTelemetry instruments. A Metrics
// built from a disabled Config is a safe no-op: every recording method
// tolerates a nil instrument.
type Metrics struct {
	config        *Config
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	shutdown      func(context.Context) error

	lost           metric.Int64Counter
	recoveries     metric.Int64Counter
	drops          metric.Int64Counter
	fails          metric.Int64Counter
	activeRecovery metric.Int64UpDownCounter
	fanoutSize     metric.Float64Histogram
}

// New builds a Metrics instance per cfg. A nil cfg is treated as
// DefaultConfig(), i.e. fully disabled.
func New(ctx context.Context, cfg *Config) (*Metrics, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Metrics{config: cfg}

	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		m.meterProvider = sdkmetric.NewMeterProvider()
		m.meter = m.meterProvider.Meter(cfg.ServiceName)
		m.shutdown = func(context.Context) error { return nil }
		return m, m.registerInstruments()
	}

	exporter, err := m.createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	m.meterProvider = mp
	m.meter = mp.Meter(cfg.ServiceName)
	m.shutdown = mp.Shutdown

	if err := m.registerInstruments(); err != nil {
		return nil, fmt.Errorf("failed to register metric instruments: %w", err)
	}
	return m, nil
}

func (m *Metrics) createExporter(ctx context.Context, cfg *Config) (sdkmetric.Exporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdoutmetric.New()
	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)
	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
}

func (m *Metrics) registerInstruments() error {
	var err error
	if m.lost, err = m.meter.Int64Counter("jsontalkie.socket.lost", metric.WithDescription("Unrecoverable messages dropped at socket ingress")); err != nil {
		return err
	}
	if m.recoveries, err = m.meter.Int64Counter("jsontalkie.socket.recoveries", metric.WithDescription("Corrupted messages successfully recovered")); err != nil {
		return err
	}
	if m.drops, err = m.meter.Int64Counter("jsontalkie.socket.drops", metric.WithDescription("Messages dropped by the Call-kind delay filter")); err != nil {
		return err
	}
	if m.fails, err = m.meter.Int64Counter("jsontalkie.socket.fails", metric.WithDescription("Transport send failures")); err != nil {
		return err
	}
	if m.activeRecovery, err = m.meter.Int64UpDownCounter("jsontalkie.socket.active_recovery", metric.WithDescription("Outstanding corrupted-message recovery records")); err != nil {
		return err
	}
	if m.fanoutSize, err = m.meter.Float64Histogram("jsontalkie.repeater.fanout_size", metric.WithDescription("Number of targets a single Repeater dispatch reached")); err != nil {
		return err
	}
	return nil
}

// IncLost implements socket.MetricsSink.
func (m *Metrics) IncLost(n int64) {
	if m.lost == nil {
		return
	}
	m.lost.Add(context.Background(), n)
}

// IncRecoveries implements socket.MetricsSink.
func (m *Metrics) IncRecoveries(n int64) {
	if m.recoveries == nil {
		return
	}
	m.recoveries.Add(context.Background(), n)
}

// IncActiveRecovery implements socket.MetricsSink. n is +1 when a
// corruption record is armed and -1 when it clears, so the gauge
// tracks outstanding recovery records in flight.
func (m *Metrics) IncActiveRecovery(n int64) {
	if m.activeRecovery == nil {
		return
	}
	m.activeRecovery.Add(context.Background(), n)
}

// IncDrops implements socket.MetricsSink.
func (m *Metrics) IncDrops(n int64) {
	if m.drops == nil {
		return
	}
	m.drops.Add(context.Background(), n)
}

// IncFails implements socket.MetricsSink.
func (m *Metrics) IncFails(n int64) {
	if m.fails == nil {
		return
	}
	m.fails.Add(context.Background(), n)
}

// ObserveFanout implements repeater.MetricsSink.
func (m *Metrics) ObserveFanout(n int) {
	if m.fanoutSize == nil {
		return
	}
	m.fanoutSize.Record(context.Background(), float64(n))
}

// Shutdown flushes and releases the underlying meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.shutdown == nil {
		return nil
	}
	return m.shutdown(ctx)
}
