package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"ganagram/internal/components/configutil"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	setupTimeout   = 15 * time.Second
	dialTimeout    = 3 * time.Second
	exportInterval = 5 * time.Second
)

// Endpoint is where a signal is exported, at most one of Grpc and Http may be set. A signal
// without an endpoint is not exported.
type Endpoint struct {
	Grpc    string            `json:"grpc_endpoint"`
	Http    string            `json:"http_endpoint"`
	Headers map[string]string `json:"headers"`
}

type protocol string

const (
	protocolNone protocol = ""
	protocolGrpc protocol = "grpc"
	protocolHttp protocol = "http"
)

func (e Endpoint) protocol() (protocol, error) {
	switch {
	case e.Grpc != "" && e.Http != "":
		return protocolNone, errors.New("grpc_endpoint and http_endpoint are both set")
	case e.Grpc != "":
		return protocolGrpc, nil
	case e.Http != "":
		return protocolHttp, nil
	}
	return protocolNone, nil
}

type OtlpConfig struct {
	Traces  Endpoint `json:"traces"`
	Metrics Endpoint `json:"metrics"`
}

// Config is the shape of telemetry.json5.
type Config struct {
	Otlp OtlpConfig `json:"otlp"`
}

// Telemetry holds the installed providers, a provider is nil when its signal is not exported.
type Telemetry struct {
	TracerProvider *trace.TracerProvider
	MeterProvider  *metric.MeterProvider
}

func (t Telemetry) Shutdown(ctx context.Context) error {
	var traces, metrics error
	if t.TracerProvider != nil {
		traces = t.TracerProvider.Shutdown(ctx)
	}
	if t.MeterProvider != nil {
		metrics = t.MeterProvider.Shutdown(ctx)
	}
	return errors.Join(traces, metrics)
}

// SetupFromEnv looks for telemetry.json5 from the cwd upwards and sets telemetry up with it.
// Without the file the global no-op providers stay in place.
func SetupFromEnv(ctx context.Context, serviceName string) (Telemetry, error) {
	config, err := configutil.ReadRecursively[Config]("telemetry.json5")
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("telemetry.json5 not found, telemetry export disabled")
		return Telemetry{}, nil
	}
	if err != nil {
		return Telemetry{}, err
	}
	return Setup(ctx, serviceName, config)
}

// Setup installs a global provider for every signal config exports.
func Setup(ctx context.Context, serviceName string, config Config) (Telemetry, error) {
	ctx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()

	spans, err := spanExporter(ctx, config.Otlp.Traces)
	if err != nil {
		return Telemetry{}, fmt.Errorf("traces: %w", err)
	}
	metrics, err := metricExporter(ctx, config.Otlp.Metrics)
	if err != nil {
		return Telemetry{}, fmt.Errorf("metrics: %w", err)
	}
	if spans == nil && metrics == nil {
		return Telemetry{}, nil
	}

	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return Telemetry{}, err
	}

	var t Telemetry
	if spans != nil {
		t.TracerProvider = trace.NewTracerProvider(trace.WithBatcher(spans), trace.WithResource(r))
		otel.SetTracerProvider(t.TracerProvider)
	}
	if metrics != nil {
		t.MeterProvider = metric.NewMeterProvider(
			metric.WithReader(metric.NewPeriodicReader(metrics, metric.WithInterval(exportInterval))),
			metric.WithResource(r),
		)
		otel.SetMeterProvider(t.MeterProvider)
	}
	return t, nil
}

func spanExporter(ctx context.Context, e Endpoint) (trace.SpanExporter, error) {
	proto, err := e.protocol()
	if err != nil || proto == protocolNone {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	slog.Info("exporting traces", "protocol", proto, "headers", len(e.Headers) > 0)
	if proto == protocolGrpc {
		return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpointURL(e.Grpc), otlptracegrpc.WithHeaders(e.Headers))
	}
	return otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(e.Http), otlptracehttp.WithHeaders(e.Headers))
}

func metricExporter(ctx context.Context, e Endpoint) (metric.Exporter, error) {
	proto, err := e.protocol()
	if err != nil || proto == protocolNone {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	slog.Info("exporting metrics", "protocol", proto, "headers", len(e.Headers) > 0)
	if proto == protocolGrpc {
		return otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpointURL(e.Grpc), otlpmetricgrpc.WithHeaders(e.Headers))
	}
	return otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(e.Http), otlpmetrichttp.WithHeaders(e.Headers))
}
