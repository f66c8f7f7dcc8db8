// Package otel wires OpenTelemetry for pane-conductor.
//
// Traces (terminal lifecycle, inbox delivery, handoffs) and counters are
// exported over OTLP/HTTP when an endpoint is configured through the config
// file or OTEL_EXPORTER_OTLP_ENDPOINT. Without an endpoint the tracer and
// meters are no-ops.
package otel

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName     = "pane-conductor"
	metricInterval  = 15 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Version is reported as service.version. cmd sets it from the build.
var Version = "dev"

// OTELConfig holds the exporter settings.
type OTELConfig struct {
	Endpoint string // OTLP base URL, e.g. "http://localhost:4318"
	Headers  string // comma-separated key=value pairs
	// Command is recorded as the pane_conductor.command resource attribute
	// so spans of `serve` can be told apart from one-shot commands.
	Command string
}

// Telemetry holds the OTEL providers and metric instruments.
type Telemetry struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider

	Tracer  trace.Tracer
	Metrics *Metrics
}

// endpoint is an OTLP base URL split the way the HTTP exporters want it:
// host:port, a path prefix for the per-signal suffix, and plain HTTP or not.
type endpoint struct {
	host     string
	path     string
	insecure bool
}

func parseEndpoint(raw string) (endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return endpoint{}, err
	}
	if u.Host == "" {
		return endpoint{}, fmt.Errorf("missing host")
	}
	return endpoint{
		host:     u.Host,
		path:     strings.TrimRight(u.Path, "/"),
		insecure: u.Scheme == "http",
	}, nil
}

// parseHeaders parses the OTEL_EXPORTER_OTLP_HEADERS format.
func parseHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	if raw == "" {
		return headers
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if idx := strings.IndexByte(pair, '='); idx > 0 {
			key := strings.TrimSpace(pair[:idx])
			val := strings.TrimSpace(pair[idx+1:])
			if key != "" {
				headers[key] = val
			}
		}
	}
	return headers
}

// Init sets up OTLP HTTP exporters. With an empty endpoint it returns a
// Telemetry whose tracer and metrics do nothing.
func Init(ctx context.Context, cfg OTELConfig) (*Telemetry, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(Version),
	}
	if cfg.Command != "" {
		attrs = append(attrs, attribute.String("pane_conductor.command", cfg.Command))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...), resource.WithHost())
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	t := &Telemetry{}
	if cfg.Endpoint != "" {
		ep, err := parseEndpoint(cfg.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("otel: invalid endpoint URL %q: %w", cfg.Endpoint, err)
		}
		headers := parseHeaders(cfg.Headers)

		if t.tp, err = newTracerProvider(ctx, ep, headers, res); err != nil {
			return nil, err
		}
		if t.mp, err = newMeterProvider(ctx, ep, headers, res); err != nil {
			_ = t.tp.Shutdown(ctx)
			return nil, err
		}
		otel.SetTracerProvider(t.tp)
		otel.SetMeterProvider(t.mp)
	}

	t.Tracer = otel.Tracer(serviceName)
	if t.Metrics, err = NewMetrics(); err != nil {
		return nil, fmt.Errorf("otel metrics: %w", err)
	}
	return t, nil
}

func newTracerProvider(ctx context.Context, ep endpoint, headers map[string]string, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(ep.host),
		otlptracehttp.WithURLPath(ep.path + "/v1/traces"),
	}
	if ep.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(headers))
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otel trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp), sdktrace.WithResource(res)), nil
}

func newMeterProvider(ctx context.Context, ep endpoint, headers map[string]string, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(ep.host),
		otlpmetrichttp.WithURLPath(ep.path + "/v1/metrics"),
	}
	if ep.insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	if len(headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(headers))
	}
	exp, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otel metric exporter: %w", err)
	}
	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(metricInterval))
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res)), nil
}

// Shutdown flushes pending spans and metrics. Short-lived commands call
// it on exit, so it is bounded by shutdownTimeout.
func (t *Telemetry) Shutdown(ctx context.Context) {
	if t == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if t.tp != nil {
		_ = t.tp.Shutdown(ctx)
	}
	if t.mp != nil {
		_ = t.mp.Shutdown(ctx)
	}
}
