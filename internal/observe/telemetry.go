package observe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// TelemetryConfig configures [Setup].
type TelemetryConfig struct {
	// ServiceName defaults to "telebridge".
	ServiceName string

	ServiceVersion string

	// InstanceID distinguishes bridges behind one phone number. Defaults to
	// the host name.
	InstanceID string

	// TraceExporter receives finished spans. When nil, spans are recorded
	// for log correlation only.
	TraceExporter sdktrace.SpanExporter
}

// Telemetry is the process-wide OpenTelemetry setup. Metrics are exported
// through a dedicated Prometheus registry so the scrape output contains the
// bridge's instruments plus Go runtime and process collectors, and nothing
// registered on the Prometheus default registry by libraries.
type Telemetry struct {
	// Metrics are the application instruments bound to the meter provider.
	Metrics *Metrics

	registry *prometheus.Registry
	closers  []func(context.Context) error
}

// Setup builds the meter and tracer providers and installs them as the
// global OTel providers.
func Setup(ctx context.Context, cfg TelemetryConfig) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "telebridge"
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID, _ = os.Hostname()
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.ServiceInstanceID(cfg.InstanceID),
	))
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	t := &Telemetry{registry: prometheus.NewRegistry()}
	t.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := promexporter.New(promexporter.WithRegisterer(t.registry))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(mp)
	t.closers = append(t.closers, mp.Shutdown)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	t.closers = append(t.closers, tp.Shutdown)

	t.Metrics, err = NewMetrics(mp)
	if err != nil {
		_ = t.Shutdown(ctx)
		return nil, err
	}
	return t, nil
}

// Handler serves the Prometheus scrape endpoint.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{Registry: t.registry})
}

// Shutdown flushes pending spans and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.closers {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}
