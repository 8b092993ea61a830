// Package telemetry wires OpenTelemetry metrics to a Prometheus scrape
// endpoint.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/roach88/iapsync/internal/purchase"
)

// ServiceName is reported as the service.name resource attribute.
const ServiceName = "iapsync"

// Telemetry owns the meter provider and its Prometheus registry.
type Telemetry struct {
	registry      *prometheus.Registry
	meterProvider *sdkmetric.MeterProvider
	logger        *slog.Logger
}

type otelErrorHandler struct {
	logger *slog.Logger
}

func (h otelErrorHandler) Handle(err error) {
	if err == nil {
		return
	}
	h.logger.Warn("telemetry.exporter.error", "error", err)
}

// Setup installs a global meter provider exporting to a fresh Prometheus
// registry. Instruments created through otel.Meter before Setup are
// delegated to the new provider.
func Setup(ctx context.Context, logger *slog.Logger) (*Telemetry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(purchase.EngineVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("telemetry: start prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)
	otel.SetErrorHandler(otelErrorHandler{logger: logger})

	logger.Info("telemetry.metrics.enabled", "exporter", "prometheus")
	return &Telemetry{
		registry:      registry,
		meterProvider: provider,
		logger:        logger,
	}, nil
}

// Handler serves the Prometheus text exposition.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.meterProvider == nil {
		return nil
	}
	if err := t.meterProvider.Shutdown(ctx); err != nil {
		t.logger.Warn("telemetry.shutdown.metric_failure", "error", err)
		return fmt.Errorf("metric shutdown: %w", err)
	}
	t.logger.Info("telemetry.shutdown.complete")
	return nil
}
