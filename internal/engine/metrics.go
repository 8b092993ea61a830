package engine

import (
	"context"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/roach88/iapsync/internal/purchase"
)

const meterName = "github.com/roach88/iapsync/engine"

type engineMetrics struct {
	checkouts metric.Int64Counter
	finalized metric.Int64Counter
	offline   metric.Int64Counter
	pending   metric.Int64ObservableGauge

	// live mirrors Registry.Len for the gauge callback, which runs on the
	// exporter's goroutine.
	live atomic.Int64
}

// newEngineMetrics registers the engine instruments on the global meter
// provider. Without a configured provider the instruments are no-ops.
func newEngineMetrics(logger *slog.Logger) *engineMetrics {
	meter := otel.Meter(meterName)
	m := &engineMetrics{}
	var err error

	m.checkouts, err = meter.Int64Counter(
		"iapsync.checkout.requests",
		metric.WithDescription("Checkout requests by synchronous result"),
	)
	logMetricInitError(logger, "iapsync.checkout.requests", err)

	m.finalized, err = meter.Int64Counter(
		"iapsync.transaction.finalized",
		metric.WithDescription("Checkouts finalized by final state"),
	)
	logMetricInitError(logger, "iapsync.transaction.finalized", err)

	m.offline, err = meter.Int64Counter(
		"iapsync.offline.receipts",
		metric.WithDescription("Offline receipts recorded by state"),
	)
	logMetricInitError(logger, "iapsync.offline.receipts", err)

	m.pending, err = meter.Int64ObservableGauge(
		"iapsync.registry.pending",
		metric.WithDescription("Live pending transactions"),
	)
	logMetricInitError(logger, "iapsync.registry.pending", err)

	if m.pending != nil {
		if _, err := meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(m.pending, m.live.Load())
			return nil
		}, m.pending); err != nil && logger != nil {
			logger.Warn("telemetry.metric.callback_failed", "name", "iapsync.registry.pending", "error", err)
		}
	}

	return m
}

func (m *engineMetrics) recordCheckout(ctx context.Context, result string) {
	if m == nil || m.checkouts == nil {
		return
	}
	m.checkouts.Add(ctx, 1, metric.WithAttributes(attribute.String("iapsync.result", result)))
}

func (m *engineMetrics) recordFinalized(ctx context.Context, state purchase.TransactionState) {
	if m == nil || m.finalized == nil {
		return
	}
	m.finalized.Add(ctx, 1, metric.WithAttributes(attribute.String("iapsync.state", state.String())))
}

func (m *engineMetrics) recordOffline(ctx context.Context, state purchase.TransactionState, source string) {
	if m == nil || m.offline == nil {
		return
	}
	m.offline.Add(ctx, 1, metric.WithAttributes(
		attribute.String("iapsync.state", state.String()),
		attribute.String("iapsync.source", source),
	))
}

func (m *engineMetrics) setPending(n int) {
	if m == nil {
		return
	}
	m.live.Store(int64(n))
}

func logMetricInitError(logger *slog.Logger, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}
