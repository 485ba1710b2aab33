package experience

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/curio/internal/experience"

const (
	reasonLowQuality = "low_quality"
	reasonCapacity   = "capacity"
)

// Metrics holds experience buffer instruments.
type Metrics struct {
	logger    *zap.Logger
	admitted  metric.Int64Counter
	rejected  metric.Int64Counter
	retrieval metric.Float64Histogram
	scanned   metric.Int64Histogram
}

// NewMetrics creates metrics on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	return NewMetricsWithMeter(otel.Meter(instrumentationName), logger)
}

// NewMetricsWithMeter creates metrics on the given meter.
func NewMetricsWithMeter(meter metric.Meter, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{logger: logger}

	var err error
	m.admitted, err = meter.Int64Counter(
		"curio.experience.admitted_total",
		metric.WithDescription("Experiences admitted into the buffer"),
		metric.WithUnit("{experience}"),
	)
	if err != nil {
		logger.Warn("failed to create admitted counter", zap.Error(err))
	}

	m.rejected, err = meter.Int64Counter(
		"curio.experience.rejected_total",
		metric.WithDescription("Experiences rejected at admission, labeled by reason (low_quality, capacity)"),
		metric.WithUnit("{experience}"),
	)
	if err != nil {
		logger.Warn("failed to create rejected counter", zap.Error(err))
	}

	m.retrieval, err = meter.Float64Histogram(
		"curio.experience.retrieval_duration_seconds",
		metric.WithDescription("Similarity retrieval latency including query embedding"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25),
	)
	if err != nil {
		logger.Warn("failed to create retrieval histogram", zap.Error(err))
	}

	m.scanned, err = meter.Int64Histogram(
		"curio.experience.retrieval_rows",
		metric.WithDescription("Rows scored per retrieval"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		logger.Warn("failed to create scanned histogram", zap.Error(err))
	}
	return m
}

// RecordAdmitted counts one admitted experience.
func (m *Metrics) RecordAdmitted(ctx context.Context) {
	if m.admitted != nil {
		m.admitted.Add(ctx, 1)
	}
}

// RecordRejected counts one rejection.
func (m *Metrics) RecordRejected(ctx context.Context, reason string) {
	if m.rejected != nil {
		m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

// RecordRetrieval records one similarity query.
func (m *Metrics) RecordRetrieval(ctx context.Context, d time.Duration, rows int) {
	if m.retrieval != nil {
		m.retrieval.Record(ctx, d.Seconds())
	}
	if m.scanned != nil {
		m.scanned.Record(ctx, int64(rows))
	}
}
