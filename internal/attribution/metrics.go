package attribution

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/curio/internal/attribution"

// Metrics holds attribution instruments.
type Metrics struct {
	duration metric.Float64Histogram
	agents   metric.Int64Histogram
	reports  metric.Int64Counter
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
	m := &Metrics{}
	var err error

	m.duration, err = meter.Float64Histogram(
		"curio.attribution.computation_duration_seconds",
		metric.WithDescription("Time to attribute one task"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5),
	)
	if err != nil {
		logger.Warn("failed to create attribution duration histogram", zap.Error(err))
	}

	m.agents, err = meter.Int64Histogram(
		"curio.attribution.agents",
		metric.WithDescription("Agents per attributed task"),
		metric.WithUnit("{agent}"),
	)
	if err != nil {
		logger.Warn("failed to create attribution agents histogram", zap.Error(err))
	}

	m.reports, err = meter.Int64Counter(
		"curio.attribution.reports_total",
		metric.WithDescription("Attribution reports produced"),
		metric.WithUnit("{report}"),
	)
	if err != nil {
		logger.Warn("failed to create reports counter", zap.Error(err))
	}
	return m
}

// RecordAttribution records one attribution call.
func (m *Metrics) RecordAttribution(ctx context.Context, d time.Duration, agents int) {
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds())
	}
	if m.agents != nil {
		m.agents.Record(ctx, int64(agents))
	}
	if m.reports != nil {
		m.reports.Add(ctx, 1)
	}
}
