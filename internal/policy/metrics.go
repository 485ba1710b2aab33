package policy

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/curio/internal/policy"

// Metrics holds policy instruments.
type Metrics struct {
	decisions metric.Int64Counter
	cost      metric.Float64Counter
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
	m.decisions, err = meter.Int64Counter(
		"curio.policy.decisions_total",
		metric.WithDescription("Exploit/explore decisions labeled by action and reason"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		logger.Warn("failed to create decisions counter", zap.Error(err))
	}
	m.cost, err = meter.Float64Counter(
		"curio.policy.cost_total",
		metric.WithDescription("Actual cost recorded against decisions, labeled by action"),
	)
	if err != nil {
		logger.Warn("failed to create cost counter", zap.Error(err))
	}
	return m
}

// RecordCost adds cost for one acted-on decision.
func (m *Metrics) RecordCost(ctx context.Context, action Action, cost float64) {
	if m.cost == nil {
		return
	}
	m.cost.Add(ctx, cost, metric.WithAttributes(attribute.String("action", string(action))))
}

// RecordDecision counts one decision.
func (m *Metrics) RecordDecision(ctx context.Context, action Action, reason Reason) {
	if m.decisions == nil {
		return
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", string(action)),
		attribute.String("reason", string(reason)),
	))
}
