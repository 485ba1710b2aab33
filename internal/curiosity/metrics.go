package curiosity

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/curio/internal/curiosity"

// Metrics holds trainer instruments.
type Metrics struct {
	tasks         metric.Int64Counter
	taskDuration  metric.Float64Histogram
	epochDuration metric.Float64Histogram
	stored        metric.Int64Counter
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

	m.tasks, err = meter.Int64Counter(
		"curio.trainer.tasks_total",
		metric.WithDescription("Practice tasks executed, labeled by status"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		logger.Warn("failed to create tasks counter", zap.Error(err))
	}

	m.taskDuration, err = meter.Float64Histogram(
		"curio.trainer.task_duration_seconds",
		metric.WithDescription("Executor call duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("failed to create task duration histogram", zap.Error(err))
	}

	m.epochDuration, err = meter.Float64Histogram(
		"curio.trainer.epoch_duration_seconds",
		metric.WithDescription("Training epoch duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("failed to create epoch duration histogram", zap.Error(err))
	}

	m.stored, err = meter.Int64Counter(
		"curio.trainer.experiences_stored_total",
		metric.WithDescription("Experiences admitted to the buffer during training"),
		metric.WithUnit("{experience}"),
	)
	if err != nil {
		logger.Warn("failed to create stored counter", zap.Error(err))
	}
	return m
}

// RecordTask records one executor call.
func (m *Metrics) RecordTask(ctx context.Context, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	if m.tasks != nil {
		m.tasks.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
	if m.taskDuration != nil {
		m.taskDuration.Record(ctx, d.Seconds())
	}
}

// RecordEpoch records a finished epoch.
func (m *Metrics) RecordEpoch(ctx context.Context, d time.Duration, tm *TrainingMetrics) {
	if m.epochDuration != nil {
		m.epochDuration.Record(ctx, d.Seconds())
	}
	if m.stored != nil && tm.HighQualityExperiencesStored > 0 {
		m.stored.Add(ctx, int64(tm.HighQualityExperiencesStored))
	}
}
