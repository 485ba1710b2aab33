package curiosity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/curio/internal/experience"
)

var (
	// ErrInvalidCost indicates a non-positive or non-finite cost per task.
	ErrInvalidCost = errors.New("cost per task must be a positive number")

	// ErrInvalidBudget indicates a negative or non-finite budget.
	ErrInvalidBudget = errors.New("budget must be a finite non-negative number")

	// ErrEmptyAgentType indicates an epoch request without an agent type.
	ErrEmptyAgentType = errors.New("agent type cannot be empty")

	// ErrNilEngine indicates TrainEpoch was called without a question engine.
	ErrNilEngine = errors.New("question engine cannot be nil")

	// ErrExecutorPanic wraps a recovered executor panic.
	ErrExecutorPanic = errors.New("executor panicked")
)

// Archiver receives experiences admitted during training.
type Archiver interface {
	Archive(ctx context.Context, m experience.Match) error
}

// EpochRequest describes one training epoch.
type EpochRequest struct {
	NumTasks        int
	AgentType       string
	BudgetRemaining float64
	CostPerTask     float64
}

// TaskResult is the outcome of one task in a session.
type TaskResult struct {
	Task         Task               `json:"task" yaml:"task"`
	TrajectoryID string             `json:"trajectory_id,omitempty" yaml:"trajectory_id,omitempty"`
	QualityScore float64            `json:"quality_score" yaml:"quality_score"`
	Outcome      experience.Outcome `json:"outcome" yaml:"outcome"`
	Stored       bool               `json:"stored" yaml:"stored"`
	Archived     bool               `json:"archived" yaml:"archived"`
	Duration     time.Duration      `json:"duration" yaml:"duration"`
	Err          error              `json:"-" yaml:"-"`
	Error        string             `json:"error,omitempty" yaml:"error,omitempty"`
	// StoreErr is set when the buffer failed to store a scored result. The
	// task itself still counts by its outcome.
	StoreErr   error  `json:"-" yaml:"-"`
	StoreError string `json:"store_error,omitempty" yaml:"store_error,omitempty"`
}

// Session records everything an epoch did.
type Session struct {
	ID        string       `json:"id" yaml:"id"`
	AgentType string       `json:"agent_type" yaml:"agent_type"`
	Tasks     []Task       `json:"tasks" yaml:"tasks"`
	Results   []TaskResult `json:"results" yaml:"results"`
	StartedAt time.Time    `json:"started_at" yaml:"started_at"`
	EndedAt   time.Time    `json:"ended_at" yaml:"ended_at"`
}

// TrainingMetrics summarizes an epoch. AvgQualityScore averages only the
// tasks whose executor returned a score; failed calls are left out of it
// and of ImprovementDelta.
type TrainingMetrics struct {
	SessionID                    string    `json:"session_id" yaml:"session_id"`
	AgentType                    string    `json:"agent_type" yaml:"agent_type"`
	TasksExecuted                int       `json:"tasks_executed" yaml:"tasks_executed"`
	TasksSucceeded               int       `json:"tasks_succeeded" yaml:"tasks_succeeded"`
	TasksFailed                  int       `json:"tasks_failed" yaml:"tasks_failed"`
	SuccessRate                  float64   `json:"success_rate" yaml:"success_rate"`
	AvgQualityScore              float64   `json:"avg_quality_score" yaml:"avg_quality_score"`
	TotalCostIncurred            float64   `json:"total_cost_incurred" yaml:"total_cost_incurred"`
	CostPerTask                  float64   `json:"cost_per_task" yaml:"cost_per_task"`
	ImprovementDelta             float64   `json:"improvement_delta" yaml:"improvement_delta"`
	HighQualityExperiencesStored int       `json:"high_quality_experiences_stored" yaml:"high_quality_experiences_stored"`
	StoreFailures                int       `json:"store_failures,omitempty" yaml:"store_failures,omitempty"`
	BudgetExhausted              bool      `json:"budget_exhausted" yaml:"budget_exhausted"`
	Timestamp                    time.Time `json:"timestamp" yaml:"timestamp"`
}

// Trainer runs curiosity-driven training epochs against one buffer.
type Trainer struct {
	buffer   *experience.Buffer
	executor Executor
	archiver Archiver
	limiter  *rate.Limiter
	tracer   trace.Tracer
	logger   *zap.Logger
	metrics  *Metrics
	now      func() time.Time

	concurrency      int
	taskTimeout      time.Duration
	successThreshold float64
	coverageIncrease float64

	mu         sync.Mutex
	generation int
	lastAvg    float64
	hasLastAvg bool
	history    []TrainingMetrics
}

// TrainerOption configures a Trainer.
type TrainerOption func(*Trainer)

// WithArchiver forwards admitted experiences to a.
func WithArchiver(a Archiver) TrainerOption {
	return func(t *Trainer) {
		t.archiver = a
	}
}

// WithRateLimiter throttles executor calls.
func WithRateLimiter(l *rate.Limiter) TrainerOption {
	return func(t *Trainer) {
		t.limiter = l
	}
}

// WithConcurrency bounds in-flight executor calls. Values below 1 mean 1.
func WithConcurrency(n int) TrainerOption {
	return func(t *Trainer) {
		if n < 1 {
			n = 1
		}
		t.concurrency = n
	}
}

// WithSuccessThreshold sets the quality at which a task counts as a success.
func WithSuccessThreshold(q float64) TrainerOption {
	return func(t *Trainer) {
		t.successThreshold = q
	}
}

// WithCoverageIncrease sets how much each executed task raises its
// domain's coverage.
func WithCoverageIncrease(inc float64) TrainerOption {
	return func(t *Trainer) {
		t.coverageIncrease = inc
	}
}

// WithTrainerMetrics overrides the metrics instance.
func WithTrainerMetrics(m *Metrics) TrainerOption {
	return func(t *Trainer) {
		t.metrics = m
	}
}

// WithTaskTimeout bounds each executor call. Zero leaves calls bounded only
// by the epoch context.
func WithTaskTimeout(d time.Duration) TrainerOption {
	return func(t *Trainer) {
		t.taskTimeout = d
	}
}

// WithTracer records epoch and task spans on tr instead of the global
// tracer provider.
func WithTracer(tr trace.Tracer) TrainerOption {
	return func(t *Trainer) {
		t.tracer = tr
	}
}

// WithTrainerClock overrides the timestamp source.
func WithTrainerClock(now func() time.Time) TrainerOption {
	return func(t *Trainer) {
		t.now = now
	}
}

// NewTrainer creates a trainer. The success threshold defaults to the
// buffer's admission quality.
func NewTrainer(buffer *experience.Buffer, executor Executor, logger *zap.Logger, opts ...TrainerOption) (*Trainer, error) {
	if buffer == nil {
		return nil, fmt.Errorf("experience buffer cannot be nil")
	}
	if executor == nil {
		return nil, fmt.Errorf("executor cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &Trainer{
		buffer:           buffer,
		executor:         executor,
		logger:           logger,
		now:              time.Now,
		concurrency:      1,
		successThreshold: buffer.Config().MinQuality,
		coverageIncrease: 5,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.metrics == nil {
		t.metrics = NewMetrics(logger)
	}
	if t.tracer == nil {
		t.tracer = otel.Tracer(instrumentationName)
	}
	if t.taskTimeout < 0 {
		return nil, fmt.Errorf("task timeout cannot be negative, got %v", t.taskTimeout)
	}
	if math.IsNaN(t.successThreshold) || t.successThreshold < 0 || t.successThreshold > 100 {
		return nil, fmt.Errorf("success threshold must be between 0 and 100, got %v", t.successThreshold)
	}
	if math.IsNaN(t.coverageIncrease) || t.coverageIncrease < 0 {
		return nil, fmt.Errorf("%w: %v", ErrNegativeIncrease, t.coverageIncrease)
	}
	return t, nil
}

// ExecutableTasks is min(numTasks, floor(budget/costPerTask)).
func ExecutableTasks(numTasks int, budget, costPerTask float64) int {
	if numTasks <= 0 || costPerTask <= 0 || budget <= 0 {
		return 0
	}
	affordable := math.Floor(budget / costPerTask)
	if affordable < float64(numTasks) {
		return int(affordable)
	}
	return numTasks
}

// TrainEpoch generates tasks from engine, executes as many as the budget
// allows, and stores the results that clear admission. Executor failures
// are recorded per task; the epoch itself fails only on invalid input or a
// task generation error.
func (t *Trainer) TrainEpoch(ctx context.Context, req EpochRequest, engine *QuestionEngine) (*TrainingMetrics, *Session, error) {
	if engine == nil {
		return nil, nil, ErrNilEngine
	}
	if req.AgentType == "" {
		return nil, nil, ErrEmptyAgentType
	}
	if req.NumTasks < 0 {
		return nil, nil, fmt.Errorf("%w: %d", ErrInvalidTaskCount, req.NumTasks)
	}
	if math.IsNaN(req.CostPerTask) || math.IsInf(req.CostPerTask, 0) || req.CostPerTask <= 0 {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidCost, req.CostPerTask)
	}
	if math.IsNaN(req.BudgetRemaining) || math.IsInf(req.BudgetRemaining, 0) || req.BudgetRemaining < 0 {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidBudget, req.BudgetRemaining)
	}

	ctx, span := t.tracer.Start(ctx, "curiosity.TrainEpoch", trace.WithAttributes(
		attribute.String("agent_type", req.AgentType),
		attribute.Int("num_tasks", req.NumTasks),
	))
	defer span.End()

	start := t.now()
	session := &Session{
		ID:        uuid.New().String(),
		AgentType: req.AgentType,
		StartedAt: start,
	}
	logger := t.logger.With(zap.String("session_id", session.ID), zap.String("agent_type", req.AgentType))
	span.SetAttributes(attribute.String("session_id", session.ID))

	executable := ExecutableTasks(req.NumTasks, req.BudgetRemaining, req.CostPerTask)
	if executable == 0 {
		session.EndedAt = start
		m := &TrainingMetrics{
			SessionID:       session.ID,
			AgentType:       req.AgentType,
			CostPerTask:     req.CostPerTask,
			BudgetExhausted: req.NumTasks > 0,
			Timestamp:       start,
		}
		t.record(m, false)
		logger.Info("training epoch skipped", zap.Float64("budget_remaining", req.BudgetRemaining))
		return m, session, nil
	}

	tasks, err := engine.GenerateTasks(ctx, executable)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "task generation failed")
		return nil, nil, fmt.Errorf("generating tasks: %w", err)
	}
	session.Tasks = tasks

	t.mu.Lock()
	generation := t.generation
	t.generation++
	t.mu.Unlock()

	results := make([]TaskResult, len(tasks))
	executed := make([]bool, len(tasks))

	g := new(errgroup.Group)
	g.SetLimit(t.concurrency)
	for i, task := range tasks {
		if err := ctx.Err(); err != nil {
			results[i] = TaskResult{Task: task, Outcome: experience.OutcomeFailure, Err: err, Error: err.Error()}
			continue
		}
		g.Go(func() error {
			results[i], executed[i] = t.runTask(ctx, logger, req.AgentType, generation, task)
			return nil
		})
	}
	_ = g.Wait()

	m := &TrainingMetrics{
		SessionID:       session.ID,
		AgentType:       req.AgentType,
		CostPerTask:     req.CostPerTask,
		BudgetExhausted: executable < req.NumTasks,
	}
	var (
		qualitySum float64
		scored     int
	)
	for i, r := range results {
		if !executed[i] {
			continue
		}
		m.TasksExecuted++
		if r.Err != nil {
			m.TasksFailed++
		} else {
			qualitySum += r.QualityScore
			scored++
			if r.Outcome == experience.OutcomeSuccess {
				m.TasksSucceeded++
			}
		}
		if r.Stored {
			m.HighQualityExperiencesStored++
		}
		if r.StoreErr != nil {
			m.StoreFailures++
		}
		if err := engine.UpdateExplorationFrontier(r.Task.Domain, t.coverageIncrease); err != nil {
			logger.Warn("failed to update exploration frontier", zap.String("domain", r.Task.Domain), zap.Error(err))
		}
	}
	if m.TasksExecuted > 0 {
		m.SuccessRate = float64(m.TasksSucceeded) / float64(m.TasksExecuted)
	}
	if scored > 0 {
		m.AvgQualityScore = qualitySum / float64(scored)
	}
	m.TotalCostIncurred = float64(m.TasksExecuted) * req.CostPerTask

	session.Results = results
	session.EndedAt = t.now()
	m.Timestamp = session.EndedAt
	t.record(m, scored > 0)

	t.metrics.RecordEpoch(ctx, session.EndedAt.Sub(start), m)
	span.SetAttributes(
		attribute.Int("tasks_executed", m.TasksExecuted),
		attribute.Int("tasks_failed", m.TasksFailed),
		attribute.Int("experiences_stored", m.HighQualityExperiencesStored),
		attribute.Bool("budget_exhausted", m.BudgetExhausted),
	)
	logger.Info("training epoch complete",
		zap.Int("tasks_executed", m.TasksExecuted),
		zap.Int("tasks_succeeded", m.TasksSucceeded),
		zap.Int("stored", m.HighQualityExperiencesStored),
		zap.Int("store_failures", m.StoreFailures),
		zap.Float64("avg_quality", m.AvgQualityScore),
		zap.Float64("improvement_delta", m.ImprovementDelta),
		zap.Bool("budget_exhausted", m.BudgetExhausted))

	return m, session, nil
}

// runTask executes one task and stores its result. The bool reports
// whether the executor was invoked.
func (t *Trainer) runTask(ctx context.Context, logger *zap.Logger, agentType string, generation int, task Task) (TaskResult, bool) {
	ctx, span := t.tracer.Start(ctx, "curiosity.runTask", trace.WithAttributes(
		attribute.String("task_id", task.ID),
		attribute.String("domain", task.Domain),
	))
	defer span.End()

	res := TaskResult{Task: task, Outcome: experience.OutcomeFailure}
	fail := func(err error) {
		res.Err = err
		res.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "task failed")
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			fail(fmt.Errorf("rate limiter: %w", err))
			return res, false
		}
	}

	started := time.Now()
	out, err := t.execute(ctx, task.Description)
	res.Duration = time.Since(started)
	t.metrics.RecordTask(ctx, res.Duration, err)
	if err != nil {
		logger.Warn("practice task failed", zap.String("task_id", task.ID), zap.String("domain", task.Domain), zap.Error(err))
		fail(err)
		return res, true
	}

	res.QualityScore = clampQuality(out.QualityScore)
	if res.QualityScore >= t.successThreshold {
		res.Outcome = experience.OutcomeSuccess
	}
	span.SetAttributes(attribute.Float64("quality_score", res.QualityScore))

	summary := out.ActionSummary
	if summary == "" {
		summary = task.Description
	}
	traj, err := experience.NewTrajectory(agentType, task.ID, summary, generation, res.Outcome, res.QualityScore)
	if err != nil {
		fail(fmt.Errorf("building trajectory: %w", err))
		return res, true
	}
	res.TrajectoryID = traj.ID

	stored, err := t.buffer.Store(ctx, traj, res.QualityScore, task.Description)
	if err != nil {
		logger.Warn("failed to store experience", zap.String("task_id", task.ID), zap.Error(err))
		res.StoreErr = err
		res.StoreError = err.Error()
		span.RecordError(err)
		return res, true
	}
	res.Stored = stored
	if stored && t.archiver != nil {
		res.Archived = t.archive(ctx, logger, traj.ID)
	}
	return res, true
}

// execute calls the executor, converting a panic into an error.
func (t *Trainer) execute(ctx context.Context, description string) (out Outcome, err error) {
	if t.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.taskTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("executor panic recovered", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrExecutorPanic, r)
		}
	}()
	return t.executor.Execute(ctx, description)
}

func (t *Trainer) archive(ctx context.Context, logger *zap.Logger, id string) bool {
	m, err := t.buffer.Get(id)
	if err != nil {
		logger.Warn("admitted experience missing before archive", zap.String("experience_id", id), zap.Error(err))
		return false
	}
	if err := t.archiver.Archive(ctx, m); err != nil {
		logger.Warn("failed to archive experience", zap.String("experience_id", id), zap.Error(err))
		return false
	}
	return true
}

// record appends m to the history and fills ImprovementDelta against the
// last epoch that scored at least one task.
func (t *Trainer) record(m *TrainingMetrics, active bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if active {
		if t.hasLastAvg {
			m.ImprovementDelta = m.AvgQualityScore - t.lastAvg
		}
		t.lastAvg, t.hasLastAvg = m.AvgQualityScore, true
	}
	t.history = append(t.history, *m)
}

// History returns the metrics of every epoch run so far, oldest first.
func (t *Trainer) History() []TrainingMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TrainingMetrics(nil), t.history...)
}

func clampQuality(q float64) float64 {
	switch {
	case math.IsNaN(q), q < 0:
		return 0
	case q > 100:
		return 100
	}
	return q
}
