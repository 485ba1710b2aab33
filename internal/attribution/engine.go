package attribution

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// EngineConfig configures an Engine.
type EngineConfig struct {
	// ShapleyIterations is the number of sampled join orders per task.
	ShapleyIterations int `koanf:"shapley_iterations" validate:"gte=1"`

	// MaxHistorySize bounds the retained reports.
	MaxHistorySize int `koanf:"max_history_size" validate:"gt=0"`

	// Strategy is used when a call passes an empty strategy and for
	// ShapeSingleAgent.
	Strategy Strategy `koanf:"strategy" validate:"oneof=linear exponential sigmoid"`

	// Seed makes sampling reproducible. Zero seeds from the clock.
	Seed int64 `koanf:"seed"`
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ShapleyIterations: 1000,
		MaxHistorySize:    1000,
		Strategy:          StrategyLinear,
	}
}

// Report is the result of one attribution call.
type Report struct {
	TaskID          string             `json:"task_id" yaml:"task_id"`
	ShapleyValues   map[string]float64 `json:"shapley_values" yaml:"shapley_values"`
	Rewards         map[string]float64 `json:"rewards" yaml:"rewards"`
	Strategy        Strategy           `json:"strategy" yaml:"strategy"`
	TotalReward     float64            `json:"total_reward" yaml:"total_reward"`
	Iterations      int                `json:"iterations" yaml:"iterations"`
	ComputationTime time.Duration      `json:"computation_time" yaml:"computation_time"`
	Timestamp       time.Time          `json:"timestamp" yaml:"timestamp"`
}

func (r Report) clone() Report {
	r.ShapleyValues = cloneMap(r.ShapleyValues)
	r.Rewards = cloneMap(r.Rewards)
	return r
}

// AgentRank aggregates an agent's attribution results.
type AgentRank struct {
	AgentID     string  `json:"agent_id" yaml:"agent_id"`
	TotalReward float64 `json:"total_reward" yaml:"total_reward"`
	AvgShapley  float64 `json:"avg_shapley" yaml:"avg_shapley"`
	TaskCount   int     `json:"task_count" yaml:"task_count"`
}

// Engine attributes multi-agent outcomes. It is safe for concurrent use;
// each call samples from its own random source.
type Engine struct {
	cfg     EngineConfig
	shaper  *Shaper
	tracker *Tracker
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time

	seed  int64
	calls atomic.Int64

	mu      sync.RWMutex
	history *ring[Report]
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTracker enables AttributeFromDeltas.
func WithTracker(t *Tracker) EngineOption {
	return func(e *Engine) {
		e.tracker = t
	}
}

// WithEngineMetrics overrides the metrics instance.
func WithEngineMetrics(m *Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithEngineClock overrides the timestamp source.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an attribution engine. shaper is used for single-agent
// shaping only.
func NewEngine(cfg EngineConfig, shaper *Shaper, logger *zap.Logger, opts ...EngineOption) (*Engine, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if shaper == nil {
		return nil, fmt.Errorf("reward shaper cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		cfg:     cfg,
		shaper:  shaper,
		logger:  logger,
		now:     time.Now,
		seed:    cfg.Seed,
		history: newRing[Report](cfg.MaxHistorySize),
	}
	if e.seed == 0 {
		e.seed = time.Now().UnixNano()
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(logger)
	}
	return e, nil
}

// Tracker returns the engine's tracker, or nil.
func (e *Engine) Tracker() *Tracker {
	return e.tracker
}

// AttributeMultiAgentTask estimates each agent's Shapley value from its raw
// score in [0, 1] and splits totalReward in proportion. A single agent gets
// a Shapley value of 1 and the whole reward.
func (e *Engine) AttributeMultiAgentTask(ctx context.Context, taskID string, scores map[string]float64, totalReward float64, strategy Strategy) (*Report, error) {
	if taskID == "" {
		return nil, ErrEmptyTaskID
	}
	if len(scores) == 0 {
		return nil, ErrNoAgents
	}
	if !validFactor(totalReward) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReward, totalReward)
	}
	if strategy == "" {
		strategy = e.cfg.Strategy
	}
	if !strategy.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
	for id, s := range scores {
		if id == "" {
			return nil, ErrEmptyAgentID
		}
		if math.IsNaN(s) || s < 0 || s > 1 {
			return nil, fmt.Errorf("%w: agent %s has %v", ErrInvalidScore, id, s)
		}
	}

	start := time.Now()

	ids := sortedKeys(scores)
	values := make([]float64, len(ids))
	for i, id := range ids {
		values[i] = scores[id]
	}

	var phi []float64
	iterations := 0
	if len(ids) == 1 {
		phi = []float64{1}
	} else {
		iterations = e.cfg.ShapleyIterations
		rng := rand.New(rand.NewSource(e.seed + e.calls.Add(1)))
		phi = sampleShapley(values, iterations, rng)
	}

	shapley := make(map[string]float64, len(ids))
	for i, id := range ids {
		shapley[id] = phi[i]
	}

	report := Report{
		TaskID:        taskID,
		ShapleyValues: shapley,
		Rewards:       splitProportional(shapley, totalReward),
		Strategy:      strategy,
		TotalReward:   totalReward,
		Iterations:    iterations,
		Timestamp:     e.now(),
	}
	report.ComputationTime = time.Since(start)

	e.mu.Lock()
	e.history.push(report.clone())
	e.mu.Unlock()

	e.metrics.RecordAttribution(ctx, report.ComputationTime, len(ids))
	e.logger.Debug("attributed task",
		zap.String("task_id", taskID),
		zap.Int("agents", len(ids)),
		zap.Int("iterations", iterations),
		zap.Duration("duration", report.ComputationTime))

	return &report, nil
}

// sampleShapley estimates normalized Shapley values for the probabilistic
// OR coalition value v(S) = 1 - prod(1 - s_i). Appending agent i to a
// prefix with miss probability m adds m*s_i.
func sampleShapley(scores []float64, iterations int, rng *rand.Rand) []float64 {
	n := len(scores)
	phi := make([]float64, n)
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}

	for it := 0; it < iterations; it++ {
		rng.Shuffle(n, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
		miss := 1.0
		for _, i := range perm {
			phi[i] += miss * scores[i]
			miss *= 1 - scores[i]
		}
	}

	var total float64
	for _, v := range phi {
		total += v
	}
	for i := range phi {
		if total > 0 {
			phi[i] /= total
		} else {
			phi[i] = 1 / float64(n)
		}
	}
	return phi
}

// Delta is one agent's quality change on a task. EffortRatio and
// ImpactMultiplier are used as given, so a zero effort scores zero.
type Delta struct {
	AgentID          string
	QualityBefore    float64
	QualityAfter     float64
	EffortRatio      float64
	ImpactMultiplier float64
}

// AttributeFromDeltas records each delta in the tracker and attributes the
// task from the contribution scores recorded by this call. An agent with
// several deltas is scored by their mean. Nothing is recorded unless every
// delta and the reward are valid.
func (e *Engine) AttributeFromDeltas(ctx context.Context, taskID string, deltas []Delta, totalReward float64, strategy Strategy) (*Report, error) {
	if e.tracker == nil {
		return nil, ErrNoTracker
	}
	if taskID == "" {
		return nil, ErrEmptyTaskID
	}
	if len(deltas) == 0 {
		return nil, ErrNoAgents
	}
	if !validFactor(totalReward) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReward, totalReward)
	}
	if strategy != "" && !strategy.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
	for _, d := range deltas {
		if err := validateContribution(d.AgentID, taskID, d.QualityBefore, d.QualityAfter, d.EffortRatio, d.ImpactMultiplier); err != nil {
			return nil, fmt.Errorf("delta for %q: %w", d.AgentID, err)
		}
	}

	sums := make(map[string]float64, len(deltas))
	counts := make(map[string]int, len(deltas))
	for _, d := range deltas {
		score, err := e.tracker.RecordContribution(d.AgentID, taskID, d.QualityBefore, d.QualityAfter,
			WithEffortRatio(d.EffortRatio), WithImpactMultiplier(d.ImpactMultiplier))
		if err != nil {
			return nil, fmt.Errorf("recording contribution for %q: %w", d.AgentID, err)
		}
		sums[d.AgentID] += score
		counts[d.AgentID]++
	}

	scores := make(map[string]float64, len(sums))
	for id, s := range sums {
		scores[id] = s / float64(counts[id])
	}
	return e.AttributeMultiAgentTask(ctx, taskID, scores, totalReward, strategy)
}

// ShapeSingleAgent shapes a lone agent's score with the engine's strategy.
func (e *Engine) ShapeSingleAgent(agentID string, score float64) (float64, error) {
	if agentID == "" {
		return 0, ErrEmptyAgentID
	}
	return e.shaper.ComputeShapedReward(agentID, score, e.cfg.Strategy)
}

// GetAgentRanking aggregates the windowSize most recent reports per agent,
// ordered by total reward descending. windowSize <= 0 uses all retained
// reports.
func (e *Engine) GetAgentRanking(windowSize int) []AgentRank {
	ranks := make(map[string]*AgentRank)

	e.mu.RLock()
	seen := 0
	e.history.each(func(r Report) bool {
		if windowSize > 0 && seen >= windowSize {
			return false
		}
		seen++
		for id, reward := range r.Rewards {
			ar, ok := ranks[id]
			if !ok {
				ar = &AgentRank{AgentID: id}
				ranks[id] = ar
			}
			ar.TotalReward += reward
			ar.AvgShapley += r.ShapleyValues[id]
			ar.TaskCount++
		}
		return true
	})
	e.mu.RUnlock()

	out := make([]AgentRank, 0, len(ranks))
	for _, ar := range ranks {
		ar.AvgShapley /= float64(ar.TaskCount)
		out = append(out, *ar)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalReward != out[j].TotalReward {
			return out[i].TotalReward > out[j].TotalReward
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}

// ExportAttributionHistory returns up to limit reports, most recent first.
// limit <= 0 returns all retained reports.
func (e *Engine) ExportAttributionHistory(limit int) []Report {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n := e.history.len()
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Report, 0, n)
	e.history.each(func(r Report) bool {
		out = append(out, r.clone())
		return len(out) < n
	})
	return out
}

// HistoryLen returns the number of retained reports.
func (e *Engine) HistoryLen() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.history.len()
}

func cloneMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
