package attribution

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validate = validator.New()

// Contribution is one recorded quality delta for an agent on a task.
type Contribution struct {
	AgentID           string    `json:"agent_id" yaml:"agent_id"`
	TaskID            string    `json:"task_id" yaml:"task_id"`
	QualityBefore     float64   `json:"quality_before" yaml:"quality_before"`
	QualityAfter      float64   `json:"quality_after" yaml:"quality_after"`
	EffortRatio       float64   `json:"effort_ratio" yaml:"effort_ratio"`
	ImpactMultiplier  float64   `json:"impact_multiplier" yaml:"impact_multiplier"`
	RawDelta          float64   `json:"raw_delta" yaml:"raw_delta"`
	ContributionScore float64   `json:"contribution_score" yaml:"contribution_score"`
	Timestamp         time.Time `json:"timestamp" yaml:"timestamp"`
}

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	// MaxHistorySize bounds the ledger; the oldest records are dropped first.
	MaxHistorySize int `koanf:"max_history_size" validate:"gt=0"`
}

// DefaultTrackerConfig returns the default tracker configuration.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{MaxHistorySize: 10000}
}

// Tracker is a bounded ledger of agent contributions, safe for concurrent
// use.
type Tracker struct {
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	history *ring[Contribution]
	trimmed int64
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithTrackerClock overrides the timestamp source.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a contribution tracker.
func NewTracker(cfg TrackerConfig, logger *zap.Logger, opts ...TrackerOption) (*Tracker, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid tracker config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		logger:  logger,
		now:     time.Now,
		history: newRing[Contribution](cfg.MaxHistorySize),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

type contributionParams struct {
	effort float64
	impact float64
}

// ContributionOption adjusts a single RecordContribution call.
type ContributionOption func(*contributionParams)

// WithEffortRatio scales the contribution by the share of effort spent.
func WithEffortRatio(r float64) ContributionOption {
	return func(p *contributionParams) {
		p.effort = r
	}
}

// WithImpactMultiplier scales the contribution by its downstream impact.
func WithImpactMultiplier(m float64) ContributionOption {
	return func(p *contributionParams) {
		p.impact = m
	}
}

// RecordContribution appends a contribution for agentID on taskID and
// returns its score in [0, 1]. The raw delta (after-before)/100 is clamped
// to [0, 1], scaled by effort and impact, then clamped again.
func (t *Tracker) RecordContribution(agentID, taskID string, before, after float64, opts ...ContributionOption) (float64, error) {
	p := contributionParams{effort: 1.0, impact: 1.0}
	for _, opt := range opts {
		opt(&p)
	}
	if err := validateContribution(agentID, taskID, before, after, p.effort, p.impact); err != nil {
		return 0, err
	}

	raw := (after - before) / 100
	score := clamp01(clamp01(raw) * p.effort * p.impact)

	c := Contribution{
		AgentID:           agentID,
		TaskID:            taskID,
		QualityBefore:     before,
		QualityAfter:      after,
		EffortRatio:       p.effort,
		ImpactMultiplier:  p.impact,
		RawDelta:          raw,
		ContributionScore: score,
		Timestamp:         t.now(),
	}

	t.mu.Lock()
	if t.history.push(c) {
		t.trimmed++
	}
	t.mu.Unlock()

	t.logger.Debug("recorded contribution",
		zap.String("agent_id", agentID),
		zap.String("task_id", taskID),
		zap.Float64("raw_delta", raw),
		zap.Float64("score", score))

	return score, nil
}

// GetContributionScore averages the windowSize most recent contribution
// scores of agentID. An empty taskID matches every task. Returns 0 when
// nothing matches.
func (t *Tracker) GetContributionScore(agentID, taskID string, windowSize int) (float64, error) {
	if agentID == "" {
		return 0, ErrEmptyAgentID
	}
	if windowSize <= 0 {
		return 0, ErrInvalidWindow
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	var sum float64
	var n int
	t.history.each(func(c Contribution) bool {
		if c.AgentID == agentID && (taskID == "" || c.TaskID == taskID) {
			sum += c.ContributionScore
			n++
		}
		return n < windowSize
	})
	if n == 0 {
		return 0, nil
	}
	return sum / float64(n), nil
}

// TaskScores returns, per agent that contributed to taskID, the average of
// its windowSize most recent scores on that task.
func (t *Tracker) TaskScores(taskID string, windowSize int) (map[string]float64, error) {
	if taskID == "" {
		return nil, ErrEmptyTaskID
	}
	if windowSize <= 0 {
		return nil, ErrInvalidWindow
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	sums := make(map[string]float64)
	counts := make(map[string]int)
	t.history.each(func(c Contribution) bool {
		if c.TaskID == taskID && counts[c.AgentID] < windowSize {
			sums[c.AgentID] += c.ContributionScore
			counts[c.AgentID]++
		}
		return true
	})

	out := make(map[string]float64, len(sums))
	for id, s := range sums {
		out[id] = s / float64(counts[id])
	}
	return out, nil
}

// History returns up to limit records, most recent first. limit <= 0
// returns everything retained.
func (t *Tracker) History(limit int) []Contribution {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.history.len()
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Contribution, 0, n)
	t.history.each(func(c Contribution) bool {
		out = append(out, c)
		return len(out) < n
	})
	return out
}

// Agents returns the distinct agent ids in the retained history, sorted.
func (t *Tracker) Agents() []string {
	t.mu.RLock()
	seen := make(map[string]struct{})
	t.history.each(func(c Contribution) bool {
		seen[c.AgentID] = struct{}{}
		return true
	})
	t.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of retained records.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.history.len()
}

// Trimmed returns how many records have been dropped to honor the bound.
func (t *Tracker) Trimmed() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.trimmed
}

// Clear drops all retained records.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history.reset()
	t.trimmed = 0
}

func validateContribution(agentID, taskID string, before, after, effort, impact float64) error {
	switch {
	case agentID == "":
		return ErrEmptyAgentID
	case taskID == "":
		return ErrEmptyTaskID
	case !validQuality(before) || !validQuality(after):
		return fmt.Errorf("%w: before=%v after=%v", ErrInvalidQuality, before, after)
	case !validFactor(effort) || !validFactor(impact):
		return fmt.Errorf("%w: effort=%v impact=%v", ErrInvalidFactor, effort, impact)
	}
	return nil
}

func validQuality(q float64) bool {
	return !math.IsNaN(q) && q >= 0 && q <= 100
}

func validFactor(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f >= 0
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
