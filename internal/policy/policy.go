package policy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/curio/internal/experience"
)

var validate = validator.New()

// ErrInvalidCost indicates a negative or NaN cost.
var ErrInvalidCost = errors.New("cost must be a non-negative number")

// Action is the policy's choice for a task.
type Action string

const (
	// ActionExploit replays a stored experience.
	ActionExploit Action = "exploit"

	// ActionExplore attempts a fresh solution.
	ActionExplore Action = "explore"
)

// Reason explains a decision.
type Reason string

const (
	ReasonQualifyingMatch Reason = "qualifying_match"
	ReasonExplorationRoll Reason = "exploration_roll"
	ReasonNoMatch         Reason = "no_match"
	ReasonLowSimilarity   Reason = "below_similarity_threshold"
	ReasonLowQuality      Reason = "below_quality_threshold"
	ReasonLowSuccess      Reason = "below_success_threshold"
	ReasonFailedOutcome   Reason = "failed_outcome"
)

// ExperienceSource is the part of experience.Buffer the policy needs.
type ExperienceSource interface {
	GetSimilarExperiences(ctx context.Context, query string, topK int) ([]experience.Match, error)
	MarkExperienceReused(id string) error
}

// Config holds policy thresholds and cost assumptions.
type Config struct {
	// ExploitRatio is the probability of exploiting a qualifying match.
	ExploitRatio float64 `koanf:"exploit_ratio" validate:"gte=0,lte=1"`

	// SimilarityThreshold is the minimum cosine similarity of a match.
	SimilarityThreshold float64 `koanf:"similarity_threshold" validate:"gte=-1,lte=1"`

	// QualityThreshold is the minimum stored quality score (0-100).
	QualityThreshold float64 `koanf:"quality_threshold" validate:"gte=0,lte=100"`

	// SuccessThreshold is the minimum reuse success rate (0-1).
	SuccessThreshold float64 `koanf:"success_threshold" validate:"gte=0,lte=1"`

	// ExploitCost and ExploreCost are the assumed costs of each action,
	// used as the baseline for savings accounting.
	ExploitCost float64 `koanf:"exploit_cost" validate:"gte=0"`
	ExploreCost float64 `koanf:"explore_cost" validate:"gte=0"`

	// Seed seeds the exploration roll. Zero seeds from the clock.
	Seed int64 `koanf:"seed"`
}

// DefaultConfig returns the default policy configuration.
func DefaultConfig() Config {
	return Config{
		ExploitRatio:        0.8,
		SimilarityThreshold: 0.75,
		QualityThreshold:    90,
		SuccessThreshold:    0.5,
		ExploitCost:         0.1,
		ExploreCost:         1.0,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid policy config: %w", err)
	}
	return nil
}

// Decision is the outcome of Decide.
type Decision struct {
	ID     string `json:"id"`
	Action Action `json:"action"`
	Reason Reason `json:"reason"`
	Query  string `json:"query"`

	// Match is the best stored experience, nil when the buffer had none.
	Match *experience.Match `json:"match,omitempty"`

	// SuccessRate is the match's reuse success estimate at decision time.
	SuccessRate float64   `json:"success_rate"`
	DecidedAt   time.Time `json:"decided_at"`
}

// ExperienceID returns the matched experience id, or "".
func (d Decision) ExperienceID() string {
	if d.Match == nil {
		return ""
	}
	return d.Match.Trajectory.ID
}

// Stats summarizes policy activity.
type Stats struct {
	Decisions         int64 `json:"decisions" yaml:"decisions"`
	Exploits          int64 `json:"exploits" yaml:"exploits"`
	Explores          int64 `json:"explores" yaml:"explores"`
	QualifyingMatches int64 `json:"qualifying_matches" yaml:"qualifying_matches"`

	// HitRate is the share of decisions that exploited.
	HitRate float64 `json:"hit_rate" yaml:"hit_rate"`

	// QualifyingRate is the share of decisions that found a qualifying match.
	QualifyingRate float64 `json:"qualifying_rate" yaml:"qualifying_rate"`

	OutcomesRecorded int64   `json:"outcomes_recorded" yaml:"outcomes_recorded"`
	CostsRecorded    int64   `json:"costs_recorded" yaml:"costs_recorded"`
	ReuseSuccesses   int64   `json:"reuse_successes" yaml:"reuse_successes"`
	ReuseFailures    int64   `json:"reuse_failures" yaml:"reuse_failures"`
	TotalCost        float64 `json:"total_cost" yaml:"total_cost"`

	// BaselineCost is what the recorded tasks would have cost had every
	// one of them been explored.
	BaselineCost float64 `json:"baseline_cost" yaml:"baseline_cost"`
	CostSavings  float64 `json:"cost_savings" yaml:"cost_savings"`
}

type reuseRecord struct {
	successes int
	failures  int
}

// rate is the Beta posterior mean with a uniform prior, counting the stored
// trajectory's own outcome as the first observation.
func (r reuseRecord) rate(outcome experience.Outcome) float64 {
	s, n := r.successes, r.successes+r.failures+1
	if outcome == experience.OutcomeSuccess {
		s++
	}
	return float64(1+s) / float64(2+n)
}

// HybridPolicy chooses between exploit and explore for each task.
type HybridPolicy struct {
	cfg     Config
	source  ExperienceSource
	logger  *zap.Logger
	metrics *Metrics

	mu    sync.Mutex
	rng   *rand.Rand
	reuse map[string]reuseRecord
	stats Stats
}

// Option configures a HybridPolicy.
type Option func(*HybridPolicy)

// WithMetrics overrides the metrics instance.
func WithMetrics(m *Metrics) Option {
	return func(p *HybridPolicy) {
		p.metrics = m
	}
}

// New creates a policy over source.
func New(cfg Config, source ExperienceSource, logger *zap.Logger, opts ...Option) (*HybridPolicy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("experience source cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	p := &HybridPolicy{
		cfg:    cfg,
		source: source,
		logger: logger,
		rng:    rand.New(rand.NewSource(seed)),
		reuse:  make(map[string]reuseRecord),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(logger)
	}
	return p, nil
}

// Decide looks up the best stored experience for query and chooses an
// action. Exploit decisions mark the experience reused.
func (p *HybridPolicy) Decide(ctx context.Context, query string) (Decision, error) {
	matches, err := p.source.GetSimilarExperiences(ctx, query, 1)
	if err != nil {
		return Decision{}, fmt.Errorf("looking up experiences: %w", err)
	}

	d := Decision{
		ID:        uuid.New().String(),
		Query:     query,
		DecidedAt: time.Now(),
	}
	if len(matches) > 0 {
		m := matches[0]
		d.Match = &m
	}

	p.mu.Lock()
	qualifying := p.evaluate(&d)
	if qualifying {
		if p.rng.Float64() < p.cfg.ExploitRatio {
			d.Action, d.Reason = ActionExploit, ReasonQualifyingMatch
		} else {
			d.Action, d.Reason = ActionExplore, ReasonExplorationRoll
		}
	}
	p.mu.Unlock()

	if d.Action == ActionExploit {
		if err := p.source.MarkExperienceReused(d.ExperienceID()); err != nil {
			if !experience.IsNotFound(err) {
				return Decision{}, fmt.Errorf("marking experience reused: %w", err)
			}
			// Cleared between lookup and mark; nothing left to reuse.
			d.Action, d.Reason, d.Match = ActionExplore, ReasonNoMatch, nil
			qualifying = false
		}
	}

	p.mu.Lock()
	p.stats.Decisions++
	if qualifying {
		p.stats.QualifyingMatches++
	}
	if d.Action == ActionExploit {
		p.stats.Exploits++
	} else {
		p.stats.Explores++
	}
	p.mu.Unlock()

	p.metrics.RecordDecision(ctx, d.Action, d.Reason)
	p.logger.Debug("policy decision",
		zap.String("decision_id", d.ID),
		zap.String("action", string(d.Action)),
		zap.String("reason", string(d.Reason)),
		zap.String("experience_id", d.ExperienceID()))

	return d, nil
}

// evaluate applies the thresholds to d.Match. It sets an explore action and
// reason when the match does not qualify. Caller holds p.mu.
func (p *HybridPolicy) evaluate(d *Decision) bool {
	explore := func(r Reason) bool {
		d.Action, d.Reason = ActionExplore, r
		return false
	}
	m := d.Match
	if m == nil {
		return explore(ReasonNoMatch)
	}
	d.SuccessRate = p.reuse[m.Trajectory.ID].rate(m.Trajectory.Outcome)

	switch {
	case m.Trajectory.Outcome != experience.OutcomeSuccess:
		return explore(ReasonFailedOutcome)
	case m.Similarity < p.cfg.SimilarityThreshold:
		return explore(ReasonLowSimilarity)
	case m.Metadata.QualityScore < p.cfg.QualityThreshold:
		return explore(ReasonLowQuality)
	case d.SuccessRate < p.cfg.SuccessThreshold:
		return explore(ReasonLowSuccess)
	}
	return true
}

// RecordOutcome reports whether acting on d succeeded. Only exploit
// decisions carry reuse evidence; other outcomes are counted and dropped.
func (p *HybridPolicy) RecordOutcome(d Decision, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.OutcomesRecorded++
	if d.Action != ActionExploit || d.Match == nil {
		return
	}
	id := d.ExperienceID()
	rec := p.reuse[id]
	if success {
		rec.successes++
		p.stats.ReuseSuccesses++
	} else {
		rec.failures++
		p.stats.ReuseFailures++
	}
	p.reuse[id] = rec
}

// RecordCost adds the actual cost of acting on d. The baseline grows by
// ExploreCost, the cost had the task been explored.
func (p *HybridPolicy) RecordCost(d Decision, actualCost float64) error {
	if math.IsNaN(actualCost) || math.IsInf(actualCost, 0) || actualCost < 0 {
		return ErrInvalidCost
	}

	p.mu.Lock()
	p.stats.CostsRecorded++
	p.stats.TotalCost += actualCost
	p.stats.BaselineCost += p.cfg.ExploreCost
	p.mu.Unlock()

	p.metrics.RecordCost(context.Background(), d.Action, actualCost)
	return nil
}

// EstimatedCost returns the configured cost of acting on d.
func (p *HybridPolicy) EstimatedCost(d Decision) float64 {
	if d.Action == ActionExploit {
		return p.cfg.ExploitCost
	}
	return p.cfg.ExploreCost
}

// SuccessRate returns the reuse success estimate for a stored experience
// whose original outcome was outcome.
func (p *HybridPolicy) SuccessRate(experienceID string, outcome experience.Outcome) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reuse[experienceID].rate(outcome)
}

// Stats returns a snapshot of policy counters.
func (p *HybridPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.stats
	if s.Decisions > 0 {
		s.HitRate = float64(s.Exploits) / float64(s.Decisions)
		s.QualifyingRate = float64(s.QualifyingMatches) / float64(s.Decisions)
	}
	s.CostSavings = s.BaselineCost - s.TotalCost
	return s
}

// Reset clears counters and reuse history.
func (p *HybridPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = Stats{}
	p.reuse = make(map[string]reuseRecord)
}
