package attribution

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Strategy selects the shape of the score-to-reward curve.
type Strategy string

const (
	// StrategyLinear pays base * score.
	StrategyLinear Strategy = "linear"

	// StrategyExponential pays base * (e^(k*score) - 1) / (e^k - 1), which
	// rewards high contributors disproportionately.
	StrategyExponential Strategy = "exponential"

	// StrategySigmoid pays base / (1 + e^(-steepness*(score - midpoint))),
	// most sensitive near the midpoint and saturating at the extremes.
	StrategySigmoid Strategy = "sigmoid"
)

// ParseStrategy parses a strategy name, ignoring case.
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
	return st, nil
}

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyLinear, StrategyExponential, StrategySigmoid:
		return true
	}
	return false
}

// ShaperConfig configures a Shaper.
type ShaperConfig struct {
	BaseReward float64 `koanf:"base_reward" validate:"gte=0"`

	// Strategy is used when a call passes an empty strategy.
	Strategy Strategy `koanf:"strategy" validate:"oneof=linear exponential sigmoid"`

	SigmoidMidpoint  float64 `koanf:"sigmoid_midpoint" validate:"gte=0,lte=1"`
	SigmoidSteepness float64 `koanf:"sigmoid_steepness" validate:"gt=0"`
	ExponentialRate  float64 `koanf:"exponential_rate" validate:"gt=0"`
}

// DefaultShaperConfig returns the default shaper configuration.
func DefaultShaperConfig() ShaperConfig {
	return ShaperConfig{
		BaseReward:       100,
		Strategy:         StrategyLinear,
		SigmoidMidpoint:  0.5,
		SigmoidSteepness: 10,
		ExponentialRate:  3,
	}
}

// Shaper maps contribution scores onto rewards. It holds no mutable state.
type Shaper struct {
	cfg    ShaperConfig
	logger *zap.Logger
}

// NewShaper creates a reward shaper.
func NewShaper(cfg ShaperConfig, logger *zap.Logger) (*Shaper, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid shaper config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Shaper{cfg: cfg, logger: logger}, nil
}

// Config returns the shaper configuration.
func (s *Shaper) Config() ShaperConfig {
	return s.cfg
}

// ComputeShapedReward returns agentID's reward for score under strategy.
// The score is clamped to [0, 1]; an empty strategy uses the configured one.
func (s *Shaper) ComputeShapedReward(agentID string, score float64, strategy Strategy) (float64, error) {
	if math.IsNaN(score) {
		return 0, ErrInvalidScore
	}
	if strategy == "" {
		strategy = s.cfg.Strategy
	}
	reward, err := s.shape(clamp01(score), strategy)
	if err != nil {
		return 0, err
	}
	s.logger.Debug("shaped reward",
		zap.String("agent_id", agentID),
		zap.String("strategy", string(strategy)),
		zap.Float64("score", score),
		zap.Float64("reward", reward))
	return reward, nil
}

func (s *Shaper) shape(score float64, strategy Strategy) (float64, error) {
	base := s.cfg.BaseReward
	switch strategy {
	case StrategyLinear:
		return base * score, nil
	case StrategyExponential:
		k := s.cfg.ExponentialRate
		return base * math.Expm1(k*score) / math.Expm1(k), nil
	case StrategySigmoid:
		x := -s.cfg.SigmoidSteepness * (score - s.cfg.SigmoidMidpoint)
		return base / (1 + math.Exp(x)), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
}

// GetRewardDistribution shapes each agent's score and rescales the results
// so they sum to pool. When every shaped reward is zero the pool is split
// evenly.
func (s *Shaper) GetRewardDistribution(scores map[string]float64, pool float64, strategy Strategy) (map[string]float64, error) {
	if len(scores) == 0 {
		return nil, ErrNoAgents
	}
	if !validFactor(pool) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReward, pool)
	}

	shaped := make(map[string]float64, len(scores))
	for id, score := range scores {
		if id == "" {
			return nil, ErrEmptyAgentID
		}
		r, err := s.ComputeShapedReward(id, score, strategy)
		if err != nil {
			return nil, fmt.Errorf("shaping reward for %s: %w", id, err)
		}
		shaped[id] = r
	}
	return splitProportional(shaped, pool), nil
}

// splitProportional divides pool across weights in proportion. The last id
// in sorted order receives pool minus everything else, so the parts sum to
// pool. All-zero weights split evenly.
func splitProportional(weights map[string]float64, pool float64) map[string]float64 {
	ids := sortedKeys(weights)

	var total float64
	for _, id := range ids {
		total += weights[id]
	}

	out := make(map[string]float64, len(ids))
	var assigned float64
	for i, id := range ids {
		if i == len(ids)-1 {
			out[id] = pool - assigned
			break
		}
		var part float64
		if total > 0 {
			part = pool * weights[id] / total
		} else {
			part = pool / float64(len(ids))
		}
		out[id] = part
		assigned += part
	}
	return out
}

func sortedKeys(m map[string]float64) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
