package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/fyrsmithlabs/curio/internal/curiosity"
)

// simulatedExecutor stands in for a domain agent. Quality is drawn around
// mean with the given spread, shifted per description so repeated tasks
// score consistently relative to each other.
type simulatedExecutor struct {
	mean   float64
	spread float64

	mu  sync.Mutex
	rng *rand.Rand
}

var _ curiosity.Executor = (*simulatedExecutor)(nil)

func newSimulatedExecutor(mean, spread float64, seed int64) (*simulatedExecutor, error) {
	if math.IsNaN(mean) || mean < 0 || mean > 100 {
		return nil, fmt.Errorf("quality mean must be between 0 and 100, got %v", mean)
	}
	if math.IsNaN(spread) || spread < 0 {
		return nil, fmt.Errorf("quality spread cannot be negative, got %v", spread)
	}
	return &simulatedExecutor{mean: mean, spread: spread, rng: rand.New(rand.NewSource(seed))}, nil
}

func (e *simulatedExecutor) Execute(ctx context.Context, description string) (curiosity.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return curiosity.Outcome{}, err
	}

	e.mu.Lock()
	noise := e.rng.NormFloat64()
	e.mu.Unlock()

	// Up to +-spread/2 of stable per-description bias.
	bias := (float64(xxhash.Sum64String(description)%1000)/999 - 0.5) * e.spread
	q := e.mean + bias + noise*e.spread/2
	return curiosity.Outcome{
		QualityScore:  math.Max(0, math.Min(100, q)),
		ActionSummary: "simulated attempt: " + description,
	}, nil
}
