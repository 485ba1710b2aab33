package attribution

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestEngine(t testing.TB, iterations, history int, opts ...EngineOption) *Engine {
	t.Helper()
	shaper, err := NewShaper(DefaultShaperConfig(), nil)
	require.NoError(t, err)
	cfg := DefaultEngineConfig()
	cfg.ShapleyIterations = iterations
	cfg.MaxHistorySize = history
	cfg.Seed = 7
	e, err := NewEngine(cfg, shaper, nil, opts...)
	require.NoError(t, err)
	return e
}

func sum(m map[string]float64) float64 {
	var s float64
	for _, v := range m {
		s += v
	}
	return s
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	t.Parallel()

	shaper, err := NewShaper(DefaultShaperConfig(), nil)
	require.NoError(t, err)

	cfg := DefaultEngineConfig()
	cfg.ShapleyIterations = 0
	_, err = NewEngine(cfg, shaper, nil)
	assert.Error(t, err)

	cfg = DefaultEngineConfig()
	cfg.MaxHistorySize = 0
	_, err = NewEngine(cfg, shaper, nil)
	assert.Error(t, err)

	_, err = NewEngine(DefaultEngineConfig(), nil, nil)
	assert.Error(t, err)
}

func TestAttribute_ThreeAgentScenario(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, 200, 10)
	report, err := e.AttributeMultiAgentTask(context.Background(), "task-1",
		map[string]float64{"A": 0.3, "B": 0.5, "C": 0.2}, 100, StrategyLinear)
	require.NoError(t, err)

	for id, r := range report.Rewards {
		assert.Greater(t, r, 0.0, "reward for %s", id)
	}
	assert.InDelta(t, 100.0, sum(report.Rewards), 1e-9)
	assert.InDelta(t, 1.0, sum(report.ShapleyValues), 0.05)
	assert.Greater(t, report.Rewards["B"], report.Rewards["A"])
	assert.Greater(t, report.Rewards["B"], report.Rewards["C"])

	// Exact normalized values are 0.385/0.72, 0.205/0.72 and 0.13/0.72.
	assert.InDelta(t, 0.385/0.72, report.ShapleyValues["B"], 0.05)
	assert.InDelta(t, 0.205/0.72, report.ShapleyValues["A"], 0.05)
	assert.InDelta(t, 0.13/0.72, report.ShapleyValues["C"], 0.05)

	assert.Equal(t, "task-1", report.TaskID)
	assert.Equal(t, StrategyLinear, report.Strategy)
	assert.Equal(t, 200, report.Iterations)
}

func TestAttribute_SingleAgent(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, 100, 10)
	for _, score := range []float64{0, 0.2, 1} {
		report, err := e.AttributeMultiAgentTask(context.Background(), "solo", map[string]float64{"A": score}, 42.5, "")
		require.NoError(t, err)
		assert.Equal(t, 1.0, report.ShapleyValues["A"])
		assert.Equal(t, 42.5, report.Rewards["A"])
		assert.Equal(t, 0, report.Iterations)
	}
}

func TestAttribute_SumsAcrossSizes(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, 50, 100)
	for n := 2; n <= 20; n++ {
		scores := make(map[string]float64, n)
		for i := 0; i < n; i++ {
			scores[fmt.Sprintf("agent-%02d", i)] = float64(i%10+1) / 10
		}
		total := 97.31
		report, err := e.AttributeMultiAgentTask(context.Background(), fmt.Sprintf("t%d", n), scores, total, StrategySigmoid)
		require.NoError(t, err)
		assert.InDelta(t, total, sum(report.Rewards), 1e-9, "n=%d", n)
		assert.InDelta(t, 1.0, sum(report.ShapleyValues), 0.05, "n=%d", n)
	}
}

func TestAttribute_AllZeroScoresSplitEvenly(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, 50, 10)
	report, err := e.AttributeMultiAgentTask(context.Background(), "t", map[string]float64{"a": 0, "b": 0}, 10, "")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, report.ShapleyValues["a"], 1e-12)
	assert.InDelta(t, 5, report.Rewards["a"], 1e-12)
	assert.InDelta(t, 5, report.Rewards["b"], 1e-12)
}

func TestAttribute_InvalidInput(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, 50, 10)
	ctx := context.Background()

	tests := []struct {
		name    string
		task    string
		scores  map[string]float64
		reward  float64
		strat   Strategy
		wantErr error
	}{
		{"empty task", "", map[string]float64{"a": 1}, 1, "", ErrEmptyTaskID},
		{"no agents", "t", nil, 1, "", ErrNoAgents},
		{"negative reward", "t", map[string]float64{"a": 1}, -1, "", ErrInvalidReward},
		{"infinite reward", "t", map[string]float64{"a": 1}, math.Inf(1), "", ErrInvalidReward},
		{"score above one", "t", map[string]float64{"a": 1.2}, 1, "", ErrInvalidScore},
		{"nan score", "t", map[string]float64{"a": math.NaN()}, 1, "", ErrInvalidScore},
		{"empty agent", "t", map[string]float64{"": 0.5}, 1, "", ErrEmptyAgentID},
		{"unknown strategy", "t", map[string]float64{"a": 0.5}, 1, "step", ErrUnknownStrategy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.AttributeMultiAgentTask(ctx, tt.task, tt.scores, tt.reward, tt.strat)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, 0, e.HistoryLen())
}

func TestAttribute_LatencyTwentyAgents(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, 1000, 10)
	scores := make(map[string]float64, 20)
	for i := 0; i < 20; i++ {
		scores[fmt.Sprintf("agent-%02d", i)] = 0.05 * float64(i+1)
	}

	start := time.Now()
	_, err := e.AttributeMultiAgentTask(context.Background(), "big", scores, 1000, "")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestAttribute_ConcurrentCalls(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, 100, 1000)
	const calls = 64

	var wg sync.WaitGroup
	reports := make([]*Report, calls)
	errs := make([]error, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			scores := map[string]float64{
				fmt.Sprintf("a%d", i): 0.4,
				fmt.Sprintf("b%d", i): 0.6,
				fmt.Sprintf("c%d", i): 0.1,
			}
			reports[i], errs[i] = e.AttributeMultiAgentTask(context.Background(), fmt.Sprintf("task-%d", i), scores, float64(i+1), "")
		}(i)
	}
	wg.Wait()

	for i := 0; i < calls; i++ {
		require.NoError(t, errs[i])
		r := reports[i]
		assert.Len(t, r.Rewards, 3)
		for id := range r.Rewards {
			assert.Contains(t, []string{fmt.Sprintf("a%d", i), fmt.Sprintf("b%d", i), fmt.Sprintf("c%d", i)}, id)
		}
		assert.InDelta(t, float64(i+1), sum(r.Rewards), 1e-9)
	}
	assert.Equal(t, calls, e.HistoryLen())
}

func TestHistoryAndRanking(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, 100, 3)
	ctx := context.Background()

	_, err := e.AttributeMultiAgentTask(ctx, "t1", map[string]float64{"x": 1}, 10, "")
	require.NoError(t, err)
	_, err = e.AttributeMultiAgentTask(ctx, "t2", map[string]float64{"y": 1}, 30, "")
	require.NoError(t, err)
	_, err = e.AttributeMultiAgentTask(ctx, "t3", map[string]float64{"x": 1}, 25, "")
	require.NoError(t, err)
	_, err = e.AttributeMultiAgentTask(ctx, "t4", map[string]float64{"z": 1}, 5, "")
	require.NoError(t, err)

	// Ring of three drops t1.
	hist := e.ExportAttributionHistory(0)
	require.Len(t, hist, 3)
	assert.Equal(t, []string{"t4", "t3", "t2"}, []string{hist[0].TaskID, hist[1].TaskID, hist[2].TaskID})

	limited := e.ExportAttributionHistory(1)
	require.Len(t, limited, 1)
	assert.Equal(t, "t4", limited[0].TaskID)

	// Exported reports are copies.
	limited[0].Rewards["z"] = 999
	assert.Equal(t, 5.0, e.ExportAttributionHistory(1)[0].Rewards["z"])

	ranking := e.GetAgentRanking(0)
	require.Len(t, ranking, 3)
	assert.Equal(t, "y", ranking[0].AgentID)
	assert.Equal(t, 30.0, ranking[0].TotalReward)
	assert.Equal(t, "x", ranking[1].AgentID)
	assert.Equal(t, 25.0, ranking[1].TotalReward)
	assert.Equal(t, 1, ranking[1].TaskCount)
	assert.Equal(t, 1.0, ranking[1].AvgShapley)

	window := e.GetAgentRanking(2)
	require.Len(t, window, 2)
	assert.Equal(t, "x", window[0].AgentID)
	assert.Equal(t, "z", window[1].AgentID)
}

func TestShapeSingleAgent(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, 10, 10)
	got, err := e.ShapeSingleAgent("a", 0.25)
	require.NoError(t, err)
	assert.InDelta(t, 25, got, 1e-12)

	_, err = e.ShapeSingleAgent("", 0.25)
	assert.ErrorIs(t, err, ErrEmptyAgentID)
}

func TestAttributeFromDeltas(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, 200, 10)
	_, err := e.AttributeFromDeltas(context.Background(), "t", []Delta{{AgentID: "a", QualityAfter: 10}}, 10, "")
	assert.ErrorIs(t, err, ErrNoTracker)

	tr := newTestTracker(t, 100)
	e = newTestEngine(t, 200, 10, WithTracker(tr))
	report, err := e.AttributeFromDeltas(context.Background(), "doc-42", []Delta{
		fullEffort("writer", 20, 70),
		fullEffort("editor", 70, 85),
		{AgentID: "seo", QualityBefore: 85, QualityAfter: 90, EffortRatio: 0.5, ImpactMultiplier: 1},
	}, 60, "")
	require.NoError(t, err)

	assert.Equal(t, 3, tr.Len())
	assert.InDelta(t, 60, sum(report.Rewards), 1e-9)
	assert.Greater(t, report.Rewards["writer"], report.Rewards["editor"])
	assert.Greater(t, report.Rewards["editor"], report.Rewards["seo"])
	assert.Same(t, tr, e.Tracker())

	_, err = e.AttributeFromDeltas(context.Background(), "doc-43", []Delta{fullEffort("", 0, 1)}, 1, "")
	assert.ErrorIs(t, err, ErrEmptyAgentID)
}

func fullEffort(agent string, before, after float64) Delta {
	return Delta{AgentID: agent, QualityBefore: before, QualityAfter: after, EffortRatio: 1, ImpactMultiplier: 1}
}

func TestAttributeFromDeltas_InvalidInputRecordsNothing(t *testing.T) {
	t.Parallel()

	valid := []Delta{fullEffort("a", 0, 50), fullEffort("b", 10, 30)}
	tests := []struct {
		name     string
		deltas   []Delta
		reward   float64
		strategy Strategy
		wantErr  error
	}{
		{name: "late bad quality", deltas: append(valid[:1:1], fullEffort("b", 0, 500)), reward: 10, wantErr: ErrInvalidQuality},
		{name: "late empty agent", deltas: append(valid[:1:1], fullEffort("", 0, 10)), reward: 10, wantErr: ErrEmptyAgentID},
		{name: "negative effort", deltas: append(valid[:1:1], Delta{AgentID: "b", QualityAfter: 10, EffortRatio: -1, ImpactMultiplier: 1}), reward: 10, wantErr: ErrInvalidFactor},
		{name: "infinite impact", deltas: append(valid[:1:1], Delta{AgentID: "b", QualityAfter: 10, EffortRatio: 1, ImpactMultiplier: math.Inf(1)}), reward: 10, wantErr: ErrInvalidFactor},
		{name: "negative reward", deltas: valid, reward: -5, wantErr: ErrInvalidReward},
		{name: "NaN reward", deltas: valid, reward: math.NaN(), wantErr: ErrInvalidReward},
		{name: "unknown strategy", deltas: valid, reward: 10, strategy: "quadratic", wantErr: ErrUnknownStrategy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr := newTestTracker(t, 100)
			e := newTestEngine(t, 50, 10, WithTracker(tr))

			_, err := e.AttributeFromDeltas(context.Background(), "task", tt.deltas, tt.reward, tt.strategy)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, tr.Len())
			assert.Zero(t, e.HistoryLen())
		})
	}
}

func TestAttributeFromDeltas_RepeatTaskUsesCurrentDeltas(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, 100)
	e := newTestEngine(t, 500, 10, WithTracker(tr))
	ctx := context.Background()

	first, err := e.AttributeFromDeltas(ctx, "task", []Delta{fullEffort("a", 0, 90), fullEffort("b", 0, 10)}, 100, "")
	require.NoError(t, err)
	assert.Greater(t, first.Rewards["a"], first.Rewards["b"])

	second, err := e.AttributeFromDeltas(ctx, "task", []Delta{fullEffort("a", 0, 10), fullEffort("b", 0, 90)}, 100, "")
	require.NoError(t, err)
	assert.Greater(t, second.Rewards["b"], second.Rewards["a"])
	assert.InDelta(t, first.Rewards["a"], second.Rewards["b"], 2)
	assert.Equal(t, 4, tr.Len())
}

func TestAttributeFromDeltas_RepeatedAgentAveraged(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, 100)
	e := newTestEngine(t, 2000, 10, WithTracker(tr))

	report, err := e.AttributeFromDeltas(context.Background(), "task", []Delta{
		fullEffort("a", 0, 20),
		fullEffort("a", 20, 80),
		fullEffort("b", 0, 40),
	}, 100, "")
	require.NoError(t, err)
	assert.Len(t, report.ShapleyValues, 2)
	assert.Equal(t, 3, tr.Len())
	// a averages (0.2 + 0.6) / 2 = 0.4, the same as b.
	assert.InDelta(t, 0.5, report.ShapleyValues["a"], 0.05)
	assert.InDelta(t, 0.5, report.ShapleyValues["b"], 0.05)
}

func TestAttributeFromDeltas_ZeroEffortEarnsNothing(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, 100)
	e := newTestEngine(t, 100, 10, WithTracker(tr))

	report, err := e.AttributeFromDeltas(context.Background(), "task", []Delta{
		fullEffort("worker", 0, 50),
		{AgentID: "idle", QualityBefore: 0, QualityAfter: 50, EffortRatio: 0, ImpactMultiplier: 1},
	}, 100, "")
	require.NoError(t, err)
	assert.Zero(t, report.Rewards["idle"])
	assert.InDelta(t, 100, report.Rewards["worker"], 1e-9)
}

func TestEngine_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	e := newTestEngine(t, 20, 10, WithEngineMetrics(NewMetricsWithMeter(mp.Meter("test"), nil)))

	_, err := e.AttributeMultiAgentTask(context.Background(), "t", map[string]float64{"a": 0.5, "b": 0.5}, 1, "")
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = true
		}
	}
	assert.True(t, found["curio.attribution.computation_duration_seconds"])
	assert.True(t, found["curio.attribution.agents"])
	assert.True(t, found["curio.attribution.reports_total"])
}

func BenchmarkAttribute20Agents(b *testing.B) {
	e := newTestEngine(b, 1000, 100)
	scores := make(map[string]float64, 20)
	for i := 0; i < 20; i++ {
		scores[fmt.Sprintf("agent-%02d", i)] = 0.05 * float64(i+1)
	}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.AttributeMultiAgentTask(ctx, "bench", scores, 100, ""); err != nil {
			b.Fatal(err)
		}
	}
}
