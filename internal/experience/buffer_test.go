package experience

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/curio/internal/embeddings"
)

func newTestBuffer(t testing.TB, maxSize int, minQuality float64, opts ...Option) *Buffer {
	t.Helper()
	provider, err := embeddings.NewHashProvider(0)
	require.NoError(t, err)
	b, err := NewBuffer(Config{MaxSize: maxSize, MinQuality: minQuality}, provider, nil, opts...)
	require.NoError(t, err)
	return b
}

func newTraj(t testing.TB, summary string, quality float64) *Trajectory {
	t.Helper()
	traj, err := NewTrajectory("agent-1", "task-1", summary, 0, OutcomeSuccess, quality)
	require.NoError(t, err)
	return traj
}

// fakeClock returns strictly increasing timestamps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func TestNewBuffer_InvalidConfig(t *testing.T) {
	t.Parallel()

	provider, err := embeddings.NewHashProvider(0)
	require.NoError(t, err)

	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero max size", Config{MaxSize: 0, MinQuality: 50}},
		{"negative min quality", Config{MaxSize: 10, MinQuality: -1}},
		{"min quality above 100", Config{MaxSize: 10, MinQuality: 101}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBuffer(tt.cfg, provider, nil)
			assert.Error(t, err)
		})
	}

	_, err = NewBuffer(DefaultConfig(), nil, nil)
	assert.Error(t, err)
}

func TestStore_QualityThresholdScenario(t *testing.T) {
	t.Parallel()

	b := newTestBuffer(t, 100, 90)
	ctx := context.Background()

	var accepted []float64
	for _, q := range []float64{95, 85, 92} {
		ok, err := b.Store(ctx, newTraj(t, fmt.Sprintf("solution scored %v", q), q), q, "")
		require.NoError(t, err)
		if ok {
			accepted = append(accepted, q)
		}
	}

	assert.Equal(t, []float64{95, 92}, accepted)
	stats := b.GetBufferStats()
	assert.Equal(t, int64(2), stats.TotalStored)
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, int64(1), stats.RejectedLowQuality)
	assert.InDelta(t, 92, stats.MinQualityStored, 1e-9)
	assert.InDelta(t, 95, stats.MaxQualityStored, 1e-9)
	assert.InDelta(t, 93.5, stats.AvgQuality, 1e-9)
}

func TestStore_SubThresholdDoesNotMutate(t *testing.T) {
	t.Parallel()

	b := newTestBuffer(t, 10, 80)
	ctx := context.Background()

	_, err := b.Store(ctx, newTraj(t, "good", 90), 90, "")
	require.NoError(t, err)
	before := b.GetBufferStats()

	ok, err := b.Store(ctx, newTraj(t, "bad", 79.99), 79.99, "")
	require.NoError(t, err)
	assert.False(t, ok)

	after := b.GetBufferStats()
	assert.Equal(t, before.Size, after.Size)
	assert.Equal(t, before.TotalStored, after.TotalStored)
}

func TestStore_RejectsWhenFullWithoutEviction(t *testing.T) {
	t.Parallel()

	b := newTestBuffer(t, 3, 0)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		traj := newTraj(t, fmt.Sprintf("solution %d", i), 50)
		ok, err := b.Store(ctx, traj, 50, "")
		require.NoError(t, err)
		require.True(t, ok)
		ids = append(ids, traj.ID)
	}

	ok, err := b.Store(ctx, newTraj(t, "overflow", 100), 100, "")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 3, b.Size())
	for _, id := range ids {
		_, err := b.Get(id)
		assert.NoError(t, err, "existing entry %s must survive", id)
	}
	stats := b.GetBufferStats()
	assert.Equal(t, int64(1), stats.RejectedCapacity)
	assert.InDelta(t, 1.0, stats.CapacityUtilization, 1e-9)
}

func TestStore_InvalidInput(t *testing.T) {
	t.Parallel()

	b := newTestBuffer(t, 10, 0)
	ctx := context.Background()

	_, err := b.Store(ctx, nil, 50, "x")
	assert.ErrorIs(t, err, ErrInvalidTrajectory)

	_, err = b.Store(ctx, newTraj(t, "ok", 50), 150, "x")
	assert.ErrorIs(t, err, ErrInvalidQuality)

	noSummary := newTraj(t, "", 50)
	_, err = b.Store(ctx, noSummary, 50, "")
	assert.ErrorIs(t, err, ErrEmptyDescription)

	_, err = b.Store(ctx, newTraj(t, "ok", 50), 50, "!!!")
	assert.ErrorIs(t, err, embeddings.ErrEmptyInput)

	traj := newTraj(t, "dup", 50)
	ok, err := b.Store(ctx, traj, 50, "")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = b.Store(ctx, traj, 50, "")
	assert.ErrorIs(t, err, ErrDuplicateID)

	assert.Equal(t, 1, b.Size())
}

func TestGetSimilarExperiences_EmptyBuffer(t *testing.T) {
	t.Parallel()

	b := newTestBuffer(t, 10, 0)
	matches, err := b.GetSimilarExperiences(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.NotNil(t, matches)
	assert.Empty(t, matches)
}

func TestGetSimilarExperiences_ValidatesBeforeEmptyCheck(t *testing.T) {
	t.Parallel()

	b := newTestBuffer(t, 10, 0)
	require.Zero(t, b.Size())

	_, err := b.GetSimilarExperiences(context.Background(), "", 5)
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = b.GetSimilarExperiences(context.Background(), "anything", 0)
	assert.ErrorIs(t, err, ErrInvalidTopK)
}

func TestGetSimilarExperiences_InvalidTopK(t *testing.T) {
	t.Parallel()

	b := newTestBuffer(t, 10, 0)
	for _, k := range []int{0, -1} {
		_, err := b.GetSimilarExperiences(context.Background(), "q", k)
		assert.ErrorIs(t, err, ErrInvalidTopK)
	}
}

func TestGetSimilarExperiences_RankingAndCount(t *testing.T) {
	t.Parallel()

	b := newTestBuffer(t, 50, 0)
	ctx := context.Background()

	descriptions := []string{
		"write a blog post about kubernetes autoscaling",
		"audit seo keywords for the pricing page",
		"design a microservice architecture for payments",
		"write a blog post about kubernetes networking",
		"refactor the billing module tests",
	}
	for _, d := range descriptions {
		ok, err := b.Store(ctx, newTraj(t, d, 90), 90, d)
		require.NoError(t, err)
		require.True(t, ok)
	}

	tests := []struct {
		topK int
		want int
	}{
		{1, 1},
		{3, 3},
		{5, 5},
		{20, 5},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("top_%d", tt.topK), func(t *testing.T) {
			matches, err := b.GetSimilarExperiences(ctx, "blog post on kubernetes autoscaling", tt.topK)
			require.NoError(t, err)
			require.Len(t, matches, tt.want)

			assert.True(t, isNonIncreasing(matches), "similarities must be non-increasing")
			assert.Equal(t, descriptions[0], matches[0].Metadata.SourceDescription)
		})
	}
}

func isNonIncreasing(ms []Match) bool {
	for i := 1; i < len(ms); i++ {
		if ms[i].Similarity > ms[i-1].Similarity {
			return false
		}
	}
	return true
}

func TestGetSimilarExperiences_TiesPreferRecent(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := newTestBuffer(t, 10, 0, WithClock(clock.Now))
	ctx := context.Background()

	older := newTraj(t, "same text", 90)
	newer := newTraj(t, "same text", 90)
	for _, traj := range []*Trajectory{older, newer} {
		ok, err := b.Store(ctx, traj, 90, "identical description")
		require.NoError(t, err)
		require.True(t, ok)
	}

	matches, err := b.GetSimilarExperiences(ctx, "identical description", 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, matches[0].Similarity, matches[1].Similarity)
	assert.Equal(t, newer.ID, matches[0].Trajectory.ID)
	assert.Equal(t, older.ID, matches[1].Trajectory.ID)
}

func TestMarkExperienceReused(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := newTestBuffer(t, 10, 0, WithClock(clock.Now))
	ctx := context.Background()

	traj := newTraj(t, "reusable", 90)
	_, err := b.Store(ctx, traj, 90, "")
	require.NoError(t, err)

	var last time.Time
	for i := 1; i <= 3; i++ {
		require.NoError(t, b.MarkExperienceReused(traj.ID))
		m, err := b.Get(traj.ID)
		require.NoError(t, err)
		assert.Equal(t, i, m.Metadata.ReuseCount)
		require.NotNil(t, m.Metadata.LastReusedAt)
		assert.True(t, m.Metadata.LastReusedAt.After(last))
		last = *m.Metadata.LastReusedAt
	}

	err = b.MarkExperienceReused("missing")
	assert.ErrorIs(t, err, ErrExperienceNotFound)
	assert.True(t, IsNotFound(err))
	assert.ErrorIs(t, b.MarkExperienceReused(""), ErrEmptyID)

	assert.Equal(t, int64(3), b.GetBufferStats().TotalReuses)
}

func TestGetHighValueExperiences(t *testing.T) {
	t.Parallel()

	b := newTestBuffer(t, 10, 0)
	ctx := context.Background()

	high := newTraj(t, "high quality never reused", 95)
	reused := newTraj(t, "decent and reused", 60)
	low := newTraj(t, "low quality", 40)
	for _, traj := range []*Trajectory{high, reused, low} {
		_, err := b.Store(ctx, traj, traj.QualityScore, "")
		require.NoError(t, err)
	}
	// 60 * (1+1) = 120 > 95
	require.NoError(t, b.MarkExperienceReused(reused.ID))

	top, err := b.GetHighValueExperiences(2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, reused.ID, top[0].Trajectory.ID)
	assert.Equal(t, high.ID, top[1].Trajectory.ID)

	all, err := b.GetHighValueExperiences(10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = b.GetHighValueExperiences(0)
	assert.ErrorIs(t, err, ErrInvalidTopK)
}

func TestClear(t *testing.T) {
	t.Parallel()

	b := newTestBuffer(t, 10, 0)
	ctx := context.Background()
	traj := newTraj(t, "to be cleared", 70)
	_, err := b.Store(ctx, traj, 70, "")
	require.NoError(t, err)

	b.Clear()

	stats := b.GetBufferStats()
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, int64(0), stats.TotalStored)
	_, err = b.Get(traj.ID)
	assert.ErrorIs(t, err, ErrExperienceNotFound)

	matches, err := b.GetSimilarExperiences(ctx, "to be cleared", 1)
	require.NoError(t, err)
	assert.Empty(t, matches)

	// Capacity is free again.
	ok, err := b.Store(ctx, traj, 70, "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMatch_IsACopy(t *testing.T) {
	t.Parallel()

	b := newTestBuffer(t, 10, 0)
	ctx := context.Background()
	traj := newTraj(t, "immutable", 70)
	_, err := b.Store(ctx, traj, 70, "")
	require.NoError(t, err)
	require.NoError(t, b.MarkExperienceReused(traj.ID))

	m, err := b.Get(traj.ID)
	require.NoError(t, err)
	m.Trajectory.ActionSummary = "mutated"
	m.Embedding[0] = 99
	*m.Metadata.LastReusedAt = time.Time{}

	again, err := b.Get(traj.ID)
	require.NoError(t, err)
	assert.Equal(t, "immutable", again.Trajectory.ActionSummary)
	assert.NotEqual(t, float32(99), again.Embedding[0])
	assert.False(t, again.Metadata.LastReusedAt.IsZero())
}

func TestBuffer_ConcurrentStoreRespectsCapacity(t *testing.T) {
	t.Parallel()

	const maxSize = 20
	const writers = 60
	b := newTestBuffer(t, maxSize, 50)
	ctx := context.Background()

	var wg sync.WaitGroup
	accepted := make(chan bool, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q := 40.0
			if i%4 != 0 {
				q = 80
			}
			traj, err := NewTrajectory(fmt.Sprintf("agent-%d", i), "task", fmt.Sprintf("solution %d", i), 0, OutcomeSuccess, q)
			if err != nil {
				t.Error(err)
				return
			}
			ok, err := b.Store(ctx, traj, q, "")
			if err != nil {
				t.Error(err)
				return
			}
			accepted <- ok
		}(i)
	}

	// Concurrent readers must never fail or see torn rows.
	for r := 0; r < 10; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				matches, err := b.GetSimilarExperiences(ctx, "solution", 5)
				if err != nil {
					t.Error(err)
					return
				}
				for _, m := range matches {
					if len(m.Embedding) != b.Provider().Dimension() {
						t.Errorf("torn embedding row of length %d", len(m.Embedding))
					}
				}
				_ = b.GetBufferStats()
			}
		}()
	}
	wg.Wait()
	close(accepted)

	var n int
	for ok := range accepted {
		if ok {
			n++
		}
	}

	stats := b.GetBufferStats()
	assert.Equal(t, maxSize, n)
	assert.Equal(t, maxSize, stats.Size)
	assert.Equal(t, int64(maxSize), stats.TotalStored)
	assert.Equal(t, int64(writers/4), stats.RejectedLowQuality)
	assert.Equal(t, int64(writers-writers/4-maxSize), stats.RejectedCapacity)
}

func TestGetSimilarExperiences_LatencyBudget(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping latency test in short mode")
	}

	b := newTestBuffer(t, 3000, 0)
	ctx := context.Background()
	for i := 0; i < 2000; i++ {
		d := fmt.Sprintf("task %d in domain %d about topic %d", i, i%13, i%97)
		ok, err := b.Store(ctx, newTraj(t, d, 90), 90, d)
		require.NoError(t, err)
		require.True(t, ok)
	}

	const runs = 40
	durations := make([]time.Duration, runs)
	for i := range durations {
		start := time.Now()
		_, err := b.GetSimilarExperiences(ctx, fmt.Sprintf("topic %d in domain %d", i, i%13), 10)
		require.NoError(t, err)
		durations[i] = time.Since(start)
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	p95 := durations[int(float64(runs)*0.95)-1]
	assert.Less(t, p95, 100*time.Millisecond, "p95 retrieval latency")
}

func BenchmarkGetSimilarExperiences(b *testing.B) {
	buf := newTestBuffer(b, 5000, 0)
	ctx := context.Background()
	for i := 0; i < 5000; i++ {
		d := fmt.Sprintf("task %d in domain %d", i, i%13)
		if _, err := buf.Store(ctx, newTraj(b, d, 90), 90, d); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := buf.GetSimilarExperiences(ctx, "task in domain 7", 10); err != nil {
			b.Fatal(err)
		}
	}
}
