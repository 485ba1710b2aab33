package attribution

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T, maxHistory int) *Tracker {
	t.Helper()
	tr, err := NewTracker(TrackerConfig{MaxHistorySize: maxHistory}, nil)
	require.NoError(t, err)
	return tr
}

func TestNewTracker_InvalidConfig(t *testing.T) {
	t.Parallel()
	_, err := NewTracker(TrackerConfig{MaxHistorySize: 0}, nil)
	assert.Error(t, err)
}

func TestRecordContribution_Scores(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		before float64
		after  float64
		opts   []ContributionOption
		want   float64
	}{
		{"ten point gain", 70, 80, nil, 0.10},
		{"explicit unit factors", 70, 80, []ContributionOption{WithEffortRatio(1), WithImpactMultiplier(1)}, 0.10},
		{"regression clamps to zero", 80, 60, nil, 0},
		{"half effort", 50, 90, []ContributionOption{WithEffortRatio(0.5)}, 0.20},
		{"impact clamps to one", 0, 80, []ContributionOption{WithImpactMultiplier(3)}, 1},
		{"full gain", 0, 100, nil, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr := newTestTracker(t, 10)
			got, err := tr.RecordContribution("a", "t", tt.before, tt.after, tt.opts...)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestRecordContribution_RawDelta(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, 10)
	_, err := tr.RecordContribution("a", "t", 70, 80)
	require.NoError(t, err)

	h := tr.History(1)
	require.Len(t, h, 1)
	assert.InDelta(t, 0.10, h[0].RawDelta, 1e-12)
	assert.Equal(t, 1.0, h[0].EffortRatio)
	assert.Equal(t, 1.0, h[0].ImpactMultiplier)
}

func TestRecordContribution_InvalidInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		agent   string
		task    string
		before  float64
		after   float64
		opts    []ContributionOption
		wantErr error
	}{
		{"empty agent", "", "t", 0, 1, nil, ErrEmptyAgentID},
		{"empty task", "a", "", 0, 1, nil, ErrEmptyTaskID},
		{"nan before", "a", "t", math.NaN(), 1, nil, ErrInvalidQuality},
		{"after above 100", "a", "t", 0, 101, nil, ErrInvalidQuality},
		{"negative effort", "a", "t", 0, 1, []ContributionOption{WithEffortRatio(-1)}, ErrInvalidFactor},
		{"nan impact", "a", "t", 0, 1, []ContributionOption{WithImpactMultiplier(math.NaN())}, ErrInvalidFactor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr := newTestTracker(t, 10)
			_, err := tr.RecordContribution(tt.agent, tt.task, tt.before, tt.after, tt.opts...)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, tr.Len())
		})
	}
}

func TestTracker_FIFOTrim(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, 3)
	for i := 0; i < 5; i++ {
		_, err := tr.RecordContribution("a", fmt.Sprintf("t%d", i), 0, 10)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, tr.Len())
	assert.Equal(t, int64(2), tr.Trimmed())

	h := tr.History(0)
	require.Len(t, h, 3)
	assert.Equal(t, "t4", h[0].TaskID)
	assert.Equal(t, "t2", h[2].TaskID)
}

func TestGetContributionScore(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int
	tr, err := NewTracker(TrackerConfig{MaxHistorySize: 100}, nil, WithTrackerClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}))
	require.NoError(t, err)

	// a on t1: 0.1, 0.2, 0.3 (oldest to newest); a on t2: 0.5; b on t1: 0.9
	for _, after := range []float64{10, 20, 30} {
		_, err := tr.RecordContribution("a", "t1", 0, after)
		require.NoError(t, err)
	}
	_, err = tr.RecordContribution("a", "t2", 0, 50)
	require.NoError(t, err)
	_, err = tr.RecordContribution("b", "t1", 0, 90)
	require.NoError(t, err)

	tests := []struct {
		name   string
		agent  string
		task   string
		window int
		want   float64
	}{
		{"window of two on task", "a", "t1", 2, 0.25},
		{"whole task", "a", "t1", 10, 0.2},
		{"any task window two", "a", "", 2, 0.4},
		{"any task all", "a", "", 10, 0.275},
		{"other agent", "b", "t1", 5, 0.9},
		{"unknown agent", "c", "", 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tr.GetContributionScore(tt.agent, tt.task, tt.window)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}

	_, err = tr.GetContributionScore("a", "", 0)
	assert.ErrorIs(t, err, ErrInvalidWindow)
	_, err = tr.GetContributionScore("", "", 1)
	assert.ErrorIs(t, err, ErrEmptyAgentID)

	scores, err := tr.TaskScores("t1", 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, scores["a"], 1e-12)
	assert.InDelta(t, 0.9, scores["b"], 1e-12)

	assert.Equal(t, []string{"a", "b"}, tr.Agents())

	tr.Clear()
	assert.Equal(t, 0, tr.Len())
	assert.Empty(t, tr.Agents())
}

func TestRecordContribution_Concurrent(t *testing.T) {
	t.Parallel()

	const workers, perWorker = 20, 100
	tr := newTestTracker(t, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := tr.RecordContribution(fmt.Sprintf("agent-%d", w), fmt.Sprintf("task-%d", i), 0, 50); err != nil {
					t.Error(err)
				}
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, workers*perWorker, tr.Len())
	assert.Equal(t, int64(0), tr.Trimmed())

	seen := make(map[string]bool, workers*perWorker)
	for _, c := range tr.History(0) {
		key := c.AgentID + "/" + c.TaskID
		assert.False(t, seen[key], "duplicate %s", key)
		seen[key] = true
	}
	assert.Len(t, seen, workers*perWorker)
}
