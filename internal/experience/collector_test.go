package experience

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsCollector(t *testing.T) {
	b := newTestBuffer(t, 4, 50)
	ctx := context.Background()

	_, err := b.Store(ctx, newTraj(t, "kept", 80), 80, "")
	require.NoError(t, err)
	_, err = b.Store(ctx, newTraj(t, "dropped", 10), 10, "")
	require.NoError(t, err)

	c := NewStatsCollector(b, prometheus.Labels{"pool": "writers"})
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	expected := `
# HELP curio_experience_buffer_size Number of stored experiences
# TYPE curio_experience_buffer_size gauge
curio_experience_buffer_size{pool="writers"} 1
# HELP curio_experience_buffer_utilization_ratio Size divided by capacity
# TYPE curio_experience_buffer_utilization_ratio gauge
curio_experience_buffer_utilization_ratio{pool="writers"} 0.25
# HELP curio_experience_rejected_total Experiences rejected at admission
# TYPE curio_experience_rejected_total counter
curio_experience_rejected_total{pool="writers",reason="capacity"} 0
curio_experience_rejected_total{pool="writers",reason="low_quality"} 1
`
	err = testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"curio_experience_buffer_size",
		"curio_experience_buffer_utilization_ratio",
		"curio_experience_rejected_total",
	)
	assert.NoError(t, err)

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 8, count)
}
