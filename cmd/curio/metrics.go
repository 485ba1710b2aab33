package main

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/fyrsmithlabs/curio/internal/curiosity"
	"github.com/fyrsmithlabs/curio/internal/experience"
	curiohttp "github.com/fyrsmithlabs/curio/internal/http"
	"github.com/fyrsmithlabs/curio/internal/telemetry"
)

var errTelemetryDegraded = errors.New("telemetry export degraded")

// newMetricsRegistry registers the process collectors and one stats
// collector for buf.
func newMetricsRegistry(buf *experience.Buffer, agentType string) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		experience.NewStatsCollector(buf, prometheus.Labels{"agent_type": agentType}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}
	return reg, nil
}

// trainStatus is the live view of a train run served on /api/v1/status.
type trainStatus struct {
	buffer    *experience.Buffer
	engine    *curiosity.QuestionEngine
	agentType string
	epochs    int

	mu    sync.Mutex
	epoch int
	last  *curiosity.TrainingMetrics
	done  bool
}

func (s *trainStatus) startEpoch(n int) {
	s.mu.Lock()
	s.epoch = n
	s.mu.Unlock()
}

func (s *trainStatus) finishEpoch(m curiosity.TrainingMetrics) {
	s.mu.Lock()
	s.last = &m
	s.mu.Unlock()
}

func (s *trainStatus) finish() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
}

func (s *trainStatus) snapshot() curiohttp.StatusResponse {
	s.mu.Lock()
	resp := curiohttp.StatusResponse{
		Status:    "training",
		Version:   version,
		AgentType: s.agentType,
		Epoch:     s.epoch,
		Epochs:    s.epochs,
	}
	if s.done {
		resp.Status = "done"
	}
	if s.last != nil {
		last := *s.last
		resp.Last = &last
	}
	s.mu.Unlock()

	resp.Buffer = s.buffer.GetBufferStats()
	resp.Frontier = s.engine.Frontier()
	return resp
}

// telemetryHealth reports degraded export as unhealthy.
func telemetryHealth(tel *telemetry.Telemetry) curiohttp.HealthFunc {
	return func() error {
		if tel.Health().Degraded {
			return errTelemetryDegraded
		}
		return nil
	}
}
