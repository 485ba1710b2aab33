package experience

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StatsCollector exposes a buffer's GetBufferStats snapshot as Prometheus
// gauges and counters. Hosts register it on their own registry.
type StatsCollector struct {
	buffer *Buffer

	size        *prometheus.Desc
	capacity    *prometheus.Desc
	utilization *prometheus.Desc
	avgQuality  *prometheus.Desc
	stored      *prometheus.Desc
	rejected    *prometheus.Desc
	reuses      *prometheus.Desc
}

var _ prometheus.Collector = (*StatsCollector)(nil)

// NewStatsCollector creates a collector for b. constLabels distinguish
// buffers when a host owns several (e.g. one per agent pool).
func NewStatsCollector(b *Buffer, constLabels prometheus.Labels) *StatsCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("curio", "experience", name), help, labels, constLabels)
	}
	return &StatsCollector{
		buffer:      b,
		size:        desc("buffer_size", "Number of stored experiences"),
		capacity:    desc("buffer_capacity", "Maximum number of stored experiences"),
		utilization: desc("buffer_utilization_ratio", "Size divided by capacity"),
		avgQuality:  desc("buffer_avg_quality", "Mean quality score of stored experiences"),
		stored:      desc("stored_total", "Experiences admitted since creation or last clear"),
		rejected:    desc("rejected_total", "Experiences rejected at admission", "reason"),
		reuses:      desc("reuses_total", "Reuse marks across stored experiences"),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.size
	ch <- c.capacity
	ch <- c.utilization
	ch <- c.avgQuality
	ch <- c.stored
	ch <- c.rejected
	ch <- c.reuses
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.buffer.GetBufferStats()
	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(s.Size))
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(s.MaxSize))
	ch <- prometheus.MustNewConstMetric(c.utilization, prometheus.GaugeValue, s.CapacityUtilization)
	ch <- prometheus.MustNewConstMetric(c.avgQuality, prometheus.GaugeValue, s.AvgQuality)
	ch <- prometheus.MustNewConstMetric(c.stored, prometheus.CounterValue, float64(s.TotalStored))
	ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(s.RejectedLowQuality), reasonLowQuality)
	ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(s.RejectedCapacity), reasonCapacity)
	ch <- prometheus.MustNewConstMetric(c.reuses, prometheus.CounterValue, float64(s.TotalReuses))
}
