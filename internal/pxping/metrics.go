package pxping

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a prometheus.Collector reporting PcbTable occupancy and drop
// counters, in the same Describe/Collect shape as the teacher pack's
// exporter.TCPInfoCollector (runZeroInc-sockstats/pkg/exporter): a small
// struct of descs paired with suppliers, gathered on demand rather than
// pushed.
type Metrics struct {
	state *ProxyState

	pcbCountDesc  *prometheus.Desc
	dropsDesc     *prometheus.Desc
	tickCountDesc *prometheus.Desc

	tickCount        atomic.Int64
	dropsRateLimited atomic.Int64
	dropsTableFull   atomic.Int64
	dropsRemapFailed atomic.Int64
	dropsNoMatch     atomic.Int64
	dropsMalformed   atomic.Int64
}

var _ prometheus.Collector = (*Metrics)(nil)

func newMetrics(ps *ProxyState) *Metrics {
	return &Metrics{
		state: ps,
		pcbCountDesc: prometheus.NewDesc(
			"pxping_pcb_count", "Number of active ping PCBs.", nil, nil),
		dropsDesc: prometheus.NewDesc(
			"pxping_drops_total", "Packets dropped by reason.", []string{"reason"}, nil),
		tickCountDesc: prometheus.NewDesc(
			"pxping_wheel_ticks_total", "Number of timeout wheel ticks processed.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.pcbCountDesc
	ch <- m.dropsDesc
	ch <- m.tickCountDesc
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(m.pcbCountDesc, prometheus.GaugeValue, float64(m.state.table.Len()))
	ch <- prometheus.MustNewConstMetric(m.tickCountDesc, prometheus.CounterValue, float64(m.tickCount.Load()))

	ch <- prometheus.MustNewConstMetric(m.dropsDesc, prometheus.CounterValue, float64(m.dropsRateLimited.Load()), "rate_limited")
	ch <- prometheus.MustNewConstMetric(m.dropsDesc, prometheus.CounterValue, float64(m.dropsTableFull.Load()), "table_full")
	ch <- prometheus.MustNewConstMetric(m.dropsDesc, prometheus.CounterValue, float64(m.dropsRemapFailed.Load()), "remap_failed")
	ch <- prometheus.MustNewConstMetric(m.dropsDesc, prometheus.CounterValue, float64(m.dropsNoMatch.Load()), "no_match")
	ch <- prometheus.MustNewConstMetric(m.dropsDesc, prometheus.CounterValue, float64(m.dropsMalformed.Load()), "malformed")
}
