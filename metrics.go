package ttimer

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StatsSource is anything that can report wheel counters, e.g. a Driver,
// or a Wheel that is not being ticked concurrently.
type StatsSource interface {
	Stats() Stats
}

// Collector exports wheel counters to Prometheus.
type Collector struct {
	src StatsSource

	ticks     *prometheus.Desc
	armed     *prometheus.Desc
	cancelled *prometheus.Desc
	fired     *prometheus.Desc
	cascaded  *prometheus.Desc
	pending   *prometheus.Desc
	levels    *prometheus.Desc
}

// NewCollector returns a collector reading src on every scrape. Metric
// names are prefixed with namespace_timing_wheel_.
func NewCollector(src StatsSource, namespace string) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "timing_wheel", name), help, nil, nil)
	}

	return &Collector{
		src:       src,
		ticks:     desc("ticks_total", "Base ticks processed."),
		armed:     desc("armed_total", "Entries armed by callers."),
		cancelled: desc("cancelled_total", "Entries disarmed before firing."),
		fired:     desc("fired_total", "Callbacks invoked."),
		cascaded:  desc("cascaded_total", "Entries moved to a finer slot."),
		pending:   desc("pending", "Entries currently scheduled."),
		levels:    desc("levels", "Configured wheel levels."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.ticks
	ch <- c.armed
	ch <- c.cancelled
	ch <- c.fired
	ch <- c.cascaded
	ch <- c.pending
	ch <- c.levels
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()

	ch <- prometheus.MustNewConstMetric(c.ticks, prometheus.CounterValue, float64(s.Ticks()))
	ch <- prometheus.MustNewConstMetric(c.armed, prometheus.CounterValue, float64(s.Armed()))
	ch <- prometheus.MustNewConstMetric(c.cancelled, prometheus.CounterValue, float64(s.Cancelled()))
	ch <- prometheus.MustNewConstMetric(c.fired, prometheus.CounterValue, float64(s.Fired()))
	ch <- prometheus.MustNewConstMetric(c.cascaded, prometheus.CounterValue, float64(s.Cascaded()))
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(s.Pending()))
	ch <- prometheus.MustNewConstMetric(c.levels, prometheus.GaugeValue, float64(s.Levels()))
}
