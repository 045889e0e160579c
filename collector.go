package vmem

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports a Runtime's memory counters to Prometheus.
//
// The runtime is read without locking, so Collect must run on the
// goroutine that owns the runtime, e.g. by gathering a private registry
// between frames.
type Collector struct {
	rt *Runtime

	currentBytes *prometheus.Desc
	peakBytes    *prometheus.Desc
	totalBytes   *prometheus.Desc
	totalChunks  *prometheus.Desc
	liveBlocks   *prometheus.Desc
	generation   *prometheus.Desc
	tempPages    *prometheus.Desc
	tempInUse    *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector for rt with metric names prefixed by
// namespace.
func NewCollector(namespace string, rt *Runtime) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "memory", name), help, nil, nil)
	}
	return &Collector{
		rt:           rt,
		currentBytes: desc("current_bytes", "Bytes in live tracked blocks."),
		peakBytes:    desc("peak_bytes", "Highest value current_bytes has reached."),
		totalBytes:   desc("allocated_bytes_total", "Bytes ever allocated through the tracker."),
		totalChunks:  desc("allocations_total", "Allocations ever made through the tracker."),
		liveBlocks:   desc("live_blocks", "Tracked blocks not yet freed."),
		generation:   desc("generation", "Current tracking generation."),
		tempPages:    desc("temp_pages", "Pages held by the temporary arena."),
		tempInUse:    desc("temp_in_use_bytes", "Bytes in use in the temporary arena."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	if c.rt.Tracker() != nil {
		ch <- c.currentBytes
		ch <- c.peakBytes
		ch <- c.totalBytes
		ch <- c.totalChunks
		ch <- c.liveBlocks
		ch <- c.generation
	}
	ch <- c.tempPages
	ch <- c.tempInUse
}

// Collect implements prometheus.Collector. Tracker metrics are only
// exported when memory tracking is on.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if t := c.rt.Tracker(); t != nil {
		s := t.Stats()
		ch <- prometheus.MustNewConstMetric(c.currentBytes, prometheus.GaugeValue, float64(s.CurrentBytes))
		ch <- prometheus.MustNewConstMetric(c.peakBytes, prometheus.GaugeValue, float64(s.PeakBytes))
		ch <- prometheus.MustNewConstMetric(c.totalBytes, prometheus.CounterValue, float64(s.TotalBytes))
		ch <- prometheus.MustNewConstMetric(c.totalChunks, prometheus.CounterValue, float64(s.TotalChunks))
		ch <- prometheus.MustNewConstMetric(c.liveBlocks, prometheus.GaugeValue, float64(s.LiveBlocks))
		ch <- prometheus.MustNewConstMetric(c.generation, prometheus.GaugeValue, float64(s.Generation))
	}
	m := c.rt.Temp().Metrics()
	ch <- prometheus.MustNewConstMetric(c.tempPages, prometheus.GaugeValue, float64(m.NumPages))
	ch <- prometheus.MustNewConstMetric(c.tempInUse, prometheus.GaugeValue, float64(m.SizeInUse))
}
