package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports Sink summaries as Prometheus gauges.
type Collector struct {
	sink   *Sink
	window time.Duration

	samples *prometheus.Desc
	last    *prometheus.Desc
	mean    *prometheus.Desc
}

// NewCollector returns a Collector reporting window means over window.
func NewCollector(sink *Sink, window time.Duration) *Collector {
	labels := []string{"metric", "unit"}
	return &Collector{
		sink:   sink,
		window: window,
		samples: prometheus.NewDesc("clipforge_metric_samples",
			"Number of retained samples per metric.", labels, nil),
		last: prometheus.NewDesc("clipforge_metric_last_value",
			"Most recently recorded value per metric.", labels, nil),
		mean: prometheus.NewDesc("clipforge_metric_window_mean",
			"Mean of samples inside the reporting window.", labels, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.samples
	ch <- c.last
	ch <- c.mean
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.sink.Snapshot(c.window) {
		ch <- prometheus.MustNewConstMetric(c.samples, prometheus.GaugeValue, float64(s.Count), s.Name, s.Unit)
		ch <- prometheus.MustNewConstMetric(c.last, prometheus.GaugeValue, s.Last, s.Name, s.Unit)
		ch <- prometheus.MustNewConstMetric(c.mean, prometheus.GaugeValue, s.WindowMean, s.Name, s.Unit)
	}
}
