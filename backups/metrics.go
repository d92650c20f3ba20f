// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package backups

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "dbbackup"

// Collector is a prometheus.Collector that collects metrics about
// backup runs.
type Collector struct {
	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
	operations     *prometheus.CounterVec
	commitFailures *prometheus.CounterVec
	lastSuccess    prometheus.Gauge
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "runs_total",
				Help:      "The number of backup runs by outcome.",
			}, []string{"outcome"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "run_duration_seconds",
				Help:      "The time taken by completed backup runs.",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "operations_total",
				Help:      "The number of write operations sent per collection.",
			}, []string{"collection"},
		),
		commitFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "commit_failures_total",
				Help:      "The number of ignored commit failures per collection.",
			}, []string{"collection"},
		),
		lastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "last_completed_timestamp_seconds",
				Help:      "The unix time at which the last run completed.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.runs.Describe(ch)
	c.runDuration.Describe(ch)
	c.operations.Describe(ch)
	c.commitFailures.Describe(ch)
	c.lastSuccess.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.runs.Collect(ch)
	c.runDuration.Collect(ch)
	c.operations.Collect(ch)
	c.commitFailures.Collect(ch)
	c.lastSuccess.Collect(ch)
}

func (c *Collector) recordResult(result Result) {
	if c == nil {
		return
	}
	c.runs.WithLabelValues("completed").Inc()
	c.runDuration.Observe(result.Elapsed.Seconds())
	for _, coll := range result.Collections {
		if coll.Operations > 0 {
			c.operations.WithLabelValues(coll.Name).Add(float64(coll.Operations))
		}
		if coll.CommitErr != nil {
			c.commitFailures.WithLabelValues(coll.Name).Inc()
		}
	}
	c.lastSuccess.Set(float64(result.Started.Add(result.Elapsed).Unix()))
}

func (c *Collector) recordError() {
	if c == nil {
		return
	}
	c.runs.WithLabelValues("failed").Inc()
}
