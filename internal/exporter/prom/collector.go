// SPDX-FileCopyrightText: 2025 The Wattline Authors
// SPDX-License-Identifier: Apache-2.0

// Package prom exposes the monitor's run state as Prometheus metrics.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wattline/wattline/internal/monitor"
	"github.com/wattline/wattline/internal/telemetry"
)

// Collector reads counters and the latest epoch report off a monitor
// callback on every scrape. All metrics are const metrics; the callback's
// accessors are safe while the training loop runs.
type Collector struct {
	callback *monitor.Callback
	stats    []statMetric
	epoch    []epochMetric
	energy   *prometheus.Desc
}

type statMetric struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	extract   func(stats monitor.Stats) float64
}

type epochMetric struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	extract   func(epoch int, report *telemetry.EpochReport) (float64, bool)
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector builds a collector over the given callback
func NewCollector(callback *monitor.Callback) *Collector {
	collector := &Collector{callback: callback}

	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName("wattline", "monitor", name),
			help,
			labels,
			nil,
		)
	}

	collector.stats = []statMetric{
		{
			desc:      desc("epochs_total", "Training epochs completed."),
			valueType: prometheus.CounterValue,
			extract: func(stats monitor.Stats) float64 {
				return float64(stats.Epochs)
			},
		},
		{
			desc:      desc("batches_total", "Training iterations completed."),
			valueType: prometheus.CounterValue,
			extract: func(stats monitor.Stats) float64 {
				return float64(stats.Batches)
			},
		},
		{
			desc:      desc("windows_total", "Sampling windows merged into epoch reports."),
			valueType: prometheus.CounterValue,
			extract: func(stats monitor.Stats) float64 {
				return float64(stats.Windows)
			},
		},
	}

	collector.epoch = []epochMetric{
		{
			desc:      desc("last_epoch", "Index of the most recently completed epoch."),
			valueType: prometheus.GaugeValue,
			extract: func(epoch int, _ *telemetry.EpochReport) (float64, bool) {
				return float64(epoch), true
			},
		},
		{
			desc:      desc("last_epoch_samples", "Samples collected during the last epoch."),
			valueType: prometheus.GaugeValue,
			extract: func(_ int, report *telemetry.EpochReport) (float64, bool) {
				if report == nil {
					return 0, false
				}
				return float64(len(report.Report.Samples)), true
			},
		},
		{
			desc:      desc("last_epoch_duration_seconds", "Sampled duration of the last epoch."),
			valueType: prometheus.GaugeValue,
			extract: func(_ int, report *telemetry.EpochReport) (float64, bool) {
				if report == nil {
					return 0, false
				}
				return report.Report.Duration().Seconds(), true
			},
		},
	}

	collector.energy = desc("last_epoch_energy_joules",
		"Energy consumed during the last epoch.", "component", "source")

	return collector
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, metric := range c.stats {
		ch <- metric.desc
	}
	for _, metric := range c.epoch {
		ch <- metric.desc
	}
	ch <- c.energy
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.callback == nil {
		return
	}

	stats := c.callback.Stats()
	for _, metric := range c.stats {
		ch <- prometheus.MustNewConstMetric(metric.desc, metric.valueType, metric.extract(stats))
	}

	epoch, report, ok := c.callback.LastEpoch()
	if !ok {
		return
	}
	for _, metric := range c.epoch {
		value, ok := metric.extract(epoch, report)
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(metric.desc, metric.valueType, value)
	}
	if report == nil {
		return
	}
	for key, joules := range energyByStream(&report.Report) {
		ch <- prometheus.MustNewConstMetric(c.energy, prometheus.GaugeValue, joules, key.component, key.source)
	}
}

type streamKey struct {
	component string
	source    string
}

// energyByStream sums the joule samples of a report per component and source
func energyByStream(report *telemetry.Report) map[streamKey]float64 {
	totals := make(map[streamKey]float64)
	for _, s := range report.Samples {
		if s.Unit != telemetry.Joules {
			continue
		}
		totals[streamKey{component: s.Component, source: s.Source}] += s.Value
	}
	return totals
}
