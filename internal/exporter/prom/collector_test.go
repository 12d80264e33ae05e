// SPDX-FileCopyrightText: 2025 The Wattline Authors
// SPDX-License-Identifier: Apache-2.0

package prom

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wattline/wattline/internal/monitor"
	"github.com/wattline/wattline/internal/session"
	"github.com/wattline/wattline/internal/telemetry"
)

const testPID = 1234

func gatherFamilies(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, fam := range families {
		byName[fam.GetName()] = fam
	}
	return byName
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestCollectorBeforeFirstEpoch(t *testing.T) {
	client := &session.MockClient{}
	controller := session.NewController(client, testPID)
	cb, err := monitor.NewCallback(controller,
		monitor.WithWindowPolicy(monitor.EpochWindow{}),
		monitor.WithTimestamps(false))
	require.NoError(t, err)

	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(NewCollector(cb))

	byName := gatherFamilies(t, reg)
	require.Contains(t, byName, "wattline_monitor_epochs_total")
	assert.Zero(t, byName["wattline_monitor_epochs_total"].GetMetric()[0].GetCounter().GetValue())
	assert.NotContains(t, byName, "wattline_monitor_last_epoch")
	assert.NotContains(t, byName, "wattline_monitor_last_epoch_energy_joules")

	client.AssertExpectations(t)
}

func TestCollectorPublishesEpochMetrics(t *testing.T) {
	start := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	report := &telemetry.Report{
		Start: start,
		Stop:  start.Add(4 * time.Second),
		Samples: []telemetry.Sample{
			{Component: "gpu", ComponentID: "0", Unit: telemetry.Joules, Source: "nvml", Value: 120.5, Timestamp: start},
			{Component: "gpu", ComponentID: "0", Unit: telemetry.Joules, Source: "nvml", Value: 80.25, Timestamp: start.Add(time.Second)},
			{Component: "cpu", ComponentID: "1234", Unit: telemetry.Joules, Source: "linux_process", Value: 10.0, Timestamp: start},
			{Component: "gpu", ComponentID: "0", Unit: telemetry.Watts, Source: "nvml", Value: 150.0, Timestamp: start},
		},
	}

	client := &session.MockClient{}
	client.On("Purge").Return(nil).Once()
	client.On("Start", testPID, session.DefaultSamplePeriod).Return(nil).Once()
	client.On("Stop", testPID).Return(nil).Once()
	client.On("Read", testPID, session.DefaultSignals).Return(report, nil).Once()

	controller := session.NewController(client, testPID)
	cb, err := monitor.NewCallback(controller,
		monitor.WithWindowPolicy(monitor.EpochWindow{}),
		monitor.WithTimestamps(false),
		monitor.WithDigest(false))
	require.NoError(t, err)

	require.NoError(t, cb.OnEpochBegin(0, nil))
	require.NoError(t, cb.OnIterationBegin(0, nil))
	require.NoError(t, cb.OnIterationEnd(0, nil))
	require.NoError(t, cb.OnEpochEnd(0, nil))

	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(NewCollector(cb))
	byName := gatherFamilies(t, reg)

	require.Contains(t, byName, "wattline_monitor_epochs_total")
	assert.Equal(t, 1.0, byName["wattline_monitor_epochs_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 1.0, byName["wattline_monitor_batches_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 1.0, byName["wattline_monitor_windows_total"].GetMetric()[0].GetCounter().GetValue())

	require.Contains(t, byName, "wattline_monitor_last_epoch")
	assert.Zero(t, byName["wattline_monitor_last_epoch"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 4.0, byName["wattline_monitor_last_epoch_samples"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 4.0, byName["wattline_monitor_last_epoch_duration_seconds"].GetMetric()[0].GetGauge().GetValue())

	require.Contains(t, byName, "wattline_monitor_last_epoch_energy_joules")
	energy := byName["wattline_monitor_last_epoch_energy_joules"].GetMetric()
	require.Len(t, energy, 2)
	totals := make(map[string]float64, len(energy))
	for _, m := range energy {
		totals[labelValue(m, "component")+"/"+labelValue(m, "source")] = m.GetGauge().GetValue()
	}
	assert.InDelta(t, 200.75, totals["gpu/nvml"], 1e-9)
	assert.InDelta(t, 10.0, totals["cpu/linux_process"], 1e-9)

	client.AssertExpectations(t)
}

func TestCollectorDumpMode(t *testing.T) {
	client := &session.MockClient{}
	client.On("Purge").Return(nil).Once()
	client.On("Start", testPID, session.DefaultSamplePeriod).Return(nil).Once()
	client.On("Stop", testPID).Return(nil).Once()
	client.On("Dump", testPID, mock.Anything, session.DefaultSignals).Return(nil).Once()

	controller := session.NewController(client, testPID)
	cb, err := monitor.NewCallback(controller,
		monitor.WithDumpDir(t.TempDir()),
		monitor.WithTimestamps(false))
	require.NoError(t, err)

	require.NoError(t, cb.OnEpochBegin(3, nil))
	require.NoError(t, cb.OnEpochEnd(3, nil))

	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(NewCollector(cb))
	byName := gatherFamilies(t, reg)

	require.Contains(t, byName, "wattline_monitor_last_epoch")
	assert.Equal(t, 3.0, byName["wattline_monitor_last_epoch"].GetMetric()[0].GetGauge().GetValue())
	assert.NotContains(t, byName, "wattline_monitor_last_epoch_samples",
		"dump mode keeps no report to summarize")
	assert.NotContains(t, byName, "wattline_monitor_last_epoch_energy_joules")

	client.AssertExpectations(t)
}
