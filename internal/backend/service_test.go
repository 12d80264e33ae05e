// SPDX-FileCopyrightText: 2025 The Wattline Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/wattline/wattline/internal/telemetry"
)

const testPID = 4242

// stubSource emits one sample per round and records its calls
type stubSource struct {
	name  string
	unit  telemetry.Unit
	value float64

	beginErr  error
	sampleErr error

	mu     sync.Mutex
	begins int
	rounds int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Begin(pid int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.beginErr != nil {
		return s.beginErr
	}
	s.begins++
	return nil
}

func (s *stubSource) Sample(pid int, now time.Time) ([]telemetry.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sampleErr != nil {
		return nil, s.sampleErr
	}
	s.rounds++
	return []telemetry.Sample{{
		Component:   "gpu",
		ComponentID: "0",
		Unit:        s.unit,
		Source:      s.name,
		Value:       s.value,
		Timestamp:   now,
	}}, nil
}

func (s *stubSource) sampleRounds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rounds
}

func wattsStub(name string) *stubSource {
	return &stubSource{name: name, unit: telemetry.Watts, value: 120}
}

// lifecycleSource adds Init/Shutdown hooks to a stubSource
type lifecycleSource struct {
	stubSource
	initErr     error
	shutdownErr error

	initCalls     int
	shutdownCalls int
}

func (s *lifecycleSource) Init() error {
	s.initCalls++
	return s.initErr
}

func (s *lifecycleSource) Shutdown() error {
	s.shutdownCalls++
	return s.shutdownErr
}

func TestServiceStartStop(t *testing.T) {
	a := wattsStub("alpha")
	b := &stubSource{name: "beta", unit: telemetry.Activity, value: 42}
	svc := NewService([]Source{a, b}, WithCarbonIntensity(0))

	require.NoError(t, svc.Start(testPID, time.Minute))
	assert.Equal(t, 1, a.begins)
	assert.Equal(t, 1, b.begins)

	require.NoError(t, svc.Stop(testPID))

	report, err := svc.Read(testPID, nil)
	require.NoError(t, err)
	require.NotNil(t, report)

	// no tick fits in a minute-long period, the final round still samples
	// both sources, stitched in registration order
	require.Len(t, report.Samples, 2)
	assert.Equal(t, "alpha", report.Samples[0].Source)
	assert.Equal(t, "beta", report.Samples[1].Source)
	assert.False(t, report.Stop.Before(report.Start))
}

func TestServiceStartWhileOpen(t *testing.T) {
	svc := NewService([]Source{wattsStub("stub")})
	require.NoError(t, svc.Start(testPID, time.Minute))
	t.Cleanup(func() { _ = svc.Purge() })

	err := svc.Start(testPID, time.Minute)
	assert.ErrorIs(t, err, ErrSessionExists)

	// a second pid is its own slot
	assert.NoError(t, svc.Start(testPID+1, time.Minute))
}

func TestServiceStartInvalidPeriod(t *testing.T) {
	svc := NewService([]Source{wattsStub("stub")})
	assert.Error(t, svc.Start(testPID, 0))
	assert.Error(t, svc.Start(testPID, -time.Second))
}

func TestServiceStartBeginFailure(t *testing.T) {
	boom := errors.New("device gone")
	svc := NewService([]Source{
		wattsStub("good"),
		&stubSource{name: "bad", unit: telemetry.Watts, beginErr: boom},
	})

	err := svc.Start(testPID, time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "bad")

	// nothing was left open
	assert.ErrorIs(t, svc.Stop(testPID), ErrSessionNotFound)
}

func TestServiceStopWithoutSession(t *testing.T) {
	svc := NewService([]Source{wattsStub("stub")})
	assert.ErrorIs(t, svc.Stop(testPID), ErrSessionNotFound)
}

func TestServiceReadStates(t *testing.T) {
	svc := NewService([]Source{wattsStub("stub")}, WithCarbonIntensity(0))

	_, err := svc.Read(testPID, nil)
	assert.ErrorIs(t, err, ErrNoReport)

	require.NoError(t, svc.Start(testPID, time.Minute))
	_, err = svc.Read(testPID, nil)
	assert.ErrorIs(t, err, ErrSessionExists)

	require.NoError(t, svc.Stop(testPID))
	report, err := svc.Read(testPID, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, report.Samples)
}

func TestServiceReadFiltersSignals(t *testing.T) {
	svc := NewService([]Source{
		wattsStub("alpha"),
		&stubSource{name: "beta", unit: telemetry.Joules, value: 3600},
	}, WithCarbonIntensity(0))

	require.NoError(t, svc.Start(testPID, time.Minute))
	require.NoError(t, svc.Stop(testPID))

	tests := []struct {
		name    string
		signals []string
		want    int
	}{
		{name: "empty keeps all", signals: nil, want: 2},
		{name: "unit signal", signals: []string{"WATTS"}, want: 1},
		{name: "source signal", signals: []string{"beta"}, want: 1},
		{name: "source and unit must both match", signals: []string{"alpha", "JOULES"}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := svc.Read(testPID, tt.signals)
			require.NoError(t, err)
			assert.Len(t, report.Samples, tt.want)
		})
	}
}

func TestServiceDerivesEmissions(t *testing.T) {
	// 1 kWh at 500 gCO2/kWh: 3.6e6 J -> 500 g
	svc := NewService([]Source{
		&stubSource{name: "meter", unit: telemetry.Joules, value: 3.6e6},
	}, WithCarbonIntensity(500))

	require.NoError(t, svc.Start(testPID, time.Minute))
	require.NoError(t, svc.Stop(testPID))

	report, err := svc.Read(testPID, nil)
	require.NoError(t, err)
	require.Len(t, report.Samples, 2)

	energy, emission := report.Samples[0], report.Samples[1]
	assert.Equal(t, telemetry.Joules, energy.Unit)
	assert.Equal(t, telemetry.GramsOfCO2, emission.Unit)
	assert.InDelta(t, 500.0, emission.Value, 1e-9)

	// derived samples keep the energy sample's identity
	assert.Equal(t, energy.Source, emission.Source)
	assert.Equal(t, energy.Component, emission.Component)
	assert.Equal(t, energy.ComponentID, emission.ComponentID)
	assert.Equal(t, energy.Timestamp, emission.Timestamp)
}

func TestServiceTicksWithFakeClock(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clk := testingclock.NewFakeClock(start)
	src := wattsStub("stub")
	svc := NewService([]Source{src}, WithClock(clk), WithCarbonIntensity(0))

	require.NoError(t, svc.Start(testPID, 10*time.Millisecond))
	require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)

	clk.Step(10 * time.Millisecond)
	require.Eventually(t, func() bool { return src.sampleRounds() >= 1 },
		time.Second, time.Millisecond)

	clk.Step(10 * time.Millisecond)
	require.Eventually(t, func() bool { return src.sampleRounds() >= 2 },
		time.Second, time.Millisecond)

	require.NoError(t, svc.Stop(testPID))

	report, err := svc.Read(testPID, nil)
	require.NoError(t, err)
	// two tick rounds plus the final round at stop
	assert.Len(t, report.Samples, 3)
	assert.Equal(t, start, report.Start)
	assert.Equal(t, clk.Now(), report.Stop)
}

func TestServiceTickFailureKeepsCaptureAlive(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clk := testingclock.NewFakeClock(start)
	src := wattsStub("flaky")
	src.sampleErr = errors.New("transient read failure")
	svc := NewService([]Source{src}, WithClock(clk), WithCarbonIntensity(0))

	require.NoError(t, svc.Start(testPID, 10*time.Millisecond))
	require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)
	clk.Step(10 * time.Millisecond)

	// the failed round is dropped, the capture keeps running
	require.NoError(t, svc.Stop(testPID))

	report, err := svc.Read(testPID, nil)
	require.NoError(t, err)
	assert.Empty(t, report.Samples)
}

func TestServicePurge(t *testing.T) {
	svc := NewService([]Source{wattsStub("stub")}, WithCarbonIntensity(0))

	// one open capture, one completed report
	require.NoError(t, svc.Start(testPID, time.Minute))
	require.NoError(t, svc.Start(testPID+1, time.Minute))
	require.NoError(t, svc.Stop(testPID+1))

	require.NoError(t, svc.Purge())

	_, err := svc.Read(testPID+1, nil)
	assert.ErrorIs(t, err, ErrNoReport)

	// the aborted capture's slot is free again
	assert.NoError(t, svc.Start(testPID, time.Minute))
	require.NoError(t, svc.Stop(testPID))
}

func TestServiceDump(t *testing.T) {
	svc := NewService([]Source{wattsStub("stub")}, WithCarbonIntensity(0))

	path := filepath.Join(t.TempDir(), "runs", "report-0.json")
	assert.ErrorIs(t, svc.Dump(testPID, path, nil), ErrNoReport)

	require.NoError(t, svc.Start(testPID, time.Minute))
	require.NoError(t, svc.Stop(testPID))
	require.NoError(t, svc.Dump(testPID, path, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var report telemetry.Report
	require.NoError(t, json.Unmarshal(data, &report))
	require.Len(t, report.Samples, 1)
	assert.Equal(t, "stub", report.Samples[0].Source)
	assert.Equal(t, telemetry.Watts, report.Samples[0].Unit)
}

func TestServiceInitShutdown(t *testing.T) {
	plain := wattsStub("plain")
	managed := &lifecycleSource{stubSource: stubSource{name: "managed", unit: telemetry.Watts}}
	svc := NewService([]Source{plain, managed})

	require.NoError(t, svc.Init())
	assert.Equal(t, 1, managed.initCalls)

	require.NoError(t, svc.Shutdown())
	assert.Equal(t, 1, managed.shutdownCalls)
}

func TestServiceInitStopsAtFirstFailure(t *testing.T) {
	boom := errors.New("no such device")
	bad := &lifecycleSource{stubSource: stubSource{name: "bad", unit: telemetry.Watts}, initErr: boom}
	after := &lifecycleSource{stubSource: stubSource{name: "after", unit: telemetry.Watts}}
	svc := NewService([]Source{bad, after})

	err := svc.Init()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "bad")
	assert.Equal(t, 0, after.initCalls)
}

func TestServiceShutdownCollectsFailures(t *testing.T) {
	errA := errors.New("logout failed")
	errB := errors.New("engine stuck")
	a := &lifecycleSource{stubSource: stubSource{name: "a", unit: telemetry.Watts}, shutdownErr: errA}
	b := &lifecycleSource{stubSource: stubSource{name: "b", unit: telemetry.Watts}, shutdownErr: errB}
	svc := NewService([]Source{a, b})

	err := svc.Shutdown()
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Equal(t, 1, a.shutdownCalls)
	assert.Equal(t, 1, b.shutdownCalls)
}
