// SPDX-FileCopyrightText: 2025 The Wattline Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wattline/wattline/internal/session"
)

func TestNewCallbackValidation(t *testing.T) {
	_, err := NewCallback(nil)
	assert.Error(t, err)

	ctrl := newTestController(new(session.MockClient))
	_, err = NewCallback(ctrl, WithMergeMode("sideways"))
	assert.ErrorContains(t, err, "unknown merge mode")
}

func TestCallbackCollectsEpochs(t *testing.T) {
	client := new(session.MockClient)
	client.On("Purge").Return(nil).Once()
	client.On("Start", testPID, session.DefaultSamplePeriod).Return(nil).Times(2)
	client.On("Stop", testPID).Return(nil).Times(2)
	client.On("Read", testPID, session.DefaultSignals).Return(windowReport(0, 20.0), nil).Once()
	client.On("Read", testPID, session.DefaultSignals).Return(windowReport(1, 30.0), nil).Once()

	cb, err := NewCallback(newTestController(client), WithWindowPolicy(EpochWindow{}))
	require.NoError(t, err)

	_, _, ok := cb.LastEpoch()
	assert.False(t, ok, "no epoch has completed yet")

	logs := map[string]float64{}
	for epoch := range 2 {
		require.NoError(t, cb.OnEpochBegin(epoch, logs))
		for batch := range 2 {
			require.NoError(t, cb.OnIterationBegin(batch, logs))
			require.NoError(t, cb.OnIterationEnd(batch, logs))
		}
		require.NoError(t, cb.OnEpochEnd(epoch, logs))
	}

	assert.Equal(t, Stats{Epochs: 2, Batches: 4, Windows: 2}, cb.Stats())
	assert.InDelta(t, 30.0, logs["cpu-J"], 1e-9)

	epoch, last, ok := cb.LastEpoch()
	require.True(t, ok)
	assert.Equal(t, 1, epoch)
	require.NotNil(t, last)
	assert.Equal(t, 1, last.Windows)

	first, ok := cb.Report(0)
	require.True(t, ok)
	assert.Len(t, first.Report.Samples, 1)

	rows := cb.TimelineRows()
	require.Len(t, rows, 4)
	assert.Equal(t, []int{0, 0, 1, 1}, []int{rows[0].Epoch, rows[1].Epoch, rows[2].Epoch, rows[3].Epoch})
	assert.Equal(t, []int{0, 1, 0, 1}, []int{rows[0].Batch, rows[1].Batch, rows[2].Batch, rows[3].Batch})
	for _, row := range rows {
		assert.LessOrEqual(t, row.StartNanos, row.EndNanos)
	}
	client.AssertExpectations(t)
}

func TestCallbackDumpMode(t *testing.T) {
	dir := t.TempDir()

	client := new(session.MockClient)
	client.On("Purge").Return(nil).Once()
	client.On("Start", testPID, session.DefaultSamplePeriod).Return(nil).Once()
	client.On("Stop", testPID).Return(nil).Once()
	client.On("Dump", testPID, filepath.Join(dir, "report-5.json"), session.DefaultSignals).Return(nil).Once()

	cb, err := NewCallback(newTestController(client), WithDumpDir(dir))
	require.NoError(t, err)

	logs := map[string]float64{}
	require.NoError(t, cb.OnEpochBegin(5, logs))
	require.NoError(t, cb.OnEpochEnd(5, logs))

	epoch, report, ok := cb.LastEpoch()
	require.True(t, ok)
	assert.Equal(t, 5, epoch)
	assert.Nil(t, report, "dump mode retains no report")

	_, ok = cb.Report(5)
	assert.False(t, ok)

	assert.Equal(t, Stats{Epochs: 1, Windows: 1}, cb.Stats())
	client.AssertExpectations(t)
}

func TestCallbackDefaultDumpDir(t *testing.T) {
	dir := DefaultDumpDir(4242)
	assert.Contains(t, dir, "wattline-4242")
}

func TestCallbackTimestampsDisabled(t *testing.T) {
	client := new(session.MockClient)
	client.On("Purge").Return(nil).Once()
	client.On("Start", testPID, session.DefaultSamplePeriod).Return(nil).Once()
	client.On("Stop", testPID).Return(nil).Once()
	client.On("Read", testPID, session.DefaultSignals).Return(windowReport(0, 20.0), nil).Once()

	cb, err := NewCallback(newTestController(client),
		WithWindowPolicy(EpochWindow{}),
		WithTimestamps(false))
	require.NoError(t, err)

	logs := map[string]float64{}
	require.NoError(t, cb.OnEpochBegin(0, logs))
	require.NoError(t, cb.OnIterationBegin(0, logs))
	require.NoError(t, cb.OnIterationEnd(0, logs))
	require.NoError(t, cb.OnEpochEnd(0, logs))

	assert.Nil(t, cb.TimelineRows())
	client.AssertExpectations(t)
}

func TestCallbackDigestDisabled(t *testing.T) {
	client := new(session.MockClient)
	client.On("Purge").Return(nil).Once()
	client.On("Start", testPID, session.DefaultSamplePeriod).Return(nil).Once()
	client.On("Stop", testPID).Return(nil).Once()
	client.On("Read", testPID, session.DefaultSignals).Return(windowReport(0, 20.0), nil).Once()

	cb, err := NewCallback(newTestController(client),
		WithWindowPolicy(EpochWindow{}),
		WithDigest(false))
	require.NoError(t, err)

	logs := map[string]float64{}
	require.NoError(t, cb.OnEpochBegin(0, logs))
	require.NoError(t, cb.OnEpochEnd(0, logs))

	assert.Empty(t, logs)
	client.AssertExpectations(t)
}

func TestCallbackPropagatesBackendFailure(t *testing.T) {
	backendErr := errors.New("backend unavailable")

	client := new(session.MockClient)
	client.On("Purge").Return(backendErr).Once()

	cb, err := NewCallback(newTestController(client), WithWindowPolicy(EpochWindow{}))
	require.NoError(t, err)

	err = cb.OnEpochBegin(0, map[string]float64{})
	assert.ErrorIs(t, err, backendErr)
	assert.Equal(t, Stats{}, cb.Stats(), "a failed epoch publishes nothing")
	client.AssertExpectations(t)
}
