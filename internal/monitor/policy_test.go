// SPDX-FileCopyrightText: 2025 The Wattline Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWindowPolicy(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{{
		name: EpochWindowPolicy,
		want: "epoch",
	}, {
		name: TimeChunkWindowPolicy,
		want: "time-chunk",
	}, {
		name: BatchWindowPolicy,
		want: "batch",
	}, {
		name:    "per-sample",
		wantErr: true,
	}, {
		name:    "",
		wantErr: true,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy, err := NewWindowPolicy(tt.name, time.Second)
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, policy)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, policy.Name())
		})
	}
}

func TestEpochWindowActions(t *testing.T) {
	now := time.Now()
	w := EpochWindow{}

	assert.Equal(t, WindowOpen, w.EpochBegin(now))
	assert.Equal(t, WindowHold, w.IterationBegin(now))
	assert.Equal(t, WindowHold, w.IterationEnd(now))
	assert.Equal(t, WindowClose, w.EpochEnd(now))
}

func TestBatchWindowActions(t *testing.T) {
	now := time.Now()
	w := BatchWindow{}

	assert.Equal(t, WindowHold, w.EpochBegin(now))
	assert.Equal(t, WindowOpen, w.IterationBegin(now))
	assert.Equal(t, WindowClose, w.IterationEnd(now))
	assert.Equal(t, WindowHold, w.EpochEnd(now))
}

func TestTimeChunkWindowBoundaries(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	w := NewTimeChunkWindow(2 * time.Second)

	require.Equal(t, WindowOpen, w.EpochBegin(base))

	steps := []struct {
		at   time.Duration
		want WindowAction
	}{{
		at:   500 * time.Millisecond,
		want: WindowHold,
	}, {
		at:   time.Second,
		want: WindowHold,
	}, {
		at:   1500 * time.Millisecond,
		want: WindowHold,
	}, {
		// exactly one period after the last boundary is not yet a cut
		at:   2 * time.Second,
		want: WindowHold,
	}, {
		at:   2100 * time.Millisecond,
		want: WindowCut,
	}, {
		// the cut moved the boundary to +2.1s
		at:   2600 * time.Millisecond,
		want: WindowHold,
	}, {
		at:   4200 * time.Millisecond,
		want: WindowCut,
	}}

	for _, step := range steps {
		assert.Equalf(t, step.want, w.IterationEnd(base.Add(step.at)), "iteration end at +%s", step.at)
	}

	assert.Equal(t, WindowHold, w.IterationBegin(base.Add(5*time.Second)))
	assert.Equal(t, WindowClose, w.EpochEnd(base.Add(5*time.Second)))
}

func TestTimeChunkWindowEpochResetsBoundary(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	w := NewTimeChunkWindow(2 * time.Second)

	require.Equal(t, WindowOpen, w.EpochBegin(base))
	require.Equal(t, WindowClose, w.EpochEnd(base.Add(10*time.Second)))

	// the next epoch measures from its own begin, not the stale boundary
	require.Equal(t, WindowOpen, w.EpochBegin(base.Add(20*time.Second)))
	assert.Equal(t, WindowHold, w.IterationEnd(base.Add(21*time.Second)))
	assert.Equal(t, WindowCut, w.IterationEnd(base.Add(23*time.Second)))
}

func TestTimeChunkWindowDefaultPeriod(t *testing.T) {
	for _, period := range []time.Duration{0, -time.Second} {
		w := NewTimeChunkWindow(period)
		assert.Equal(t, DefaultChunkPeriod, w.period)
	}
}
