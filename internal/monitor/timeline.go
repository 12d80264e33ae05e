// SPDX-FileCopyrightText: 2025 The Wattline Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"log/slog"
	"time"

	"k8s.io/utils/clock"
)

// BatchSpan is one timeline row: the wall-clock span of a single training
// iteration, stamped with its epoch once the epoch closes.
type BatchSpan struct {
	Epoch      int   `json:"epoch"`
	Batch      int   `json:"batch"`
	StartNanos int64 `json:"startNanos"`
	EndNanos   int64 `json:"endNanos"`
}

// Duration returns the span length
func (s BatchSpan) Duration() time.Duration {
	return time.Duration(s.EndNanos - s.StartNanos)
}

// Timeline records per-iteration wall-clock spans independently of the
// sampling windows. Spans buffer until their epoch ends, then move into the
// permanent rows stamped with the epoch index. The batch label attached to a
// span is the one supplied at iteration end, so a span survives relabeling
// between begin and end.
type Timeline struct {
	clock  clock.PassiveClock
	logger *slog.Logger

	openStart time.Time
	open      bool

	pending []BatchSpan
	rows    []BatchSpan
}

// NewTimeline returns an empty timeline. A nil clock falls back to the real
// clock, a nil logger to the default one.
func NewTimeline(clk clock.PassiveClock, logger *slog.Logger) *Timeline {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Timeline{
		clock:  clk,
		logger: logger.With("service", "timeline"),
	}
}

// IterationBegin marks the start of an iteration span. A begin that arrives
// while a span is still open replaces it.
func (t *Timeline) IterationBegin() {
	if t.open {
		t.logger.Warn("Dropping unterminated iteration span")
	}
	t.openStart = t.clock.Now()
	t.open = true
}

// IterationEnd closes the open span under the given batch index and buffers
// it for the current epoch. Ends with no matching begin are dropped.
func (t *Timeline) IterationEnd(batch int) {
	if !t.open {
		t.logger.Warn("Dropping iteration end with no matching begin", "batch", batch)
		return
	}
	t.pending = append(t.pending, BatchSpan{
		Batch:      batch,
		StartNanos: t.openStart.UnixNano(),
		EndNanos:   t.clock.Now().UnixNano(),
	})
	t.open = false
}

// EpochEnd stamps the buffered spans with the epoch index and moves them
// into the permanent rows.
func (t *Timeline) EpochEnd(epoch int) {
	if t.open {
		t.logger.Warn("Dropping iteration span still open at epoch end", "epoch", epoch)
		t.open = false
	}
	for i := range t.pending {
		t.pending[i].Epoch = epoch
	}
	t.rows = append(t.rows, t.pending...)
	t.pending = nil
}

// Rows returns the spans recorded so far, in completion order
func (t *Timeline) Rows() []BatchSpan {
	return t.rows
}
