// SPDX-FileCopyrightText: 2025 The Wattline Authors
// SPDX-License-Identifier: Apache-2.0

// Package monitor turns training-loop lifecycle events into sampling
// windows: a pluggable window policy decides where sessions open and close,
// the aggregator folds the resulting reports into per-epoch accumulations,
// and the timeline records batch timestamps alongside them.
package monitor

import (
	"fmt"
	"time"
)

// WindowAction tells the aggregator what to do with the sampling window at a
// lifecycle event.
type WindowAction int

const (
	// WindowHold leaves the current window untouched
	WindowHold WindowAction = iota

	// WindowOpen opens a new sampling window
	WindowOpen

	// WindowCut closes the current window, accumulates it and opens the
	// next one, keeping coverage continuous
	WindowCut

	// WindowClose closes the current window and accumulates it
	WindowClose
)

// WindowPolicy aligns sampling windows to training lifecycle events.
// Policies are consulted at every event with the current time and answer
// with the action to take; they hold whatever state they need between
// events. Policies are not safe for concurrent use, matching the
// single-threaded callback protocol.
type WindowPolicy interface {
	Name() string
	EpochBegin(now time.Time) WindowAction
	IterationBegin(now time.Time) WindowAction
	IterationEnd(now time.Time) WindowAction
	EpochEnd(now time.Time) WindowAction
}

// Window policy names accepted by NewWindowPolicy.
const (
	EpochWindowPolicy     = "epoch"
	TimeChunkWindowPolicy = "time-chunk"
	BatchWindowPolicy     = "batch"
)

// DefaultChunkPeriod is the minimum elapsed time before a time-chunk
// boundary is considered.
const DefaultChunkPeriod = 2 * time.Second

// NewWindowPolicy builds the named policy. The chunk period only applies to
// the time-chunk policy.
func NewWindowPolicy(name string, chunkPeriod time.Duration) (WindowPolicy, error) {
	switch name {
	case EpochWindowPolicy:
		return EpochWindow{}, nil
	case TimeChunkWindowPolicy:
		return NewTimeChunkWindow(chunkPeriod), nil
	case BatchWindowPolicy:
		return BatchWindow{}, nil
	default:
		return nil, fmt.Errorf("unknown window policy: %q", name)
	}
}

// EpochWindow runs one sampling session per epoch.
type EpochWindow struct{}

var _ WindowPolicy = EpochWindow{}

func (EpochWindow) Name() string                        { return EpochWindowPolicy }
func (EpochWindow) EpochBegin(time.Time) WindowAction   { return WindowOpen }
func (EpochWindow) IterationBegin(time.Time) WindowAction { return WindowHold }
func (EpochWindow) IterationEnd(time.Time) WindowAction { return WindowHold }
func (EpochWindow) EpochEnd(time.Time) WindowAction     { return WindowClose }

// TimeChunkWindow covers each epoch with one session, cut into time-bounded
// chunks: the first iteration end more than Period after the previous
// boundary closes the window and opens the next. Boundaries are only checked
// at iteration ends, so jitter up to one iteration's duration is expected.
type TimeChunkWindow struct {
	period       time.Duration
	lastBoundary time.Time
}

var _ WindowPolicy = (*TimeChunkWindow)(nil)

// NewTimeChunkWindow builds a time-chunk policy; non-positive periods fall
// back to DefaultChunkPeriod.
func NewTimeChunkWindow(period time.Duration) *TimeChunkWindow {
	if period <= 0 {
		period = DefaultChunkPeriod
	}
	return &TimeChunkWindow{period: period}
}

func (w *TimeChunkWindow) Name() string { return TimeChunkWindowPolicy }

func (w *TimeChunkWindow) EpochBegin(now time.Time) WindowAction {
	w.lastBoundary = now
	return WindowOpen
}

func (w *TimeChunkWindow) IterationBegin(time.Time) WindowAction { return WindowHold }

func (w *TimeChunkWindow) IterationEnd(now time.Time) WindowAction {
	if now.Sub(w.lastBoundary) <= w.period {
		return WindowHold
	}
	w.lastBoundary = now
	return WindowCut
}

func (w *TimeChunkWindow) EpochEnd(time.Time) WindowAction { return WindowClose }

// BatchWindow runs one sampling session per iteration; epoch boundaries
// leave sessions alone.
type BatchWindow struct{}

var _ WindowPolicy = BatchWindow{}

func (BatchWindow) Name() string                          { return BatchWindowPolicy }
func (BatchWindow) EpochBegin(time.Time) WindowAction     { return WindowHold }
func (BatchWindow) IterationBegin(time.Time) WindowAction { return WindowOpen }
func (BatchWindow) IterationEnd(time.Time) WindowAction   { return WindowClose }
func (BatchWindow) EpochEnd(time.Time) WindowAction       { return WindowHold }
