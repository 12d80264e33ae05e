// SPDX-FileCopyrightText: 2025 The Wattline Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"fmt"
	"log/slog"

	"k8s.io/utils/clock"

	"github.com/wattline/wattline/internal/session"
	"github.com/wattline/wattline/internal/telemetry"
)

// MergeMode selects when chunk reports are folded into the epoch
// accumulation: identical final output, different merge-cost timing.
type MergeMode string

const (
	// MergeEager folds each report into the accumulation as it arrives
	MergeEager MergeMode = "eager"

	// MergeDeferred keeps per-chunk reports and folds once at epoch end
	MergeDeferred MergeMode = "deferred"
)

// Valid reports whether m is a known merge mode
func (m MergeMode) Valid() bool {
	return m == MergeEager || m == MergeDeferred
}

// AggregatorOpts configures an Aggregator. Zero values fall back to eager
// merging, the real clock, a default logger and an enabled digest.
type AggregatorOpts struct {
	Mode          MergeMode
	SkipDigest    bool
	DigestOptions telemetry.DigestOptions
	Clock         clock.PassiveClock
	Logger        *slog.Logger
}

// Aggregator drives the session controller according to a window policy and
// accumulates the resulting reports for the current epoch. The accumulation
// is owned exclusively by the aggregator and moved out at epoch end; a fresh
// one begins for the next epoch. Like the controller, the aggregator is
// strictly reactive and must be driven from a single goroutine.
type Aggregator struct {
	controller *session.Controller
	policy     WindowPolicy
	mode       MergeMode
	skipDigest bool
	digestOpts telemetry.DigestOptions
	clock      clock.PassiveClock
	logger     *slog.Logger

	merged  *telemetry.Report   // eager accumulation
	chunks  []*telemetry.Report // deferred accumulation
	windows int
}

// NewAggregator binds an aggregator to a controller and window policy
func NewAggregator(controller *session.Controller, policy WindowPolicy, opts AggregatorOpts) (*Aggregator, error) {
	if controller == nil {
		return nil, fmt.Errorf("aggregator needs a session controller")
	}
	if policy == nil {
		return nil, fmt.Errorf("aggregator needs a window policy")
	}
	if opts.Mode == "" {
		opts.Mode = MergeEager
	}
	if !opts.Mode.Valid() {
		return nil, fmt.Errorf("unknown merge mode: %q", opts.Mode)
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Aggregator{
		controller: controller,
		policy:     policy,
		mode:       opts.Mode,
		skipDigest: opts.SkipDigest,
		digestOpts: opts.DigestOptions,
		clock:      opts.Clock,
		logger:     opts.Logger.With("service", "aggregator", "policy", policy.Name()),
	}, nil
}

// Windows returns the number of sampling windows accumulated so far in the
// current epoch.
func (a *Aggregator) Windows() int {
	return a.windows
}

// EpochBegin resets the accumulation and applies the policy's epoch-begin
// action.
func (a *Aggregator) EpochBegin(logs map[string]float64) error {
	a.reset()
	return a.apply(a.policy.EpochBegin(a.clock.Now()), logs)
}

// IterationBegin applies the policy's iteration-begin action
func (a *Aggregator) IterationBegin(logs map[string]float64) error {
	return a.apply(a.policy.IterationBegin(a.clock.Now()), logs)
}

// IterationEnd applies the policy's iteration-end action; under the
// time-chunk policy this is where chunk boundaries fire.
func (a *Aggregator) IterationEnd(logs map[string]float64) error {
	return a.apply(a.policy.IterationEnd(a.clock.Now()), logs)
}

// EpochEnd closes whatever window the policy still holds open and moves the
// epoch's accumulation out to the caller, tagged with the epoch index.
func (a *Aggregator) EpochEnd(epoch int, logs map[string]float64) (*telemetry.EpochReport, error) {
	if err := a.apply(a.policy.EpochEnd(a.clock.Now()), logs); err != nil {
		return nil, err
	}
	return a.flush(epoch, logs)
}

func (a *Aggregator) apply(action WindowAction, logs map[string]float64) error {
	switch action {
	case WindowHold:
		return nil

	case WindowOpen:
		return a.controller.BeginSample()

	case WindowCut:
		if err := a.close(logs); err != nil {
			return err
		}
		return a.controller.BeginSample()

	case WindowClose:
		return a.close(logs)

	default:
		return fmt.Errorf("unknown window action: %d", action)
	}
}

// close ends the open session and accumulates its report
func (a *Aggregator) close(logs map[string]float64) error {
	report, err := a.controller.EndSample()
	if err != nil {
		return err
	}
	a.windows++

	switch a.mode {
	case MergeDeferred:
		a.chunks = append(a.chunks, report)

	default: // MergeEager
		if a.merged == nil {
			a.merged = report
		} else if err := a.merged.Merge(report); err != nil {
			return err
		}
		if !a.skipDigest {
			telemetry.AppendDigest(a.merged, logs, a.digestOpts)
		}
	}

	a.logger.Debug("Accumulated sampling window",
		"windows", a.windows,
		"samples", len(report.Samples))
	return nil
}

// flush collapses the accumulation into the epoch report and resets for the
// next epoch. Deferred mode pays its merge cost and writes its digest here.
func (a *Aggregator) flush(epoch int, logs map[string]float64) (*telemetry.EpochReport, error) {
	merged := a.merged
	if a.mode == MergeDeferred {
		for _, chunk := range a.chunks {
			if merged == nil {
				merged = chunk
				continue
			}
			if err := merged.Merge(chunk); err != nil {
				return nil, err
			}
		}
	}
	if merged == nil {
		merged = &telemetry.Report{}
	}
	if a.mode == MergeDeferred && !a.skipDigest {
		telemetry.AppendDigest(merged, logs, a.digestOpts)
	}

	epochReport := &telemetry.EpochReport{
		Epoch:   epoch,
		Windows: a.windows,
		Report:  *merged,
	}
	a.reset()

	a.logger.Debug("Flushed epoch accumulation",
		"epoch", epoch,
		"windows", epochReport.Windows,
		"samples", len(epochReport.Report.Samples))
	return epochReport, nil
}

func (a *Aggregator) reset() {
	a.merged = nil
	a.chunks = nil
	a.windows = 0
}
