// SPDX-FileCopyrightText: 2025 The Wattline Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"k8s.io/utils/clock"

	"github.com/wattline/wattline/internal/session"
	"github.com/wattline/wattline/internal/telemetry"
)

// Hooks is the callback surface a training loop drives. Implementations
// receive the epoch or batch index the loop is working on plus the loop's
// mutable metric logs, which hooks may extend with their own entries.
type Hooks interface {
	OnEpochBegin(epoch int, logs map[string]float64) error
	OnIterationBegin(batch int, logs map[string]float64) error
	OnIterationEnd(batch int, logs map[string]float64) error
	OnEpochEnd(epoch int, logs map[string]float64) error
}

// Stats are cumulative counters over the lifetime of a callback
type Stats struct {
	Epochs  int
	Batches int
	Windows int
}

// OptFn is a functional option for configuring a Callback
type OptFn func(*Callback)

// WithWindowPolicy sets the policy deciding when sampling windows open,
// cut and close.
func WithWindowPolicy(policy WindowPolicy) OptFn {
	return func(c *Callback) {
		c.policy = policy
	}
}

// WithMergeMode selects eager or deferred chunk merging
func WithMergeMode(mode MergeMode) OptFn {
	return func(c *Callback) {
		c.mode = mode
	}
}

// WithTimestamps toggles the per-iteration timeline
func WithTimestamps(enabled bool) OptFn {
	return func(c *Callback) {
		c.timestamps = enabled
	}
}

// WithDigest toggles writing energy digests into the loop's metric logs
func WithDigest(enabled bool) OptFn {
	return func(c *Callback) {
		c.skipDigest = !enabled
	}
}

// WithDigestOptions sets the digest filtering options
func WithDigestOptions(opts telemetry.DigestOptions) OptFn {
	return func(c *Callback) {
		c.digestOpts = opts
	}
}

// WithDumpDir switches the callback to dump mode: each epoch's report is
// written under dir as report-<epoch>.json instead of being collected in
// memory. An empty dir leaves collect mode in place.
func WithDumpDir(dir string) OptFn {
	return func(c *Callback) {
		c.dumpDir = dir
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) OptFn {
	return func(c *Callback) {
		c.logger = logger
	}
}

// WithClock sets the clock used for window decisions and timeline stamps
func WithClock(clk clock.PassiveClock) OptFn {
	return func(c *Callback) {
		c.clock = clk
	}
}

// DefaultDumpDir returns the per-process dump directory used when dump mode
// is enabled without an explicit output directory.
func DefaultDumpDir(pid int) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("wattline-%d", pid))
}

// Callback wires a session controller, a window aggregator and an optional
// iteration timeline behind the Hooks surface. Hook methods must be driven
// from a single goroutine, in the loop's natural order; completed epoch
// reports and counters may be read concurrently through the accessors.
type Callback struct {
	controller *session.Controller
	aggregator *Aggregator
	timeline   *Timeline

	policy     WindowPolicy
	mode       MergeMode
	skipDigest bool
	digestOpts telemetry.DigestOptions
	timestamps bool
	dumpDir    string
	clock      clock.PassiveClock
	logger     *slog.Logger

	mu        sync.RWMutex
	reports   map[int]*telemetry.EpochReport
	lastEpoch int
	hasEpoch  bool
	stats     Stats
}

var _ Hooks = (*Callback)(nil)

// NewCallback builds a callback around the given controller. Defaults: a
// time-chunk window policy with the default chunk period, eager merging,
// timestamps on, digest on, collect mode.
func NewCallback(controller *session.Controller, opts ...OptFn) (*Callback, error) {
	if controller == nil {
		return nil, fmt.Errorf("callback needs a session controller")
	}
	c := &Callback{
		controller: controller,
		mode:       MergeEager,
		timestamps: true,
		clock:      clock.RealClock{},
		logger:     slog.Default(),
		reports:    map[int]*telemetry.EpochReport{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("service", "monitor")

	if c.policy == nil {
		c.policy = NewTimeChunkWindow(DefaultChunkPeriod)
	}
	if c.dumpDir == "" {
		agg, err := NewAggregator(controller, c.policy, AggregatorOpts{
			Mode:          c.mode,
			SkipDigest:    c.skipDigest,
			DigestOptions: c.digestOpts,
			Clock:         c.clock,
			Logger:        c.logger,
		})
		if err != nil {
			return nil, err
		}
		c.aggregator = agg
	}
	if c.timestamps {
		c.timeline = NewTimeline(c.clock, c.logger)
	}
	return c, nil
}

// OnEpochBegin opens the epoch. In dump mode the sampling session starts
// here and runs until epoch end.
func (c *Callback) OnEpochBegin(epoch int, logs map[string]float64) error {
	if c.aggregator == nil {
		return c.controller.BeginSample()
	}
	return c.aggregator.EpochBegin(logs)
}

// OnIterationBegin forwards the iteration start to the aggregator and stamps
// the timeline last, closest to the iteration's actual work.
func (c *Callback) OnIterationBegin(batch int, logs map[string]float64) error {
	if c.aggregator != nil {
		if err := c.aggregator.IterationBegin(logs); err != nil {
			return err
		}
	}
	if c.timeline != nil {
		c.timeline.IterationBegin()
	}
	return nil
}

// OnIterationEnd stamps the timeline first, then lets the aggregator cut a
// chunk if the window policy calls for one.
func (c *Callback) OnIterationEnd(batch int, logs map[string]float64) error {
	if c.timeline != nil {
		c.timeline.IterationEnd(batch)
	}
	if c.aggregator != nil {
		if err := c.aggregator.IterationEnd(logs); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.stats.Batches++
	c.mu.Unlock()
	return nil
}

// OnEpochEnd closes the epoch: collect mode publishes the accumulated epoch
// report, dump mode writes it to report-<epoch>.json under the dump
// directory.
func (c *Callback) OnEpochEnd(epoch int, logs map[string]float64) error {
	if c.timeline != nil {
		defer c.timeline.EpochEnd(epoch)
	}

	if c.aggregator == nil {
		path := filepath.Join(c.dumpDir, fmt.Sprintf("report-%d.json", epoch))
		if err := c.controller.DumpSample(path); err != nil {
			return err
		}
		c.mu.Lock()
		c.publishLocked(epoch, nil, 1)
		c.mu.Unlock()
		c.logger.Info("Dumped epoch report", "epoch", epoch, "path", path)
		return nil
	}

	report, err := c.aggregator.EpochEnd(epoch, logs)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.publishLocked(epoch, report, report.Windows)
	c.mu.Unlock()
	return nil
}

// publishLocked records a completed epoch; callers hold c.mu
func (c *Callback) publishLocked(epoch int, report *telemetry.EpochReport, windows int) {
	if report != nil {
		c.reports[epoch] = report
	}
	c.lastEpoch = epoch
	c.hasEpoch = true
	c.stats.Epochs++
	c.stats.Windows += windows
}

// Stats returns a copy of the cumulative counters
func (c *Callback) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// LastEpoch returns the most recently completed epoch and its report. The
// report is nil in dump mode. ok is false before the first epoch completes.
func (c *Callback) LastEpoch() (epoch int, report *telemetry.EpochReport, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.hasEpoch {
		return 0, nil, false
	}
	return c.lastEpoch, c.reports[c.lastEpoch], true
}

// Report returns the collected report for one epoch
func (c *Callback) Report(epoch int) (*telemetry.EpochReport, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.reports[epoch]
	return r, ok
}

// TimelineRows returns the iteration spans recorded so far; nil when
// timestamps are disabled. Safe only once the training loop is quiesced.
func (c *Callback) TimelineRows() []BatchSpan {
	if c.timeline == nil {
		return nil
	}
	return c.timeline.Rows()
}
