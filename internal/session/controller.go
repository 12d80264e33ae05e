// SPDX-FileCopyrightText: 2025 The Wattline Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/wattline/wattline/internal/telemetry"
)

// DefaultSamplePeriod is the backend sample rate used when none is
// configured.
const DefaultSamplePeriod = 10 * time.Millisecond

// DefaultSignals is the signal set requested when none is configured.
var DefaultSignals = []string{"nvml", "linux_process", "JOULES", "GRAMS_OF_CO2"}

// OptFn configures a Controller
type OptFn func(*Controller)

// WithLogger sets the controller's logger
func WithLogger(logger *slog.Logger) OptFn {
	return func(c *Controller) {
		c.logger = logger.With("service", "session")
	}
}

// WithSamplePeriod sets the backend sample rate passed to Client.Start
func WithSamplePeriod(period time.Duration) OptFn {
	return func(c *Controller) {
		c.period = period
	}
}

// WithSignals sets the signal set passed to Client.Read and Client.Dump
func WithSignals(signals ...string) OptFn {
	return func(c *Controller) {
		c.signals = signals
	}
}

// Controller owns the start/stop lifecycle of at most one sampling session
// for one bound process. It is strictly reactive: no internal goroutines or
// timers, and it must be driven from a single goroutine. Before the first
// session of its lifetime it purges stale backend state.
type Controller struct {
	client  Client
	pid     int
	period  time.Duration
	signals []string
	logger  *slog.Logger

	purged bool
	open   bool
}

// NewController binds a controller to the backend client and target pid
func NewController(client Client, pid int, opts ...OptFn) *Controller {
	c := &Controller{
		client:  client,
		pid:     pid,
		period:  DefaultSamplePeriod,
		signals: DefaultSignals,
		logger:  slog.Default().With("service", "session"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PID returns the bound target process id
func (c *Controller) PID() int {
	return c.pid
}

// Open reports whether a sampling session is currently open
func (c *Controller) Open() bool {
	return c.open
}

// BeginSample opens a sampling session for the bound pid. The first call of
// the controller's lifetime purges stale backend state beforehand. Returns
// ErrSessionAlreadyOpen if a session is open; backend failures are wrapped
// and propagated without retry.
func (c *Controller) BeginSample() error {
	if c.open {
		return ErrSessionAlreadyOpen
	}
	if !c.purged {
		if err := c.client.Purge(); err != nil {
			return fmt.Errorf("purging stale backend state: %w", err)
		}
		c.purged = true
	}
	if err := c.client.Start(c.pid, c.period); err != nil {
		return fmt.Errorf("starting sampling session for pid %d: %w", c.pid, err)
	}
	c.open = true
	c.logger.Debug("Opened sampling session", "pid", c.pid, "period", c.period)
	return nil
}

// EndSample closes the open session and returns its validated report.
// Returns ErrNoOpenSession, leaving state unchanged, if no session is open.
// If the backend Stop fails the session is considered still open so the
// caller may try to close it again.
func (c *Controller) EndSample() (*telemetry.Report, error) {
	if !c.open {
		return nil, ErrNoOpenSession
	}
	if err := c.client.Stop(c.pid); err != nil {
		return nil, fmt.Errorf("stopping sampling session for pid %d: %w", c.pid, err)
	}
	c.open = false

	report, err := c.client.Read(c.pid, c.signals)
	if err != nil {
		return nil, fmt.Errorf("reading report for pid %d: %w", c.pid, err)
	}
	if err := report.Validate(); err != nil {
		return nil, err
	}
	c.logger.Debug("Closed sampling session",
		"pid", c.pid,
		"window", report.Duration(),
		"samples", len(report.Samples))
	return report, nil
}

// DumpSample closes the open session and writes its report to path through
// the backend instead of reading it back. Returns ErrNoOpenSession if no
// session is open.
func (c *Controller) DumpSample(path string) error {
	if !c.open {
		return ErrNoOpenSession
	}
	if err := c.client.Stop(c.pid); err != nil {
		return fmt.Errorf("stopping sampling session for pid %d: %w", c.pid, err)
	}
	c.open = false

	if err := c.client.Dump(c.pid, path, c.signals); err != nil {
		return fmt.Errorf("dumping report for pid %d: %w", c.pid, err)
	}
	c.logger.Debug("Dumped sampling session", "pid", c.pid, "path", path)
	return nil
}
