// SPDX-FileCopyrightText: 2025 The Wattline Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend implements the in-process sampling service: a
// session.Client that fans sampling ticks out to measurement sources and
// assembles their samples into reports, one capture per target pid.
package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/wattline/wattline/internal/service"
	"github.com/wattline/wattline/internal/session"
	"github.com/wattline/wattline/internal/telemetry"
)

var (
	// ErrSessionExists is returned by Start when a capture is already open
	// for the pid, and by Read while one is still open.
	ErrSessionExists = errors.New("sampling session already exists")

	// ErrSessionNotFound is returned by Stop when no capture is open for
	// the pid.
	ErrSessionNotFound = errors.New("no sampling session")

	// ErrNoReport is returned by Read and Dump when no completed report is
	// held for the pid.
	ErrNoReport = errors.New("no completed report")
)

// DefaultCarbonIntensity is the grid intensity used for derived emissions
// when none is configured, in grams of CO2 per kWh.
const DefaultCarbonIntensity = 475.0

// joulesPerKWh converts a gCO2/kWh intensity into grams per joule
const joulesPerKWh = 3.6e6

// Source is one measurement provider multiplexed by the Service. Begin
// establishes whatever baseline the source needs for the pid; Sample returns
// the measurements accumulated since the previous call. Sources that also
// implement service.Initializer or service.Shutdowner get those hooks run by
// the Service's own Init and Shutdown.
type Source interface {
	Name() string
	Begin(pid int, now time.Time) error
	Sample(pid int, now time.Time) ([]telemetry.Sample, error)
}

// OptFn is a functional option for configuring the Service
type OptFn func(*Service)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) OptFn {
	return func(s *Service) {
		s.logger = logger.With("service", "backend")
	}
}

// WithClock sets the clock driving sampling ticks and report windows
func WithClock(clk clock.WithTicker) OptFn {
	return func(s *Service) {
		s.clock = clk
	}
}

// WithCarbonIntensity sets the grid intensity for derived emissions in
// gCO2/kWh. Non-positive values disable emission samples.
func WithCarbonIntensity(gramsPerKWh float64) OptFn {
	return func(s *Service) {
		s.carbonIntensity = gramsPerKWh
	}
}

// Service samples the registered sources while a session is open and stores
// one completed report per pid. Captures run on their own goroutines;
// registries are mutex-guarded, so the Service is safe for concurrent use.
type Service struct {
	logger          *slog.Logger
	clock           clock.WithTicker
	carbonIntensity float64
	sources         []Source

	mu        sync.Mutex
	captures  map[int]*capture
	completed map[int]*telemetry.Report
}

var (
	_ session.Client      = (*Service)(nil)
	_ service.Initializer = (*Service)(nil)
	_ service.Shutdowner  = (*Service)(nil)
)

// capture is one open sampling session: a tick goroutine appending sample
// rounds until stopCh closes.
type capture struct {
	pid    int
	start  time.Time
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	samples []telemetry.Sample
}

func (c *capture) append(samples []telemetry.Sample) {
	if len(samples) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, samples...)
}

func (c *capture) take() []telemetry.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.samples
}

// NewService builds a backend service over the given sources. Sample order
// within a round follows source registration order.
func NewService(sources []Source, opts ...OptFn) *Service {
	s := &Service{
		logger:          slog.Default(),
		clock:           clock.RealClock{},
		carbonIntensity: DefaultCarbonIntensity,
		sources:         sources,
		captures:        make(map[int]*capture),
		completed:       make(map[int]*telemetry.Report),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the service name
func (s *Service) Name() string {
	return "backend"
}

// Init initializes sources that need it, in registration order. The first
// failure aborts.
func (s *Service) Init() error {
	for _, src := range s.sources {
		init, ok := src.(service.Initializer)
		if !ok {
			continue
		}
		if err := init.Init(); err != nil {
			return fmt.Errorf("failed to initialize source %s: %w", src.Name(), err)
		}
		s.logger.Debug("Source initialized", "source", src.Name())
	}
	return nil
}

// Shutdown releases sources that hold resources. All sources are attempted;
// failures are joined.
func (s *Service) Shutdown() error {
	var errs error
	for _, src := range s.sources {
		sd, ok := src.(service.Shutdowner)
		if !ok {
			continue
		}
		if err := sd.Shutdown(); err != nil {
			errs = errors.Join(errs, fmt.Errorf("failed to shut down source %s: %w", src.Name(), err))
		}
	}
	return errs
}

// Start opens a capture for pid: every source is baselined at the session
// start and a goroutine samples them at the given period until Stop.
func (s *Service) Start(pid int, period time.Duration) error {
	if period <= 0 {
		return fmt.Errorf("invalid sample period %s: must be positive", period)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, open := s.captures[pid]; open {
		return fmt.Errorf("%w: pid %d", ErrSessionExists, pid)
	}

	now := s.clock.Now()
	for _, src := range s.sources {
		if err := src.Begin(pid, now); err != nil {
			return fmt.Errorf("source %s failed to begin sampling for pid %d: %w", src.Name(), pid, err)
		}
	}

	c := &capture{
		pid:    pid,
		start:  now,
		stopCh: make(chan struct{}),
	}
	s.captures[pid] = c

	c.wg.Add(1)
	go s.run(c, period)

	s.logger.Debug("Opened capture", "pid", pid, "period", period)
	return nil
}

// run samples all sources on each tick until the capture stops. A failed
// round is logged and skipped; the capture stays open.
func (s *Service) run(c *capture, period time.Duration) {
	defer c.wg.Done()

	ticker := s.clock.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C():
			samples, err := s.sampleAll(c.pid, s.clock.Now())
			if err != nil {
				s.logger.Warn("Sampling round failed", "pid", c.pid, "error", err)
				continue
			}
			c.append(samples)
		}
	}
}

// sampleAll collects one round from every source concurrently and stitches
// the results back in source registration order.
func (s *Service) sampleAll(pid int, now time.Time) ([]telemetry.Sample, error) {
	results := make([][]telemetry.Sample, len(s.sources))

	g := errgroup.Group{}
	for i, src := range s.sources {
		g.Go(func() error {
			samples, err := src.Sample(pid, now)
			if err != nil {
				return fmt.Errorf("source %s: %w", src.Name(), err)
			}
			results[i] = samples
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var round []telemetry.Sample
	for _, samples := range results {
		round = append(round, samples...)
	}
	return round, nil
}

// Stop closes the capture for pid and stores the completed report, replacing
// any previous one. A final synchronous round runs at stop so sessions
// shorter than the sample period still yield samples.
func (s *Service) Stop(pid int) error {
	s.mu.Lock()
	c, open := s.captures[pid]
	if !open {
		s.mu.Unlock()
		return fmt.Errorf("%w: pid %d", ErrSessionNotFound, pid)
	}
	delete(s.captures, pid)
	s.mu.Unlock()

	close(c.stopCh)
	c.wg.Wait()

	now := s.clock.Now()
	if samples, err := s.sampleAll(pid, now); err != nil {
		s.logger.Warn("Final sampling round failed", "pid", pid, "error", err)
	} else {
		c.append(samples)
	}

	report := &telemetry.Report{
		Start:   c.start,
		Stop:    now,
		Samples: s.attachEmissions(c.take()),
	}

	s.mu.Lock()
	s.completed[pid] = report
	s.mu.Unlock()

	s.logger.Debug("Closed capture",
		"pid", pid,
		"window", report.Duration(),
		"samples", len(report.Samples))
	return nil
}

// attachEmissions derives GRAMS_OF_CO2 samples from every JOULES sample
// using the configured grid intensity. Emission samples carry the source of
// the energy sample they were derived from.
func (s *Service) attachEmissions(samples []telemetry.Sample) []telemetry.Sample {
	if s.carbonIntensity <= 0 {
		return samples
	}
	var emissions []telemetry.Sample
	for _, smp := range samples {
		if smp.Unit != telemetry.Joules {
			continue
		}
		emissions = append(emissions, telemetry.Sample{
			Component:   smp.Component,
			ComponentID: smp.ComponentID,
			Unit:        telemetry.GramsOfCO2,
			Source:      smp.Source,
			Value:       smp.Value * s.carbonIntensity / joulesPerKWh,
			Timestamp:   smp.Timestamp,
		})
	}
	return append(samples, emissions...)
}

// Read returns the completed report for pid filtered by the requested
// signals. The returned report is owned by the caller.
func (s *Service) Read(pid int, signals []string) (*telemetry.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, open := s.captures[pid]; open {
		return nil, fmt.Errorf("%w: pid %d is still being sampled", ErrSessionExists, pid)
	}
	report, ok := s.completed[pid]
	if !ok {
		return nil, fmt.Errorf("%w: pid %d", ErrNoReport, pid)
	}
	return report.FilterSignals(signals), nil
}

// Dump writes the completed report for pid to path as indented JSON,
// creating parent directories as needed.
func (s *Service) Dump(pid int, path string, signals []string) error {
	report, err := s.Read(pid, signals)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create dump directory %s: %w", dir, err)
		}
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report for pid %d: %w", pid, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report for pid %d: %w", pid, err)
	}

	s.logger.Info("Dumped report", "pid", pid, "path", path, "samples", len(report.Samples))
	return nil
}

// Purge aborts all open captures, discarding their samples, and drops all
// completed reports.
func (s *Service) Purge() error {
	s.mu.Lock()
	aborted := make([]*capture, 0, len(s.captures))
	for _, c := range s.captures {
		aborted = append(aborted, c)
	}
	s.captures = make(map[int]*capture)
	s.completed = make(map[int]*telemetry.Report)
	s.mu.Unlock()

	for _, c := range aborted {
		close(c.stopCh)
		c.wg.Wait()
	}

	s.logger.Debug("Purged backend state", "aborted", len(aborted))
	return nil
}
