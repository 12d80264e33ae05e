// SPDX-FileCopyrightText: 2025 The Wattline Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/procfs"

	"github.com/wattline/wattline/internal/telemetry"
)

const (
	procfsSourceName = "linux_process"

	// defaultTDPWatts is the nominal package power used to estimate CPU
	// energy when no hardware counter is available.
	defaultTDPWatts = 105.0
)

// ProcfsOptFn is a functional option for configuring a ProcfsSource
type ProcfsOptFn func(*ProcfsSource)

// WithTDPWatts sets the nominal package power for the energy estimate
func WithTDPWatts(watts float64) ProcfsOptFn {
	return func(p *ProcfsSource) {
		p.tdpWatts = watts
	}
}

// procSnapshot is one reading of the process and machine CPU counters
type procSnapshot struct {
	ticks     float64 // utime+stime in clock ticks
	procTime  float64 // process CPU seconds
	totalTime float64 // machine CPU seconds across all states
	at        time.Time
}

// ProcfsSource derives CPU samples for the target process from procfs: raw
// scheduler ticks (JIFFIES), the process share of machine CPU time
// (ACTIVITY) and an energy estimate (JOULES) attributing a nominal package
// power by that share. Each sample covers the bucket since the previous
// reading.
type ProcfsSource struct {
	mountPoint string
	tdpWatts   float64

	fs *procfs.FS

	mu        sync.Mutex
	baselines map[int]*procSnapshot
}

var _ Source = (*ProcfsSource)(nil)

// NewProcfsSource builds a procfs source over the given mount point; an
// empty mount point falls back to /proc.
func NewProcfsSource(mountPoint string, opts ...ProcfsOptFn) *ProcfsSource {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	p := &ProcfsSource{
		mountPoint: mountPoint,
		tdpWatts:   defaultTDPWatts,
		baselines:  make(map[int]*procSnapshot),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the source name
func (p *ProcfsSource) Name() string {
	return procfsSourceName
}

// Init mounts the procfs filesystem
func (p *ProcfsSource) Init() error {
	fs, err := procfs.NewFS(p.mountPoint)
	if err != nil {
		return fmt.Errorf("failed to open procfs at %s: %w", p.mountPoint, err)
	}
	p.fs = &fs
	return nil
}

// Begin records the pid's counter baseline at session start
func (p *ProcfsSource) Begin(pid int, now time.Time) error {
	snap, err := p.snapshot(pid)
	if err != nil {
		return err
	}
	snap.at = now

	p.mu.Lock()
	p.baselines[pid] = snap
	p.mu.Unlock()
	return nil
}

// Sample reads the counters and emits the deltas since the previous reading
func (p *ProcfsSource) Sample(pid int, now time.Time) ([]telemetry.Sample, error) {
	p.mu.Lock()
	prev, ok := p.baselines[pid]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no baseline for pid %d: session was not begun", pid)
	}

	cur, err := p.snapshot(pid)
	if err != nil {
		return nil, err
	}
	cur.at = now

	ticks := cur.ticks - prev.ticks
	procDelta := cur.procTime - prev.procTime
	totalDelta := cur.totalTime - prev.totalTime
	elapsed := now.Sub(prev.at).Seconds()

	var activity float64
	if totalDelta > 0 {
		activity = 100 * procDelta / totalDelta
	}
	var joules float64
	if elapsed > 0 {
		joules = p.tdpWatts * (activity / 100) * elapsed
	}

	p.mu.Lock()
	p.baselines[pid] = cur
	p.mu.Unlock()

	id := strconv.Itoa(pid)
	return []telemetry.Sample{
		{Component: "cpu", ComponentID: id, Unit: telemetry.Jiffies, Source: procfsSourceName, Value: ticks, Timestamp: now},
		{Component: "cpu", ComponentID: id, Unit: telemetry.Activity, Source: procfsSourceName, Value: activity, Timestamp: now},
		{Component: "cpu", ComponentID: id, Unit: telemetry.Joules, Source: procfsSourceName, Value: joules, Timestamp: now},
	}, nil
}

// snapshot reads the pid's stat and the machine-wide CPU stat
func (p *ProcfsSource) snapshot(pid int) (*procSnapshot, error) {
	if p.fs == nil {
		return nil, fmt.Errorf("procfs source not initialized")
	}

	proc, err := p.fs.Proc(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to open proc entry for pid %d: %w", pid, err)
	}
	stat, err := proc.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to read stat for pid %d: %w", pid, err)
	}
	sys, err := p.fs.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to read machine stat: %w", err)
	}

	cpu := sys.CPUTotal
	total := cpu.User + cpu.Nice + cpu.System + cpu.Idle +
		cpu.Iowait + cpu.IRQ + cpu.SoftIRQ + cpu.Steal
	return &procSnapshot{
		ticks:     float64(stat.UTime + stat.STime),
		procTime:  stat.CPUTime(),
		totalTime: total,
	}, nil
}
