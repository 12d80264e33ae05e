// SPDX-FileCopyrightText: 2025 The Wattline Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/NVIDIA/go-dcgm/pkg/dcgm"

	"github.com/wattline/wattline/internal/telemetry"
)

const (
	dcgmSourceName = "nvml"

	dcgmModeEmbedded   = "embedded"
	dcgmModeStandalone = "standalone"

	dcgmUpdateFreq     = 1 * time.Second
	dcgmMaxKeepAge     = 30 * time.Second
	dcgmMaxKeepSamples = 1000
)

// dcgmDeviceFields are the device-level fields watched for every session
var dcgmDeviceFields = []dcgm.Short{
	dcgm.DCGM_FI_DEV_POWER_USAGE,
	dcgm.DCGM_FI_DEV_TOTAL_ENERGY_CONSUMPTION,
}

// DCGMOptFn is a functional option for configuring a DCGMSource
type DCGMOptFn func(*DCGMSource)

// WithDCGMLogger sets the logger
func WithDCGMLogger(logger *slog.Logger) DCGMOptFn {
	return func(d *DCGMSource) {
		d.logger = logger
	}
}

// DCGMSource reads NVIDIA GPU measurements through DCGM: device power
// (WATTS), device energy counter deltas (JOULES), and per-process SM
// utilization and energy under the gpu-process component. Embedded mode
// starts a local DCGM engine; standalone mode connects to an external host
// engine.
type DCGMSource struct {
	logger  *slog.Logger
	devices []uint
	mode    string
	address string

	cleanup    func()
	group      dcgm.GroupHandle
	fieldGroup dcgm.FieldHandle

	mu         sync.Mutex
	lastQuery  time.Time
	lastEnergy map[uint]int64          // device energy counters, mJ
	procEnergy map[int]map[uint]uint64 // per-pid process energy counters, J
}

var _ Source = (*DCGMSource)(nil)

// NewDCGMSource builds a DCGM source for the given devices; empty devices
// default to GPU 0, an empty mode to embedded.
func NewDCGMSource(devices []uint, mode, address string, opts ...DCGMOptFn) *DCGMSource {
	if len(devices) == 0 {
		devices = []uint{0}
	}
	if mode == "" {
		mode = dcgmModeEmbedded
	}
	d := &DCGMSource{
		logger:     slog.Default(),
		devices:    devices,
		mode:       mode,
		address:    address,
		lastEnergy: make(map[uint]int64),
		procEnergy: make(map[int]map[uint]uint64),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("source", dcgmSourceName)
	return d
}

// Name returns the source name
func (d *DCGMSource) Name() string {
	return dcgmSourceName
}

// Init connects to DCGM and sets up the watch groups for the configured
// devices.
func (d *DCGMSource) Init() error {
	var cleanup func()
	var err error

	switch d.mode {
	case dcgmModeStandalone:
		if d.address == "" {
			return fmt.Errorf("DCGM address is required for standalone mode")
		}
		d.logger.Info("Connecting to DCGM host engine", "address", d.address)
		cleanup, err = dcgmLib.InitStandalone(d.address)
	default:
		d.logger.Info("Initializing embedded DCGM engine")
		cleanup, err = dcgmLib.InitEmbedded()
	}
	if err != nil {
		return fmt.Errorf("failed to initialize DCGM (mode=%s): %w", d.mode, err)
	}
	d.cleanup = cleanup

	defer func() {
		if err != nil {
			cleanup()
			d.cleanup = nil
			d.group = dcgm.GroupHandle{}
			d.fieldGroup = dcgm.FieldHandle{}
		}
	}()

	d.group, err = dcgmLib.WatchPidFieldsEx(dcgmUpdateFreq, dcgmMaxKeepAge, dcgmMaxKeepSamples, d.devices...)
	if err != nil {
		return fmt.Errorf("failed to create DCGM watch group: %w", err)
	}

	fieldGroupName := fmt.Sprintf("wattline_device_fields_%d", time.Now().UnixNano())
	d.fieldGroup, err = dcgmLib.FieldGroupCreate(fieldGroupName, dcgmDeviceFields)
	if err != nil {
		_ = dcgmLib.DestroyGroup(d.group)
		return fmt.Errorf("failed to create DCGM field group: %w", err)
	}

	if err = dcgmLib.WatchFieldsWithGroup(d.fieldGroup, d.group); err != nil {
		_ = dcgmLib.FieldGroupDestroy(d.fieldGroup)
		_ = dcgmLib.DestroyGroup(d.group)
		return fmt.Errorf("failed to watch DCGM fields: %w", err)
	}

	d.lastQuery = time.Now()
	d.logger.Info("DCGM source initialized", "mode", d.mode, "devices", d.devices)
	return nil
}

// Shutdown destroys the watch groups and stops the DCGM engine
func (d *DCGMSource) Shutdown() error {
	if d.fieldGroup.GetHandle() != 0 {
		_ = dcgmLib.FieldGroupDestroy(d.fieldGroup)
		d.fieldGroup = dcgm.FieldHandle{}
	}
	if d.group.GetHandle() != 0 {
		_ = dcgmLib.DestroyGroup(d.group)
		d.group = dcgm.GroupHandle{}
	}
	if d.cleanup != nil {
		d.cleanup()
		d.cleanup = nil
	}
	return nil
}

// Begin primes the energy counters so the session's first sample reports
// deltas from session start rather than from engine start.
func (d *DCGMSource) Begin(pid int, now time.Time) error {
	if d.cleanup == nil {
		return fmt.Errorf("DCGM source not initialized")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	values, next, err := dcgmLib.GetValuesSince(d.group, d.fieldGroup, d.lastQuery)
	if err != nil {
		return fmt.Errorf("failed to prime DCGM counters: %w", err)
	}
	d.lastQuery = next
	for _, val := range values {
		if val.Status != 0 {
			continue
		}
		if val.FieldID == dcgm.DCGM_FI_DEV_TOTAL_ENERGY_CONSUMPTION {
			d.lastEnergy[val.EntityID] = val.Int64()
		}
	}

	baseline := make(map[uint]uint64)
	infos, err := dcgmLib.GetProcessInfo(d.group, uint(pid))
	if err != nil {
		// The process may not have touched a GPU yet
		d.logger.Debug("No DCGM process stats at session start", "pid", pid, "error", err)
	} else {
		for _, info := range infos {
			if info.ProcessUtilization.EnergyConsumed != nil {
				baseline[info.GPU] = *info.ProcessUtilization.EnergyConsumed
			}
		}
	}
	d.procEnergy[pid] = baseline
	return nil
}

// Sample reads the device fields accumulated since the last query plus the
// pid's process stats.
func (d *DCGMSource) Sample(pid int, now time.Time) ([]telemetry.Sample, error) {
	if d.cleanup == nil {
		return nil, fmt.Errorf("DCGM source not initialized")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	values, next, err := dcgmLib.GetValuesSince(d.group, d.fieldGroup, d.lastQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to read DCGM device fields: %w", err)
	}
	d.lastQuery = next

	var samples []telemetry.Sample
	for _, val := range values {
		if val.Status != 0 { // DCGM_ST_OK
			continue
		}

		gpuID := val.EntityID
		id := strconv.FormatUint(uint64(gpuID), 10)

		switch val.FieldID {
		case dcgm.DCGM_FI_DEV_POWER_USAGE:
			samples = append(samples, telemetry.Sample{
				Component:   "gpu",
				ComponentID: id,
				Unit:        telemetry.Watts,
				Source:      dcgmSourceName,
				Value:       val.Float64(),
				Timestamp:   now,
			})

		case dcgm.DCGM_FI_DEV_TOTAL_ENERGY_CONSUMPTION:
			mj := val.Int64()
			if last, ok := d.lastEnergy[gpuID]; ok {
				samples = append(samples, telemetry.Sample{
					Component:   "gpu",
					ComponentID: id,
					Unit:        telemetry.Joules,
					Source:      dcgmSourceName,
					Value:       float64(mj-last) / 1000.0,
					Timestamp:   now,
				})
			}
			d.lastEnergy[gpuID] = mj
		}
	}

	return append(samples, d.processSamples(pid, now)...), nil
}

// processSamples reads the pid's per-GPU utilization and energy. Process
// accounting may be unavailable; that is logged, not surfaced.
func (d *DCGMSource) processSamples(pid int, now time.Time) []telemetry.Sample {
	infos, err := dcgmLib.GetProcessInfo(d.group, uint(pid))
	if err != nil {
		d.logger.Debug("DCGM process stats unavailable", "pid", pid, "error", err)
		return nil
	}

	baseline := d.procEnergy[pid]
	if baseline == nil {
		baseline = make(map[uint]uint64)
		d.procEnergy[pid] = baseline
	}

	var samples []telemetry.Sample
	for _, info := range infos {
		id := strconv.FormatUint(uint64(info.GPU), 10)

		if util := info.ProcessUtilization.SmUtil; util != nil {
			samples = append(samples, telemetry.Sample{
				Component:   "gpu-process",
				ComponentID: id,
				Unit:        telemetry.Activity,
				Source:      dcgmSourceName,
				Value:       *util,
				Timestamp:   now,
			})
		}
		if energy := info.ProcessUtilization.EnergyConsumed; energy != nil {
			if last, ok := baseline[info.GPU]; ok && *energy >= last {
				samples = append(samples, telemetry.Sample{
					Component:   "gpu-process",
					ComponentID: id,
					Unit:        telemetry.Joules,
					Source:      dcgmSourceName,
					Value:       float64(*energy - last),
					Timestamp:   now,
				})
			}
			baseline[info.GPU] = *energy
		}
	}
	return samples
}
