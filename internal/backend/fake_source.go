// SPDX-FileCopyrightText: 2025 The Wattline Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/wattline/wattline/internal/telemetry"
)

const (
	fakeSourceName = "fake"

	defaultFakePowerBase  = 100.0  // 100W base
	defaultFakePowerRange = 50.0   // ±25W variation
	defaultFakeEnergyStep = 1000.0 // 1kJ per round

	// randomFactor is the relative jitter applied to the energy step
	randomFactor = 0.2
)

// FakeOptFn is a functional option for configuring a FakeSource
type FakeOptFn func(*FakeSource)

// WithFakeDevices sets the simulated GPU device IDs
func WithFakeDevices(devices []uint) FakeOptFn {
	return func(f *FakeSource) {
		if len(devices) > 0 {
			f.devices = devices
		}
	}
}

// WithFakePowerBase sets the base power consumption in watts
func WithFakePowerBase(watts float64) FakeOptFn {
	return func(f *FakeSource) {
		f.powerBase = watts
	}
}

// WithFakePowerRange sets the power variation range in watts
func WithFakePowerRange(watts float64) FakeOptFn {
	return func(f *FakeSource) {
		f.powerRange = watts
	}
}

// WithFakeEnergyStep sets the energy increment per round in joules
func WithFakeEnergyStep(joules float64) FakeOptFn {
	return func(f *FakeSource) {
		f.energyStep = joules
	}
}

// WithFakeSeed makes the generated values deterministic
func WithFakeSeed(seed int64) FakeOptFn {
	return func(f *FakeSource) {
		f.rng = rand.New(rand.NewSource(seed))
	}
}

// FakeSource synthesizes GPU-shaped samples without touching hardware:
// power around a base value, an accumulating energy step with jitter, and a
// utilization percentage. It exists for development machines and for
// exercising the full pipeline in tests.
type FakeSource struct {
	devices    []uint
	powerBase  float64
	powerRange float64
	energyStep float64

	mu  sync.Mutex
	rng *rand.Rand
}

var _ Source = (*FakeSource)(nil)

// NewFakeSource builds a fake source; defaults simulate one 100W GPU
func NewFakeSource(opts ...FakeOptFn) *FakeSource {
	f := &FakeSource{
		devices:    []uint{0},
		powerBase:  defaultFakePowerBase,
		powerRange: defaultFakePowerRange,
		energyStep: defaultFakeEnergyStep,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name returns the source name
func (f *FakeSource) Name() string {
	return fakeSourceName
}

// Begin is a no-op; the fake source needs no baseline
func (f *FakeSource) Begin(pid int, now time.Time) error {
	return nil
}

// Sample emits watts, joules and activity for each simulated device
func (f *FakeSource) Sample(pid int, now time.Time) ([]telemetry.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	samples := make([]telemetry.Sample, 0, 3*len(f.devices))
	for _, dev := range f.devices {
		id := strconv.FormatUint(uint64(dev), 10)
		watts := f.powerBase + (f.rng.Float64()-0.5)*f.powerRange
		joules := f.energyStep * (1 + f.rng.Float64()*randomFactor)
		activity := 10.0 + f.rng.Float64()*80.0

		samples = append(samples,
			telemetry.Sample{Component: "gpu", ComponentID: id, Unit: telemetry.Watts, Source: fakeSourceName, Value: watts, Timestamp: now},
			telemetry.Sample{Component: "gpu", ComponentID: id, Unit: telemetry.Joules, Source: fakeSourceName, Value: joules, Timestamp: now},
			telemetry.Sample{Component: "gpu", ComponentID: id, Unit: telemetry.Activity, Source: fakeSourceName, Value: activity, Timestamp: now},
		)
	}
	return samples, nil
}
