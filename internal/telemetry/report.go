// SPDX-FileCopyrightText: 2025 The Wattline Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry defines the measurement data model shared by the
// sampling backends and the training-loop monitor: samples keyed by
// component, unit and source, reports covering one sampling window, and the
// digest written into a training loop's metrics map.
package telemetry

import (
	"fmt"
	"time"
)

// Sample is one measurement emitted by a backend source.
type Sample struct {
	// Component is the component type: cpu, gpu, platform, ...
	Component string `json:"component"`

	// ComponentID distinguishes instances of the same component type
	ComponentID string `json:"componentID"`

	Unit   Unit   `json:"unit"`
	Source string `json:"source"`

	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Key returns the grouping key of the sample
func (s Sample) Key() SampleKey {
	return SampleKey{
		Component:   s.Component,
		ComponentID: s.ComponentID,
		Unit:        s.Unit,
		Source:      s.Source,
	}
}

// SampleKey identifies one measurement stream within a report. Every sample
// of a report belongs to exactly one key.
type SampleKey struct {
	Component   string
	ComponentID string
	Unit        Unit
	Source      string
}

func (k SampleKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.Component, k.ComponentID, k.Unit, k.Source)
}

// MalformedReportError reports a sample that cannot be grouped: a missing
// key field or an unknown unit.
type MalformedReportError struct {
	Index  int
	Reason string
}

func (e *MalformedReportError) Error() string {
	return fmt.Sprintf("malformed report: sample %d: %s", e.Index, e.Reason)
}

// Report holds the samples of one sampling-session window [Start, Stop).
// Samples are time-ordered within each key group; groups may interleave.
type Report struct {
	Start   time.Time `json:"start"`
	Stop    time.Time `json:"stop"`
	Samples []Sample  `json:"samples"`
}

// Duration returns the length of the report window
func (r *Report) Duration() time.Duration {
	return r.Stop.Sub(r.Start)
}

// Validate checks that every sample carries the full grouping key and a
// known unit. The first offending sample is reported as a
// MalformedReportError.
func (r *Report) Validate() error {
	for i, s := range r.Samples {
		switch {
		case s.Component == "":
			return &MalformedReportError{Index: i, Reason: "missing component type"}
		case s.ComponentID == "":
			return &MalformedReportError{Index: i, Reason: "missing component id"}
		case s.Source == "":
			return &MalformedReportError{Index: i, Reason: "missing source"}
		case !s.Unit.Valid():
			return &MalformedReportError{Index: i, Reason: fmt.Sprintf("unknown unit %q", string(s.Unit))}
		}
	}
	return nil
}

// Clone returns a deep copy of the report
func (r *Report) Clone() *Report {
	samples := make([]Sample, len(r.Samples))
	copy(samples, r.Samples)
	return &Report{Start: r.Start, Stop: r.Stop, Samples: samples}
}

// Merge appends the samples of next onto r and extends the window to cover
// both. Windows must arrive in temporal order; the sampling-session
// lifecycle guarantees they never overlap.
func (r *Report) Merge(next *Report) error {
	if next.Start.Before(r.Start) {
		return fmt.Errorf("report windows out of order: %s begins before %s",
			next.Start.Format(time.RFC3339Nano), r.Start.Format(time.RFC3339Nano))
	}
	if r.Stop.Before(next.Stop) {
		r.Stop = next.Stop
	}
	r.Samples = append(r.Samples, next.Samples...)
	return nil
}

// Groups partitions the samples by key. Keys are returned in order of first
// appearance; sample order within each group is preserved.
func (r *Report) Groups() ([]SampleKey, map[SampleKey][]Sample) {
	keys := make([]SampleKey, 0)
	groups := make(map[SampleKey][]Sample)
	for _, s := range r.Samples {
		k := s.Key()
		if _, seen := groups[k]; !seen {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], s)
	}
	return keys, groups
}

// FilterSignals returns a copy of the report containing only samples that
// match the requested signal set. A signal naming a known unit selects that
// unit; any other signal selects a source. A sample passes when its source
// matches the requested sources (or none were requested) and its unit
// matches the requested units (or none were requested). An empty signal set
// keeps everything.
func (r *Report) FilterSignals(signals []string) *Report {
	if len(signals) == 0 {
		return r.Clone()
	}

	units := make(map[Unit]bool)
	sources := make(map[string]bool)
	for _, sig := range signals {
		if u, err := ParseUnit(sig); err == nil {
			units[u] = true
			continue
		}
		sources[sig] = true
	}

	filtered := &Report{Start: r.Start, Stop: r.Stop}
	for _, s := range r.Samples {
		if len(sources) > 0 && !sources[s.Source] {
			continue
		}
		if len(units) > 0 && !units[s.Unit] {
			continue
		}
		filtered.Samples = append(filtered.Samples, s)
	}
	return filtered
}

// EpochReport is the accumulation of all sampling windows of one epoch,
// moved out of the aggregator at epoch end.
type EpochReport struct {
	Epoch int `json:"epoch"`

	// Windows counts the sampling sessions merged into the report
	Windows int `json:"windows"`

	Report Report `json:"report"`
}
