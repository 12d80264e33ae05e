// SPDX-FileCopyrightText: 2025 The Wattline Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

// DigestOptions controls how report samples are folded into metrics-map
// entries.
type DigestOptions struct {
	// IncludeNonPositive also sums zero and negative energy readings.
	// Sampling services emit occasional non-positive values around counter
	// resets; by default those are excluded from the digest (the raw report
	// keeps them either way).
	IncludeNonPositive bool
}

// DigestKey returns the metrics-map key for a component type and unit,
// e.g. "cpu-J".
func DigestKey(component string, unit Unit) string {
	return component + "-" + unit.Label()
}

// AppendDigest summarizes the report's energy samples into logs, one entry
// per component type keyed by DigestKey. Values are assigned, not added, so
// repeated calls with a growing accumulation stay correct. Groups sharing a
// component type sum into the same entry. Non-energy units are not
// summarized. A nil logs map is a no-op.
func AppendDigest(r *Report, logs map[string]float64, opts DigestOptions) {
	if logs == nil {
		return
	}

	keys, groups := r.Groups()
	totals := make(map[string]float64)
	for _, k := range keys {
		if k.Unit != Joules {
			continue
		}
		key := DigestKey(k.Component, k.Unit)
		sum := totals[key]
		for _, s := range groups[k] {
			if s.Value <= 0 && !opts.IncludeNonPositive {
				continue
			}
			sum += s.Value
		}
		totals[key] = sum
	}
	for k, v := range totals {
		logs[k] = v
	}
}
