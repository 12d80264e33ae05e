// SPDX-FileCopyrightText: 2025 The Wattline Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import "fmt"

// Unit identifies the physical quantity a Sample measures. The set is fixed;
// backends must not invent new units.
type Unit string

const (
	// Joules is energy consumed over the sample bucket
	Joules Unit = "JOULES"

	// GramsOfCO2 is estimated emissions derived from energy
	GramsOfCO2 Unit = "GRAMS_OF_CO2"

	// Activity is a utilization percentage in [0, 100]
	Activity Unit = "ACTIVITY"

	// Nanoseconds is elapsed wall-clock time
	Nanoseconds Unit = "NANOSECONDS"

	// Jiffies is raw scheduler ticks
	Jiffies Unit = "JIFFIES"

	// Watts is instantaneous power
	Watts Unit = "WATTS"
)

// unitLabels maps each unit to the short label used in digest keys and
// rendered tables. Jiffies carry no label.
var unitLabels = map[Unit]string{
	Joules:      "J",
	GramsOfCO2:  "CO2",
	Activity:    "%",
	Nanoseconds: "ns",
	Jiffies:     "",
	Watts:       "W",
}

// Label returns the short display label for the unit
func (u Unit) Label() string {
	return unitLabels[u]
}

// Valid reports whether u is one of the known units
func (u Unit) Valid() bool {
	_, ok := unitLabels[u]
	return ok
}

// ParseUnit converts a string to a known Unit
func ParseUnit(s string) (Unit, error) {
	u := Unit(s)
	if !u.Valid() {
		return "", fmt.Errorf("unknown unit: %q", s)
	}
	return u, nil
}
