// SPDX-FileCopyrightText: 2025 The Wattline Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRedfishSourceName(t *testing.T) {
	src := NewRedfishSource("https://bmc.example", "admin", "secret", false)
	assert.Equal(t, "redfish", src.Name())
}

func TestRedfishSourceRequiresInit(t *testing.T) {
	src := NewRedfishSource("https://bmc.example", "admin", "secret", false)

	err := src.Begin(testPID, time.Now())
	assert.ErrorContains(t, err, "not initialized")

	_, err = src.Sample(testPID, time.Now())
	assert.ErrorContains(t, err, "not initialized")
}

func TestRedfishSourceShutdownWithoutInit(t *testing.T) {
	src := NewRedfishSource("https://bmc.example", "admin", "secret", true)
	assert.NoError(t, src.Shutdown())
}
