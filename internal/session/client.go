// SPDX-FileCopyrightText: 2025 The Wattline Authors
// SPDX-License-Identifier: Apache-2.0

// Package session owns the lifecycle of backend sampling sessions: the
// Client contract a sampling backend must satisfy and the Controller that
// opens and closes exactly one session at a time for a bound process.
package session

import (
	"errors"
	"time"

	"github.com/wattline/wattline/internal/telemetry"
)

var (
	// ErrSessionAlreadyOpen is returned by BeginSample while a session is
	// open. Under the documented event sequencing this never happens.
	ErrSessionAlreadyOpen = errors.New("sampling session already open")

	// ErrNoOpenSession is returned by EndSample and DumpSample when no
	// session is open.
	ErrNoOpenSession = errors.New("no open sampling session")
)

// Client is the contract a sampling backend exposes to the controller.
// Implementations may proxy a remote service or sample in-process; the
// controller depends only on this interface. All calls are synchronous and
// may block on service latency. Sessions are keyed by the target pid.
type Client interface {
	// Purge discards all backend session state, open or completed.
	Purge() error

	// Start opens a sampling session for pid at the given sample period.
	// Fails if a session is already open for pid.
	Start(pid int, period time.Duration) error

	// Stop closes the open session for pid. Fails if none is open.
	Stop(pid int) error

	// Read returns the report of the last completed session for pid,
	// filtered by the requested signals. The returned report is owned by
	// the caller.
	Read(pid int, signals []string) (*telemetry.Report, error)

	// Dump writes the report of the last completed session for pid to
	// path. The on-disk format is owned by the backend.
	Dump(pid int, path string, signals []string) error
}
