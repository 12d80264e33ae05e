// SPDX-FileCopyrightText: 2025 The Wattline Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stmcginnis/gofish"

	"github.com/wattline/wattline/internal/telemetry"
)

const redfishSourceName = "redfish"

// RedfishOptFn is a functional option for configuring a RedfishSource
type RedfishOptFn func(*RedfishSource)

// WithRedfishLogger sets the logger
func WithRedfishLogger(logger *slog.Logger) RedfishOptFn {
	return func(r *RedfishSource) {
		r.logger = logger
	}
}

// RedfishSource reads platform power from a BMC over Redfish: chassis power
// control readings as WATTS plus JOULES integrated from the previous reading
// by rectangle rule. Platform power covers the whole machine, so samples
// carry the platform component regardless of pid.
type RedfishSource struct {
	logger   *slog.Logger
	endpoint string
	username string
	password string
	insecure bool

	client *gofish.APIClient

	mu        sync.Mutex
	lastWatts map[string]float64
	lastSeen  map[string]time.Time
}

var _ Source = (*RedfishSource)(nil)

// NewRedfishSource builds a redfish source for the given BMC endpoint
func NewRedfishSource(endpoint, username, password string, insecure bool, opts ...RedfishOptFn) *RedfishSource {
	r := &RedfishSource{
		logger:    slog.Default(),
		endpoint:  endpoint,
		username:  username,
		password:  password,
		insecure:  insecure,
		lastWatts: make(map[string]float64),
		lastSeen:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("source", redfishSourceName)
	return r
}

// Name returns the source name
func (r *RedfishSource) Name() string {
	return redfishSourceName
}

// Init opens the BMC session
func (r *RedfishSource) Init() error {
	client, err := gofish.Connect(gofish.ClientConfig{
		Endpoint: r.endpoint,
		Username: r.username,
		Password: r.password,
		Insecure: r.insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to redfish endpoint %s: %w", r.endpoint, err)
	}
	r.client = client
	r.logger.Info("Connected to BMC", "endpoint", r.endpoint)
	return nil
}

// Shutdown closes the BMC session
func (r *RedfishSource) Shutdown() error {
	if r.client != nil {
		r.client.Logout()
		r.client = nil
	}
	return nil
}

// Begin primes the power readings so the first sample can integrate energy
// from session start.
func (r *RedfishSource) Begin(pid int, now time.Time) error {
	_, err := r.readPower(now)
	return err
}

// Sample reads the chassis power controls and emits watts plus the energy
// integrated since the previous reading.
func (r *RedfishSource) Sample(pid int, now time.Time) ([]telemetry.Sample, error) {
	return r.readPower(now)
}

func (r *RedfishSource) readPower(now time.Time) ([]telemetry.Sample, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redfish source not initialized")
	}

	chassis, err := r.client.Service.Chassis()
	if err != nil {
		return nil, fmt.Errorf("failed to list chassis: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var samples []telemetry.Sample
	for _, ch := range chassis {
		power, err := ch.Power()
		if err != nil {
			r.logger.Debug("Chassis has no power resource", "chassis", ch.ID, "error", err)
			continue
		}
		if power == nil {
			continue
		}

		for _, ctl := range power.PowerControl {
			id := ch.ID
			if ctl.MemberID != "" {
				id = ch.ID + "/" + ctl.MemberID
			}
			watts := float64(ctl.PowerConsumedWatts)

			samples = append(samples, telemetry.Sample{
				Component:   "platform",
				ComponentID: id,
				Unit:        telemetry.Watts,
				Source:      redfishSourceName,
				Value:       watts,
				Timestamp:   now,
			})

			if prev, ok := r.lastWatts[id]; ok {
				if dt := now.Sub(r.lastSeen[id]).Seconds(); dt > 0 {
					samples = append(samples, telemetry.Sample{
						Component:   "platform",
						ComponentID: id,
						Unit:        telemetry.Joules,
						Source:      redfishSourceName,
						Value:       prev * dt,
						Timestamp:   now,
					})
				}
			}
			r.lastWatts[id] = watts
			r.lastSeen[id] = now
		}
	}
	return samples, nil
}
