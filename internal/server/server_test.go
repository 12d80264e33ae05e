// SPDX-FileCopyrightText: 2025 The Wattline Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// freeListenAddress reserves a port on the loopback interface and releases
// it for the server to claim.
func freeListenAddress(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestServerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "wattline_test_up"})
	gauge.Set(1)
	reg.MustRegister(gauge)

	addr := freeListenAddress(t)
	srv, err := New(Config{ListenAddresses: []string{addr}}, reg)
	require.NoError(t, err)
	assert.Equal(t, "server", srv.Name())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return false
		}
		body = string(data)
		return true
	}, 5*time.Second, 20*time.Millisecond, "metrics endpoint never came up")

	assert.Contains(t, body, "wattline_test_up 1")
	assert.Contains(t, body, "promhttp_metric_handler_requests_total",
		"scrape handler instruments itself on the same registry")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after context cancellation")
	}
}

func TestServerRunFailsOnBadAddress(t *testing.T) {
	srv, err := New(Config{ListenAddresses: []string{"256.256.256.256:0"}}, prometheus.NewRegistry())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.Error(t, srv.Run(ctx))
}
