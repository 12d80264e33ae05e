// SPDX-FileCopyrightText: 2025 The Wattline Authors
// SPDX-License-Identifier: Apache-2.0

// Package server hosts the Prometheus registry over HTTP behind the
// exporter-toolkit listener, which adds TLS and basic auth via an optional
// web config file.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/exporter-toolkit/web"
	"k8s.io/utils/ptr"

	"github.com/wattline/wattline/internal/service"
)

const shutdownTimeout = 5 * time.Second

// Config holds the listener settings
type Config struct {
	// ListenAddresses are the host:port pairs the server binds
	ListenAddresses []string

	// WebConfigFile is an optional exporter-toolkit TLS/auth config path
	WebConfigFile string
}

// OptFn configures a Server
type OptFn func(*Server)

// WithLogger sets the server's logger
func WithLogger(logger *slog.Logger) OptFn {
	return func(s *Server) {
		s.logger = logger.With("service", "server")
	}
}

// Server serves /metrics until its context is canceled
type Server struct {
	logger *slog.Logger
	cfg    Config
	server *http.Server
	flags  *web.FlagConfig
}

var _ service.Runner = (*Server)(nil)

// New builds a server exposing the registry at /metrics with a landing page
// on /.
func New(cfg Config, registry *prometheus.Registry, opts ...OptFn) (*Server, error) {
	s := &Server{
		logger: slog.Default().With("service", "server"),
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.InstrumentMetricHandler(
		registry,
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{
			ErrorHandling: promhttp.ContinueOnError,
			Registry:      registry,
		}),
	))

	landing, err := web.NewLandingPage(web.LandingConfig{
		Name:        "Wattline",
		Description: "Training-loop energy telemetry",
		Links: []web.LandingLinks{
			{Address: "/metrics", Text: "Metrics"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build landing page: %w", err)
	}
	mux.Handle("/", landing)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.flags = &web.FlagConfig{
		WebListenAddresses: &s.cfg.ListenAddresses,
		WebSystemdSocket:   ptr.To(false),
		WebConfigFile:      &s.cfg.WebConfigFile,
	}
	return s, nil
}

// Name implements service.Service
func (s *Server) Name() string {
	return "server"
}

// Run serves until ctx is canceled or the listener fails. Cancellation
// drains in-flight scrapes before returning.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- web.ListenAndServe(s.server, s.flags, s.logger)
	}()
	s.logger.Info("Server started", "addresses", s.cfg.ListenAddresses)

	select {
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)

	case <-ctx.Done():
		s.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}
		return nil
	}
}
