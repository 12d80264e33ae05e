// SPDX-FileCopyrightText: 2025 The Wattline Authors
// SPDX-License-Identifier: Apache-2.0

// Package service defines the lifecycle contracts shared by wattline's
// long-running components and helpers to drive them as a group.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Service is anything with a name that participates in the process
// lifecycle.
type Service interface {
	Name() string
}

// Initializer is a Service that must be initialized before use.
type Initializer interface {
	Service
	Init() error
}

// Runner is a Service that runs until its context is canceled or it fails.
type Runner interface {
	Service
	Run(ctx context.Context) error
}

// Shutdowner is a Service that holds resources to release on exit.
type Shutdowner interface {
	Service
	Shutdown() error
}

// Init initializes services in order and stops at the first failure.
// Services that are not Initializers are skipped.
func Init(logger *slog.Logger, services []Service) error {
	for _, s := range services {
		si, ok := s.(Initializer)
		if !ok {
			continue
		}
		logger.Debug("Initializing service", "service", s.Name())
		if err := si.Init(); err != nil {
			return fmt.Errorf("failed to initialize service %s: %w", s.Name(), err)
		}
	}
	return nil
}

// Shutdown shuts services down in reverse registration order so that
// dependents go before their dependencies. All services are attempted;
// failures are joined into the returned error.
func Shutdown(logger *slog.Logger, services []Service) error {
	var errs []error
	for i := len(services) - 1; i >= 0; i-- {
		ss, ok := services[i].(Shutdowner)
		if !ok {
			continue
		}
		logger.Debug("Shutting down service", "service", ss.Name())
		if err := ss.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown service %s: %w", ss.Name(), err))
		}
	}
	return errors.Join(errs...)
}
