// SPDX-FileCopyrightText: 2025 The Wattline Authors
// SPDX-License-Identifier: Apache-2.0

// wattline-bench runs a synthetic training loop against the full telemetry
// pipeline: embedded sampling backend, session controller, monitor callback,
// Prometheus endpoint and the optional stdout tables.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"k8s.io/utils/ptr"

	"github.com/wattline/wattline/config"
	"github.com/wattline/wattline/internal/backend"
	"github.com/wattline/wattline/internal/exporter/prom"
	"github.com/wattline/wattline/internal/exporter/stdout"
	"github.com/wattline/wattline/internal/logger"
	"github.com/wattline/wattline/internal/monitor"
	"github.com/wattline/wattline/internal/server"
	"github.com/wattline/wattline/internal/service"
	"github.com/wattline/wattline/internal/session"
	"github.com/wattline/wattline/internal/telemetry"
)

type benchOpts struct {
	epochs    int
	batches   int
	batchTime time.Duration
}

func main() {
	cfg, bench, err := parseArgsAndConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	log.Debug("Configuration", "config", cfg)

	if err := runBench(log, cfg, bench); err != nil {
		log.Error("wattline-bench failed", "error", err)
		os.Exit(1)
	}
}

func parseArgsAndConfig() (*config.Config, *benchOpts, error) {
	app := kingpin.New("wattline-bench",
		"Synthetic training loop exercising wattline energy telemetry.")
	app.HelpFlag.Short('h')

	configFiles := app.Flag("config.file",
		"Path to YAML config file; repeatable, later files override earlier ones").Strings()
	updateConfig := config.RegisterFlags(app)

	bench := &benchOpts{}
	app.Flag("bench.epochs", "Training epochs to run").Default("3").IntVar(&bench.epochs)
	app.Flag("bench.batches", "Batches per epoch").Default("40").IntVar(&bench.batches)
	app.Flag("bench.batch-time", "Simulated work per batch").Default("50ms").DurationVar(&bench.batchTime)

	if _, err := app.Parse(os.Args[1:]); err != nil {
		return nil, nil, fmt.Errorf("failed to parse arguments: %w", err)
	}
	if bench.epochs <= 0 || bench.batches <= 0 || bench.batchTime <= 0 {
		return nil, nil, fmt.Errorf("bench settings must be positive")
	}

	cfg, err := config.FromFiles(*configFiles)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := updateConfig(cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to apply flags: %w", err)
	}
	return cfg, bench, nil
}

func runBench(log *slog.Logger, cfg *config.Config, bench *benchOpts) error {
	pid := os.Getpid()

	svc := backend.NewService(createSources(log, cfg),
		backend.WithLogger(log),
		backend.WithCarbonIntensity(cfg.Backend.CarbonIntensity))

	controller := session.NewController(svc, pid,
		session.WithLogger(log),
		session.WithSamplePeriod(cfg.Backend.SamplePeriod),
		session.WithSignals(cfg.Backend.Signals...))

	cb, err := newCallback(log, cfg, controller, pid)
	if err != nil {
		return err
	}

	services := []service.Service{svc}

	var srv *server.Server
	if cfg.IsFeatureEnabled(config.PrometheusFeature) {
		registry := prometheus.NewRegistry()
		registerDebugCollectors(log, registry, cfg.Exporter.Prometheus.DebugCollectors)
		registry.MustRegister(prom.NewCollector(cb))

		srv, err = server.New(server.Config{
			ListenAddresses: cfg.Web.ListenAddresses,
			WebConfigFile:   cfg.Web.Config,
		}, registry, server.WithLogger(log))
		if err != nil {
			return err
		}
		services = append(services, srv)
	}

	if err := service.Init(log, services); err != nil {
		return err
	}
	defer func() {
		if err := service.Shutdown(log, services); err != nil {
			log.Error("Shutdown failed", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	if srv != nil {
		srvCtx, srvCancel := context.WithCancel(ctx)
		g.Add(func() error {
			return srv.Run(srvCtx)
		}, func(error) {
			srvCancel()
		})
	}

	loopCtx, loopCancel := context.WithCancel(ctx)
	g.Add(func() error {
		return trainingLoop(loopCtx, log, cb, bench)
	}, func(error) {
		loopCancel()
	})

	err = g.Run()
	var sigErr run.SignalError
	switch {
	case err == nil:
	case errors.As(err, &sigErr):
		log.Info("Received signal, exiting", "signal", sigErr.Signal.String())
	case errors.Is(err, context.Canceled):
	default:
		return err
	}

	if cfg.IsFeatureEnabled(config.StdoutFeature) {
		writeStdout(log, cb, bench)
	}
	return nil
}

// createSources assembles the measurement sources for the embedded backend.
// The procfs source is always on; the rest follow feature flags.
func createSources(log *slog.Logger, cfg *config.Config) []backend.Source {
	sources := []backend.Source{
		backend.NewProcfsSource(cfg.Host.ProcFS),
	}
	if cfg.IsFeatureEnabled(config.FakeSourceFeature) {
		sources = append(sources, backend.NewFakeSource(
			backend.WithFakeDevices(cfg.Fake.Devices),
			backend.WithFakePowerBase(cfg.Fake.PowerBase),
			backend.WithFakePowerRange(cfg.Fake.PowerRange),
			backend.WithFakeEnergyStep(cfg.Fake.EnergyStep),
		))
	}
	if cfg.IsFeatureEnabled(config.ExperimentalDCGMFeature) {
		dcgm := cfg.Experimental.DCGM
		sources = append(sources, backend.NewDCGMSource(dcgm.Devices, dcgm.Mode, dcgm.Address,
			backend.WithDCGMLogger(log)))
	}
	if cfg.IsFeatureEnabled(config.ExperimentalRedfishFeature) {
		rf := cfg.Experimental.Redfish
		sources = append(sources, backend.NewRedfishSource(
			rf.Endpoint, rf.Username, rf.Password, ptr.Deref(rf.Insecure, false),
			backend.WithRedfishLogger(log)))
	}
	return sources
}

func newCallback(log *slog.Logger, cfg *config.Config, controller *session.Controller, pid int) (*monitor.Callback, error) {
	policy, err := monitor.NewWindowPolicy(cfg.Monitor.Window, cfg.Monitor.ChunkPeriod)
	if err != nil {
		return nil, err
	}

	opts := []monitor.OptFn{
		monitor.WithLogger(log),
		monitor.WithWindowPolicy(policy),
		monitor.WithMergeMode(monitor.MergeMode(cfg.Monitor.Merge)),
		monitor.WithTimestamps(ptr.Deref(cfg.Monitor.Timestamps, true)),
		monitor.WithDigest(ptr.Deref(cfg.Monitor.Digest.Enabled, true)),
		monitor.WithDigestOptions(telemetry.DigestOptions{
			IncludeNonPositive: ptr.Deref(cfg.Monitor.Digest.IncludeNonPositive, false),
		}),
	}
	if cfg.IsFeatureEnabled(config.DumpFeature) {
		dir := cfg.Output.Dir
		if dir == "" {
			dir = monitor.DefaultDumpDir(pid)
		}
		opts = append(opts, monitor.WithDumpDir(dir))
	}
	return monitor.NewCallback(controller, opts...)
}

func registerDebugCollectors(log *slog.Logger, registry *prometheus.Registry, names []string) {
	for _, name := range names {
		switch name {
		case "go":
			registry.MustRegister(collectors.NewGoCollector())
		case "process":
			registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		default:
			log.Warn("Unknown debug collector", "collector", name)
		}
	}
}

// trainingLoop drives the hooks the way a training framework would: epochs
// of batches with simulated work in between, sharing one metrics map.
func trainingLoop(ctx context.Context, log *slog.Logger, hooks monitor.Hooks, bench *benchOpts) error {
	logs := make(map[string]float64)

	for epoch := 0; epoch < bench.epochs; epoch++ {
		if err := hooks.OnEpochBegin(epoch, logs); err != nil {
			return fmt.Errorf("epoch %d begin: %w", epoch, err)
		}
		for batch := 0; batch < bench.batches; batch++ {
			if err := hooks.OnIterationBegin(batch, logs); err != nil {
				return fmt.Errorf("epoch %d batch %d begin: %w", epoch, batch, err)
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(bench.batchTime):
			}

			logs["loss"] = syntheticLoss(epoch*bench.batches + batch)
			if err := hooks.OnIterationEnd(batch, logs); err != nil {
				return fmt.Errorf("epoch %d batch %d end: %w", epoch, batch, err)
			}
		}
		if err := hooks.OnEpochEnd(epoch, logs); err != nil {
			return fmt.Errorf("epoch %d end: %w", epoch, err)
		}
		log.Info("Epoch complete", "epoch", epoch, "metrics", logs)
	}
	return nil
}

// syntheticLoss decays smoothly so the digest entries sit next to a
// plausible training metric.
func syntheticLoss(step int) float64 {
	return 2.0 / math.Sqrt(float64(step)+1.0)
}

func writeStdout(log *slog.Logger, cb *monitor.Callback, bench *benchOpts) {
	exp := stdout.NewExporter(os.Stdout, log)
	for epoch := 0; epoch < bench.epochs; epoch++ {
		report, ok := cb.Report(epoch)
		if !ok {
			continue
		}
		if err := exp.WriteReport(report); err != nil {
			log.Warn("Failed to render epoch report", "epoch", epoch, "error", err)
		}
	}
	if err := exp.WriteTimeline(cb.TimelineRows()); err != nil {
		log.Warn("Failed to render timeline", "error", err)
	}
}
