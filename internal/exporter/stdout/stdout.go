// SPDX-FileCopyrightText: 2025 The Wattline Authors
// SPDX-License-Identifier: Apache-2.0

// Package stdout renders completed epoch reports and iteration timelines as
// terminal tables.
package stdout

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/wattline/wattline/internal/monitor"
	"github.com/wattline/wattline/internal/telemetry"
)

// Exporter writes human-readable tables to a single writer
type Exporter struct {
	w      io.Writer
	logger *slog.Logger
}

// NewExporter builds a stdout exporter over w
func NewExporter(w io.Writer, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		w:      w,
		logger: logger.With("exporter", "stdout"),
	}
}

// WriteReport renders one epoch report: a heading line plus one table row
// per measurement stream with its sample count, total and peak.
func (e *Exporter) WriteReport(report *telemetry.EpochReport) error {
	if report == nil {
		return nil
	}

	fmt.Fprintf(e.w, "\nEpoch %d: %d windows, %s, %d samples\n",
		report.Epoch,
		report.Windows,
		report.Report.Duration(),
		len(report.Report.Samples))

	keys, groups := report.Report.Groups()
	if len(keys) == 0 {
		return nil
	}

	table := tablewriter.NewTable(e.w)
	table.Header([]string{"Component", "ID", "Unit", "Source", "Samples", "Total", "Peak"})

	for _, k := range keys {
		samples := groups[k]
		var total, peak float64
		for i, s := range samples {
			total += s.Value
			if i == 0 || s.Value > peak {
				peak = s.Value
			}
		}
		unit := k.Unit.Label()
		if unit == "" {
			unit = string(k.Unit)
		}
		if err := table.Append([]string{
			k.Component,
			k.ComponentID,
			unit,
			k.Source,
			strconv.Itoa(len(samples)),
			fmt.Sprintf("%.3f", total),
			fmt.Sprintf("%.3f", peak),
		}); err != nil {
			return fmt.Errorf("failed to append report row: %w", err)
		}
	}
	return table.Render()
}

// WriteTimeline renders the per-iteration spans recorded by the monitor
func (e *Exporter) WriteTimeline(rows []monitor.BatchSpan) error {
	if len(rows) == 0 {
		return nil
	}

	fmt.Fprintf(e.w, "\nIteration timeline: %d spans\n", len(rows))

	table := tablewriter.NewTable(e.w)
	table.Header([]string{"Epoch", "Batch", "Start", "End", "Duration"})

	for _, row := range rows {
		if err := table.Append([]string{
			strconv.Itoa(row.Epoch),
			strconv.Itoa(row.Batch),
			time.Unix(0, row.StartNanos).Format("15:04:05.000"),
			time.Unix(0, row.EndNanos).Format("15:04:05.000"),
			row.Duration().String(),
		}); err != nil {
			return fmt.Errorf("failed to append timeline row: %w", err)
		}
	}
	return table.Render()
}
