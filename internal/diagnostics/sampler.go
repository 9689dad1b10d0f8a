// Copyright (c) 2026 Sebas-Inf, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Package diagnostics runs a periodic diagnostic tick against an
// ingest.Service: per-drainer fill ratios and slow-partition tables, plus
// host memory pressure, published as OpenTelemetry gauges.
package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/mem"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sebas-inf/venice/internal/ingest"
)

// Sampler ticks on a cron schedule and publishes what ingest.Service.
// SampleSlowDrainers observes, alongside host memory pressure.
//
// Grounded on the teacher's Scheduler (internal/agent/scheduler.go): same
// cron.Cron-plus-running-guard shape, collapsed from N independent backup
// jobs to a single repeating tick, since there is only one kind of
// diagnostic work here rather than one job per configured backup entry.
type Sampler struct {
	cron   *cron.Cron
	svc    *ingest.Service
	logger *slog.Logger

	mu      sync.Mutex
	running bool

	fillRatio   metric.Float64Gauge
	hostMemUsed metric.Float64Gauge
}

// NewSampler builds a Sampler. meter is typically
// otel.GetMeterProvider().Meter("ingest.diagnostics").
func NewSampler(svc *ingest.Service, meter metric.Meter, logger *slog.Logger) (*Sampler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fillRatio, err := meter.Float64Gauge(
		"ingest.drainer.fill_ratio",
		metric.WithDescription("fraction of a drainer's byte capacity currently in use"),
	)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: creating fill_ratio gauge: %w", err)
	}

	hostMem, err := meter.Float64Gauge(
		"host.memory.used_percent",
		metric.WithDescription("host memory utilization observed alongside each sampling tick"),
	)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: creating host memory gauge: %w", err)
	}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	return &Sampler{
		cron:        c,
		svc:         svc,
		logger:      logger,
		fillRatio:   fillRatio,
		hostMemUsed: hostMem,
	}, nil
}

// Schedule registers the sampling tick at the given cron spec (e.g.
// "@every 10s"). Must be called before Start.
func (s *Sampler) Schedule(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return fmt.Errorf("diagnostics: scheduling sampler: %w", err)
	}
	return nil
}

// Start begins running scheduled ticks.
func (s *Sampler) Start() {
	s.logger.Info("diagnostics sampler started")
	s.cron.Start()
}

// Stop waits for any in-flight tick to finish, bounded by ctx.
func (s *Sampler) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.logger.Info("diagnostics sampler stopped")
	case <-ctx.Done():
		s.logger.Warn("diagnostics sampler stop timed out")
	}
}

// tick is the cron callback. A running guard skips an overlapping
// invocation instead of queuing it, matching the teacher's
// BackupJob.running skip-instead-of-queue behavior.
func (s *Sampler) tick() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("diagnostics tick skipped, previous tick still running")
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ctx := context.Background()
	for _, sample := range s.svc.SampleSlowDrainers() {
		s.fillRatio.Record(ctx, sample.FillRatio, metric.WithAttributes(attribute.Int("drainer", sample.Index)))
		if sample.Slow {
			s.logger.Warn("slow drainer", "drainer", sample.Index, "fill_ratio", sample.FillRatio, "partitions", sample.PartitionCount)
		}
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		s.logger.Error("reading host memory", "error", err)
		return
	}
	s.hostMemUsed.Record(ctx, vm.UsedPercent)
}
