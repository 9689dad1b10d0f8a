// Copyright (c) 2026 Sebas-Inf, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package ingest

import (
	"fmt"
	"time"
)

// Defaults for the injectable parameters enumerated in SPEC_FULL.md §6.
const (
	DefaultDrainRetryBudget             = 1000
	DefaultDrainSleepInterval           = 50 * time.Millisecond
	DefaultSlowDrainerThresholdFraction = 0.8
	DefaultStopTimeout                  = 10 * time.Second
	DefaultRecordOverheadBytes    int64 = 256
)

// Config parameterizes a Service. DrainerCount, CapacityPerDrainerBytes
// and NotifyDeltaBytes are immutable for the life of the service once
// NewService has returned; the rest have production-sane defaults applied
// by setDefaults and only need overriding in tests (tiny retry budgets,
// zero sleeps) or unusual deployments.
type Config struct {
	// DrainerCount is the number of parallel drainers (N) and the hash
	// modulus used by routing. Must be >= 1.
	DrainerCount int

	// CapacityPerDrainerBytes is the hard byte ceiling enforced by every
	// drainer's queue. Must be >= 1.
	CapacityPerDrainerBytes int64

	// NotifyDeltaBytes is the wake-up granularity for blocked producers;
	// see queue.go's notify-delta heuristic. Zero means "wake on every
	// take that frees any space."
	NotifyDeltaBytes int64

	// DrainRetryBudget bounds DrainPartition's probe attempts.
	DrainRetryBudget int

	// DrainSleepInterval is the delay between DrainPartition probes.
	DrainSleepInterval time.Duration

	// SlowDrainerThresholdFraction triggers the diagnostic burst in
	// MaxMemoryUsagePerDrainer / SampleSlowDrainers.
	SlowDrainerThresholdFraction float64

	// StopTimeout bounds how long Stop waits for drainers to terminate.
	StopTimeout time.Duration

	// RecordOverheadBytes is the constant added to every record's
	// accounted size. The source design hardcodes 256; here it is always
	// configurable.
	RecordOverheadBytes int64
}

func (c *Config) setDefaults() {
	if c.DrainRetryBudget <= 0 {
		c.DrainRetryBudget = DefaultDrainRetryBudget
	}
	if c.DrainSleepInterval <= 0 {
		c.DrainSleepInterval = DefaultDrainSleepInterval
	}
	if c.SlowDrainerThresholdFraction <= 0 {
		c.SlowDrainerThresholdFraction = DefaultSlowDrainerThresholdFraction
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.RecordOverheadBytes <= 0 {
		c.RecordOverheadBytes = DefaultRecordOverheadBytes
	}
}

func (c Config) validate() error {
	if c.DrainerCount < 1 {
		return fmt.Errorf("ingest: drainerCount must be >= 1, got %d", c.DrainerCount)
	}
	if c.CapacityPerDrainerBytes < 1 {
		return fmt.Errorf("ingest: capacityPerDrainerBytes must be >= 1, got %d", c.CapacityPerDrainerBytes)
	}
	if c.NotifyDeltaBytes < 0 {
		return fmt.Errorf("ingest: notifyDeltaBytes must be >= 0, got %d", c.NotifyDeltaBytes)
	}
	return nil
}
