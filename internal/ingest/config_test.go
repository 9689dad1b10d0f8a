// Copyright (c) 2026 Sebas-Inf, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package ingest

import "testing"

func TestConfig_SetDefaultsFillsZeroValues(t *testing.T) {
	c := Config{DrainerCount: 4, CapacityPerDrainerBytes: 1024}
	c.setDefaults()

	if c.DrainRetryBudget != DefaultDrainRetryBudget {
		t.Errorf("DrainRetryBudget = %d, want %d", c.DrainRetryBudget, DefaultDrainRetryBudget)
	}
	if c.DrainSleepInterval != DefaultDrainSleepInterval {
		t.Errorf("DrainSleepInterval = %v, want %v", c.DrainSleepInterval, DefaultDrainSleepInterval)
	}
	if c.SlowDrainerThresholdFraction != DefaultSlowDrainerThresholdFraction {
		t.Errorf("SlowDrainerThresholdFraction = %v, want %v", c.SlowDrainerThresholdFraction, DefaultSlowDrainerThresholdFraction)
	}
	if c.StopTimeout != DefaultStopTimeout {
		t.Errorf("StopTimeout = %v, want %v", c.StopTimeout, DefaultStopTimeout)
	}
	if c.RecordOverheadBytes != DefaultRecordOverheadBytes {
		t.Errorf("RecordOverheadBytes = %d, want %d", c.RecordOverheadBytes, DefaultRecordOverheadBytes)
	}
}

func TestConfig_SetDefaultsPreservesExplicitValues(t *testing.T) {
	c := Config{
		DrainerCount:            2,
		CapacityPerDrainerBytes: 2048,
		DrainRetryBudget:        3,
		RecordOverheadBytes:     64,
	}
	c.setDefaults()

	if c.DrainRetryBudget != 3 {
		t.Errorf("DrainRetryBudget overwritten: got %d, want 3", c.DrainRetryBudget)
	}
	if c.RecordOverheadBytes != 64 {
		t.Errorf("RecordOverheadBytes overwritten: got %d, want 64", c.RecordOverheadBytes)
	}
}

func TestConfig_ValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero drainers", Config{DrainerCount: 0, CapacityPerDrainerBytes: 1}},
		{"negative drainers", Config{DrainerCount: -1, CapacityPerDrainerBytes: 1}},
		{"zero capacity", Config{DrainerCount: 1, CapacityPerDrainerBytes: 0}},
		{"negative notify delta", Config{DrainerCount: 1, CapacityPerDrainerBytes: 1, NotifyDeltaBytes: -1}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.validate(); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

func TestConfig_ValidateAcceptsMinimalConfig(t *testing.T) {
	cfg := Config{DrainerCount: 1, CapacityPerDrainerBytes: 1}
	if err := cfg.validate(); err != nil {
		t.Fatalf("expected minimal config to validate, got %v", err)
	}
}
