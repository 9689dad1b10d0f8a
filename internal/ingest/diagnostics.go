// Copyright (c) 2026 Sebas-Inf, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package ingest

import (
	"fmt"
	"time"
)

// PerDrainerMemoryUsage is a direct pass-through to drainer i's queue.
func (s *Service) PerDrainerMemoryUsage(i int) (int64, error) {
	if i < 0 || i >= len(s.drainers) {
		return 0, fmt.Errorf("ingest: drainer index %d out of range [0,%d)", i, len(s.drainers))
	}
	return s.drainers[i].queue.MemoryUsage(), nil
}

// TotalMemoryUsage sums every drainer's current usage.
func (s *Service) TotalMemoryUsage() int64 {
	var total int64
	for _, d := range s.drainers {
		total += d.queue.MemoryUsage()
	}
	return total
}

// TotalRemaining sums every drainer's remaining capacity.
func (s *Service) TotalRemaining() int64 {
	var total int64
	for _, d := range s.drainers {
		total += d.queue.Remaining()
	}
	return total
}

// MaxMemoryUsagePerDrainer returns the highest per-drainer usage and, as a
// side effect, emits the diagnostic burst described in SPEC_FULL.md §4.6:
// for every drainer exceeding SlowDrainerThresholdFraction of capacity it
// logs the top-5 (else top-1) (topic,partition) pairs by cumulative
// processing time, the partition count and memory usage — then clears
// every drainer's timeSpent map. Calling this method IS a sampling tick;
// callers who only want the number without resetting counters should use
// SampleSlowDrainers instead (the Open Question resolution in
// SPEC_FULL.md §9).
func (s *Service) MaxMemoryUsagePerDrainer() int64 {
	var max int64
	for _, d := range s.drainers {
		if u := d.queue.MemoryUsage(); u > max {
			max = u
		}
	}
	s.emitSlowDrainerBurst()
	s.clearAllTimeSpent()
	return max
}

// MinMemoryUsagePerDrainer returns the lowest per-drainer usage. Pure
// observer, no side effects.
func (s *Service) MinMemoryUsagePerDrainer() int64 {
	if len(s.drainers) == 0 {
		return 0
	}
	min := s.drainers[0].queue.MemoryUsage()
	for _, d := range s.drainers[1:] {
		if u := d.queue.MemoryUsage(); u < min {
			min = u
		}
	}
	return min
}

// PartitionTiming is one (topic,partition)'s cumulative processing time as
// of the sample.
type PartitionTiming struct {
	Topic     string
	Partition int32
	Duration  time.Duration
}

// DrainerSample is one drainer's diagnostic snapshot.
type DrainerSample struct {
	Index          int
	MemoryUsage    int64
	CapacityBytes  int64
	FillRatio      float64
	Slow           bool
	PartitionCount int
	TopPartitions  []PartitionTiming
}

// SampleSlowDrainers is the pure counterpart to MaxMemoryUsagePerDrainer's
// side-effectful burst: it returns the same per-drainer enumeration
// (top-5 when slow, top-1 when healthy) without clearing timeSpent. Used
// by internal/diagnostics' periodic cron sampler so that routine
// observability doesn't stomp on counters a caller might also be reading
// via the clearing variant.
func (s *Service) SampleSlowDrainers() []DrainerSample {
	threshold := s.cfg.SlowDrainerThresholdFraction
	samples := make([]DrainerSample, len(s.drainers))

	for i, d := range s.drainers {
		usage := d.queue.MemoryUsage()
		fillRatio := fillRatioOf(usage, s.cfg.CapacityPerDrainerBytes)
		slow := fillRatio >= threshold

		topN := 1
		if slow {
			topN = 5
		}
		top := d.topSlowPartitions(topN)
		timings := make([]PartitionTiming, len(top))
		for j, e := range top {
			timings[j] = PartitionTiming{Topic: e.key.topic, Partition: e.key.partition, Duration: e.duration}
		}

		samples[i] = DrainerSample{
			Index:          i,
			MemoryUsage:    usage,
			CapacityBytes:  s.cfg.CapacityPerDrainerBytes,
			FillRatio:      fillRatio,
			Slow:           slow,
			PartitionCount: d.partitionCount(),
			TopPartitions:  timings,
		}
	}

	return samples
}

func (s *Service) emitSlowDrainerBurst() {
	for _, sample := range s.SampleSlowDrainers() {
		attrs := []any{
			"drainer", sample.Index,
			"memory_usage", sample.MemoryUsage,
			"capacity_bytes", sample.CapacityBytes,
			"fill_ratio", sample.FillRatio,
			"partitions", sample.PartitionCount,
			"slow", sample.Slow,
		}
		for _, t := range sample.TopPartitions {
			attrs = append(attrs, "top_partition", t.Topic, "top_partition_no", t.Partition, "top_partition_ms", t.Duration.Milliseconds())
		}
		if sample.Slow {
			s.logger.Warn("slow drainer diagnostic burst", attrs...)
		} else {
			s.logger.Debug("drainer diagnostic sample", attrs...)
		}
	}
}

func (s *Service) clearAllTimeSpent() {
	for _, d := range s.drainers {
		d.clearTimeSpent()
	}
}

func fillRatioOf(usage, capacity int64) float64 {
	if capacity <= 0 {
		return 0
	}
	return float64(usage) / float64(capacity)
}
