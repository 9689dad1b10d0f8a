// Copyright (c) 2026 Sebas-Inf, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package ingest

import (
	"context"
	"fmt"
	"time"
)

// DrainPartition blocks until no record for (topic,partition) remains
// queued in its drainer, or the retry budget is exhausted.
//
// The caller is responsible for having already halted upstream production
// to (topic,partition) before calling this — DrainPartition is a consensus
// between caller and core on a quiescent pair, not a way to stop new
// records from arriving (SPEC_FULL.md §4.4).
//
// Grounded on the teacher's ChunkBuffer.Flush (internal/server/
// chunkbuffer.go): a scoped wait-with-poll-and-deadline loop, generalized
// from "this session's in-flight byte counter reaches zero" to "this
// (topic,partition)'s probe no longer appears in its queue."
func (s *Service) DrainPartition(ctx context.Context, topic string, partition int32) error {
	if topic == "" {
		return fmt.Errorf("ingest: topic must not be empty")
	}

	idx := s.route(topic, partition)
	queue := s.drainers[idx].queue
	probe := newProbeRecord(topic, partition)

	budget := s.cfg.DrainRetryBudget
	for attempt := 0; attempt < budget; attempt++ {
		if !queue.Contains(probe, eqTopicPartition) {
			return nil
		}
		if attempt == budget-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		case <-time.After(s.cfg.DrainSleepInterval):
		}
	}

	if !queue.Contains(probe, eqTopicPartition) {
		return nil
	}
	return fmt.Errorf("%w: topic=%s partition=%d still present after %d attempts",
		ErrDrainTimeout, topic, partition, budget)
}
