// Copyright (c) 2026 Sebas-Inf, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// maxLoggedErrorRunes bounds how much of a failed record's error is logged,
// preventing a single poisoned record from flooding the log (SPEC_FULL.md
// §4.2).
const maxLoggedErrorRunes = 1024

type drainerState int32

const (
	drainerRunning drainerState = iota
	drainerStoppedNormal
	drainerStoppedCancelled
	drainerStoppedFatal
)

// partitionKey is the (topic,partition) coordinate used to key the
// cumulative processing-time map. A plain struct is comparable and usable
// as a map key directly — no need for the source design's overloaded
// record equality here.
type partitionKey struct {
	topic     string
	partition int32
}

type timeSpentEntry struct {
	key      partitionKey
	duration time.Duration
}

// Drainer is a single long-lived worker that owns exactly one
// memoryBoundedQueue. It has one real method, run, and is otherwise
// driven entirely by context cancellation — the Go substitute for the
// source design's cooperative stop() + running flag, per SPEC_FULL.md §9.
//
// Grounded on the teacher's per-stream sender goroutine in
// internal/agent/dispatcher.go (startSenderWithRetry): a single consumer
// loop per owned resource, classifying failures instead of letting one
// bad frame kill the whole dispatcher.
type Drainer struct {
	index  int
	queue  *memoryBoundedQueue
	logger *slog.Logger

	running atomic.Bool
	state   atomic.Int32

	mu        sync.Mutex
	timeSpent map[partitionKey]time.Duration
}

func newDrainer(index int, capacityBytes, notifyDelta, overheadBytes int64, logger *slog.Logger) *Drainer {
	return &Drainer{
		index:     index,
		queue:     newMemoryBoundedQueue(capacityBytes, notifyDelta, overheadBytes),
		logger:    logger.With("drainer", index),
		timeSpent: make(map[partitionKey]time.Duration),
	}
}

// run is the drainer's goroutine body. It returns only when ctx is
// cancelled (normal shutdown path) or when task.Process reports a fatal
// error for some record (degraded shard, no auto-respawn — see
// SPEC_FULL.md §7).
func (d *Drainer) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	d.running.Store(true)
	defer d.running.Store(false)

	for {
		rec, err := d.queue.Take(ctx)
		if err != nil {
			d.logger.Info("take cancelled, drainer exiting", "error", err)
			d.state.Store(int32(drainerStoppedCancelled))
			return
		}

		if !d.process(ctx, rec) {
			return
		}
	}
}

// process runs task.Process for one record and classifies the result.
// Returns false if the drainer must terminate (fatal error).
func (d *Drainer) process(ctx context.Context, rec *IngestionRecord) bool {
	start := time.Now()
	err := rec.Task.Process(ctx, rec.Raw, rec.Produced)
	elapsed := time.Since(start)

	var fatal *FatalError
	if errors.As(err, &fatal) {
		d.logger.Error("fatal error from ingestion task, drainer terminating",
			"topic", rec.Raw.Topic, "partition", rec.Raw.Partition, "offset", rec.Raw.Offset,
			"error", fatal.Err)
		d.state.Store(int32(drainerStoppedFatal))
		return false
	}

	d.recordTime(rec.Raw.Topic, rec.Raw.Partition, elapsed)

	if err != nil {
		d.logger.Error("ingestion task failed, record isolated",
			"topic", rec.Raw.Topic, "partition", rec.Raw.Partition, "offset", rec.Raw.Offset,
			"error", truncateErrorMessage(err, maxLoggedErrorRunes))
		rec.Task.SetLastDrainerException(err)
		if rec.Produced != nil {
			rec.Produced.Complete(err)
		}
		return true
	}

	if rec.Produced != nil {
		rec.Produced.Complete(nil)
	}
	return true
}

func (d *Drainer) recordTime(topic string, partition int32, elapsed time.Duration) {
	key := partitionKey{topic: topic, partition: partition}
	d.mu.Lock()
	d.timeSpent[key] += elapsed
	d.mu.Unlock()
}

// topSlowPartitions returns up to n (topic,partition) pairs by cumulative
// processing time, descending. Called by SampleSlowDrainers in
// diagnostics.go; guarded by the same coarse mutex used to update timeSpent,
// matching the "sharded/coarse-lock map, not per-entry atomics" guidance
// in SPEC_FULL.md §9.
func (d *Drainer) topSlowPartitions(n int) []timeSpentEntry {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries := make([]timeSpentEntry, 0, len(d.timeSpent))
	for k, v := range d.timeSpent {
		entries = append(entries, timeSpentEntry{key: k, duration: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].duration > entries[j].duration })
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

func (d *Drainer) partitionCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timeSpent)
}

// clearTimeSpent is the side effect documented in SPEC_FULL.md §4.6: the
// diagnostic burst resets every drainer's counters after sampling them.
func (d *Drainer) clearTimeSpent() {
	d.mu.Lock()
	d.timeSpent = make(map[partitionKey]time.Duration)
	d.mu.Unlock()
}

// Running reports whether the drainer is live: true from Service.Start
// until its goroutine leaves its loop — usable by an external supervisor alongside DrainerCount to
// detect a dead shard (SPEC_FULL.md §7's FatalDrainerFailure detection,
// left to an external health check by design).
func (d *Drainer) Running() bool {
	return d.running.Load()
}

func truncateErrorMessage(err error, maxRunes int) string {
	s := err.Error()
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes]) + "...(truncated)"
}
