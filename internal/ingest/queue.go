// Copyright (c) 2026 Sebas-Inf, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package ingest

import (
	"container/list"
	"context"
	"fmt"
	"sync"
)

// memoryBoundedQueue is a blocking, FIFO, multi-producer/single-consumer
// queue bounded in bytes of record payload rather than element count.
//
// Grounded on the teacher's RingBuffer (internal/agent/ringbuffer.go):
// same sync.Mutex + paired sync.Cond shape, generalized from a raw byte
// ring to a linked list of *IngestionRecord plus a running usedBytes
// counter. Byte accounting is a strict pre-check: a put only returns once
// usedBytes+sizeHint <= capacityBytes, so the invariant in SPEC_FULL.md §3
// never transiently overshoots.
type memoryBoundedQueue struct {
	capacityBytes int64
	notifyDelta   int64
	overheadBytes int64

	mu        sync.Mutex
	items     *list.List
	usedBytes int64
	closed    bool

	notFull  sync.Cond
	notEmpty sync.Cond
}

func newMemoryBoundedQueue(capacityBytes, notifyDelta, overheadBytes int64) *memoryBoundedQueue {
	q := &memoryBoundedQueue{
		capacityBytes: capacityBytes,
		notifyDelta:   notifyDelta,
		overheadBytes: overheadBytes,
		items:         list.New(),
	}
	q.notFull.L = &q.mu
	q.notEmpty.L = &q.mu
	return q
}

// Put blocks while usedBytes+rec.sizeHint() > capacityBytes, then enqueues
// rec and returns. A record whose sizeHint alone exceeds capacityBytes can
// never be admitted and is rejected immediately with ErrRecordTooLarge
// rather than blocking forever, per the recommended boundary behavior in
// SPEC_FULL.md §8. Cancelling ctx unblocks Put without enqueuing rec.
func (q *memoryBoundedQueue) Put(ctx context.Context, rec *IngestionRecord) error {
	size := rec.sizeHint(q.overheadBytes)
	if size > q.capacityBytes {
		return fmt.Errorf("%w: record needs %d bytes, capacity is %d", ErrRecordTooLarge, size, q.capacityBytes)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			q.mu.Lock()
			q.notFull.Broadcast()
			q.mu.Unlock()
		})
		defer stop()
	}

	for q.usedBytes+size > q.capacityBytes && !q.closed {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		q.notFull.Wait()
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	if q.closed {
		return ErrBufferClosed
	}

	q.items.PushBack(rec)
	q.usedBytes += size
	q.notEmpty.Signal()
	return nil
}

// Take blocks while the queue is empty, then returns the head. Cancelling
// ctx returns without removing anything.
func (q *memoryBoundedQueue) Take(ctx context.Context) (*IngestionRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			q.mu.Lock()
			q.notEmpty.Broadcast()
			q.mu.Unlock()
		})
		defer stop()
	}

	for q.items.Len() == 0 && !q.closed {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		q.notEmpty.Wait()
	}

	if q.items.Len() == 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		return nil, ErrBufferClosed
	}

	front := q.items.Front()
	rec := front.Value.(*IngestionRecord)
	q.items.Remove(front)

	size := rec.sizeHint(q.overheadBytes)
	q.usedBytes -= size
	after := q.capacityBytes - q.usedBytes

	// Notification policy (SPEC_FULL.md §4.1): wake exactly one blocked
	// producer whenever this take leaves at least notifyDelta bytes free,
	// so notifyDelta <= 0 makes every dequeue wake a producer. A strict
	// upward-crossing test would never fire again once remaining capacity
	// is already above notifyDelta, stranding a producer whose record is
	// larger than the delta.
	// Signal (not Broadcast) so repeated small takes don't wake every
	// blocked producer at once.
	if after >= q.notifyDelta {
		q.notFull.Signal()
	}

	return rec, nil
}

// Contains reports whether any currently-queued record satisfies
// eq(probe, candidate). It scans under a single lock hold — a
// point-in-time inclusion test, sufficient for the drain barrier (see
// barrier.go) and nothing stronger.
func (q *memoryBoundedQueue) Contains(probe *IngestionRecord, eq func(a, b *IngestionRecord) bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for e := q.items.Front(); e != nil; e = e.Next() {
		if eq(probe, e.Value.(*IngestionRecord)) {
			return true
		}
	}
	return false
}

// MemoryUsage returns the current byte accounting. Never blocks.
func (q *memoryBoundedQueue) MemoryUsage() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.usedBytes
}

// Remaining returns capacityBytes - current usage. Never blocks.
func (q *memoryBoundedQueue) Remaining() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacityBytes - q.usedBytes
}

// Close unblocks any pending Put/Take with ErrBufferClosed. Queued records
// are left in place — draining them is the caller's responsibility, same
// as the Stop contract in service.go.
func (q *memoryBoundedQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
}
