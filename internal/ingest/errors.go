// Copyright (c) 2026 Sebas-Inf, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package ingest

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the buffer-and-drain engine. Callers should
// use errors.Is/errors.As rather than comparing formatted strings, since
// every one of these is wrapped with context before it leaves the package.
var (
	// ErrCancelled is returned when a blocking Put, Take or DrainPartition
	// observes context cancellation. The element is never enqueued and the
	// queue is left unchanged.
	ErrCancelled = errors.New("ingest: operation cancelled")

	// ErrDrainTimeout is returned by DrainPartition when the retry budget
	// is exhausted and the (topic,partition) pair is still present in its
	// drainer's queue.
	ErrDrainTimeout = errors.New("ingest: drain barrier timed out")

	// ErrLifecycleMisuse is returned for synchronous structural errors:
	// double Start, Enqueue before Start, Stop before Start, and so on.
	ErrLifecycleMisuse = errors.New("ingest: invalid lifecycle transition")

	// ErrRecordTooLarge is returned at Put time when a single record's
	// sizeHint exceeds the queue's capacity outright — such a record can
	// never be admitted regardless of how much free space accumulates.
	ErrRecordTooLarge = errors.New("ingest: record exceeds queue capacity")

	// ErrBufferClosed is returned by a queue's Put/Take once the queue has
	// been explicitly closed with Close.
	ErrBufferClosed = errors.New("ingest: queue closed")
)

// FatalError marks a non-recoverable failure returned by an IngestionTask.
// It is the concrete stand-in for the source design's "non-Exception
// Throwable" split: Go has no checked/unchecked exception hierarchy, so
// fatal conditions are signalled by wrapping them in Fatal(err) rather than
// returning a plain error. A drainer that receives a *FatalError from
// task.Process terminates immediately without completing the produced
// record or notifying the task — the caller is responsible for detecting
// the dead drainer externally (see DrainerCount vs. live-goroutine checks).
type FatalError struct {
	Err error
}

// Fatal wraps err so the owning drainer treats it as non-recoverable.
func Fatal(err error) *FatalError {
	return &FatalError{Err: err}
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("ingest: fatal drainer error: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
