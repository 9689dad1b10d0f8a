// Copyright (c) 2026 Sebas-Inf, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package ingest

import (
	"context"
	"sync"
)

// IngestionTask is the external collaborator that owns decoding,
// validation and storage writes for every record belonging to its
// subscription. The core never introspects it — it only calls Process
// serially, per (topic,partition), and reports async failures through
// SetLastDrainerException.
type IngestionTask interface {
	// Process is invoked once per record, serially for every record
	// sharing a (topic,partition). It may take arbitrary time and may
	// return an error. Returning a *FatalError (see Fatal) terminates the
	// owning drainer; any other error is treated as a per-record failure
	// and does not affect other records.
	Process(ctx context.Context, raw RawRecord, produced ProducedRecord) error

	// SetLastDrainerException is a one-way notification of an
	// asynchronous per-record failure. The task retains only the most
	// recent exception; idempotent overwriting semantics are fine.
	SetLastDrainerException(err error)
}

// ProducedRecord is the downstream completion handle for one raw record.
// Complete must be safe to call exactly once; the core calls it exactly
// once for every record that was enqueued with a non-nil handle.
type ProducedRecord interface {
	Complete(err error)
}

// OneShotProducedRecord is the package's own single-shot completion
// primitive — the idiomatic substitute for a promise/future, per the
// design notes' re-architecture mapping. Safe for one Complete call from
// any goroutine. The result is delivered to a single Wait call; a Wait
// made after another Wait has received it blocks until its ctx is done.
type OneShotProducedRecord struct {
	once sync.Once
	done chan error
}

// NewOneShotProducedRecord returns a ready-to-use ProducedRecord.
func NewOneShotProducedRecord() *OneShotProducedRecord {
	return &OneShotProducedRecord{done: make(chan error, 1)}
}

// Complete fulfils the handle. Only the first call has any effect;
// subsequent calls are silently ignored, matching the "safe to call
// exactly once" contract without panicking on a caller bug.
func (p *OneShotProducedRecord) Complete(err error) {
	p.once.Do(func() {
		p.done <- err
	})
}

// Wait blocks until Complete is called or ctx is done.
func (p *OneShotProducedRecord) Wait(ctx context.Context) error {
	select {
	case err := <-p.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
