// Copyright (c) 2026 Sebas-Inf, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Package ingesttask provides a sample ingest.IngestionTask: it decodes a
// record's payload and writes it through to storage.Store. It is the
// reference implementation of the "downstream collaborator" SPEC_FULL.md §6
// leaves to the caller.
package ingesttask

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/sebas-inf/venice/internal/ingest"
	"github.com/sebas-inf/venice/internal/storage"
)

// CompressionMode is a one-byte marker prefixed to a record's value,
// mirroring the teacher's wire-protocol CompressionMode byte
// (internal/protocol/frames.go) but scoped to whatever an upstream producer
// chose for this payload rather than a negotiated connection-wide mode.
type CompressionMode byte

const (
	CompressionNone CompressionMode = 0x00
	CompressionGzip CompressionMode = 0x01
	CompressionZstd CompressionMode = 0x02
)

// Task decodes each record's payload and writes it through to a
// storage.Store. A single Task instance is shared by every drainer — it
// holds no per-partition state, which is what makes it safe to call
// concurrently across partitions and serially within one, per SPEC_FULL.md
// §4.2.
type Task struct {
	store       *storage.Store
	zstdDecoder *zstd.Decoder
}

// New builds a Task writing decoded records to store.
func New(store *storage.Store) (*Task, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("ingesttask: creating zstd decoder: %w", err)
	}
	return &Task{store: store, zstdDecoder: dec}, nil
}

// Close releases the zstd decoder's background resources.
func (t *Task) Close() {
	t.zstdDecoder.Close()
}

// Process decodes raw.Value per its leading CompressionMode byte and writes
// the result through to storage. A decode failure is a poisoned record
// (recoverable, isolated to this one offset); a storage write failure
// indicates the downstream store itself is unhealthy and is reported as
// fatal so the owning drainer stops rather than silently losing records.
func (t *Task) Process(ctx context.Context, raw ingest.RawRecord, _ ingest.ProducedRecord) error {
	value, err := t.decode(raw.Value)
	if err != nil {
		return fmt.Errorf("ingesttask: decoding %s/%d@%d: %w", raw.Topic, raw.Partition, raw.Offset, err)
	}

	if err := t.store.Put(ctx, raw.Topic, raw.Partition, raw.Offset, raw.Key, value); err != nil {
		return ingest.Fatal(fmt.Errorf("ingesttask: storage write for %s/%d@%d failed: %w", raw.Topic, raw.Partition, raw.Offset, err))
	}
	return nil
}

// SetLastDrainerException is a no-op for the sample task; a production
// task would plumb this into a per-partition health registry instead.
func (t *Task) SetLastDrainerException(error) {}

func (t *Task) decode(value []byte) ([]byte, error) {
	if len(value) == 0 {
		return value, nil
	}

	mode := CompressionMode(value[0])
	payload := value[1:]

	switch mode {
	case CompressionNone:
		return payload, nil

	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return out, nil

	case CompressionZstd:
		out, err := t.zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unknown compression mode %#x", byte(mode))
	}
}
