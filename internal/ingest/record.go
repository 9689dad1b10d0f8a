// Copyright (c) 2026 Sebas-Inf, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package ingest

// RawRecord is the unit of work as it arrives from the upstream log.
// Offset may be -1 for synthetic probe records used only by the drain
// barrier (see barrier.go); Key and Value are nil for those probes.
type RawRecord struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
}

// IngestionRecord is the internal envelope a drainer actually queues and
// takes. It carries the raw record plus the back-references the drainer
// needs to invoke the task and signal completion.
//
// Equality between two IngestionRecords is NOT defined as a method on this
// type on purpose — the source design overloads equality to (topic,
// partition) for exactly one call site (the drain-barrier contains scan),
// and promoting that to the type's general identity would be a hazard for
// every other caller. See eqTopicPartition below and §9 of SPEC_FULL.md.
type IngestionRecord struct {
	Raw      RawRecord
	Task     IngestionTask
	Produced ProducedRecord
}

// sizeHint is the byte cost this record is accounted against in its
// drainer's MemoryBoundedQueue: payload + topic name + a fixed per-node
// overhead covering struct and queue-node bookkeeping.
func (r *IngestionRecord) sizeHint(overheadBytes int64) int64 {
	return int64(len(r.Raw.Key)) + int64(len(r.Raw.Value)) + int64(len(r.Raw.Topic)) + overheadBytes
}

// newProbeRecord builds the synthetic, payload-less record used by
// DrainPartition to test for (topic,partition) presence in a queue.
func newProbeRecord(topic string, partition int32) *IngestionRecord {
	return &IngestionRecord{Raw: RawRecord{Topic: topic, Partition: partition, Offset: -1}}
}

// eqTopicPartition is the explicit predicate passed to Contains by the
// drain barrier. Kept as a free function rather than an Equal method so
// every other caller of IngestionRecord is forced to say what equality it
// means, instead of inheriting this one hazard-prone definition.
func eqTopicPartition(a, b *IngestionRecord) bool {
	return a.Raw.Topic == b.Raw.Topic && a.Raw.Partition == b.Raw.Partition
}
