// Copyright (c) 2026 Sebas-Inf, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Package storage is the downstream persistence layer an ingesttask.Task
// writes through to: an embedded, per-partition-keyed key/value store with
// atomic snapshot export, described in SPEC_FULL.md §2.2's DOMAIN STACK.
package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"io"

	_ "modernc.org/sqlite"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS records (
	topic     TEXT    NOT NULL,
	partition INTEGER NOT NULL,
	offset    INTEGER NOT NULL,
	key       BLOB,
	value     BLOB    NOT NULL,
	PRIMARY KEY (topic, partition, offset)
);
`

// Store is an embedded SQLite-backed key/value engine, one row per
// (topic,partition,offset). modernc.org/sqlite is a pure-Go driver, so the
// store needs no cgo toolchain at build time.
//
// Grounded on the teacher's AtomicWriter (internal/server/storage.go) for
// the "durable local persistence with atomic export" shape; the row schema
// and query surface are new, since the teacher persists opaque tar.gz blobs
// rather than keyed records.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) the SQLite database at path and ensures its
// schema exists. SQLite only supports one writer at a time, so the
// connection pool is pinned to a single connection.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: creating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Put durably writes one record, replacing any prior value at the same
// (topic,partition,offset).
func (s *Store) Put(ctx context.Context, topic string, partition int32, offset int64, key, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (topic, partition, offset, key, value) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (topic, partition, offset) DO UPDATE SET key = excluded.key, value = excluded.value
	`, topic, partition, offset, key, value)
	if err != nil {
		return fmt.Errorf("storage: writing record %s/%d@%d: %w", topic, partition, offset, err)
	}
	return nil
}

// Get returns the value stored at (topic,partition,offset), or ok=false if
// no such record exists.
func (s *Store) Get(ctx context.Context, topic string, partition int32, offset int64) (value []byte, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM records WHERE topic = ? AND partition = ? AND offset = ?`, topic, partition, offset)
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("storage: reading record %s/%d@%d: %w", topic, partition, offset, err)
	}
	return value, true, nil
}

// LatestOffset returns the highest offset recorded for (topic,partition), or
// -1 if the pair has no records yet. ingesttask.Task does not call it; the
// daemon starts each subscription at the offset given in its config.
func (s *Store) LatestOffset(ctx context.Context, topic string, partition int32) (int64, error) {
	var offset sql.NullInt64
	row := s.db.QueryRowContext(ctx, `SELECT MAX(offset) FROM records WHERE topic = ? AND partition = ?`, topic, partition)
	if err := row.Scan(&offset); err != nil {
		return 0, fmt.Errorf("storage: reading latest offset for %s/%d: %w", topic, partition, err)
	}
	if !offset.Valid {
		return -1, nil
	}
	return offset.Int64, nil
}

// Count returns the total number of records currently stored.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: counting records: %w", err)
	}
	return n, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// dumpTo streams every record to w in the length-prefixed binary format
// snapshot.go compresses and writes atomically to disk.
func (s *Store) dumpTo(ctx context.Context, w io.Writer) error {
	rows, err := s.db.QueryContext(ctx, `SELECT topic, partition, offset, key, value FROM records ORDER BY topic, partition, offset`)
	if err != nil {
		return fmt.Errorf("storage: querying records for dump: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var topic string
		var partition int32
		var offset int64
		var key, value []byte
		if err := rows.Scan(&topic, &partition, &offset, &key, &value); err != nil {
			return fmt.Errorf("storage: scanning record for dump: %w", err)
		}
		if err := writeRecord(w, topic, partition, offset, key, value); err != nil {
			return err
		}
	}
	return rows.Err()
}

// RestoreFrom reads records written by dumpTo and re-applies them with Put.
// The daemon itself never calls it; restoring a store from a snapshot file
// is up to whoever opens that file.
func (s *Store) RestoreFrom(ctx context.Context, r io.Reader) error {
	for {
		topic, partition, offset, key, value, err := readRecord(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.Put(ctx, topic, partition, offset, key, value); err != nil {
			return err
		}
	}
}

func writeRecord(w io.Writer, topic string, partition int32, offset int64, key, value []byte) error {
	if err := writeLenPrefixed(w, []byte(topic)); err != nil {
		return fmt.Errorf("storage: writing topic: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, partition); err != nil {
		return fmt.Errorf("storage: writing partition: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, offset); err != nil {
		return fmt.Errorf("storage: writing offset: %w", err)
	}
	if err := writeLenPrefixed(w, key); err != nil {
		return fmt.Errorf("storage: writing key: %w", err)
	}
	if err := writeLenPrefixed(w, value); err != nil {
		return fmt.Errorf("storage: writing value: %w", err)
	}
	return nil
}

func readRecord(r io.Reader) (topic string, partition int32, offset int64, key, value []byte, err error) {
	topicBytes, err := readLenPrefixed(r)
	if err != nil {
		return "", 0, 0, nil, nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &partition); err != nil {
		return "", 0, 0, nil, nil, fmt.Errorf("storage: reading partition: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &offset); err != nil {
		return "", 0, 0, nil, nil, fmt.Errorf("storage: reading offset: %w", err)
	}
	key, err = readLenPrefixed(r)
	if err != nil {
		return "", 0, 0, nil, nil, fmt.Errorf("storage: reading key: %w", err)
	}
	value, err = readLenPrefixed(r)
	if err != nil {
		return "", 0, 0, nil, nil, fmt.Errorf("storage: reading value: %w", err)
	}
	return string(topicBytes), partition, offset, key, value, nil
}

func writeLenPrefixed(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.BigEndian, int32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	var n int32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err // io.EOF surfaces here at a record boundary
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
