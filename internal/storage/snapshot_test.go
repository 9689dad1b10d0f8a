// Copyright (c) 2026 Sebas-Inf, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/pgzip"
)

func TestSnapshotWriter_ExportThenRestore(t *testing.T) {
	src := openTestStore(t)
	ctx := context.Background()
	for _, off := range []int64{1, 2, 3} {
		if err := src.Put(ctx, "t", 0, off, []byte("k"), []byte("v")); err != nil {
			t.Fatalf("Put(%d): %v", off, err)
		}
	}

	dir := t.TempDir()
	w, err := NewSnapshotWriter(dir, nil, "")
	if err != nil {
		t.Fatalf("NewSnapshotWriter: %v", err)
	}

	path, err := w.Export(ctx, src)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !strings.HasSuffix(path, snapshotSuffix) {
		t.Fatalf("expected snapshot suffix %q, got %q", snapshotSuffix, path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected snapshot file to exist: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening snapshot: %v", err)
	}
	defer f.Close()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		t.Fatalf("pgzip.NewReader: %v", err)
	}
	defer gz.Close()

	dst := openTestStore(t)
	if err := dst.RestoreFrom(ctx, gz); err != nil {
		t.Fatalf("RestoreFrom: %v", err)
	}

	n, err := dst.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 restored records, got %d", n)
	}
}

func TestSnapshotWriter_ExportLeavesNoTempFileOnDumpFailure(t *testing.T) {
	// Exercise the cleanup path: an Export against an already-closed store
	// must fail the dump step and remove its temp file rather than leaking
	// a partial ".tmp" in the snapshot directory.
	s := openTestStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("closing store early: %v", err)
	}

	dir := t.TempDir()
	w, err := NewSnapshotWriter(dir, nil, "")
	if err != nil {
		t.Fatalf("NewSnapshotWriter: %v", err)
	}

	if _, err := w.Export(context.Background(), s); err == nil {
		t.Fatal("expected Export against a closed store to fail")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading snapshot dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("leftover temp file after failed export: %s", e.Name())
		}
	}
}

func TestRotate_KeepsOnlyMostRecentSnapshots(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"2026-01-01T00-00-00-000" + snapshotSuffix,
		"2026-01-02T00-00-00-000" + snapshotSuffix,
		"2026-01-03T00-00-00-000" + snapshotSuffix,
		"not-a-snapshot.txt",
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}

	if err := Rotate(dir, 2); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading dir: %v", err)
	}

	var remaining []string
	for _, e := range entries {
		remaining = append(remaining, e.Name())
	}

	if len(remaining) != 3 { // 2 kept snapshots + the unrelated file
		t.Fatalf("expected 3 remaining entries, got %v", remaining)
	}
	for _, name := range remaining {
		if name == "2026-01-01T00-00-00-000"+snapshotSuffix {
			t.Fatalf("oldest snapshot should have been rotated away: %v", remaining)
		}
	}
}
