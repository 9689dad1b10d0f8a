// Copyright (c) 2026 Sebas-Inf, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/pgzip"
)

const snapshotSuffix = ".snapshot.gz"

// SnapshotWriter exports a Store to a gzip-compressed file: write to a
// temporary file, rename to a timestamped final name, optionally upload to
// S3. The written file is not read back or validated before the rename. Grounded on the teacher's AtomicWriter (internal/server/
// storage.go) — same temp-then-rename discipline, generalized from a fixed
// tar.gz blob to a compressed dump of arbitrary records, with pgzip instead
// of a single-threaded gzip.Writer so a large store doesn't make every
// export a single-core bottleneck.
type SnapshotWriter struct {
	dir      string
	uploader *s3.Client
	bucket   string
}

// NewSnapshotWriter creates dir if needed and returns a SnapshotWriter. A
// nil uploader disables S3 upload; Export then only writes locally.
func NewSnapshotWriter(dir string, uploader *s3.Client, bucket string) (*SnapshotWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating snapshot directory: %w", err)
	}
	return &SnapshotWriter{dir: dir, uploader: uploader, bucket: bucket}, nil
}

// Export writes every record currently in store to a new timestamped
// snapshot file and returns its path. On any failure the temporary file is
// removed and the store's prior snapshots are left untouched.
func (w *SnapshotWriter) Export(ctx context.Context, store *Store) (string, error) {
	f, err := os.CreateTemp(w.dir, "snapshot-*.tmp")
	if err != nil {
		return "", fmt.Errorf("storage: creating temp file: %w", err)
	}
	tmpPath := f.Name()

	gz := pgzip.NewWriter(f)
	if err := store.dumpTo(ctx, gz); err != nil {
		_ = gz.Close()
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("storage: dumping records: %w", err)
	}
	if err := gz.Close(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("storage: closing gzip writer: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("storage: closing temp file: %w", err)
	}

	finalPath := filepath.Join(w.dir, snapshotName())
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("storage: renaming snapshot: %w", err)
	}

	if w.uploader != nil {
		if err := w.upload(ctx, finalPath); err != nil {
			return finalPath, fmt.Errorf("storage: uploading snapshot: %w", err)
		}
	}
	return finalPath, nil
}

func (w *SnapshotWriter) upload(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening snapshot for upload: %w", err)
	}
	defer f.Close()

	_, err = w.uploader.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(filepath.Base(path)),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("putting object: %w", err)
	}
	return nil
}

func snapshotName() string {
	ts := strings.ReplaceAll(time.Now().UTC().Format("2006-01-02T15-04-05.000"), ".", "-")
	return ts + snapshotSuffix
}

// Rotate removes snapshot files in dir beyond the maxSnapshots most recent,
// oldest first — the same retention policy as the teacher's Rotate
// (internal/server/storage.go), generalized to this package's filename
// suffix.
func Rotate(dir string, maxSnapshots int) error {
	if maxSnapshots <= 0 {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("storage: reading snapshot directory: %w", err)
	}

	var snapshots []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), snapshotSuffix) {
			snapshots = append(snapshots, e.Name())
		}
	}
	sort.Strings(snapshots)

	if len(snapshots) > maxSnapshots {
		for _, name := range snapshots[:len(snapshots)-maxSnapshots] {
			if err := os.Remove(filepath.Join(dir, name)); err != nil {
				return fmt.Errorf("storage: removing old snapshot %s: %w", name, err)
			}
		}
	}
	return nil
}
