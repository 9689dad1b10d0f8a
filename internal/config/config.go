// Copyright (c) 2026 Sebas-Inf, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Package config loads and validates the YAML configuration for the
// ingestion daemon: the buffer-and-drain engine, its Kafka source, the
// embedded store, and the diagnostic sampler.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"gopkg.in/yaml.v3"
)

// AppConfig is the full configuration of the ingestion daemon.
type AppConfig struct {
	Ingest      IngestConfig      `yaml:"ingest"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Storage     StorageConfig     `yaml:"storage"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Logging     LoggingInfo       `yaml:"logging"`
}

// IngestConfig parameterizes the drainer pool.
type IngestConfig struct {
	DrainerCount int `yaml:"drainer_count"`

	// CapacityPerDrainer is a human-readable size such as "256mb"; the
	// parsed byte value lands in CapacityPerDrainerRaw.
	CapacityPerDrainer    string `yaml:"capacity_per_drainer"`
	CapacityPerDrainerRaw int64  `yaml:"-"`

	// NotifyDelta is the producer wake-up granularity, same size syntax
	// as CapacityPerDrainer. Empty defaults to a quarter of
	// CapacityPerDrainer; an explicit "0" wakes a producer on every dequeue.
	NotifyDelta    string `yaml:"notify_delta"`
	NotifyDeltaRaw int64  `yaml:"-"`

	SlowDrainerThresholdFraction float64       `yaml:"slow_drainer_threshold_fraction"`
	DrainRetryBudget             int           `yaml:"drain_retry_budget"`
	DrainSleepInterval           time.Duration `yaml:"drain_sleep_interval"`
	StopTimeout                  time.Duration `yaml:"stop_timeout"`
}

// KafkaConfig points a Poller at a cluster and the partitions to subscribe.
type KafkaConfig struct {
	Brokers []string  `yaml:"brokers"`
	Version string    `yaml:"version"` // e.g. "3.4.0"; empty resolves to 2.8.0 (see ParsedVersion)
	TLS     TLSClient `yaml:"tls"`

	// ThrottleBytesPerSec is a human-readable size like "10mb"; "0" or
	// empty disables throttling.
	ThrottleBytesPerSec    string `yaml:"throttle_bytes_per_sec"`
	ThrottleBytesPerSecRaw int64  `yaml:"-"`

	Subscriptions []SubscriptionEntry `yaml:"subscriptions"`
}

// SubscriptionEntry names one (topic,partition) to consume from, plus the
// offset to start at — any of sarama's OffsetOldest (-2), OffsetNewest
// (-1), or an explicit non-negative offset.
type SubscriptionEntry struct {
	Topic     string `yaml:"topic"`
	Partition int32  `yaml:"partition"`
	Offset    int64  `yaml:"offset"`
}

// TLSClient configures the Kafka client's TLS trust. Empty CACert leaves
// the connection unencrypted, matching local/dev Kafka clusters.
type TLSClient struct {
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
	Mutual     bool   `yaml:"mutual"` // use pki.NewMutualTLSConfig (TLS 1.3); needs client_cert and client_key
}

// StorageConfig configures the embedded store and its periodic snapshots.
type StorageConfig struct {
	Path string `yaml:"path"`

	SnapshotDir      string        `yaml:"snapshot_dir"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	RetainSnapshots  int           `yaml:"retain_snapshots"`

	// S3Bucket, if set, uploads every exported snapshot there; the
	// uploader's credentials come from the environment/instance profile.
	S3Bucket string `yaml:"s3_bucket"`
}

// DiagnosticsConfig schedules the periodic drainer sampler.
type DiagnosticsConfig struct {
	Schedule string `yaml:"schedule"` // cron spec, default "@every 30s"
}

// LoggingInfo controls log level, format and an optional tee-to-file.
type LoggingInfo struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	FilePath string `yaml:"file_path"`
}

// LoadConfig reads and validates the YAML file at path.
func LoadConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *AppConfig) validate() error {
	if c.Ingest.DrainerCount <= 0 {
		c.Ingest.DrainerCount = 8
	}
	if c.Ingest.CapacityPerDrainer == "" {
		c.Ingest.CapacityPerDrainer = "256mb"
	}
	parsed, err := ParseByteSize(c.Ingest.CapacityPerDrainer)
	if err != nil {
		return fmt.Errorf("ingest.capacity_per_drainer: %w", err)
	}
	if parsed < 1 {
		return fmt.Errorf("ingest.capacity_per_drainer must be > 0, got %s", c.Ingest.CapacityPerDrainer)
	}
	c.Ingest.CapacityPerDrainerRaw = parsed

	if c.Ingest.NotifyDelta == "" {
		c.Ingest.NotifyDeltaRaw = parsed / 4
	} else {
		notifyParsed, err := ParseByteSize(c.Ingest.NotifyDelta)
		if err != nil {
			return fmt.Errorf("ingest.notify_delta: %w", err)
		}
		c.Ingest.NotifyDeltaRaw = notifyParsed
	}

	if c.Ingest.SlowDrainerThresholdFraction <= 0 {
		c.Ingest.SlowDrainerThresholdFraction = 0.8
	}
	if c.Ingest.DrainRetryBudget <= 0 {
		c.Ingest.DrainRetryBudget = 1000
	}
	if c.Ingest.DrainSleepInterval <= 0 {
		c.Ingest.DrainSleepInterval = 50 * time.Millisecond
	}
	if c.Ingest.StopTimeout <= 0 {
		c.Ingest.StopTimeout = 10 * time.Second
	}

	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers must have at least one entry")
	}
	if len(c.Kafka.Subscriptions) == 0 {
		return fmt.Errorf("kafka.subscriptions must have at least one entry")
	}
	for i, sub := range c.Kafka.Subscriptions {
		if sub.Topic == "" {
			return fmt.Errorf("kafka.subscriptions[%d].topic is required", i)
		}
		if sub.Partition < 0 {
			return fmt.Errorf("kafka.subscriptions[%d].partition must be >= 0, got %d", i, sub.Partition)
		}
	}
	if c.Kafka.ThrottleBytesPerSec == "" || c.Kafka.ThrottleBytesPerSec == "0" {
		c.Kafka.ThrottleBytesPerSecRaw = 0
	} else {
		throttled, err := ParseByteSize(c.Kafka.ThrottleBytesPerSec)
		if err != nil {
			return fmt.Errorf("kafka.throttle_bytes_per_sec: %w", err)
		}
		c.Kafka.ThrottleBytesPerSecRaw = throttled
	}
	if c.Kafka.TLS.Mutual && (c.Kafka.TLS.ClientCert == "" || c.Kafka.TLS.ClientKey == "") {
		return fmt.Errorf("kafka.tls.mutual requires client_cert and client_key")
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Storage.SnapshotDir == "" {
		c.Storage.SnapshotDir = "snapshots"
	}
	if c.Storage.SnapshotInterval <= 0 {
		c.Storage.SnapshotInterval = 5 * time.Minute
	}
	if c.Storage.RetainSnapshots <= 0 {
		c.Storage.RetainSnapshots = 5
	}

	if c.Diagnostics.Schedule == "" {
		c.Diagnostics.Schedule = "@every 30s"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}

// ParsedVersion resolves Version to a sarama.KafkaVersion, defaulting to
// 2.8.0 when unset.
func (c KafkaConfig) ParsedVersion() (sarama.KafkaVersion, error) {
	if c.Version == "" {
		return sarama.V2_8_0_0, nil
	}
	return sarama.ParseKafkaVersion(c.Version)
}

// ParseByteSize converts human-readable sizes like "256mb" or "1gb" to a
// byte count. A bare number is interpreted as bytes.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	type suffix struct {
		s string
		m int64
	}
	// Longest suffix first so "mb" isn't matched as "b".
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q: %w", numStr, err)
			}
			return num * sfx.m, nil
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown size format %q", s)
	}
	return num, nil
}
