// Copyright (c) 2026 Sebas-Inf, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Package kafkasource pumps messages from Kafka partitions into an
// ingest.Service, one pump goroutine per subscribed (topic,partition). It is
// the upstream half described in SPEC_FULL.md §2.2: sarama does the broker
// protocol, this package only owns backpressure-aware delivery into the
// buffer-and-drain engine.
package kafkasource

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"
	"golang.org/x/time/rate"

	"github.com/sebas-inf/venice/internal/ingest"
)

// maxThrottleBurstBytes bounds the token bucket burst regardless of the
// configured rate, mirroring the teacher's ThrottledWriter cap on burst
// size (internal/agent/throttle.go) so a paused poller can't dump an
// unbounded burst the instant it resumes.
const maxThrottleBurstBytes = 256 * 1024

// Config parameterizes a Poller.
type Config struct {
	Brokers []string
	Version sarama.KafkaVersion

	// TLS, if non-nil, is installed on the sarama client config verbatim
	// (see internal/pki for constructors).
	TLS *tls.Config

	// ThrottleBytesPerSec caps aggregate consumption across all partitions
	// this Poller owns. Zero disables throttling.
	ThrottleBytesPerSec int64
}

// Poller owns one sarama client/consumer pair and a set of per-partition
// pump goroutines feeding a single ingest.Service.
//
// Grounded on the teacher's Dispatcher (internal/agent/dispatcher.go): one
// owning struct, N worker goroutines, a WaitGroup for clean shutdown. The
// retry/backoff machinery there doesn't apply here — sarama's
// PartitionConsumer already owns broker reconnect, so the pump only needs
// to react to context cancellation and channel closure.
type Poller struct {
	client   sarama.Client
	consumer sarama.Consumer
	service  *ingest.Service
	logger   *slog.Logger
	limiter  *rate.Limiter

	mu       sync.Mutex
	consumed map[topicPartition]sarama.PartitionConsumer
	wg       sync.WaitGroup
}

type topicPartition struct {
	topic     string
	partition int32
}

// NewPoller dials the Kafka cluster and returns a Poller ready to accept
// Subscribe calls. It does not consume anything on its own.
func NewPoller(cfg Config, service *ingest.Service, logger *slog.Logger) (*Poller, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafkasource: at least one broker address is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	saramaCfg := sarama.NewConfig()
	if cfg.Version != (sarama.KafkaVersion{}) {
		saramaCfg.Version = cfg.Version
	}
	saramaCfg.Consumer.Return.Errors = true
	if cfg.TLS != nil {
		saramaCfg.Net.TLS.Enable = true
		saramaCfg.Net.TLS.Config = cfg.TLS
	}

	client, err := sarama.NewClient(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("kafkasource: connecting to brokers: %w", err)
	}

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("kafkasource: creating consumer: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.ThrottleBytesPerSec > 0 {
		burst := int(cfg.ThrottleBytesPerSec)
		if burst > maxThrottleBurstBytes {
			burst = maxThrottleBurstBytes
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.ThrottleBytesPerSec), burst)
	}

	return &Poller{
		client:   client,
		consumer: consumer,
		service:  service,
		logger:   logger,
		limiter:  limiter,
		consumed: make(map[topicPartition]sarama.PartitionConsumer),
	}, nil
}

// Subscribe starts consuming topic/partition from offset and feeding every
// message into the service as task's workload. It returns once the
// PartitionConsumer is established; delivery happens on a background
// goroutine until ctx is done or Close is called.
func (p *Poller) Subscribe(ctx context.Context, topic string, partition int32, offset int64, task ingest.IngestionTask) error {
	key := topicPartition{topic: topic, partition: partition}

	p.mu.Lock()
	if _, exists := p.consumed[key]; exists {
		p.mu.Unlock()
		return fmt.Errorf("kafkasource: already subscribed to %s/%d", topic, partition)
	}

	pc, err := p.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("kafkasource: consuming %s/%d from offset %d: %w", topic, partition, offset, err)
	}
	p.consumed[key] = pc
	p.mu.Unlock()

	p.wg.Add(1)
	go p.pump(ctx, pc, topic, partition, task)
	return nil
}

// pump is the per-partition delivery loop. It exits when ctx is cancelled,
// when the PartitionConsumer's Messages channel closes, or when Enqueue
// reports the service is no longer accepting records (e.g. post-Stop).
func (p *Poller) pump(ctx context.Context, pc sarama.PartitionConsumer, topic string, partition int32, task ingest.IngestionTask) {
	defer p.wg.Done()
	defer pc.AsyncClose()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-pc.Messages():
			if !ok {
				return
			}
			if p.limiter != nil {
				// WaitN errors immediately if n exceeds the limiter's burst;
				// clamp so one oversized message can't wedge the partition.
				n := len(msg.Value)
				if burst := p.limiter.Burst(); n > burst {
					n = burst
				}
				if err := p.limiter.WaitN(ctx, n); err != nil {
					return
				}
			}

			raw := ingest.RawRecord{Topic: msg.Topic, Partition: msg.Partition, Offset: msg.Offset, Key: msg.Key, Value: msg.Value}
			if err := p.service.Enqueue(ctx, raw, task, nil); err != nil {
				if !errors.Is(err, context.Canceled) {
					p.logger.Error("enqueue failed, partition pump stopping",
						"topic", topic, "partition", partition, "error", err)
				}
				return
			}

		case cerr, ok := <-pc.Errors():
			if !ok {
				continue
			}
			p.logger.Error("partition consumer error", "topic", topic, "partition", partition, "error", cerr)
		}
	}
}

// Close stops every pump goroutine and releases the underlying sarama
// consumer and client. Safe to call once; a second call returns an error
// from the underlying client close.
func (p *Poller) Close() error {
	p.mu.Lock()
	for _, pc := range p.consumed {
		pc.AsyncClose()
	}
	p.mu.Unlock()

	p.wg.Wait()

	if err := p.consumer.Close(); err != nil {
		return fmt.Errorf("kafkasource: closing consumer: %w", err)
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("kafkasource: closing client: %w", err)
	}
	return nil
}
