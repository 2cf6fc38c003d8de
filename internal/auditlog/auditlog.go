// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package auditlog publishes a write-once record of every reconnect replay
// decision to an append-only log, for post-incident reconstruction of what
// a successor proxy actually replayed against a backend. It does not
// participate in the commit protocol; it is a side channel, fire-and-forget
// from the coordinator's point of view.
package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"shardproxy/pkg/proxycore"
)

// Producer is a minimal abstraction over a Kafka client, deliberately
// narrow so the package never has to import a concrete client library.
// Implementations should enable an idempotent producer and use CommitID
// (here, the transaction id) as the message key so broker-side dedup and
// per-transaction ordering are preserved.
type Producer interface {
	Produce(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

// ReplayRecord is the serialized payload published for one replayed
// request during a reconnect.
type ReplayRecord struct {
	TransactionID proxycore.TransactionID `json:"txn_id"`
	RequestKind   proxycore.RequestKind   `json:"request_kind"`
	Sequence      uint64                  `json:"sequence"`
	TsUnixMs      int64                   `json:"ts_unix_ms"`
}

// Sink publishes ReplayRecords to Kafka.
type Sink struct {
	producer       Producer
	topic          string
	defaultTimeout time.Duration
	now            func() int64
}

// New wraps producer, publishing to topic.
func New(producer Producer, topic string) *Sink {
	return &Sink{producer: producer, topic: topic, defaultTimeout: 5 * time.Second, now: func() int64 { return time.Now().UnixMilli() }}
}

// RecordReplay publishes one replay decision. A publish failure is logged
// by the caller, never retried here: audit coverage gaps are acceptable,
// blocking the reconnect on Kafka availability is not.
func (s *Sink) RecordReplay(ctx context.Context, req proxycore.Request) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && s.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.defaultTimeout)
		defer cancel()
	}
	rec := ReplayRecord{
		TransactionID: req.Target(),
		RequestKind:   req.Kind(),
		Sequence:      req.Sequence(),
		TsUnixMs:      s.now(),
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("auditlog: marshal replay record: %w", err)
	}
	headers := map[string]string{"content-type": "application/json"}
	if err := s.producer.Produce(ctx, s.topic, []byte(req.Target()), body, headers); err != nil {
		return fmt.Errorf("auditlog: produce for %s: %w", req.Target(), err)
	}
	return nil
}
