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

// Package journal provides a durable, idempotent record of completed
// transaction outcomes (committed or aborted), backed by database/sql.
//
// Schema (reference):
//
//	CREATE TABLE IF NOT EXISTS transaction_outcomes (
//	  txn_id TEXT PRIMARY KEY,
//	  outcome TEXT NOT NULL,
//	  sequence BIGINT NOT NULL,
//	  recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
// A record is written at most once per transaction id: a second write for
// the same id (retry after a crash between doCommit and purge, or a
// reconnect replaying the same request) is a no-op via ON CONFLICT DO
// NOTHING, the same idempotency shape the ratelimiter's Postgres persister
// uses for applied_commits.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"shardproxy/pkg/proxycore"
)

// Outcome is the closed set of terminal states a transaction can journal.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeAborted   Outcome = "aborted"
)

// Journal records terminal transaction outcomes durably.
type Journal struct {
	db             *sql.DB
	defaultTimeout time.Duration
}

// New wraps db. The caller owns the connection pool's lifecycle.
func New(db *sql.DB) *Journal {
	return &Journal{db: db, defaultTimeout: 10 * time.Second}
}

// Record writes the outcome for id at sequence, idempotently. Calling it
// twice for the same id (same or different outcome/sequence) only ever
// keeps the first write, mirroring the "first writer wins" semantics a
// replayed doCommit after a reconnect needs.
func (j *Journal) Record(ctx context.Context, id proxycore.TransactionID, outcome Outcome, sequence uint64) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.defaultTimeout)
		defer cancel()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO transaction_outcomes(txn_id, outcome, sequence) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		string(id), string(outcome), sequence)
	if err != nil {
		return fmt.Errorf("journal: record %s: %w", id, err)
	}
	return nil
}

// Lookup reports the previously journaled outcome for id, if any. A
// reconnect coordinator can use this to short-circuit a replay of a
// request whose outcome is already durable.
func (j *Journal) Lookup(ctx context.Context, id proxycore.TransactionID) (Outcome, bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var outcome string
	err := j.db.QueryRowContext(ctx,
		`SELECT outcome FROM transaction_outcomes WHERE txn_id = $1`, string(id)).Scan(&outcome)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("journal: lookup %s: %w", id, err)
	}
	return Outcome(outcome), true, nil
}
