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

package proxycore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// ProxyTransaction is the client-side handle for one in-progress
// transaction against one backend shard. It is not safe for concurrent use
// from more than one application goroutine; the only other goroutine
// allowed to touch it is the connection thread, exclusively through
// ReconnectCoordinator.
type ProxyTransaction struct {
	id      TransactionID
	parent  Parent
	backend BackendAdapter
	logger  Logger

	seq   SequenceAllocator
	log   SuccessfulRequestLog // application-thread-owned; see SuccessfulRequestLog doc
	state *DualState

	// mu is the proxy monitor: it serializes the commit fast path's
	// SEALED->FLUSHED CAS against startReconnect's SUCCESSOR swap. It is
	// never held while sending a request over the wire is anything but a
	// synchronous handoff, and it is never taken while a queue lock is
	// held, by the locking discipline in spec.md §5.
	mu sync.Mutex

	purged atomic.Bool
}

// NewProxyTransaction constructs a fresh proxy in the OPEN, unsealed state.
// logger may be nil, in which case diagnostics are discarded.
func NewProxyTransaction(id TransactionID, parent Parent, backend BackendAdapter, logger Logger) *ProxyTransaction {
	if logger == nil {
		logger = noopLogger{}
	}
	return &ProxyTransaction{
		id:      id,
		parent:  parent,
		backend: backend,
		logger:  logger,
		state:   newDualState(),
	}
}

// ID returns the transaction identifier. Equality and request routing use
// only this value.
func (t *ProxyTransaction) ID() TransactionID { return t.id }

// Backend exposes the adapter for collaborators outside this package (the
// reconnect driver and the demo transport); it is not part of the
// user-facing API.
func (t *ProxyTransaction) Backend() BackendAdapter { return t.backend }

// Sealed reports whether seal() has already completed successfully.
func (t *ProxyTransaction) Sealed() bool { return t.state.Sealed() }

// Phase reports the current phase, for diagnostics and tests.
func (t *ProxyTransaction) Phase() PhaseKind {
	kind, _ := t.state.Phase()
	return kind
}

func (t *ProxyTransaction) requireNotSealed() error {
	if t.state.Sealed() {
		return ErrAlreadySealed
	}
	return nil
}

func (t *ProxyTransaction) requireSealed() error {
	if !t.state.Sealed() {
		return ErrNotSealed
	}
	return nil
}

func (t *ProxyTransaction) requireReadWrite() error {
	if t.backend.IsSnapshotOnly() {
		return ErrReadOnlyViolation
	}
	return nil
}

// Read delegates to the backend adapter. It requires the transaction not be
// sealed and does not allocate a sequence number at this layer; the adapter
// owns read addressing.
func (t *ProxyTransaction) Read(ctx context.Context, path Path) (*Future[ReadResult], error) {
	if err := t.requireNotSealed(); err != nil {
		return nil, err
	}
	return t.backend.DoRead(ctx, path), nil
}

// Exists delegates to the backend adapter, with the same preconditions as Read.
func (t *ProxyTransaction) Exists(ctx context.Context, path Path) (*Future[ExistsResult], error) {
	if err := t.requireNotSealed(); err != nil {
		return nil, err
	}
	return t.backend.DoExists(ctx, path), nil
}

// Write requires read-write + not-sealed and delegates to the adapter.
func (t *ProxyTransaction) Write(path Path, data Node) error {
	if err := t.requireReadWrite(); err != nil {
		return err
	}
	if err := t.requireNotSealed(); err != nil {
		return err
	}
	return t.backend.DoWrite(path, data)
}

// Merge requires read-write + not-sealed and delegates to the adapter.
func (t *ProxyTransaction) Merge(path Path, data Node) error {
	if err := t.requireReadWrite(); err != nil {
		return err
	}
	if err := t.requireNotSealed(); err != nil {
		return err
	}
	return t.backend.DoMerge(path, data)
}

// Delete requires read-write + not-sealed and delegates to the adapter.
func (t *ProxyTransaction) Delete(path Path) error {
	if err := t.requireReadWrite(); err != nil {
		return err
	}
	if err := t.requireNotSealed(); err != nil {
		return err
	}
	return t.backend.DoDelete(path)
}

// Seal performs the 0->1 CAS of the sealed flag and, on success, runs
// internalSeal. A second call always fails with ErrDoubleSeal.
func (t *ProxyTransaction) Seal(ctx context.Context) error {
	if !t.state.sealOnce() {
		return ErrDoubleSeal
	}
	return t.internalSeal(ctx)
}

// EnsureSealed is the idempotent variant invoked from the successor path:
// it wins the CAS at most once and only then runs internalSeal. Calling it
// any number of times after the first has no additional effect.
func (t *ProxyTransaction) EnsureSealed(ctx context.Context) error {
	if !t.state.sealOnce() {
		return nil
	}
	return t.internalSeal(ctx)
}

// internalSeal finalizes buffered adapter state, notifies the parent, and
// attempts the OPEN->SEALED phase CAS. If the CAS lost the race to a
// successor install, it awaits the latch and continues the seal on the
// successor.
func (t *ProxyTransaction) internalSeal(ctx context.Context) error {
	if err := t.backend.DoSeal(); err != nil {
		return err
	}
	t.parent.OnTransactionSealed(t.id)

	if t.state.casPhase(PhaseOpen, PhaseSealed) {
		t.logger.Printf("transaction %s: OPEN -> SEALED", t.id)
		return nil
	}

	kind, cell := t.state.Phase()
	if kind != PhaseSuccessor {
		panic(fmt.Errorf("proxycore: expected SUCCESSOR after failed OPEN->SEALED CAS, got %s", kind))
	}
	succ, err := cell.await(ctx)
	if err != nil {
		return err
	}
	if err := t.backend.FlushState(succ.backend); err != nil {
		return err
	}
	return succ.EnsureSealed(ctx)
}

// AbortPreSeal is the pre-seal abort(): it fails if the transaction is
// already sealed, otherwise it emits an abort request tagged for this
// proxy and tells the parent to drop the transaction. It does not vote;
// there is no coordinator to vote to yet.
func (t *ProxyTransaction) AbortPreSeal() error {
	if t.state.Sealed() {
		return ErrAlreadySealed
	}
	seq := t.seq.NextSequence()
	req := NewAbortRequest(t.id, seq)
	if err := t.backend.DoAbort(); err != nil {
		return err
	}
	t.parent.Send(req, func(Response, error) {})
	t.parent.DropTransaction(t.id)
	return nil
}

// AbortPostSeal is the post-seal abort(voting): it sends an abort request
// and translates the response into a vote, purging on completion
// regardless of outcome.
func (t *ProxyTransaction) AbortPostSeal(ctx context.Context, voting VotingFuture) error {
	if err := t.requireSealed(); err != nil {
		return err
	}
	seq := t.seq.NextSequence()
	req := NewAbortRequest(t.id, seq)
	t.parent.Send(req, func(resp Response, err error) {
		defer func() { _ = t.Purge(ctx) }()
		if err != nil {
			voting.VoteNo(err)
			return
		}
		switch r := resp.(type) {
		case AbortSuccess:
			voting.VoteYes()
		case RequestFailure:
			voting.VoteNo(r.Cause)
		default:
			voting.VoteNo(&ProtocolViolation{Request: req})
		}
	})
	return nil
}

// runFastPath is the shared §4.4 monitor section for directCommit and
// canCommit: take the monitor, attempt the SEALED->FLUSHED CAS, and either
// run action (still under the monitor) or release it and await the
// successor latch.
func (t *ProxyTransaction) runFastPath(ctx context.Context, action func(seq uint64)) (won bool, successor *ProxyTransaction, err error) {
	t.mu.Lock()
	if t.state.casPhase(PhaseSealed, PhaseFlushed) {
		seq := t.seq.NextSequence()
		action(seq)
		t.mu.Unlock()
		return true, nil, nil
	}
	kind, cell := t.state.Phase()
	t.mu.Unlock()
	if kind != PhaseSuccessor {
		panic(fmt.Errorf("proxycore: expected SUCCESSOR after failed SEALED->FLUSHED CAS, got %s", kind))
	}
	succ, waitErr := cell.await(ctx)
	if waitErr != nil {
		return false, nil, waitErr
	}
	return false, succ, nil
}

// DirectCommit is the single-shard commit shortcut. On the fast path it
// builds a non-coordinated commit request, sends it, and purges on any
// terminal outcome; it never records the request in the successful-request
// log because it is terminal (see spec.md §9 open questions). On the slow
// path it retries itself on the successor.
func (t *ProxyTransaction) DirectCommit(ctx context.Context) (*Future[bool], error) {
	if err := t.requireSealed(); err != nil {
		return nil, err
	}
	future := NewFuture[bool]()
	won, succ, err := t.runFastPath(ctx, func(seq uint64) {
		req := t.backend.CommitRequest(t.id, seq, false)
		t.logger.Printf("transaction %s: SEALED -> FLUSHED (directCommit)", t.id)
		t.parent.Send(req, func(resp Response, sendErr error) {
			defer func() { _ = t.Purge(ctx) }()
			if sendErr != nil {
				future.Complete(false, sendErr)
				return
			}
			switch r := resp.(type) {
			case CommitSuccess:
				future.Complete(true, nil)
			case RequestFailure:
				future.Complete(false, &CommitFailed{Cause: r.Cause})
			default:
				future.Complete(false, &ProtocolViolation{Request: req})
			}
		})
	})
	if err != nil {
		return nil, err
	}
	if won {
		return future, nil
	}
	return succ.DirectCommit(ctx)
}

// CanCommit is phase one of the coordinated three-phase commit. On the
// fast path it records the commit request in the successful-request log
// (so a later reconnect can replay it) before sending. On the slow path it
// retries itself on the successor.
func (t *ProxyTransaction) CanCommit(ctx context.Context, voting VotingFuture) error {
	if err := t.requireSealed(); err != nil {
		return err
	}
	won, succ, err := t.runFastPath(ctx, func(seq uint64) {
		req := t.backend.CommitRequest(t.id, seq, true)
		t.logger.Printf("transaction %s: SEALED -> FLUSHED (canCommit)", t.id)
		t.log.RecordSuccessfulRequest(req)
		t.parent.Send(req, func(resp Response, sendErr error) {
			if sendErr != nil {
				voting.VoteNo(sendErr)
				return
			}
			switch r := resp.(type) {
			case CanCommitSuccess:
				t.logger.Printf("transaction %s: canCommit complete", t.id)
				voting.VoteYes()
			case RequestFailure:
				voting.VoteNo(r.Cause)
			default:
				voting.VoteNo(&ProtocolViolation{Request: req})
			}
		})
	})
	if err != nil {
		return err
	}
	if won {
		return nil
	}
	return succ.CanCommit(ctx, voting)
}

// PreCommit runs only after a successful canCommit, so phase is already
// FLUSHED; there is no CAS here; any reconnect that lands mid-preCommit is
// handled transparently by replayMessages forwarding the in-flight request.
// On success it replaces the entire log with just the preCommit request,
// so a reconnect immediately after can still resync the backend.
func (t *ProxyTransaction) PreCommit(ctx context.Context, voting VotingFuture) error {
	seq := t.seq.NextSequence()
	req := NewPreCommitRequest(t.id, seq)
	t.parent.Send(req, func(resp Response, err error) {
		if err != nil {
			voting.VoteNo(err)
			return
		}
		switch r := resp.(type) {
		case PreCommitSuccess:
			t.log.Reset(RequestEntry{Req: req})
			voting.VoteYes()
		case RequestFailure:
			voting.VoteNo(r.Cause)
		default:
			voting.VoteNo(&ProtocolViolation{Request: req})
		}
	})
	return nil
}

// DoCommit finalizes a coordinated commit. Purge runs on any terminal
// outcome, success or failure.
func (t *ProxyTransaction) DoCommit(ctx context.Context, voting VotingFuture) error {
	seq := t.seq.NextSequence()
	req := NewDoCommitRequest(t.id, seq)
	t.parent.Send(req, func(resp Response, err error) {
		defer func() { _ = t.Purge(ctx) }()
		if err != nil {
			voting.VoteNo(err)
			return
		}
		switch r := resp.(type) {
		case CommitSuccess:
			voting.VoteYes()
		case RequestFailure:
			voting.VoteNo(r.Cause)
		default:
			voting.VoteNo(&ProtocolViolation{Request: req})
		}
	})
	return nil
}

// Purge is terminal and idempotent: it notifies the parent that this
// transaction's commit or abort vote has resolved, clears the log, sends a
// PurgeRequest, and on acknowledgement notifies the parent to remove this
// proxy. Calling it more than once after the first is a no-op; the purged
// CAS is also what makes the NotifyComplete call exactly-once regardless
// of which terminal path (directCommit, doCommit, abort) reached it first.
func (t *ProxyTransaction) Purge(ctx context.Context) error {
	if !t.purged.CompareAndSwap(false, true) {
		return nil
	}
	t.parent.NotifyComplete(t.id)
	t.log.Clear()
	seq := t.seq.NextSequence()
	req := NewPurgeRequest(t.id, seq)
	t.parent.Send(req, func(resp Response, err error) {
		if err == nil {
			if rf, ok := resp.(RequestFailure); ok {
				t.logger.Printf("transaction %s: purge reported failure: %v", t.id, rf.Cause)
			}
		} else {
			t.logger.Printf("transaction %s: purge send error: %v", t.id, err)
		}
		t.parent.RemoveProxy(t.id)
	})
	return nil
}
