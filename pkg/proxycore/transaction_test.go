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
	"errors"
	"testing"
	"time"
)

func TestProxyTransaction_ReadWritePreSealOnly(t *testing.T) {
	backend := newFakeBackend()
	parent := &fakeParent{}
	tx := NewProxyTransaction("txn-1", parent, backend, nil)

	if err := tx.Write("/a", "v1"); err != nil {
		t.Fatalf("Write() before seal = %v, want nil", err)
	}
	future, err := tx.Read(context.Background(), "/a")
	if err != nil {
		t.Fatalf("Read() before seal = %v, want nil", err)
	}
	result, err := future.Wait(context.Background())
	if err != nil || !result.Found || result.Node != "v1" {
		t.Fatalf("Read() future = (%+v, %v), want found v1", result, err)
	}

	if err := tx.Seal(context.Background()); err != nil {
		t.Fatalf("Seal() = %v, want nil", err)
	}
	if err := tx.Write("/b", "v2"); !errors.Is(err, ErrAlreadySealed) {
		t.Errorf("Write() after seal = %v, want ErrAlreadySealed", err)
	}
	if _, err := tx.Read(context.Background(), "/a"); !errors.Is(err, ErrAlreadySealed) {
		t.Errorf("Read() after seal = %v, want ErrAlreadySealed", err)
	}
}

func TestProxyTransaction_ReadOnlyViolation(t *testing.T) {
	backend := newFakeBackend()
	backend.snapshot = true
	parent := &fakeParent{}
	tx := NewProxyTransaction("txn-1", parent, backend, nil)

	if err := tx.Write("/a", "v1"); !errors.Is(err, ErrReadOnlyViolation) {
		t.Errorf("Write() on snapshot-only = %v, want ErrReadOnlyViolation", err)
	}
}

func TestProxyTransaction_DoubleSeal(t *testing.T) {
	backend := newFakeBackend()
	parent := &fakeParent{}
	tx := NewProxyTransaction("txn-1", parent, backend, nil)

	if err := tx.Seal(context.Background()); err != nil {
		t.Fatalf("first Seal() = %v, want nil", err)
	}
	if err := tx.Seal(context.Background()); !errors.Is(err, ErrDoubleSeal) {
		t.Errorf("second Seal() = %v, want ErrDoubleSeal", err)
	}
}

func TestProxyTransaction_EnsureSealedIsIdempotent(t *testing.T) {
	backend := newFakeBackend()
	parent := &fakeParent{}
	tx := NewProxyTransaction("txn-1", parent, backend, nil)

	for i := 0; i < 3; i++ {
		if err := tx.EnsureSealed(context.Background()); err != nil {
			t.Fatalf("EnsureSealed() call %d = %v, want nil", i, err)
		}
	}
	if len(parent.sealedCalls) != 1 {
		t.Errorf("OnTransactionSealed called %d times, want 1", len(parent.sealedCalls))
	}
}

func TestProxyTransaction_DirectCommitFastPath(t *testing.T) {
	backend := newFakeBackend()
	parent := &fakeParent{respond: func(req Request) (Response, error) {
		if req.Kind() == KindCommit {
			return CommitSuccess{}, nil
		}
		return PurgeSuccess{}, nil
	}}
	tx := NewProxyTransaction("txn-1", parent, backend, nil)
	if err := tx.Seal(context.Background()); err != nil {
		t.Fatalf("Seal() = %v, want nil", err)
	}

	future, err := tx.DirectCommit(context.Background())
	if err != nil {
		t.Fatalf("DirectCommit() = %v, want nil", err)
	}
	ok, err := future.Wait(context.Background())
	if err != nil || !ok {
		t.Fatalf("DirectCommit() future = (%v, %v), want (true, nil)", ok, err)
	}
	if kind, _ := tx.state.Phase(); kind != PhaseFlushed {
		t.Errorf("phase after directCommit = %s, want FLUSHED", kind)
	}
	if len(parent.removeCalls) != 1 {
		t.Errorf("RemoveProxy called %d times, want 1 (purge must follow commit)", len(parent.removeCalls))
	}
	if len(parent.completeCalls) != 1 {
		t.Errorf("NotifyComplete called %d times, want 1", len(parent.completeCalls))
	}
}

func TestProxyTransaction_DirectCommitFailureStillPurges(t *testing.T) {
	backend := newFakeBackend()
	cause := errors.New("shard rejected commit")
	parent := &fakeParent{respond: func(req Request) (Response, error) {
		if req.Kind() == KindCommit {
			return RequestFailure{Cause: cause}, nil
		}
		return PurgeSuccess{}, nil
	}}
	tx := NewProxyTransaction("txn-1", parent, backend, nil)
	tx.Seal(context.Background())

	future, _ := tx.DirectCommit(context.Background())
	_, err := future.Wait(context.Background())
	var commitErr *CommitFailed
	if !errors.As(err, &commitErr) {
		t.Fatalf("DirectCommit() future error = %v, want *CommitFailed", err)
	}
	if len(parent.removeCalls) != 1 {
		t.Errorf("RemoveProxy called %d times, want 1 (purge must follow a failed commit too)", len(parent.removeCalls))
	}
	if len(parent.completeCalls) != 1 {
		t.Errorf("NotifyComplete called %d times, want 1 (a failed commit is still terminal)", len(parent.completeCalls))
	}
}

func TestProxyTransaction_CanCommitRecordsRequestInLog(t *testing.T) {
	backend := newFakeBackend()
	parent := &fakeParent{respond: func(req Request) (Response, error) {
		return CanCommitSuccess{}, nil
	}}
	tx := NewProxyTransaction("txn-1", parent, backend, nil)
	tx.Seal(context.Background())

	voting := &fakeVoting{}
	if err := tx.CanCommit(context.Background(), voting); err != nil {
		t.Fatalf("CanCommit() = %v, want nil", err)
	}
	if !voting.yes {
		t.Error("voting.yes = false, want true")
	}
	if tx.log.Len() != 1 {
		t.Fatalf("log.Len() = %d, want 1 (canCommit must record its request)", tx.log.Len())
	}
	if _, ok := tx.log.Entries()[0].(RequestEntry); !ok {
		t.Errorf("log entry = %T, want RequestEntry", tx.log.Entries()[0])
	}
}

func TestProxyTransaction_PreCommitResetsLogToSingleEntry(t *testing.T) {
	backend := newFakeBackend()
	parent := &fakeParent{respond: func(req Request) (Response, error) {
		switch req.Kind() {
		case KindCommit:
			return CanCommitSuccess{}, nil
		case KindPreCommit:
			return PreCommitSuccess{}, nil
		}
		return nil, errors.New("unexpected request")
	}}
	tx := NewProxyTransaction("txn-1", parent, backend, nil)
	tx.Seal(context.Background())
	voting := &fakeVoting{}
	tx.CanCommit(context.Background(), voting)

	voting2 := &fakeVoting{}
	if err := tx.PreCommit(context.Background(), voting2); err != nil {
		t.Fatalf("PreCommit() = %v, want nil", err)
	}
	if !voting2.yes {
		t.Error("voting2.yes = false, want true")
	}
	if tx.log.Len() != 1 {
		t.Fatalf("log.Len() after preCommit = %d, want 1", tx.log.Len())
	}
	entry, ok := tx.log.Entries()[0].(RequestEntry)
	if !ok || entry.Req.Kind() != KindPreCommit {
		t.Errorf("log entry = %+v, want the preCommit request", tx.log.Entries()[0])
	}
}

func TestProxyTransaction_AbortPreSeal(t *testing.T) {
	backend := newFakeBackend()
	parent := &fakeParent{}
	tx := NewProxyTransaction("txn-1", parent, backend, nil)

	if err := tx.AbortPreSeal(); err != nil {
		t.Fatalf("AbortPreSeal() = %v, want nil", err)
	}
	if !backend.aborted {
		t.Error("backend.DoAbort() was not called")
	}
	if len(parent.dropCalls) != 1 {
		t.Errorf("DropTransaction called %d times, want 1", len(parent.dropCalls))
	}
	if tx.Sealed() {
		t.Error("AbortPreSeal() must not itself seal the transaction")
	}
}

func TestProxyTransaction_AbortPreSealAfterSealFails(t *testing.T) {
	backend := newFakeBackend()
	parent := &fakeParent{}
	tx := NewProxyTransaction("txn-1", parent, backend, nil)
	tx.Seal(context.Background())

	if err := tx.AbortPreSeal(); !errors.Is(err, ErrAlreadySealed) {
		t.Errorf("AbortPreSeal() after seal = %v, want ErrAlreadySealed", err)
	}
}

func TestProxyTransaction_AbortPostSeal(t *testing.T) {
	backend := newFakeBackend()
	parent := &fakeParent{respond: func(req Request) (Response, error) {
		if req.Kind() == KindAbort {
			return AbortSuccess{}, nil
		}
		return PurgeSuccess{}, nil
	}}
	tx := NewProxyTransaction("txn-1", parent, backend, nil)
	tx.Seal(context.Background())

	voting := &fakeVoting{}
	if err := tx.AbortPostSeal(context.Background(), voting); err != nil {
		t.Fatalf("AbortPostSeal() = %v, want nil", err)
	}
	if !voting.yes {
		t.Error("voting.yes = false, want true")
	}
	if len(parent.removeCalls) != 1 {
		t.Errorf("RemoveProxy called %d times, want 1 (abort must purge)", len(parent.removeCalls))
	}
	if len(parent.completeCalls) != 1 {
		t.Errorf("NotifyComplete called %d times, want 1", len(parent.completeCalls))
	}
}

func TestProxyTransaction_PurgeIsIdempotent(t *testing.T) {
	backend := newFakeBackend()
	parent := &fakeParent{respond: func(req Request) (Response, error) {
		return PurgeSuccess{}, nil
	}}
	tx := NewProxyTransaction("txn-1", parent, backend, nil)

	tx.Purge(context.Background())
	tx.Purge(context.Background())
	tx.Purge(context.Background())

	if len(parent.removeCalls) != 1 {
		t.Errorf("RemoveProxy called %d times, want 1", len(parent.removeCalls))
	}
	if len(parent.completeCalls) != 1 {
		t.Errorf("NotifyComplete called %d times, want 1 (three Purge calls must still notify once)", len(parent.completeCalls))
	}
	purgeSends := 0
	for _, r := range parent.sent {
		if r.Kind() == KindPurge {
			purgeSends++
		}
	}
	if purgeSends != 1 {
		t.Errorf("purge request sent %d times, want 1", purgeSends)
	}
}

func TestProxyTransaction_DirectCommitRequiresSeal(t *testing.T) {
	backend := newFakeBackend()
	parent := &fakeParent{}
	tx := NewProxyTransaction("txn-1", parent, backend, nil)

	if _, err := tx.DirectCommit(context.Background()); !errors.Is(err, ErrNotSealed) {
		t.Errorf("DirectCommit() before seal = %v, want ErrNotSealed", err)
	}
}

func TestProxyTransaction_SealAwaitsSuccessorOnReconnect(t *testing.T) {
	backend := newFakeBackend()
	parent := &fakeParent{}
	tx := NewProxyTransaction("txn-1", parent, backend, nil)

	// Force a concurrent reconnect to have already claimed the OPEN phase
	// before Seal()'s own CAS runs, by installing a successor directly.
	cell := tx.state.installSuccessor()
	succBackend := newFakeBackend()
	succParent := &fakeParent{respond: func(Request) (Response, error) { return nil, nil }}
	succ := NewProxyTransaction("txn-1", succParent, succBackend, nil)
	cell.bind(succ)

	done := make(chan error, 1)
	go func() {
		done <- tx.Seal(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("Seal() returned before the successor latch was opened")
	case <-time.After(20 * time.Millisecond):
	}

	cell.open()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Seal() via successor = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Seal() did not unblock after the latch opened")
	}
	if !succBackend.sealed {
		t.Error("successor backend was never sealed")
	}
	if backend.flushedTo != succBackend {
		t.Error("predecessor backend was never flushed into the successor")
	}
}
