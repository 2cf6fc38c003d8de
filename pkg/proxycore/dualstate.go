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
	"sync"
	"sync/atomic"
)

// PhaseKind is the non-successor lattice OPEN ≺ SEALED ≺ FLUSHED, plus the
// transient SUCCESSOR wrapper that can appear from any of the three.
type PhaseKind int32

const (
	PhaseOpen PhaseKind = iota
	PhaseSealed
	PhaseFlushed
	PhaseSuccessor
)

func (k PhaseKind) String() string {
	switch k {
	case PhaseOpen:
		return "OPEN"
	case PhaseSealed:
		return "SEALED"
	case PhaseFlushed:
		return "FLUSHED"
	case PhaseSuccessor:
		return "SUCCESSOR"
	default:
		return "UNKNOWN"
	}
}

// successorCell is installed exactly once per proxy. Each field is written
// exactly once and then only read:
//   - prevState is set by startReconnect before the cell is published.
//   - successor is set by replayMessages before finishReconnect opens the latch.
//   - the latch is closed exactly once, by finishReconnect.
type successorCell struct {
	prevState PhaseKind
	successor *ProxyTransaction // single-writer (replayMessages), published via latch close
	latch     chan struct{}
	closeOnce sync.Once
}

func newSuccessorCell(prev PhaseKind) *successorCell {
	return &successorCell{prevState: prev, latch: make(chan struct{})}
}

// bind publishes the successor. Must be called exactly once, before open.
func (c *successorCell) bind(succ *ProxyTransaction) {
	c.successor = succ
}

// open releases every goroutine waiting in await. Safe to call more than
// once; only the first has effect.
func (c *successorCell) open() {
	c.closeOnce.Do(func() { close(c.latch) })
}

// await blocks until open() has run, then returns the bound successor. A
// context cancellation surfaces as ReconnectAborted: per the concurrency
// model, the transaction cannot be split, so interruption is fatal rather
// than retryable.
func (c *successorCell) await(ctx context.Context) (*ProxyTransaction, error) {
	select {
	case <-c.latch:
		return c.successor, nil
	case <-ctx.Done():
		return nil, &ReconnectAborted{Cause: ctx.Err()}
	}
}

// phaseState is the immutable value boxed by the phase atomic pointer. A
// fresh instance is allocated on every transition rather than mutating one
// in place, which is what lets phase be a single atomic.Pointer CAS/swap
// instead of a lock: the two-axis shape documented in the design notes (a
// bool for sealed, a tagged variant for phase) is preserved by keeping
// successor out of the bool and the kind out of a dedicated bit-field.
type phaseState struct {
	kind PhaseKind
	succ *successorCell // non-nil iff kind == PhaseSuccessor
}

// DualState is the two orthogonal atomics described in the data model:
// sealed (0/1, user-visible point of no return) and phase (the
// OPEN→SEALED→FLUSHED lattice plus the transient SUCCESSOR wrapper).
type DualState struct {
	sealed atomic.Bool
	phase  atomic.Pointer[phaseState]
}

func newDualState() *DualState {
	d := &DualState{}
	d.phase.Store(&phaseState{kind: PhaseOpen})
	return d
}

// Sealed reports the current value of the sealed flag.
func (d *DualState) Sealed() bool { return d.sealed.Load() }

// sealOnce performs the 0→1 CAS. Returns true exactly once per DualState.
func (d *DualState) sealOnce() bool {
	return d.sealed.CompareAndSwap(false, true)
}

// Phase returns the current phase kind and, when it is PhaseSuccessor, the
// associated cell.
func (d *DualState) Phase() (PhaseKind, *successorCell) {
	p := d.phase.Load()
	return p.kind, p.succ
}

// casPhase attempts a single, non-retrying CAS from exactly `from` to `to`.
// Per §4.4, the only reason this can fail is a concurrent startReconnect
// swap to SUCCESSOR — the proxy is single-threaded on the application side
// by contract, so no other source of contention exists.
func (d *DualState) casPhase(from, to PhaseKind) bool {
	cur := d.phase.Load()
	if cur.kind != from {
		return false
	}
	return d.phase.CompareAndSwap(cur, &phaseState{kind: to})
}

// installSuccessor unconditionally swaps a fresh SUCCESSOR wrapper into
// phase, capturing whatever was there before. It is a fatal invariant
// violation for the previous phase to already be SUCCESSOR: that case
// panics rather than returning an error, since it signals a bug in the
// caller (two concurrent reconnects for one proxy), not a recoverable
// runtime condition.
func (d *DualState) installSuccessor() *successorCell {
	cell := newSuccessorCell(0) // prevState overwritten below, after the swap and before the latch opens
	next := &phaseState{kind: PhaseSuccessor, succ: cell}
	old := d.phase.Swap(next)
	if old.kind == PhaseSuccessor {
		panic(ErrReconnectInProgress)
	}
	cell.prevState = old.kind
	return cell
}
