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

import "context"

// InFlightEntry is one request the parent history has already sent to the
// predecessor's backend but has not yet received a response for at the
// moment reconnect begins. ReplayMessages re-dispatches these against the
// successor so no in-flight caller hangs forever.
type InFlightEntry struct {
	Req Request
	Cb  ResponseCallback
}

// ReconnectCoordinator drives a proxy through the predecessor/successor
// handoff described in the reconnect section: swap in a SUCCESSOR wrapper,
// replay the successful-request log and any in-flight requests onto the new
// backend, then release every caller blocked on the old proxy.
type ReconnectCoordinator struct {
	logger Logger
}

// NewReconnectCoordinator builds a coordinator. logger may be nil.
func NewReconnectCoordinator(logger Logger) *ReconnectCoordinator {
	if logger == nil {
		logger = noopLogger{}
	}
	return &ReconnectCoordinator{logger: logger}
}

// StartReconnect installs a SUCCESSOR wrapper on predecessor, capturing its
// prior phase, and constructs the successor proxy bound to newBackend. It
// panics (via installSuccessor) if predecessor already has a reconnect in
// flight: per the concurrency model that is a bug in the caller, not a
// condition this layer can recover from.
func (c *ReconnectCoordinator) StartReconnect(predecessor *ProxyTransaction, newBackend BackendAdapter) *ProxyTransaction {
	// The proxy monitor serializes this swap against the commit fast path's
	// SEALED->FLUSHED CAS in runFastPath.
	predecessor.mu.Lock()
	defer predecessor.mu.Unlock()
	cell := predecessor.state.installSuccessor()
	successor := NewProxyTransaction(predecessor.id, predecessor.parent, newBackend, predecessor.logger)
	// The successor inherits the sequence position already spent by the
	// predecessor so a replayed request's sequence number still lines up.
	successor.seq.IncrementSequence(predecessor.seq.Peek())
	cell.bind(successor)
	c.logger.Printf("transaction %s: reconnect started, predecessor was %s", predecessor.id, cell.prevState)
	return successor
}

// ReplayMessages drains the predecessor's successful-request log onto the
// successor, then forwards every still-pending in-flight entry. It must run
// after StartReconnect and before FinishReconnect: callers blocked in
// await() must not observe the successor until it has already absorbed
// both. If the predecessor had already reached SEALED before the reconnect
// began, the successor is left OPEN by construction, so this also flushes
// the predecessor's residual backend state onto the successor and seals it,
// the same handoff internalSeal performs when it loses the OPEN->SEALED
// CAS to a reconnect racing it mid-seal.
func (c *ReconnectCoordinator) ReplayMessages(ctx context.Context, predecessor, successor *ProxyTransaction, inFlight []InFlightEntry) error {
	for _, entry := range predecessor.log.Entries() {
		switch e := entry.(type) {
		case RequestEntry:
			successor.backend.HandleForwardedRemoteRequest(e.Req, func(Response, error) {})
		case *IncrementEntry:
			successor.seq.IncrementSequence(e.Delta)
		}
	}
	predecessor.log.Clear()

	for _, entry := range inFlight {
		if entry.Req.Target() != predecessor.id {
			continue
		}
		if err := c.replayRequest(successor, entry.Req, entry.Cb); err != nil {
			return err
		}
	}

	_, cell := predecessor.state.Phase()
	if cell != nil && cell.prevState == PhaseSealed {
		if err := predecessor.backend.FlushState(successor.backend); err != nil {
			return err
		}
		if err := successor.EnsureSealed(ctx); err != nil {
			return err
		}
	}
	return nil
}

// replayRequest re-dispatches one in-flight request against the successor's
// backend, routed by the successor's own SuccessorKind. A kind outside the
// known set is an invariant violation: the adapter contract only ever
// returns one of the two declared kinds, so a panic here means a new
// adapter implementation was wired in without updating this switch.
func (c *ReconnectCoordinator) replayRequest(successor *ProxyTransaction, req Request, cb ResponseCallback) error {
	switch successor.backend.SuccessorKind() {
	case SuccessorLocal:
		successor.backend.ForwardToLocal(req, cb)
	case SuccessorRemote:
		successor.backend.ForwardToRemote(req, cb)
	default:
		panic(ErrUnknownSuccessorKind)
	}
	return nil
}

// FinishReconnect opens the successor cell's latch, releasing every
// application-thread caller parked in internalSeal's or runFastPath's
// await(). Safe to call even if no caller is currently waiting; safe to
// call more than once (only the first has effect).
func (c *ReconnectCoordinator) FinishReconnect(predecessor *ProxyTransaction) {
	_, cell := predecessor.state.Phase()
	if cell == nil {
		return
	}
	cell.open()
	c.logger.Printf("transaction %s: reconnect finished", predecessor.id)
}
