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

// Package proxyhistory owns the collection of live ProxyTransactions for a
// process and implements proxycore.Parent: request dispatch, in-flight
// bookkeeping for reconnect replay, and transaction lifecycle callbacks.
// The lookup structure mirrors the ratelimiter's Store: a sync.Map keyed
// by identifier, a lazy GetOrCreate, and a Delete that tears the value
// down rather than just forgetting it.
package proxyhistory

import (
	"sync"
	"sync/atomic"

	"shardproxy/internal/telemetry"
	"shardproxy/pkg/proxycore"
)

// Transport sends a Request to whatever actually owns the shard connection
// and eventually calls back with the Response. History never talks to a
// socket itself; it only tracks what it has handed to Transport so a
// reconnect can find the in-flight entries belonging to one transaction.
type Transport interface {
	Send(req proxycore.Request, cb proxycore.ResponseCallback)
}

type inFlight struct {
	req proxycore.Request
	cb  proxycore.ResponseCallback
}

// History is the Parent every ProxyTransaction in a process is built
// against.
type History struct {
	transport Transport

	proxies sync.Map // TransactionID -> *proxycore.ProxyTransaction
	pending sync.Map // TransactionID -> *pendingSet

	count atomic.Int64
}

type pendingSet struct {
	mu      sync.Mutex
	entries []inFlight
}

// New builds a History dispatching through transport.
func New(transport Transport) *History {
	return &History{transport: transport}
}

// GetOrCreate returns the existing proxy for id, or builds one with build
// if none exists yet. The fast path (existing proxy) never calls build.
func (h *History) GetOrCreate(id proxycore.TransactionID, build func() *proxycore.ProxyTransaction) *proxycore.ProxyTransaction {
	if actual, ok := h.proxies.Load(id); ok {
		return actual.(*proxycore.ProxyTransaction)
	}
	fresh := build()
	actual, loaded := h.proxies.LoadOrStore(id, fresh)
	if !loaded {
		h.count.Add(1)
		telemetry.SetActiveProxies(int(h.count.Load()))
	}
	return actual.(*proxycore.ProxyTransaction)
}

// Lookup returns the proxy for id, if any.
func (h *History) Lookup(id proxycore.TransactionID) (*proxycore.ProxyTransaction, bool) {
	actual, ok := h.proxies.Load(id)
	if !ok {
		return nil, false
	}
	return actual.(*proxycore.ProxyTransaction), true
}

// Replace installs successor as the tracked proxy for id, used by a
// reconnect driver once a handoff has completed.
func (h *History) Replace(id proxycore.TransactionID, successor *proxycore.ProxyTransaction) {
	h.proxies.Store(id, successor)
}

// ForEach iterates over every tracked proxy.
func (h *History) ForEach(f func(id proxycore.TransactionID, tx *proxycore.ProxyTransaction)) {
	h.proxies.Range(func(key, value interface{}) bool {
		f(key.(proxycore.TransactionID), value.(*proxycore.ProxyTransaction))
		return true
	})
}

// Send implements proxycore.Parent. It records the request as in-flight
// for id before handing it to the transport, and removes the bookkeeping
// entry once the transport's callback fires, wrapping the caller's
// callback so that accounting stays correct even if the caller's callback
// itself panics is not attempted here — callbacks are expected not to
// panic, same contract the teacher's persister adapters assume of theirs.
func (h *History) Send(req proxycore.Request, cb proxycore.ResponseCallback) {
	id := req.Target()
	set := h.pendingSetFor(id)
	entry := inFlight{req: req, cb: cb}

	set.mu.Lock()
	set.entries = append(set.entries, entry)
	set.mu.Unlock()

	h.transport.Send(req, func(resp proxycore.Response, err error) {
		set.mu.Lock()
		for i, e := range set.entries {
			if e.req == req {
				set.entries = append(set.entries[:i], set.entries[i+1:]...)
				break
			}
		}
		set.mu.Unlock()
		cb(resp, err)
	})
}

func (h *History) pendingSetFor(id proxycore.TransactionID) *pendingSet {
	actual, _ := h.pending.LoadOrStore(id, &pendingSet{})
	return actual.(*pendingSet)
}

// InFlightFor returns a snapshot of the in-flight entries for id, in the
// shape ReconnectCoordinator.ReplayMessages expects.
func (h *History) InFlightFor(id proxycore.TransactionID) []proxycore.InFlightEntry {
	set := h.pendingSetFor(id)
	set.mu.Lock()
	defer set.mu.Unlock()
	out := make([]proxycore.InFlightEntry, len(set.entries))
	for i, e := range set.entries {
		out[i] = proxycore.InFlightEntry{Req: e.req, Cb: e.cb}
	}
	return out
}

// OnTransactionSealed implements proxycore.Parent.
func (h *History) OnTransactionSealed(id proxycore.TransactionID) {
	telemetry.ObserveSeal()
}

// NotifyComplete implements proxycore.Parent.
func (h *History) NotifyComplete(id proxycore.TransactionID) {}

// DropTransaction implements proxycore.Parent: a pre-seal abort discards
// the transaction immediately, with no further bookkeeping.
func (h *History) DropTransaction(id proxycore.TransactionID) {
	h.RemoveProxy(id)
}

// RemoveProxy implements proxycore.Parent.
func (h *History) RemoveProxy(id proxycore.TransactionID) {
	if _, loaded := h.proxies.LoadAndDelete(id); loaded {
		h.count.Add(-1)
		telemetry.SetActiveProxies(int(h.count.Load()))
	}
	h.pending.Delete(id)
}
