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

// Package reconnectdriver runs the background loop that notices a shard
// connection has been replaced and drives every affected proxy through
// proxycore.ReconnectCoordinator's handoff. The shape is the same
// ticker-plus-stop-channel worker the ratelimiter's background committer
// uses: a single scan loop, a WaitGroup, and a CAS-guarded Stop that is
// safe to call more than once.
package reconnectdriver

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"shardproxy/internal/telemetry"
	"shardproxy/pkg/proxycore"
)

// InFlightSource supplies the in-flight requests a reconnect must replay
// for one transaction; proxyhistory.History satisfies this.
type InFlightSource interface {
	InFlightFor(id proxycore.TransactionID) []proxycore.InFlightEntry
}

// ProxySource enumerates the proxies a driver tick should consider.
type ProxySource interface {
	ForEach(f func(id proxycore.TransactionID, tx *proxycore.ProxyTransaction))
	Replace(id proxycore.TransactionID, successor *proxycore.ProxyTransaction)
}

// BackendSwap reports whether the shard backing id has a new adapter
// available to reconnect onto, returning the new adapter if so.
type BackendSwap func(id proxycore.TransactionID, current proxycore.BackendAdapter) (proxycore.BackendAdapter, bool)

// Driver periodically scans a ProxySource and reconnects any proxy whose
// backend has changed underneath it.
type Driver struct {
	proxies     ProxySource
	inFlight    InFlightSource
	coordinator *proxycore.ReconnectCoordinator
	swap        BackendSwap
	interval    time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  atomic.Bool
}

// New builds a driver. logger may be nil.
func New(proxies ProxySource, inFlight InFlightSource, swap BackendSwap, interval time.Duration, logger proxycore.Logger) *Driver {
	return &Driver{
		proxies:     proxies,
		inFlight:    inFlight,
		coordinator: proxycore.NewReconnectCoordinator(logger),
		swap:        swap,
		interval:    interval,
		stopChan:    make(chan struct{}),
	}
}

// Start launches the background scan loop.
func (d *Driver) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()
}

// Stop halts the scan loop and waits for it to exit. Safe to call more
// than once.
func (d *Driver) Stop() {
	if !d.stopped.CompareAndSwap(false, true) {
		return
	}
	close(d.stopChan)
	d.wg.Wait()
}

func (d *Driver) loop() {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.runScanCycle()
		case <-d.stopChan:
			return
		}
	}
}

func (d *Driver) runScanCycle() {
	type candidate struct {
		id      proxycore.TransactionID
		pred    *proxycore.ProxyTransaction
		backend proxycore.BackendAdapter
	}
	var candidates []candidate

	d.proxies.ForEach(func(id proxycore.TransactionID, tx *proxycore.ProxyTransaction) {
		newBackend, ok := d.swap(id, tx.Backend())
		if !ok {
			return
		}
		candidates = append(candidates, candidate{id: id, pred: tx, backend: newBackend})
	})

	for _, c := range candidates {
		d.reconnectOne(c.id, c.pred, c.backend)
	}
}

func (d *Driver) reconnectOne(id proxycore.TransactionID, pred *proxycore.ProxyTransaction, newBackend proxycore.BackendAdapter) {
	succ := d.coordinator.StartReconnect(pred, newBackend)
	entries := d.inFlight.InFlightFor(id)
	if err := d.coordinator.ReplayMessages(context.Background(), pred, succ, entries); err != nil {
		d.coordinator.FinishReconnect(pred)
		return
	}
	d.proxies.Replace(id, succ)
	d.coordinator.FinishReconnect(pred)
	telemetry.ObserveReconnect(len(entries))
}

// ReconnectNow drives a single synchronous handoff outside the scan loop,
// for callers that already know a shard connection died (e.g. a transport
// error callback) and cannot wait for the next tick.
func (d *Driver) ReconnectNow(ctx context.Context, id proxycore.TransactionID, pred *proxycore.ProxyTransaction, newBackend proxycore.BackendAdapter) error {
	succ := d.coordinator.StartReconnect(pred, newBackend)
	entries := d.inFlight.InFlightFor(id)
	if err := d.coordinator.ReplayMessages(ctx, pred, succ, entries); err != nil {
		d.coordinator.FinishReconnect(pred)
		return fmt.Errorf("reconnectdriver: replay for %s: %w", id, err)
	}
	d.proxies.Replace(id, succ)
	d.coordinator.FinishReconnect(pred)
	telemetry.ObserveReconnect(len(entries))
	return nil
}
