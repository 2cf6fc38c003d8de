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

package reconnectdriver

import (
	"context"
	"sync"
	"testing"
	"time"

	"shardproxy/internal/backend"
	"shardproxy/pkg/proxycore"
)

type fakeParent struct{}

func (fakeParent) Send(proxycore.Request, proxycore.ResponseCallback) {}
func (fakeParent) OnTransactionSealed(proxycore.TransactionID)        {}
func (fakeParent) NotifyComplete(proxycore.TransactionID)             {}
func (fakeParent) DropTransaction(proxycore.TransactionID)            {}
func (fakeParent) RemoveProxy(proxycore.TransactionID)                {}

type fakeProxySource struct {
	mu      sync.Mutex
	proxies map[proxycore.TransactionID]*proxycore.ProxyTransaction
}

func newFakeProxySource() *fakeProxySource {
	return &fakeProxySource{proxies: make(map[proxycore.TransactionID]*proxycore.ProxyTransaction)}
}

func (s *fakeProxySource) ForEach(f func(id proxycore.TransactionID, tx *proxycore.ProxyTransaction)) {
	s.mu.Lock()
	snapshot := make(map[proxycore.TransactionID]*proxycore.ProxyTransaction, len(s.proxies))
	for k, v := range s.proxies {
		snapshot[k] = v
	}
	s.mu.Unlock()
	for k, v := range snapshot {
		f(k, v)
	}
}

func (s *fakeProxySource) Replace(id proxycore.TransactionID, succ *proxycore.ProxyTransaction) {
	s.mu.Lock()
	s.proxies[id] = succ
	s.mu.Unlock()
}

type fakeInFlightSource struct{}

func (fakeInFlightSource) InFlightFor(proxycore.TransactionID) []proxycore.InFlightEntry { return nil }

func TestDriver_ReconnectNowReplacesProxy(t *testing.T) {
	sources := newFakeProxySource()
	predBackend := backend.NewLocalAdapter(backend.NewTree())
	pred := proxycore.NewProxyTransaction("txn-1", fakeParent{}, predBackend, nil)
	pred.Seal(context.Background())
	sources.Replace("txn-1", pred)

	d := New(sources, fakeInFlightSource{}, nil, time.Hour, nil)
	succBackend := backend.NewLocalAdapter(backend.NewTree())

	if err := d.ReconnectNow(context.Background(), "txn-1", pred, succBackend); err != nil {
		t.Fatalf("ReconnectNow() = %v, want nil", err)
	}

	sources.mu.Lock()
	got := sources.proxies["txn-1"]
	sources.mu.Unlock()
	if got == pred {
		t.Fatal("Replace() was never called with the successor")
	}
	if got.Backend() != succBackend {
		t.Fatal("replaced proxy is not bound to the new backend")
	}
}

func TestDriver_StartStopIsIdempotent(t *testing.T) {
	sources := newFakeProxySource()
	d := New(sources, fakeInFlightSource{}, func(proxycore.TransactionID, proxycore.BackendAdapter) (proxycore.BackendAdapter, bool) {
		return nil, false
	}, 10*time.Millisecond, nil)

	d.Start()
	time.Sleep(30 * time.Millisecond)
	d.Stop()
	d.Stop() // must not panic or block
}
