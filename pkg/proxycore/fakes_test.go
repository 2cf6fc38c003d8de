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
)

// fakeBackend is a minimal in-memory BackendAdapter for exercising
// ProxyTransaction and ReconnectCoordinator without any real transport.
type fakeBackend struct {
	mu         sync.Mutex
	snapshot   bool
	kind       SuccessorKind
	data       map[Path]Node
	sealed     bool
	aborted    bool
	forwarded  []Request
	flushedTo  *fakeBackend
	sealErr    error
	writeErr   error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{data: make(map[Path]Node), kind: SuccessorLocal}
}

func (b *fakeBackend) IsSnapshotOnly() bool { return b.snapshot }

func (b *fakeBackend) DoRead(ctx context.Context, path Path) *Future[ReadResult] {
	f := NewFuture[ReadResult]()
	b.mu.Lock()
	v, ok := b.data[path]
	b.mu.Unlock()
	f.Complete(ReadResult{Node: v, Found: ok}, nil)
	return f
}

func (b *fakeBackend) DoExists(ctx context.Context, path Path) *Future[ExistsResult] {
	f := NewFuture[ExistsResult]()
	b.mu.Lock()
	_, ok := b.data[path]
	b.mu.Unlock()
	f.Complete(ExistsResult{Exists: ok}, nil)
	return f
}

func (b *fakeBackend) DoWrite(path Path, data Node) error {
	if b.writeErr != nil {
		return b.writeErr
	}
	b.mu.Lock()
	b.data[path] = data
	b.mu.Unlock()
	return nil
}

func (b *fakeBackend) DoMerge(path Path, data Node) error { return b.DoWrite(path, data) }

func (b *fakeBackend) DoDelete(path Path) error {
	b.mu.Lock()
	delete(b.data, path)
	b.mu.Unlock()
	return nil
}

func (b *fakeBackend) DoSeal() error {
	if b.sealErr != nil {
		return b.sealErr
	}
	b.sealed = true
	return nil
}

func (b *fakeBackend) DoAbort() error {
	b.aborted = true
	return nil
}

func (b *fakeBackend) FlushState(successor BackendAdapter) error {
	if fb, ok := successor.(*fakeBackend); ok {
		b.flushedTo = fb
	}
	return nil
}

func (b *fakeBackend) CommitRequest(id TransactionID, seq uint64, coordinated bool) CommitRequest {
	return NewCommitRequest(id, seq, coordinated)
}

func (b *fakeBackend) SuccessorKind() SuccessorKind { return b.kind }

func (b *fakeBackend) HandleForwardedRemoteRequest(req Request, cb ResponseCallback) {
	b.mu.Lock()
	b.forwarded = append(b.forwarded, req)
	b.mu.Unlock()
	cb(AbortSuccess{}, nil)
}

func (b *fakeBackend) ForwardToLocal(req Request, cb ResponseCallback) {
	b.mu.Lock()
	b.forwarded = append(b.forwarded, req)
	b.mu.Unlock()
	cb(CommitSuccess{}, nil)
}

func (b *fakeBackend) ForwardToRemote(req Request, cb ResponseCallback) {
	b.ForwardToLocal(req, cb)
}

// fakeParent is a minimal Parent recording every call. Send invokes its
// configured responder synchronously, mirroring a backend that answers
// in-process; tests that need to defer the response set respond to nil and
// invoke the captured callback themselves.
type fakeParent struct {
	mu            sync.Mutex
	sent          []Request
	respond       func(Request) (Response, error)
	sealedCalls   []TransactionID
	completeCalls []TransactionID
	dropCalls     []TransactionID
	removeCalls   []TransactionID
}

func (p *fakeParent) Send(req Request, cb ResponseCallback) {
	p.mu.Lock()
	p.sent = append(p.sent, req)
	responder := p.respond
	p.mu.Unlock()
	if responder == nil {
		return
	}
	resp, err := responder(req)
	cb(resp, err)
}

func (p *fakeParent) OnTransactionSealed(id TransactionID) {
	p.mu.Lock()
	p.sealedCalls = append(p.sealedCalls, id)
	p.mu.Unlock()
}

func (p *fakeParent) NotifyComplete(id TransactionID) {
	p.mu.Lock()
	p.completeCalls = append(p.completeCalls, id)
	p.mu.Unlock()
}

func (p *fakeParent) DropTransaction(id TransactionID) {
	p.mu.Lock()
	p.dropCalls = append(p.dropCalls, id)
	p.mu.Unlock()
}

func (p *fakeParent) RemoveProxy(id TransactionID) {
	p.mu.Lock()
	p.removeCalls = append(p.removeCalls, id)
	p.mu.Unlock()
}

// fakeVoting records the single vote cast.
type fakeVoting struct {
	mu     sync.Mutex
	yes    bool
	no     bool
	cause  error
}

func (v *fakeVoting) VoteYes() {
	v.mu.Lock()
	v.yes = true
	v.mu.Unlock()
}

func (v *fakeVoting) VoteNo(cause error) {
	v.mu.Lock()
	v.no = true
	v.cause = cause
	v.mu.Unlock()
}
