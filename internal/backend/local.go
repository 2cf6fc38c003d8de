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

package backend

import (
	"context"
	"sync"

	"shardproxy/pkg/proxycore"
)

// LocalAdapter is a BackendAdapter backed by an in-memory Tree shared by
// every transaction touching one shard. Writes are buffered in a
// per-transaction staging tree and only folded into the shared tree at
// seal time, so unsealed transactions never become visible to readers
// going straight to the shared tree. Once sealed, writes are in the shared
// tree whether or not the transaction later commits.
type LocalAdapter struct {
	mu       sync.Mutex
	shared   *Tree
	staging  *Tree
	deleted  map[proxycore.Path]bool
	snapshot bool
}

// NewLocalAdapter builds a read-write adapter over shared.
func NewLocalAdapter(shared *Tree) *LocalAdapter {
	return &LocalAdapter{shared: shared, staging: NewTree(), deleted: make(map[proxycore.Path]bool)}
}

// NewSnapshotAdapter builds a read-only adapter over an isolated copy of
// shared, taken at construction time.
func NewSnapshotAdapter(shared *Tree) *LocalAdapter {
	return &LocalAdapter{shared: shared.Snapshot(), staging: NewTree(), deleted: make(map[proxycore.Path]bool), snapshot: true}
}

func (a *LocalAdapter) IsSnapshotOnly() bool { return a.snapshot }

func (a *LocalAdapter) DoRead(ctx context.Context, path proxycore.Path) *proxycore.Future[proxycore.ReadResult] {
	f := proxycore.NewFuture[proxycore.ReadResult]()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.deleted[path] {
		f.Complete(proxycore.ReadResult{Found: false}, nil)
		return f
	}
	if n, ok := a.staging.Get(path); ok {
		f.Complete(proxycore.ReadResult{Node: n, Found: true}, nil)
		return f
	}
	n, ok := a.shared.Get(path)
	f.Complete(proxycore.ReadResult{Node: n, Found: ok}, nil)
	return f
}

func (a *LocalAdapter) DoExists(ctx context.Context, path proxycore.Path) *proxycore.Future[proxycore.ExistsResult] {
	f := proxycore.NewFuture[proxycore.ExistsResult]()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.deleted[path] {
		f.Complete(proxycore.ExistsResult{Exists: false}, nil)
		return f
	}
	if _, ok := a.staging.Get(path); ok {
		f.Complete(proxycore.ExistsResult{Exists: true}, nil)
		return f
	}
	_, ok := a.shared.Get(path)
	f.Complete(proxycore.ExistsResult{Exists: ok}, nil)
	return f
}

func (a *LocalAdapter) DoWrite(path proxycore.Path, data proxycore.Node) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.deleted, path)
	a.staging.Set(path, data)
	return nil
}

func (a *LocalAdapter) DoMerge(path proxycore.Path, data proxycore.Node) error {
	return a.DoWrite(path, data)
}

func (a *LocalAdapter) DoDelete(path proxycore.Path) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.staging.Delete(path)
	a.deleted[path] = true
	return nil
}

func (a *LocalAdapter) DoSeal() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shared.Merge(a.staging)
	for path := range a.deleted {
		a.shared.Delete(path)
	}
	return nil
}

func (a *LocalAdapter) DoAbort() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.staging = NewTree()
	a.deleted = make(map[proxycore.Path]bool)
	return nil
}

// FlushState folds this adapter's still-buffered state into successor. The
// core calls it during a reconnect handoff, after the successor is bound.
func (a *LocalAdapter) FlushState(successor proxycore.BackendAdapter) error {
	other, ok := successor.(*LocalAdapter)
	if !ok {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()
	other.staging.Merge(a.staging)
	for path := range a.deleted {
		other.deleted[path] = true
	}
	return nil
}

func (a *LocalAdapter) CommitRequest(id proxycore.TransactionID, seq uint64, coordinated bool) proxycore.CommitRequest {
	return proxycore.NewCommitRequest(id, seq, coordinated)
}

func (a *LocalAdapter) SuccessorKind() proxycore.SuccessorKind { return proxycore.SuccessorLocal }

func (a *LocalAdapter) HandleForwardedRemoteRequest(req proxycore.Request, cb proxycore.ResponseCallback) {
	a.acknowledge(req, cb)
}

func (a *LocalAdapter) ForwardToLocal(req proxycore.Request, cb proxycore.ResponseCallback) {
	a.acknowledge(req, cb)
}

func (a *LocalAdapter) ForwardToRemote(req proxycore.Request, cb proxycore.ResponseCallback) {
	a.acknowledge(req, cb)
}

// acknowledge answers a replayed request immediately: the local tree has
// no real network round trip to redo, so replay only needs to re-assert
// the request's effect was (or will be, at the next seal) applied.
func (a *LocalAdapter) acknowledge(req proxycore.Request, cb proxycore.ResponseCallback) {
	switch req.Kind() {
	case proxycore.KindAbort:
		a.DoAbort()
		cb(proxycore.AbortSuccess{}, nil)
	case proxycore.KindCommit:
		if commitReq, ok := req.(proxycore.CommitRequest); ok && commitReq.Coordinated {
			cb(proxycore.CanCommitSuccess{}, nil)
			return
		}
		cb(proxycore.CommitSuccess{}, nil)
	case proxycore.KindPreCommit:
		cb(proxycore.PreCommitSuccess{}, nil)
	case proxycore.KindDoCommit:
		cb(proxycore.CommitSuccess{}, nil)
	case proxycore.KindPurge:
		cb(proxycore.PurgeSuccess{}, nil)
	default:
		cb(nil, &proxycore.ProtocolViolation{Request: req})
	}
}
