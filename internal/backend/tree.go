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

// Package backend provides the BackendAdapter implementations proxycore
// transactions are built on: a read-only snapshot view, a local read-write
// view backed by an in-memory tree, and a remote view that forwards reads
// and buffered mutations to a Redis-held tree.
package backend

import (
	"sync"

	"shardproxy/pkg/proxycore"
)

// Tree is a flat path-keyed node store shared by the snapshot and local
// adapters. A real deployment might back this with a trie; a flat map is
// enough to exercise the same concurrency contract proxycore relies on
// (GetOrCreate-style lazy lookups, no lock held across a caller callback),
// the same shape as the ratelimiter's sync.Map-backed Store.
type Tree struct {
	mu    sync.RWMutex
	nodes map[proxycore.Path]proxycore.Node
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{nodes: make(map[proxycore.Path]proxycore.Node)}
}

// Get returns the node at path and whether it exists.
func (t *Tree) Get(path proxycore.Path) (proxycore.Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[path]
	return n, ok
}

// Set writes a node at path.
func (t *Tree) Set(path proxycore.Path, node proxycore.Node) {
	t.mu.Lock()
	t.nodes[path] = node
	t.mu.Unlock()
}

// Delete removes the node at path.
func (t *Tree) Delete(path proxycore.Path) {
	t.mu.Lock()
	delete(t.nodes, path)
	t.mu.Unlock()
}

// Snapshot returns a deep-enough copy of the tree's current path set for
// handing to a new snapshot-only adapter.
func (t *Tree) Snapshot() *Tree {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := NewTree()
	for k, v := range t.nodes {
		out.nodes[k] = v
	}
	return out
}

// Merge copies every entry of other into t, overwriting on conflict. Used
// by FlushState to fold a predecessor's buffered writes into a successor.
func (t *Tree) Merge(other *Tree) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, v := range other.nodes {
		t.nodes[k] = v
	}
}
