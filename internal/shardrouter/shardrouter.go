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

// Package shardrouter picks, for a given path, which backend shard a proxy
// should route its requests to. It uses rendezvous (highest random weight)
// hashing so that adding or removing a shard only reshuffles the paths
// that mapped to the changed shard, not the whole keyspace — the property
// a reconnect's new backend adapter depends on to stay mostly stable
// across membership changes.
package shardrouter

import (
	"hash/fnv"
	"sync"

	"github.com/dgryski/go-rendezvous"

	"shardproxy/pkg/proxycore"
)

func hashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// Router maps transaction/path identifiers onto shard names. It is safe
// for concurrent use; membership changes replace the underlying table
// under the write lock, while lookups share the read lock.
type Router struct {
	mu    sync.RWMutex
	table *rendezvous.Rendezvous
	nodes []string
}

// New builds a router over the given initial shard set.
func New(shards []string) *Router {
	nodes := append([]string(nil), shards...)
	return &Router{
		table: rendezvous.New(nodes, hashString),
		nodes: nodes,
	}
}

// ShardFor returns the shard that owns path.
func (r *Router) ShardFor(path proxycore.Path) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.table.Lookup(string(path))
}

// AddShard grows the shard set. Only paths rendezvous-hashed to the new
// shard move; everything else's owner is unchanged.
func (r *Router) AddShard(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.nodes {
		if n == name {
			return
		}
	}
	r.nodes = append(r.nodes, name)
	r.table = rendezvous.New(r.nodes, hashString)
}

// RemoveShard shrinks the shard set, forcing every path it owned to
// rehash onto the survivors. Callers are responsible for draining and
// reconnecting the affected proxies before or after this call.
func (r *Router) RemoveShard(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.nodes[:0:0]
	for _, n := range r.nodes {
		if n != name {
			out = append(out, n)
		}
	}
	r.nodes = out
	r.table = rendezvous.New(r.nodes, hashString)
}

// Shards returns the current shard membership.
func (r *Router) Shards() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.nodes...)
}
