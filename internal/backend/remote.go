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
	"encoding/json"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"shardproxy/pkg/proxycore"
)

// RedisEvaler abstracts the minimal surface a remote adapter needs from a
// Redis client: scripted, atomic writes and deletes of the string key that
// holds one node, plus a plain GET to read it back.
type RedisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
	Get(ctx context.Context, key string) (string, error)
}

// GoRedisEvaler wraps github.com/redis/go-redis/v9.
type GoRedisEvaler struct{ c *redis.Client }

// NewGoRedisEvaler dials addr.
func NewGoRedisEvaler(addr string) *GoRedisEvaler {
	return &GoRedisEvaler{c: redis.NewClient(&redis.Options{Addr: addr})}
}

func (g *GoRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return g.c.Eval(ctx, script, keys, args...).Result()
}

func (g *GoRedisEvaler) Get(ctx context.Context, key string) (string, error) {
	return g.c.Get(ctx, key).Result()
}

// LoggingRedisEvaler is a demo stand-in that requires no live Redis.
type LoggingRedisEvaler struct {
	mu    sync.Mutex
	store map[string]string
}

// NewLoggingRedisEvaler returns an in-process evaler for demos and tests.
func NewLoggingRedisEvaler() *LoggingRedisEvaler {
	return &LoggingRedisEvaler{store: make(map[string]string)}
}

func (l *LoggingRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("backend: redis eval requires a key")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(args) > 0 {
		l.store[keys[0]] = fmt.Sprintf("%v", args[0])
	}
	return int64(1), nil
}

func (l *LoggingRedisEvaler) Get(ctx context.Context, key string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.store[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

const remoteWriteScript = `
local key = KEYS[1]
redis.call('SET', key, ARGV[1])
return 1
`

// remoteDeleteScript removes a key atomically via Lua so it composes with
// the same Eval surface as writes, rather than mixing Eval and Del calls.
const remoteDeleteScript = `
redis.call('DEL', KEYS[1])
return 1
`

func nodeKey(id proxycore.TransactionID, path proxycore.Path) string {
	return fmt.Sprintf("txn:%s:node:%s", id, path)
}

// RemoteAdapter is a BackendAdapter that stages writes locally and, at
// seal time, applies them against a Redis-held tree via scripted SET/DEL
// calls, one Eval per staged path.
type RemoteAdapter struct {
	mu      sync.Mutex
	id      proxycore.TransactionID
	client  RedisEvaler
	staging map[proxycore.Path]proxycore.Node
	deleted map[proxycore.Path]bool
}

// NewRemoteAdapter builds a remote adapter for transaction id against client.
func NewRemoteAdapter(id proxycore.TransactionID, client RedisEvaler) *RemoteAdapter {
	return &RemoteAdapter{
		id:      id,
		client:  client,
		staging: make(map[proxycore.Path]proxycore.Node),
		deleted: make(map[proxycore.Path]bool),
	}
}

func (a *RemoteAdapter) IsSnapshotOnly() bool { return false }

func (a *RemoteAdapter) DoRead(ctx context.Context, path proxycore.Path) *proxycore.Future[proxycore.ReadResult] {
	f := proxycore.NewFuture[proxycore.ReadResult]()
	a.mu.Lock()
	if a.deleted[path] {
		a.mu.Unlock()
		f.Complete(proxycore.ReadResult{Found: false}, nil)
		return f
	}
	if n, ok := a.staging[path]; ok {
		a.mu.Unlock()
		f.Complete(proxycore.ReadResult{Node: n, Found: true}, nil)
		return f
	}
	a.mu.Unlock()

	raw, err := a.client.Get(ctx, nodeKey(a.id, path))
	if err == redis.Nil {
		f.Complete(proxycore.ReadResult{Found: false}, nil)
		return f
	}
	if err != nil {
		f.Complete(proxycore.ReadResult{}, &proxycore.ReadFailed{Path: path, Cause: err})
		return f
	}
	var node proxycore.Node
	if jsonErr := json.Unmarshal([]byte(raw), &node); jsonErr != nil {
		node = raw
	}
	f.Complete(proxycore.ReadResult{Node: node, Found: true}, nil)
	return f
}

func (a *RemoteAdapter) DoExists(ctx context.Context, path proxycore.Path) *proxycore.Future[proxycore.ExistsResult] {
	readFuture := a.DoRead(ctx, path)
	f := proxycore.NewFuture[proxycore.ExistsResult]()
	go func() {
		res, err := readFuture.Wait(ctx)
		f.Complete(proxycore.ExistsResult{Exists: res.Found}, err)
	}()
	return f
}

func (a *RemoteAdapter) DoWrite(path proxycore.Path, data proxycore.Node) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.deleted, path)
	a.staging[path] = data
	return nil
}

func (a *RemoteAdapter) DoMerge(path proxycore.Path, data proxycore.Node) error {
	return a.DoWrite(path, data)
}

func (a *RemoteAdapter) DoDelete(path proxycore.Path) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.staging, path)
	a.deleted[path] = true
	return nil
}

func (a *RemoteAdapter) DoSeal() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.mu.Lock()
	staging := a.staging
	deleted := a.deleted
	a.mu.Unlock()

	for path, node := range staging {
		payload, err := json.Marshal(node)
		if err != nil {
			return fmt.Errorf("backend: marshal node at %s: %w", path, err)
		}
		if _, err := a.client.Eval(ctx, remoteWriteScript, []string{nodeKey(a.id, path)}, string(payload)); err != nil {
			return fmt.Errorf("backend: seal write at %s: %w", path, err)
		}
	}
	for path := range deleted {
		if _, err := a.client.Eval(ctx, remoteDeleteScript, []string{nodeKey(a.id, path)}); err != nil {
			return fmt.Errorf("backend: seal delete at %s: %w", path, err)
		}
	}
	return nil
}

func (a *RemoteAdapter) DoAbort() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.staging = make(map[proxycore.Path]proxycore.Node)
	a.deleted = make(map[proxycore.Path]bool)
	return nil
}

func (a *RemoteAdapter) FlushState(successor proxycore.BackendAdapter) error {
	other, ok := successor.(*RemoteAdapter)
	if !ok {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()
	for path, node := range a.staging {
		other.staging[path] = node
	}
	for path := range a.deleted {
		other.deleted[path] = true
	}
	return nil
}

func (a *RemoteAdapter) CommitRequest(id proxycore.TransactionID, seq uint64, coordinated bool) proxycore.CommitRequest {
	return proxycore.NewCommitRequest(id, seq, coordinated)
}

func (a *RemoteAdapter) SuccessorKind() proxycore.SuccessorKind { return proxycore.SuccessorRemote }

func (a *RemoteAdapter) HandleForwardedRemoteRequest(req proxycore.Request, cb proxycore.ResponseCallback) {
	a.acknowledge(req, cb)
}

func (a *RemoteAdapter) ForwardToLocal(req proxycore.Request, cb proxycore.ResponseCallback) {
	a.acknowledge(req, cb)
}

func (a *RemoteAdapter) ForwardToRemote(req proxycore.Request, cb proxycore.ResponseCallback) {
	a.acknowledge(req, cb)
}

func (a *RemoteAdapter) acknowledge(req proxycore.Request, cb proxycore.ResponseCallback) {
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
		if err := a.DoSeal(); err != nil {
			cb(proxycore.RequestFailure{Cause: err}, nil)
			return
		}
		cb(proxycore.CommitSuccess{}, nil)
	case proxycore.KindPurge:
		cb(proxycore.PurgeSuccess{}, nil)
	default:
		cb(nil, &proxycore.ProtocolViolation{Request: req})
	}
}
