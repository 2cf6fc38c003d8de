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

// Overview:
//
//	txn-proxy-demo is a tiny HTTP harness to exercise the proxycore
//	state machine end-to-end: seal, single-shard and coordinated commit,
//	abort, purge, and a manually-triggered reconnect handoff.
//
// Usage:
//
//	go run ./cmd/txn-proxy-demo -http :9191 -shards a,b,c
//
//	POST /v1/transactions?id=T1&shard=a        -> opens a proxy on shard a
//	POST /v1/transactions/write?id=T1&path=/x&value=hello
//	GET  /v1/transactions/read?id=T1&path=/x
//	POST /v1/transactions/seal?id=T1
//	POST /v1/transactions/commit?id=T1&coordinated=true
//	POST /v1/transactions/abort?id=T1
//	POST /v1/shards/reconnect?id=T1            -> replays T1 onto a fresh adapter for its shard
//	GET  /metrics
//	GET  /healthz
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"shardproxy/internal/auditlog"
	"shardproxy/internal/backend"
	"shardproxy/internal/journal"
	"shardproxy/internal/proxyhistory"
	"shardproxy/internal/reconnectdriver"
	"shardproxy/internal/shardrouter"
	"shardproxy/internal/telemetry"
	"shardproxy/pkg/proxycore"
)

// voteCollector is the narrow VotingFuture the demo server uses to turn an
// async coordinated vote into a synchronous HTTP response.
type voteCollector struct {
	ch chan error
}

func newVoteCollector() *voteCollector { return &voteCollector{ch: make(chan error, 1)} }

func (v *voteCollector) VoteYes()            { v.ch <- nil }
func (v *voteCollector) VoteNo(cause error)  { v.ch <- cause }
func (v *voteCollector) wait(ctx context.Context) error {
	select {
	case err := <-v.ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// transportBox indirects proxyhistory.History's Transport so the history
// and the transport that routes through it can be wired to each other
// without a circular constructor.
type transportBox struct {
	history *proxyhistory.History
}

func (b *transportBox) Send(req proxycore.Request, cb proxycore.ResponseCallback) {
	tx, ok := b.history.Lookup(req.Target())
	if !ok {
		cb(nil, fmt.Errorf("txn-proxy-demo: unknown transaction %s", req.Target()))
		return
	}
	adapter := tx.Backend()
	switch adapter.SuccessorKind() {
	case proxycore.SuccessorLocal:
		adapter.ForwardToLocal(req, cb)
	case proxycore.SuccessorRemote:
		adapter.ForwardToRemote(req, cb)
	default:
		cb(nil, fmt.Errorf("txn-proxy-demo: unrecognized successor kind for %s", req.Target()))
	}
}

// server holds every collaborator the handlers need.
type server struct {
	history *proxyhistory.History
	router  *shardrouter.Router
	driver  *reconnectdriver.Driver
	journal *journal.Journal
	audit   *auditlog.Sink
	logger  *log.Logger

	mu        sync.Mutex
	shardTree map[string]*backend.Tree
	txShard   map[proxycore.TransactionID]string
}

func newServer(shards []string, logger *log.Logger, j *journal.Journal, a *auditlog.Sink) *server {
	trees := make(map[string]*backend.Tree, len(shards))
	for _, s := range shards {
		trees[s] = backend.NewTree()
	}

	box := &transportBox{}
	hist := proxyhistory.New(box)
	box.history = hist

	srv := &server{
		history:   hist,
		router:    shardrouter.New(shards),
		journal:   j,
		audit:     a,
		logger:    logger,
		shardTree: trees,
		txShard:   make(map[proxycore.TransactionID]string),
	}

	swap := func(id proxycore.TransactionID, current proxycore.BackendAdapter) (proxycore.BackendAdapter, bool) {
		// The scan loop never proposes a swap on its own in this demo;
		// every handoff here is driven explicitly via /v1/shards/reconnect.
		return nil, false
	}
	srv.driver = reconnectdriver.New(hist, hist, swap, time.Minute, logger)
	srv.driver.Start()
	return srv
}

func (s *server) shardFor(id proxycore.TransactionID, requested string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.txShard[id]; ok {
		return existing
	}
	shard := requested
	if shard == "" {
		shard = s.router.ShardFor(proxycore.Path(id))
	}
	s.txShard[id] = shard
	return shard
}

func (s *server) treeFor(shard string) *backend.Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.shardTree[shard]
	if !ok {
		t = backend.NewTree()
		s.shardTree[shard] = t
	}
	return t
}

func (s *server) handleOpen(w http.ResponseWriter, r *http.Request) {
	id := proxycore.TransactionID(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	snapshot := r.URL.Query().Get("snapshot") == "true"
	shard := s.shardFor(id, r.URL.Query().Get("shard"))
	tree := s.treeFor(shard)

	var adapter proxycore.BackendAdapter
	if snapshot {
		adapter = backend.NewSnapshotAdapter(tree)
	} else {
		adapter = backend.NewLocalAdapter(tree)
	}

	tx := s.history.GetOrCreate(id, func() *proxycore.ProxyTransaction {
		return proxycore.NewProxyTransaction(id, s.history, adapter, s.logger)
	})
	writeJSON(w, http.StatusCreated, map[string]any{"id": tx.ID(), "shard": shard, "sealed": tx.Sealed()})
}

func (s *server) lookup(w http.ResponseWriter, r *http.Request) (*proxycore.ProxyTransaction, bool) {
	id := proxycore.TransactionID(r.URL.Query().Get("id"))
	tx, ok := s.history.Lookup(id)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown transaction %s", id), http.StatusNotFound)
		return nil, false
	}
	return tx, true
}

func (s *server) handleWrite(w http.ResponseWriter, r *http.Request) {
	tx, ok := s.lookup(w, r)
	if !ok {
		return
	}
	path := proxycore.Path(r.URL.Query().Get("path"))
	value := r.URL.Query().Get("value")
	if err := tx.Write(path, value); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *server) handleRead(w http.ResponseWriter, r *http.Request) {
	tx, ok := s.lookup(w, r)
	if !ok {
		return
	}
	path := proxycore.Path(r.URL.Query().Get("path"))
	future, err := tx.Read(r.Context(), path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	res, err := future.Wait(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"found": res.Found, "value": res.Node})
}

func (s *server) handleSeal(w http.ResponseWriter, r *http.Request) {
	tx, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := tx.Seal(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sealed": true})
}

func (s *server) handleCommit(w http.ResponseWriter, r *http.Request) {
	tx, ok := s.lookup(w, r)
	if !ok {
		return
	}
	coordinated, _ := strconv.ParseBool(r.URL.Query().Get("coordinated"))

	if !coordinated {
		future, err := tx.DirectCommit(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		committed, err := future.Wait(r.Context())
		s.finish(r.Context(), tx.ID(), committed, err)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"committed": committed})
		return
	}

	canVote := newVoteCollector()
	if err := tx.CanCommit(r.Context(), canVote); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err := canVote.wait(r.Context()); err != nil {
		s.finish(r.Context(), tx.ID(), false, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	preVote := newVoteCollector()
	if err := tx.PreCommit(r.Context(), preVote); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := preVote.wait(r.Context()); err != nil {
		s.finish(r.Context(), tx.ID(), false, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	doVote := newVoteCollector()
	if err := tx.DoCommit(r.Context(), doVote); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	err := doVote.wait(r.Context())
	s.finish(r.Context(), tx.ID(), err == nil, err)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"committed": true})
}

func (s *server) handleAbort(w http.ResponseWriter, r *http.Request) {
	tx, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if !tx.Sealed() {
		if err := tx.AbortPreSeal(); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"aborted": true})
		return
	}
	vote := newVoteCollector()
	if err := tx.AbortPostSeal(r.Context(), vote); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	err := vote.wait(r.Context())
	s.finish(r.Context(), tx.ID(), false, err)
	writeJSON(w, http.StatusOK, map[string]any{"aborted": err == nil})
}

// handleReconnect drives a single synchronous reconnect handoff for one
// transaction onto a freshly-built adapter for the same shard, exercising
// StartReconnect/ReplayMessages/FinishReconnect outside the scan loop.
func (s *server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	tx, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	shard := s.txShard[tx.ID()]
	s.mu.Unlock()
	if shard == "" {
		http.Error(w, "transaction has no known shard", http.StatusConflict)
		return
	}
	newAdapter := backend.NewLocalAdapter(s.treeFor(shard))

	if err := s.driver.ReconnectNow(r.Context(), tx.ID(), tx, newAdapter); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if s.audit != nil {
		if err := s.audit.RecordReplay(r.Context(), proxycore.NewPurgeRequest(tx.ID(), 0)); err != nil {
			s.logger.Printf("txn-proxy-demo: audit replay record failed for %s: %v", tx.ID(), err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reconnected": true})
}

func (s *server) finish(ctx context.Context, id proxycore.TransactionID, committed bool, voteErr error) {
	if s.journal == nil {
		return
	}
	outcome := journal.OutcomeAborted
	if committed && voteErr == nil {
		outcome = journal.OutcomeCommitted
	}
	jctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.journal.Record(jctx, id, outcome, 0); err != nil {
		s.logger.Printf("txn-proxy-demo: journal record failed for %s: %v", id, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func main() {
	addr := flag.String("http", ":9191", "HTTP listen address")
	shardList := flag.String("shards", "a,b,c", "comma-separated shard names")
	dsn := flag.String("journal_dsn", "", "Postgres DSN for the completion journal; empty disables it")
	kafkaTopic := flag.String("audit_topic", "", "Kafka topic for replay audit records; empty disables it")
	flag.Parse()

	shards := strings.Split(*shardList, ",")
	logger := log.New(os.Stdout, "txn-proxy-demo: ", log.LstdFlags)

	var j *journal.Journal
	if *dsn != "" {
		db, err := sql.Open("postgres", *dsn)
		if err != nil {
			logger.Fatalf("open journal db: %v", err)
		}
		defer db.Close()
		j = journal.New(db)
	}

	var a *auditlog.Sink
	if *kafkaTopic != "" {
		a = auditlog.New(stdoutProducer{logger: logger}, *kafkaTopic)
	}

	srv := newServer(shards, logger, j, a)
	defer srv.driver.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "time": time.Now().UTC()})
	})
	mux.Handle("/metrics", telemetry.Handler())
	mux.HandleFunc("/v1/transactions", srv.handleOpen)
	mux.HandleFunc("/v1/transactions/write", srv.handleWrite)
	mux.HandleFunc("/v1/transactions/read", srv.handleRead)
	mux.HandleFunc("/v1/transactions/seal", srv.handleSeal)
	mux.HandleFunc("/v1/transactions/commit", srv.handleCommit)
	mux.HandleFunc("/v1/transactions/abort", srv.handleAbort)
	mux.HandleFunc("/v1/shards/reconnect", srv.handleReconnect)

	httpServer := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()
	logger.Printf("listening on %s, shards=%v", *addr, shards)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
}

// stdoutProducer stands in for a real Kafka client in this demo: it logs
// what would have been produced rather than requiring a live broker.
type stdoutProducer struct{ logger *log.Logger }

func (p stdoutProducer) Produce(_ context.Context, topic string, key []byte, value []byte, _ map[string]string) error {
	p.logger.Printf("audit produce topic=%s key=%s value=%s", topic, key, value)
	return nil
}
