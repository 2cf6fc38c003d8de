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

// Node is an opaque backend-tree value. The core never inspects it.
type Node any

// SuccessorKind tells replayRequest which of ForwardToLocal/ForwardToRemote
// a successor adapter wants in-flight requests dispatched through.
type SuccessorKind int

const (
	SuccessorLocal SuccessorKind = iota
	SuccessorRemote
)

// BackendAdapter is the downstream seam: the concrete local (snapshot or
// read-write) or remote subclass that actually talks to the backend. The
// core calls these but never implements them.
type BackendAdapter interface {
	// IsSnapshotOnly is pure; read-only proxies return true.
	IsSnapshotOnly() bool

	// DoRead and DoExists return an eager or lazy result; they must never
	// block the caller beyond a future handoff.
	DoRead(ctx context.Context, path Path) *Future[ReadResult]
	DoExists(ctx context.Context, path Path) *Future[ExistsResult]

	// DoWrite, DoMerge and DoDelete buffer or send; they must not allocate
	// sequence numbers, which are reserved to the core's SequenceAllocator.
	DoWrite(path Path, data Node) error
	DoMerge(path Path, data Node) error
	DoDelete(path Path) error

	// DoSeal finalizes buffered operations. The core guarantees it runs at
	// most once per proxy (seal and ensureSealed race on the sealed CAS).
	DoSeal() error

	// DoAbort emits an abort-equivalent. Pre-seal only.
	DoAbort() error

	// FlushState transfers any adapter-owned residual state to successor so
	// it can itself be sealed. The core calls it from internalSeal after the
	// successor latch opens and from ReplayMessages; it does not hold the
	// proxy monitor around either call.
	FlushState(successor BackendAdapter) error

	// CommitRequest returns a non-null commit request specialized to the
	// adapter. Called at most once per proxy.
	CommitRequest(id TransactionID, seq uint64, coordinated bool) CommitRequest

	// SuccessorKind tells replayRequest which forwarding method this
	// adapter expects in-flight requests replayed through.
	SuccessorKind() SuccessorKind

	// HandleForwardedRemoteRequest accepts a replayed request from a
	// predecessor; it must re-sequence it under this adapter's own
	// allocator rather than trusting the predecessor's sequence number.
	HandleForwardedRemoteRequest(req Request, cb ResponseCallback)

	// ForwardToLocal and ForwardToRemote accept a retried in-flight request
	// and its original callback, dispatched by replayRequest according to
	// the successor's own kind.
	ForwardToLocal(req Request, cb ResponseCallback)
	ForwardToRemote(req Request, cb ResponseCallback)
}

// ReadResult is the value a read() future resolves to: the node at the
// path with Found=true, or Found=false and a nil error if there is none;
// *ReadFailed is reserved for backend failures. A present Node with
// Found=false is never returned; use Found to distinguish "no node" from a
// successfully-read empty Node.
type ReadResult struct {
	Node  Node
	Found bool
}

// ExistsResult is the value an exists() future resolves to.
type ExistsResult struct {
	Exists bool
}

// Parent is the upstream seam: the owning ProxyHistory. It is referenced
// only by contract here — transport, dispatch bookkeeping and lifecycle
// coordination across many proxies live in the parent, out of scope for
// this package.
type Parent interface {
	// Send dispatches a protocol request (abort/commit-phase/purge) and
	// invokes cb with the eventual response.
	Send(req Request, cb ResponseCallback)

	// OnTransactionSealed is invoked once, synchronously, from internalSeal
	// before the phase CAS is attempted.
	OnTransactionSealed(id TransactionID)

	// NotifyComplete is invoked once a terminal commit or abort vote has
	// resolved for this transaction.
	NotifyComplete(id TransactionID)

	// DropTransaction is invoked by a pre-seal abort to tell the parent to
	// discard the transaction immediately, without a vote.
	DropTransaction(id TransactionID)

	// RemoveProxy is invoked once purge has been acknowledged; the parent
	// may now destroy this proxy.
	RemoveProxy(id TransactionID)
}

// Logger is the minimal seam the core needs for the debug-level state
// transition diagnostics described in the external interfaces section. It
// is satisfied directly by *log.Logger so the core carries no concrete
// logging dependency.
type Logger interface {
	Printf(format string, args ...any)
}

// noopLogger discards everything; used when a ProxyTransaction is built
// without an explicit logger.
type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}
