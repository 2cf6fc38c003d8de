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

// RequestKind names the closed set of protocol message kinds the core emits.
type RequestKind string

const (
	KindAbort      RequestKind = "Abort"
	KindCommit     RequestKind = "Commit" // directCommit or canCommit, see Coordinated
	KindPreCommit  RequestKind = "PreCommit"
	KindDoCommit   RequestKind = "DoCommit"
	KindPurge      RequestKind = "Purge"
)

// Request is the closed supertype the core routes by. Concrete requests
// carry the target identifier and the sequence number allocated to them so
// a successor can re-validate ordering on replay.
type Request interface {
	Kind() RequestKind
	Target() TransactionID
	Sequence() uint64
}

type baseRequest struct {
	kind RequestKind
	id   TransactionID
	seq  uint64
}

func (r baseRequest) Kind() RequestKind      { return r.kind }
func (r baseRequest) Target() TransactionID  { return r.id }
func (r baseRequest) Sequence() uint64       { return r.seq }

// AbortRequest tells the backend to discard the transaction's buffered
// writes. It is sent both pre-seal (fire-and-forget) and post-seal (voted).
type AbortRequest struct{ baseRequest }

func NewAbortRequest(id TransactionID, seq uint64) AbortRequest {
	return AbortRequest{baseRequest{KindAbort, id, seq}}
}

// CommitRequest is the commitRequest(coordinated) contract: the same wire
// shape serves both directCommit (Coordinated=false) and canCommit
// (Coordinated=true), mirroring the source's single entry point for both.
type CommitRequest struct {
	baseRequest
	Coordinated bool
}

func NewCommitRequest(id TransactionID, seq uint64, coordinated bool) CommitRequest {
	return CommitRequest{baseRequest{KindCommit, id, seq}, coordinated}
}

// PreCommitRequest is sent after a successful coordinated canCommit.
type PreCommitRequest struct{ baseRequest }

func NewPreCommitRequest(id TransactionID, seq uint64) PreCommitRequest {
	return PreCommitRequest{baseRequest{KindPreCommit, id, seq}}
}

// DoCommitRequest finalizes a coordinated commit.
type DoCommitRequest struct{ baseRequest }

func NewDoCommitRequest(id TransactionID, seq uint64) DoCommitRequest {
	return DoCommitRequest{baseRequest{KindDoCommit, id, seq}}
}

// PurgeRequest tells the parent history this proxy's state may be dropped.
type PurgeRequest struct{ baseRequest }

func NewPurgeRequest(id TransactionID, seq uint64) PurgeRequest {
	return PurgeRequest{baseRequest{KindPurge, id, seq}}
}

// ResponseCallback receives the eventual response to a dispatched Request,
// or a transport-level error if the request never reached the backend.
type ResponseCallback func(Response, error)
