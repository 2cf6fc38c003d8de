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

// Response is the closed set of wire response variants the core
// pattern-matches at every call site: {AbortSuccess, CanCommitSuccess,
// PreCommitSuccess, CommitSuccess, PurgeSuccess(implicit), RequestFailure,
// *}. Any variant outside this set, or a response of the wrong kind for the
// pending request, is an IllegalState / ProtocolViolation.
type Response interface {
	isResponse()
}

type AbortSuccess struct{}
type CanCommitSuccess struct{}
type PreCommitSuccess struct{}
type CommitSuccess struct{}
type PurgeSuccess struct{}

// RequestFailure is the backend's explicit failure report, carrying the
// reported cause. It is always routed to a no-vote / exception path, never
// to ProtocolViolation.
type RequestFailure struct{ Cause error }

func (AbortSuccess) isResponse()      {}
func (CanCommitSuccess) isResponse()  {}
func (PreCommitSuccess) isResponse()  {}
func (CommitSuccess) isResponse()     {}
func (PurgeSuccess) isResponse()      {}
func (RequestFailure) isResponse()    {}
