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

// VotingFuture is the out-of-scope voting/future aggregation collaborator
// (spec.md §1: "Voting/future aggregation across multiple shards"),
// referenced here only by the narrow contract the commit-phase operations
// need: a yes vote, or a no vote carrying the cause.
type VotingFuture interface {
	VoteYes()
	VoteNo(cause error)
}
