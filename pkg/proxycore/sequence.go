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

import "sync/atomic"

// SequenceAllocator hands out a monotonically increasing per-proxy request
// sequence number. The application thread is its sole caller on the hot
// path; incrementSequence is used only by a successor realigning its
// counter with what the predecessor already spent during replay.
type SequenceAllocator struct {
	next atomic.Uint64
}

// NextSequence returns the current sequence and increments it.
func (s *SequenceAllocator) NextSequence() uint64 {
	return s.next.Add(1) - 1
}

// IncrementSequence advances the counter by delta without allocating a
// request to it.
func (s *SequenceAllocator) IncrementSequence(delta uint64) {
	s.next.Add(delta)
}

// Peek returns the next sequence that would be allocated, without
// allocating it. StartReconnect uses it to carry the predecessor's sequence
// position over to the successor.
func (s *SequenceAllocator) Peek() uint64 {
	return s.next.Load()
}
