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

// LogEntry is one element of a SuccessfulRequestLog: either a concrete
// request to be re-sent verbatim on replay, or a coalesced run of read-type
// acks.
type LogEntry interface {
	isLogEntry()
}

// RequestEntry replays as a verbatim re-send of Req.
type RequestEntry struct{ Req Request }

// IncrementEntry replays as a successor.IncrementSequence(Delta) call; it
// folds Delta consecutive read-type acks into a single counter bump.
type IncrementEntry struct{ Delta uint64 }

func (RequestEntry) isLogEntry()   {}
func (*IncrementEntry) isLogEntry() {}

// SuccessfulRequestLog is the append-only record of backend-acknowledged
// requests used to resync a successor proxy. It is written only by the
// application thread and read only by the connection thread during
// replayMessages, after startReconnect has already forced the application
// fast paths onto the latch — that phase CAS is the happens-before edge
// that makes the single-writer/single-reader split safe without its own
// lock.
type SuccessfulRequestLog struct {
	entries []LogEntry
}

// RecordSuccessfulRequest appends a concrete acknowledged request.
func (l *SuccessfulRequestLog) RecordSuccessfulRequest(req Request) {
	l.entries = append(l.entries, RequestEntry{Req: req})
}

// RecordFinishedRequest folds a read-type ack into the trailing
// IncrementEntry, appending a fresh one (delta=1) if the log is empty or
// does not currently end in one.
func (l *SuccessfulRequestLog) RecordFinishedRequest() {
	if n := len(l.entries); n > 0 {
		if inc, ok := l.entries[n-1].(*IncrementEntry); ok {
			inc.Delta++
			return
		}
	}
	l.entries = append(l.entries, &IncrementEntry{Delta: 1})
}

// Entries returns the log contents in order. Callers must not retain the
// slice past the next mutating call.
func (l *SuccessfulRequestLog) Entries() []LogEntry {
	return l.entries
}

// Len reports the number of entries currently recorded.
func (l *SuccessfulRequestLog) Len() int {
	return len(l.entries)
}

// Clear empties the log. Called after replay and by purge; preCommit
// completion uses Reset instead.
func (l *SuccessfulRequestLog) Clear() {
	l.entries = nil
}

// Reset replaces the log contents with a single entry, used by preCommit to
// retain just the preCommit request itself so a mid-preCommit reconnect can
// still resync the backend.
func (l *SuccessfulRequestLog) Reset(entry LogEntry) {
	l.entries = []LogEntry{entry}
}
