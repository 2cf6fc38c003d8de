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

import (
	"context"
	"sync"
)

// Future carries a value that a backend adapter will deliver asynchronously.
// It is completed at most once; completing it twice is a programmer error
// and is silently ignored (the first completion wins) rather than panicking,
// since a slow adapter racing a reconnect-triggered retry is expected, not
// exceptional.
type Future[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

// NewFuture returns an incomplete future ready for a single Complete call.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Complete resolves the future. Only the first call has effect.
func (f *Future[T]) Complete(value T, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

// Wait blocks until the future is completed or ctx is done, whichever comes
// first.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
