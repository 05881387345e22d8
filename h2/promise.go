// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package h2

import (
	"context"
	"sync"
)

// taskQueuer schedules a continuation onto a connection's single event-loop
// goroutine, rather than running it re-entrantly on whichever goroutine
// completed the promise (spec §9). *Connection implements this; tests may
// supply a trivial synchronous stand-in.
type taskQueuer interface {
	enqueueTask(func())
}

// Promise is the single-shot completion primitive backing response
// promises (client) and dispatch futures (server). It may be completed at
// most once; later completions are no-ops, matching the "writable becomes
// false" monotonic-transition style used elsewhere in this package.
type Promise[T any] struct {
	queue taskQueuer

	mu        sync.Mutex
	done      chan struct{}
	completed bool
	value     T
	err       error
	callbacks []func(T, error)
}

// NewPromise returns an unresolved Promise. queue may be nil, in which case
// callbacks registered with Then run synchronously on the completing
// goroutine instead of being deferred — acceptable for tests and for
// promises that never outlive a single goroutine.
func NewPromise[T any](queue taskQueuer) *Promise[T] {
	return &Promise[T]{queue: queue, done: make(chan struct{})}
}

// Resolve completes the promise successfully. Only the first call has any
// effect.
func (p *Promise[T]) Resolve(value T) { p.complete(value, nil) }

// Reject completes the promise with an error. Only the first call has any
// effect.
func (p *Promise[T]) Reject(err error) {
	var zero T
	p.complete(zero, err)
}

func (p *Promise[T]) complete(value T, err error) {
	p.mu.Lock()
	if p.completed {
		p.mu.Unlock()
		return
	}
	p.completed = true
	p.value, p.err = value, err
	callbacks := p.callbacks
	p.callbacks = nil
	close(p.done)
	p.mu.Unlock()

	for _, cb := range callbacks {
		p.dispatch(cb)
	}
}

func (p *Promise[T]) dispatch(cb func(T, error)) {
	value, err := p.value, p.err
	if p.queue != nil {
		p.queue.enqueueTask(func() { cb(value, err) })
		return
	}
	cb(value, err)
}

// Then registers a continuation. If the promise is already complete, the
// callback is handed to the promise's queue rather than invoked inline,
// to avoid re-entering the caller's stack; with a nil queue it runs
// inline on the calling goroutine.
func (p *Promise[T]) Then(cb func(T, error)) {
	p.mu.Lock()
	if p.completed {
		p.mu.Unlock()
		p.dispatch(cb)
		return
	}
	p.callbacks = append(p.callbacks, cb)
	p.mu.Unlock()
}

// Await blocks until the promise completes or ctx is done.
func (p *Promise[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.value, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// IsDone reports whether the promise has completed, without blocking.
func (p *Promise[T]) IsDone() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
