// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package h2

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// syncQueue runs every task inline, for tests that don't need the
// deferred-continuation behavior a real Connection provides.
type syncQueue struct{}

func (syncQueue) enqueueTask(fn func()) { fn() }

func TestPromiseResolveThenAfter(t *testing.T) {
	p := NewPromise[int](syncQueue{})
	p.Resolve(42)

	got := make(chan int, 1)
	p.Then(func(v int, err error) {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		got <- v
	})
	if v := <-got; v != 42 {
		t.Fatalf("got %d, want 42", v)
	}
}

func TestPromiseThenBeforeResolve(t *testing.T) {
	p := NewPromise[string](syncQueue{})
	got := make(chan string, 1)
	p.Then(func(v string, err error) { got <- v })
	p.Resolve("done")
	if v := <-got; v != "done" {
		t.Fatalf("got %q", v)
	}
}

func TestPromiseFirstCompletionWins(t *testing.T) {
	p := NewPromise[int](syncQueue{})
	p.Resolve(1)
	p.Resolve(2)
	p.Reject(errors.New("too late"))

	v, err := p.Await(context.Background())
	if err != nil || v != 1 {
		t.Fatalf("got v=%d err=%v, want v=1 err=nil", v, err)
	}
}

func TestPromiseAwaitContextCancel(t *testing.T) {
	p := NewPromise[int](syncQueue{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Await(ctx); err != context.Canceled {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestPromiseNilQueueRunsInline(t *testing.T) {
	p := NewPromise[int](nil)
	var mu sync.Mutex
	var ran bool
	p.Then(func(v int, err error) {
		mu.Lock()
		ran = true
		mu.Unlock()
	})
	p.Resolve(7)
	mu.Lock()
	defer mu.Unlock()
	if !ran {
		t.Fatal("callback never ran")
	}
}

func TestPromiseIsDone(t *testing.T) {
	p := NewPromise[int](syncQueue{})
	if p.IsDone() {
		t.Fatal("fresh promise should not be done")
	}
	p.Resolve(1)
	if !p.IsDone() {
		t.Fatal("resolved promise should be done")
	}
}
