// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package h2

import (
	"context"
	"io"
	"sync"
)

// BodyPipe is the bounded body source/sink from spec §3/§9: a queue of
// byte-slice chunks whose capacity is accounted in bytes, not items, fed by
// a single producer (the connection's event-loop goroutine, for inbound
// DATA) and drained by a single consumer (the client caller or the
// server's user handler).
//
// Push never blocks: blocking the one goroutine that owns a connection's
// frame I/O would deadlock every other stream multiplexed on it. Instead
// Push reports whether the pipe is at capacity, so the connection can
// withhold WINDOW_UPDATE until the consumer drains (spec §4.4).
type BodyPipe struct {
	capacity int

	mu       sync.Mutex
	used     int
	queue    []chunk
	closed   bool
	closeErr error
	notify   chan struct{}
}

// chunk is one queued piece of body data. handed, when non-nil, is closed
// the moment Pull hands this exact chunk to its caller — used only by
// PushRaw, whose caller needs to know when it's safe to let the
// underlying buffer be reused.
type chunk struct {
	data   []byte
	handed chan struct{}
}

// NewBodyPipe returns an empty pipe with the given byte capacity.
func NewBodyPipe(capacity int) *BodyPipe {
	return &BodyPipe{capacity: capacity, notify: make(chan struct{}, 1)}
}

func (p *BodyPipe) signal() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Push enqueues a copy-owned chunk. It returns true when the pipe has
// reached or exceeded its capacity after the push, a signal the caller
// should stop admitting more data until the consumer drains it. Pushing to
// a closed pipe silently discards the chunk and reports full.
func (p *BodyPipe) Push(data []byte) (atCapacity bool) {
	atCapacity, _ = p.push(chunk{data: data})
	return atCapacity
}

// PushRaw enqueues data without any copy of its own — "forward the
// buffer", the raw-stream strategy from spec §4.4, as opposed to Push's
// cooked copy. Since the underlying buffer (typically an http2.Framer's
// read buffer) is only valid until the connection reads its next frame,
// PushRaw returns a channel that closes the instant Pull hands this chunk
// to a caller; the producer must not read another frame into that buffer
// until then.
func (p *BodyPipe) PushRaw(data []byte) (atCapacity bool, handed <-chan struct{}) {
	done := make(chan struct{})
	atCapacity, closed := p.push(chunk{data: data, handed: done})
	if closed {
		close(done)
	}
	return atCapacity, done
}

// push is the shared enqueue path for Push/PushRaw. closed reports
// whether the pipe was already closed, in which case c's handed channel
// (if any) is the caller's responsibility to close, not push's — done
// under the lock would risk closing it twice if push is ever reentered.
func (p *BodyPipe) push(c chunk) (atCapacity bool, alreadyClosed bool) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return true, true
	}
	p.queue = append(p.queue, c)
	p.used += len(c.data)
	atCapacity = p.used >= p.capacity
	p.mu.Unlock()
	p.signal()
	return atCapacity, false
}

// Pull removes and returns the next chunk, blocking until one is available,
// the pipe closes (returning io.EOF or the error passed to Close), or ctx
// is done.
func (p *BodyPipe) Pull(ctx context.Context) ([]byte, error) {
	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			c := p.queue[0]
			p.queue = p.queue[1:]
			p.used -= len(c.data)
			p.mu.Unlock()
			if c.handed != nil {
				close(c.handed)
			}
			return c.data, nil
		}
		if p.closed {
			err := p.closeErr
			p.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return nil, err
		}
		p.mu.Unlock()

		select {
		case <-p.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// HasRoom reports whether the pipe is below capacity, i.e. whether the
// connection should resume replenishing this stream's flow-control window.
func (p *BodyPipe) HasRoom() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used < p.capacity
}

// Close marks the pipe closed. err == nil means a clean end-of-stream
// (Pull returns io.EOF); a non-nil err (typically a *StreamError or
// *ConnectionError) is returned verbatim by subsequent Pull calls once the
// queue drains. Close is idempotent.
//
// Any chunk still queued from PushRaw is dropped rather than drained: its
// buffer may belong to a frame the connection has already moved past by
// the time a consumer would get around to it, so waiting any longer to
// release its producer isn't safe. Ordinary Push chunks are unaffected
// and still drain normally before Pull starts returning the close error.
func (p *BodyPipe) Close(err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.closeErr = err
	kept := p.queue[:0]
	for _, c := range p.queue {
		if c.handed != nil {
			p.used -= len(c.data)
			close(c.handed)
			continue
		}
		kept = append(kept, c)
	}
	p.queue = kept
	p.mu.Unlock()
	p.signal()
}
