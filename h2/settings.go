// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package h2

import "time"

const (
	defaultChunkSize  = 16384      // SETTINGS_MAX_FRAME_SIZE default
	maxFramePayload   = 1<<24 - 1  // largest payload a single frame may carry
	defaultBufferSize = 16384
)

// Options configures a Connection. Zero-value fields fall back to the
// defaults named in spec §6.
type Options struct {
	// ChunkSize is the byte size DATA frames and file chunks are split
	// into when a body has no more specific chunking of its own. Defaults
	// to 16384. Must not exceed 2^24-1.
	ChunkSize int

	// RequestBufferSize bounds the server-side inbound BodyPipe, in bytes.
	RequestBufferSize int
	// ResponseBufferSize bounds the client-side inbound BodyPipe, in bytes.
	ResponseBufferSize int

	// IdleTimeout is how long the connection may go without any frame
	// activity before it is closed. 0 disables the timeout.
	IdleTimeout time.Duration

	// RawStream, when true, forwards each inbound DATA frame's payload
	// buffer into the stream's body source instead of copying it into a
	// freshly allocated slice. This skips a copy per frame at the cost of
	// pausing the connection's frame reader until the chunk in question has
	// been consumed, since the buffer it points into is only valid until
	// the next frame is read. Leave false unless the consumer reads
	// promptly.
	RawStream bool

	// Executor, if set, runs the server's user handler somewhere other
	// than the connection's event-loop goroutine, returning false if it
	// refuses to accept the task (e.g. a saturated worker pool), in which
	// case RejectedHandler supplies the response. A nil Executor means
	// "run inline" (discouraged by spec §5, but supported).
	Executor func(func()) bool

	// StreamGoAwayHandler, ResetStreamHandler, and ConnGoAwayHandler are
	// optional user callbacks invoked when the corresponding condition is
	// observed on a stream or the connection.
	StreamGoAwayHandler func(streamID uint32, err *ConnectionError)
	ResetStreamHandler  func(streamID uint32, code Error)
	ConnGoAwayHandler   func(err *ConnectionError)

	// PipelineTransform, if set, is called once per newly installed
	// Stream, letting a caller decorate it before any frames arrive.
	PipelineTransform func(*Stream)

	// ErrorHandler turns a user-handler panic/error into a Response.
	// Defaults to DefaultErrorHandler (a generic 500).
	ErrorHandler func(err error) *Response

	// RejectedHandler is invoked when Executor refuses to run a request
	// (e.g. a saturated worker pool). Defaults to a synthesized 503.
	RejectedHandler func(req *Request) *Response

	// ExtraStreamIDs is how many post-GOAWAY peer-initiated streams will
	// still be processed when Connection.Shutdown is called with
	// GracefulShutdown: the GOAWAY announces a last-stream-id this far past
	// the highest stream seen so far, tolerating streams the peer may have
	// already opened before it saw the GOAWAY. 0 by default (no tolerance);
	// has no effect on HardShutdown.
	ExtraStreamIDs uint32

	// Logger receives debug/info/warn output. Defaults to a log.Logger
	// wrapper gated by DebugLevel.
	Logger Logger
	// DebugLevel gates Logger.Debugf, mirroring the teacher's global
	// DebugLevel()-gated Printf convention, scoped per connection here.
	DebugLevel int
}

// withDefaults returns a copy of o with zero-value fields replaced by the
// spec §6 defaults.
func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = defaultChunkSize
	}
	if o.ChunkSize > maxFramePayload {
		o.ChunkSize = maxFramePayload
	}
	if o.RequestBufferSize <= 0 {
		o.RequestBufferSize = defaultBufferSize
	}
	if o.ResponseBufferSize <= 0 {
		o.ResponseBufferSize = defaultBufferSize
	}
	if o.ErrorHandler == nil {
		o.ErrorHandler = DefaultErrorHandler
	}
	if o.RejectedHandler == nil {
		o.RejectedHandler = DefaultRejectedHandler
	}
	if o.Logger == nil {
		o.Logger = newDefaultLogger(o.DebugLevel)
	}
	return o
}

// DefaultErrorHandler turns any error from a user handler into a generic
// 500 response, per spec §6.
func DefaultErrorHandler(err error) *Response {
	resp := &Response{Status: 500, Headers: NewHeaders()}
	resp.Headers.Set("content-type", "text/plain; charset=UTF-8")
	resp.Body = StringBody("internal server error")
	return resp
}

// DefaultRejectedHandler synthesizes a 503 when the configured Executor
// refuses to run a request (spec §4.5).
func DefaultRejectedHandler(req *Request) *Response {
	resp := &Response{Status: 503, Headers: NewHeaders()}
	resp.Headers.Set("content-type", "text/plain; charset=UTF-8")
	resp.Body = StringBody("service unavailable")
	return resp
}
