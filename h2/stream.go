// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package h2

import (
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/net/http2/hpack"
)

// StreamState is the per-stream lifecycle state from spec §4.3.
type StreamState int32

const (
	StreamIdle StreamState = iota
	StreamOpen
	StreamHalfClosedLocal  // local END_STREAM sent, peer may still send
	StreamHalfClosedRemote // peer END_STREAM received, we may still send
	StreamClosed
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "IDLE"
	case StreamOpen:
		return "OPEN"
	case StreamHalfClosedLocal:
		return "HALF_CLOSED_LOCAL"
	case StreamHalfClosedRemote:
		return "HALF_CLOSED_REMOTE"
	case StreamClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// errStreamNotWritable is returned by WriteHeaders/WriteData once writable
// has gone false; spec §8 requires that no frame be emitted past that
// point.
var errStreamNotWritable = errors.New("http2: stream is no longer writable")

// Stream is one HTTP/2 logical exchange, wrapping spec §3's StreamChannel.
// Its identifier, writability, and exception slot are all readable from
// any goroutine; mutation happens only on the owning Connection's
// event-loop goroutine or, for the atomics, via the one-way true→false
// transition spec §9 calls out.
type Stream struct {
	id       uint32
	conn     *Connection
	isClient bool

	stateVal    atomic.Int32
	writableVal atomic.Bool

	errMu   sync.Mutex
	lastErr error // *StreamError or *ConnectionError, nilable

	// Inbound is the bounded body source DATA frames are pushed into.
	// nil until the first HEADERS frame for this stream has been seen.
	Inbound *BodyPipe

	remoteWindow atomic.Int32 // bytes we may still write before a WINDOW_UPDATE from the peer
	localWindow  atomic.Int32 // bytes the peer may still send before we owe a WINDOW_UPDATE

	// Response is the client-side response promise, fulfilled by the
	// Client Stream Handler on the first inbound HEADERS.
	Response *Promise[*Response]
	// Complete resolves once the exchange is fully done: true means the
	// connection itself must shut down (e.g. a GOAWAY affected this
	// stream), false means only the stream closed.
	Complete *Promise[bool]

	// Request is populated by the Server Stream Handler once headers
	// arrive, for an inbound (peer-initiated) stream.
	Request *Request
	// Dispatch is fulfilled by the user handler with the Response to
	// send back.
	Dispatch *Promise[*Response]
}

func newStream(conn *Connection, id uint32, isClient bool, initialRemoteWindow, initialLocalWindow int32) *Stream {
	s := &Stream{id: id, conn: conn, isClient: isClient}
	s.stateVal.Store(int32(StreamIdle))
	s.writableVal.Store(true)
	s.remoteWindow.Store(initialRemoteWindow)
	s.localWindow.Store(initialLocalWindow)
	if isClient {
		s.Response = NewPromise[*Response](conn)
		s.Complete = NewPromise[bool](conn)
	} else {
		s.Dispatch = NewPromise[*Response](conn)
	}
	return s
}

// ID returns the stream's identifier: odd for client-initiated streams,
// even for server-initiated ones (never used here, since push is
// unsupported).
func (s *Stream) ID() uint32 { return s.id }

// State returns the current lifecycle state.
func (s *Stream) State() StreamState { return StreamState(s.stateVal.Load()) }

func (s *Stream) setState(state StreamState) { s.stateVal.Store(int32(state)) }

// Writable reports whether HEADERS/DATA may still be sent on this stream.
func (s *Stream) Writable() bool { return s.writableVal.Load() }

// LastError returns the StreamError or ConnectionError recorded against
// this stream, or nil if none.
func (s *Stream) LastError() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

func (s *Stream) recordError(err error) {
	s.errMu.Lock()
	if s.lastErr == nil {
		s.lastErr = err
	}
	s.errMu.Unlock()
}

// markNotWritable performs the one-way true→false transition. Callers
// never need to undo it: per spec §3, writable only ever goes false.
func (s *Stream) markNotWritable() { s.writableVal.Store(false) }

// onLocalEndStream transitions the state machine after we send our own
// END_STREAM.
func (s *Stream) onLocalEndStream() {
	switch s.State() {
	case StreamOpen:
		s.setState(StreamHalfClosedLocal)
	case StreamHalfClosedRemote:
		s.setState(StreamClosed)
	}
	s.markNotWritable()
}

// onRemoteEndStream transitions the state machine after the peer's
// END_STREAM arrives, and closes the inbound body source.
func (s *Stream) onRemoteEndStream() {
	closed := false
	switch s.State() {
	case StreamOpen:
		s.setState(StreamHalfClosedRemote)
	case StreamHalfClosedLocal:
		s.setState(StreamClosed)
		closed = true
	}
	if s.Inbound != nil {
		s.Inbound.Close(nil)
	}
	if closed && s.isClient && s.Complete != nil {
		s.Complete.Resolve(false)
	}
}

// onReset handles an inbound RST_STREAM: writable goes false, the inbound
// body source closes with the resulting StreamError, and that error is
// recorded (server) or used to fail the response promise (client).
func (s *Stream) onReset(code Error) {
	s.setState(StreamClosed)
	s.markNotWritable()
	streamErr := NewStreamError(s.id, code)
	s.recordError(streamErr)
	if s.Inbound != nil {
		s.Inbound.Close(streamErr)
	}
	if s.isClient {
		if s.Response != nil {
			s.Response.Reject(streamErr)
		}
		if s.Complete != nil {
			s.Complete.Resolve(false)
		}
	}
}

// onGoAway handles a connection-level GOAWAY affecting this stream:
// writable goes false, the inbound body source closes, and for a client
// the response promise fails with the ConnectionError while Complete
// resolves true (the connection must shut down). For a server the
// exception is only recorded, so the user handler can observe it and
// abort gracefully.
func (s *Stream) onGoAway(connErr *ConnectionError) {
	s.setState(StreamClosed)
	s.markNotWritable()
	s.recordError(connErr)
	if s.Inbound != nil {
		s.Inbound.Close(connErr)
	}
	if s.isClient {
		if s.Response != nil {
			s.Response.Reject(connErr)
		}
		if s.Complete != nil {
			s.Complete.Resolve(true)
		}
	}
}

// WriteHeaders emits one HEADERS frame (plus CONTINUATION as needed) for
// this stream via the owning Connection, enforcing that nothing is sent
// once writable has gone false. WriteData does not check that HEADERS was
// sent first; the Body Dispatcher always writes HEADERS before any DATA.
func (s *Stream) WriteHeaders(fields []hpack.HeaderField, endStream bool) error {
	if !s.Writable() {
		return errStreamNotWritable
	}
	if err := s.conn.codec.WriteHeaders(s.id, fields, endStream); err != nil {
		s.markNotWritable()
		return err
	}
	if s.State() == StreamIdle {
		s.setState(StreamOpen)
	}
	if endStream {
		s.onLocalEndStream()
	}
	return nil
}

// WriteData emits one DATA frame for this stream.
func (s *Stream) WriteData(data []byte, endStream bool) error {
	if !s.Writable() {
		return errStreamNotWritable
	}
	if err := s.conn.codec.WriteData(s.id, data, endStream); err != nil {
		s.markNotWritable()
		return err
	}
	s.remoteWindow.Add(-int32(len(data)))
	if endStream {
		s.onLocalEndStream()
	}
	return nil
}

// Close cancels the stream locally: it emits RST_STREAM(CANCEL) if the
// stream is still open, closes the inbound body source, and marks the
// stream unwritable. Matches spec §5's cancellation semantics.
func (s *Stream) Close() {
	if s.State() != StreamClosed && s.Writable() {
		_ = s.conn.codec.WriteRSTStream(s.id, ErrCancel)
	}
	s.setState(StreamClosed)
	s.markNotWritable()
	if s.Inbound != nil {
		s.Inbound.Close(NewStreamError(s.id, ErrCancel))
	}
}
