// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package h2

import (
	"context"
	"io"
	"sync"
	"time"

	"golang.org/x/net/http2"
)

// Connection is the Connection Pipeline from spec §4.6: one per TCP/TLS
// socket, owning a single event-loop goroutine that handles every inbound
// frame and queued task. OpenStream is not scheduled onto that goroutine:
// it registers its stream and writes the request's frames from the
// caller's goroutine, so the codec is written from more than one goroutine
// and framerCodec's mutex serializes those writes. This mirrors the teacher's
// server2Conn/backend2Conn split between manage() (the event loop) and
// receive() (the dedicated frame-reading goroutine) — generalized here to
// one Connection type serving either role via isClient.
type Connection struct {
	rw       io.ReadWriteCloser
	codec    FrameCodec
	isTLS    bool
	isClient bool
	opts     Options

	// Handler is invoked once per newly accepted peer-initiated stream, on
	// the event-loop goroutine (or through Options.Executor when one is
	// set), with Stream.Request already populated. It
	// must eventually resolve or reject Stream.Dispatch. Server-only.
	Handler func(*Stream)

	mu                   sync.Mutex
	streams              map[uint32]*Stream
	nextStreamID         uint32
	maxPeerStreamID      uint32
	goingAway            bool
	shuttingDown         bool   // true once a local graceful Shutdown is draining
	gracefulLastStreamID uint32 // highest peer-initiated stream id still accepted during the drain

	incoming chan any // *http2.MetaHeadersFrame / http2.Frame / cookedDataFrame / rawDataFrame / connReadError
	tasks    chan func()
	done     chan struct{}
	closeErr error
}

// maxStreamID is the largest value a 31-bit HTTP/2 stream identifier can
// hold (RFC 9113 §5.1.1).
const maxStreamID = uint32(1)<<31 - 1

// extendedStreamIDLimit computes the last-stream-id a graceful shutdown
// announces in its GOAWAY: base plus room for up to extra more
// peer-initiated streams that may already be in flight when the peer
// sees it (stream ids increment by 2).
func extendedStreamIDLimit(base, extra uint32) uint32 {
	if extra == 0 {
		return base
	}
	if extra > (maxStreamID-base)/2 {
		return maxStreamID
	}
	return base + extra*2
}

// connReadError carries a terminal error out of the receive goroutine.
type connReadError struct{ err error }

// rawDataFrame carries a DATA frame through to the event loop when
// Options.RawStream is set: released is closed by handleRawData once the
// frame's payload has been handed off (or discarded), which is receive()'s
// signal that it may safely read its next frame into the same buffer.
type rawDataFrame struct {
	frame    *http2.DataFrame
	released chan struct{}
}

// cookedDataFrame carries any other DATA frame with a copy of its payload
// taken by receive() before it reads the next frame.
type cookedDataFrame struct {
	frame   *http2.DataFrame
	payload []byte
}

// NewConnection wraps rw (already past the connection preface, per spec
// §1's scope) in a Connection. isClient selects which half of the stream
// id space this side allocates from (odd for client, even for server) and
// which dispatch table (DispatchRequest or DispatchResponse) is used.
func NewConnection(rw io.ReadWriteCloser, isClient, isTLS bool, opts Options) *Connection {
	opts = opts.withDefaults()
	c := &Connection{
		rw:       rw,
		isTLS:    isTLS,
		isClient: isClient,
		opts:     opts,
		streams:  make(map[uint32]*Stream, 16),
		incoming: make(chan any, 64),
		tasks:    make(chan func(), 64),
		done:     make(chan struct{}),
	}
	if isClient {
		c.nextStreamID = 1
	} else {
		c.nextStreamID = 2
	}
	c.codec = NewFrameCodec(rw, uint32(opts.ChunkSize))
	return c
}

// TLS reports whether this connection runs over TLS. FileRegionBody is
// rejected on TLS connections (spec §4.2): sendfile-style zero-copy and
// kernel-level TLS termination don't compose.
func (c *Connection) TLS() bool { return c.isTLS }

// enqueueTask implements taskQueuer for Promise: any continuation
// scheduled against a Promise owned by this connection runs on the
// event-loop goroutine, never re-entrantly on the goroutine that resolved
// it (spec §9).
func (c *Connection) enqueueTask(fn func()) {
	select {
	case c.tasks <- fn:
	case <-c.done:
	}
}

// Serve runs the connection's event loop until the peer closes the
// socket, a ConnectionError forces a GOAWAY, or ctx is done. It is the
// direct analogue of the teacher's manage(): handshake, then loop over
// incoming frames and queued tasks.
func (c *Connection) Serve(ctx context.Context) error {
	// receive() must be running before handshake() writes, since a
	// synchronous transport (net.Pipe, a pair of TLS conns mid-handshake)
	// would otherwise deadlock two peers both writing before either reads.
	go c.receive()
	if err := c.handshake(); err != nil {
		c.teardown(err)
		return err
	}

	var idleTimer *time.Timer
	var idleC <-chan time.Time
	if c.opts.IdleTimeout > 0 {
		idleTimer = time.NewTimer(c.opts.IdleTimeout)
		defer idleTimer.Stop()
		idleC = idleTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			c.shutdownNow(NewConnectionError(ErrNoError, HardShutdown))
			return ctx.Err()

		case <-idleC:
			c.shutdownNow(NewConnectionError(ErrNoError, HardShutdown))
			return context.DeadlineExceeded

		case <-c.done:
			return c.closeErr

		case task := <-c.tasks:
			task()

		case item := <-c.incoming:
			if idleTimer != nil {
				idleTimer.Reset(c.opts.IdleTimeout)
			}
			if done, err := c.handleIncoming(item); done {
				return err
			}
		}
	}
}

// handshake sends our initial SETTINGS. The peer's own SETTINGS and its
// ack arrive through the normal frame loop like any other frame.
func (c *Connection) handshake() error {
	return c.codec.WriteSettings(
		http2.Setting{ID: http2.SettingMaxConcurrentStreams, Val: 250},
		http2.Setting{ID: http2.SettingInitialWindowSize, Val: 1 << 20},
		http2.Setting{ID: http2.SettingMaxFrameSize, Val: uint32(c.opts.ChunkSize)},
		http2.Setting{ID: http2.SettingMaxHeaderListSize, Val: maxHeaderListSize},
	)
}

// receive is the dedicated frame-reading goroutine, mirroring the
// teacher's receive(): it never touches streams or codec writes directly,
// only hands frames to the event loop over incoming.
//
// When Options.RawStream is set, a non-empty DATA frame is handed over as
// a rawDataFrame instead, and receive() blocks until the event loop
// signals the payload has been handed off. That pause is RawStream's
// cost: the codec's read buffer is only valid until the next ReadFrame
// call, so forwarding it without a copy means not calling ReadFrame again
// until whoever holds it is done. Every other DATA frame has its payload
// copied here, before the next ReadFrame, and is handed over as a
// cookedDataFrame.
func (c *Connection) receive() {
	for {
		frame, err := c.codec.ReadFrame()
		if err != nil {
			select {
			case c.incoming <- connReadError{err}:
			case <-c.done:
			}
			return
		}

		if df, ok := frame.(*http2.DataFrame); ok && c.opts.RawStream && len(df.Data()) > 0 {
			released := make(chan struct{})
			select {
			case c.incoming <- rawDataFrame{df, released}:
			case <-c.done:
				return
			}
			select {
			case <-released:
			case <-c.done:
				return
			}
			continue
		}

		var item any = frame
		if df, ok := frame.(*http2.DataFrame); ok {
			item = cookedDataFrame{df, append([]byte(nil), df.Data()...)}
		}
		select {
		case c.incoming <- item:
		case <-c.done:
			return
		}
	}
}

// handleIncoming dispatches one item from the receive goroutine. done is
// true once the connection should stop serving.
func (c *Connection) handleIncoming(item any) (done bool, err error) {
	switch f := item.(type) {
	case connReadError:
		c.teardown(f.err)
		return true, f.err

	case *http2.MetaHeadersFrame:
		c.handleHeaders(f)
	case cookedDataFrame:
		c.handleData(f.frame, f.payload)
	case rawDataFrame:
		c.handleRawData(f.frame, f.released)
	case *http2.RSTStreamFrame:
		c.handleRSTStream(f)
	case *http2.GoAwayFrame:
		c.handleGoAway(f)
	case *http2.SettingsFrame:
		c.handleSettings(f)
	case *http2.WindowUpdateFrame:
		c.handleWindowUpdate(f)
	case *http2.PingFrame:
		if !f.IsAck() {
			_ = c.codec.WritePing(true, f.Data)
		}
	default:
		// Implementations MUST ignore and discard frames of unknown
		// types (RFC 9113 §4.1); PRIORITY and PUSH_PROMISE also land
		// here since this engine never originates or accepts either.
	}
	return false, nil
}

func (c *Connection) getStream(id uint32) *Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[id]
}

func (c *Connection) addStream(s *Stream) {
	c.mu.Lock()
	c.streams[s.id] = s
	c.mu.Unlock()
}

func (c *Connection) removeStream(id uint32) {
	c.mu.Lock()
	delete(c.streams, id)
	drained := c.shuttingDown && len(c.streams) == 0
	c.mu.Unlock()
	if drained {
		c.teardown(NewConnectionError(ErrNoError, GracefulShutdown))
	}
}

// handleHeaders processes one decoded HEADERS(+CONTINUATION) block. On the
// client side it fulfills the stream's Response promise (Client Stream
// Handler, spec §4.4); on the server side it assembles Stream.Request and
// invokes Handler (Server Stream Handler, spec §4.5).
func (c *Connection) handleHeaders(mh *http2.MetaHeadersFrame) {
	streamID := mh.StreamID

	if c.isClient {
		s := c.getStream(streamID)
		if s == nil {
			return // headers for a stream we no longer track; nothing to do
		}
		resp, err := DecodeResponseHeaders(mh.Fields)
		if err != nil {
			c.resetStream(s, ErrProtocol)
			return
		}
		s.Inbound = NewBodyPipe(c.opts.ResponseBufferSize)
		resp.Body = StreamBody{Reader: newBodyPipeReader(s.Inbound)}
		if mh.StreamEnded() {
			s.Inbound.Close(nil)
			s.onRemoteEndStream()
		}
		s.Response.Resolve(resp)
		return
	}

	c.mu.Lock()
	shuttingDown, limit := c.shuttingDown, c.gracefulLastStreamID
	c.mu.Unlock()
	if shuttingDown && streamID > limit {
		// Past the window Options.ExtraStreamIDs allowed for streams the
		// peer may have already opened before seeing our GOAWAY.
		_ = c.codec.WriteRSTStream(streamID, ErrRefusedStream)
		return
	}

	req, err := DecodeRequestHeaders(mh.Fields)
	if err != nil {
		_ = c.codec.WriteRSTStream(streamID, ErrProtocol)
		return
	}
	s := newStream(c, streamID, false, 1<<20, int32(c.opts.RequestBufferSize))
	c.addStream(s)
	c.mu.Lock()
	if streamID > c.maxPeerStreamID {
		c.maxPeerStreamID = streamID
	}
	c.mu.Unlock()

	s.setState(StreamOpen)
	s.Inbound = NewBodyPipe(c.opts.RequestBufferSize)
	req.Body = StreamBody{Reader: newBodyPipeReader(s.Inbound)}
	s.Request = req
	if mh.StreamEnded() {
		s.Inbound.Close(nil)
		s.onRemoteEndStream()
	}

	if c.opts.PipelineTransform != nil {
		c.opts.PipelineTransform(s)
	}
	c.serveStream(s)
}

// handleData pipes an inbound DATA payload into its stream's BodyPipe and
// replenishes flow-control windows. Per spec §4.4, when the pipe reaches
// capacity the stream-level WINDOW_UPDATE is withheld rather than blocking
// this goroutine; the connection-level window is always replenished so
// other streams aren't penalized for one slow consumer.
//
// This is the cooked path (the default): payload is the copy receive()
// took of the frame's data, since df.Data() is only valid until the next
// ReadFrame call. handleRawData is the Options.RawStream counterpart that
// skips the copy.
func (c *Connection) handleData(df *http2.DataFrame, payload []byte) {
	s := c.getStream(df.StreamID)
	if s == nil {
		return
	}
	n := len(payload)
	var atCapacity bool
	if n > 0 {
		atCapacity = s.Inbound.Push(payload)
	}
	if df.StreamEnded() {
		s.Inbound.Close(nil)
		s.onRemoteEndStream()
	}
	if n > 0 {
		_ = c.codec.WriteWindowUpdate(0, uint32(n))
		if !atCapacity {
			_ = c.codec.WriteWindowUpdate(df.StreamID, uint32(n))
		}
	}
}

// handleRawData is receive()'s raw-stream counterpart to handleData: it
// forwards df's payload into the stream's BodyPipe without copying it,
// via BodyPipe.PushRaw, then releases receive() to read the next frame
// only once that chunk has been handed to a Pull caller or discarded by
// the pipe closing. If the stream is unknown, released is closed
// immediately so receive() never stalls on a DATA frame nobody will
// consume.
func (c *Connection) handleRawData(df *http2.DataFrame, released chan<- struct{}) {
	s := c.getStream(df.StreamID)
	if s == nil {
		close(released)
		return
	}
	payload := df.Data()
	atCapacity, handed := s.Inbound.PushRaw(payload)
	go func() {
		select {
		case <-handed:
		case <-c.done:
		}
		close(released)
	}()
	if df.StreamEnded() {
		s.Inbound.Close(nil)
		s.onRemoteEndStream()
	}
	n := uint32(len(payload))
	_ = c.codec.WriteWindowUpdate(0, n)
	if !atCapacity {
		_ = c.codec.WriteWindowUpdate(df.StreamID, n)
	}
}

func (c *Connection) handleRSTStream(f *http2.RSTStreamFrame) {
	c.logStreamReset(f.StreamID, f.ErrCode)
	s := c.getStream(f.StreamID)
	if s == nil {
		return
	}
	s.onReset(f.ErrCode)
	c.removeStream(f.StreamID)
	if !s.isClient && s.Dispatch != nil {
		s.Dispatch.Reject(NewStreamError(f.StreamID, f.ErrCode))
	}
	if c.opts.ResetStreamHandler != nil {
		c.opts.ResetStreamHandler(f.StreamID, f.ErrCode)
	}
}

func (c *Connection) handleGoAway(f *http2.GoAwayFrame) {
	connErr := NewConnectionError(f.ErrCode, HardShutdown)
	c.logShutdown(connErr)

	c.mu.Lock()
	c.goingAway = true
	affected := make([]*Stream, 0, len(c.streams))
	for id, s := range c.streams {
		if id > f.LastStreamID {
			affected = append(affected, s)
		}
	}
	c.mu.Unlock()

	for _, s := range affected {
		s.onGoAway(connErr)
		if c.opts.StreamGoAwayHandler != nil {
			c.opts.StreamGoAwayHandler(s.id, connErr)
		}
	}
	if c.opts.ConnGoAwayHandler != nil {
		c.opts.ConnGoAwayHandler(connErr)
	}
}

func (c *Connection) handleSettings(f *http2.SettingsFrame) {
	if f.IsAck() {
		return
	}
	_ = c.codec.WriteSettingsAck()
}

func (c *Connection) handleWindowUpdate(f *http2.WindowUpdateFrame) {
	if f.StreamID == 0 {
		return // connection-level window bookkeeping is left to the codec/kernel buffering in this engine
	}
	if s := c.getStream(f.StreamID); s != nil {
		s.remoteWindow.Add(int32(f.Increment))
	}
}

// resetStream closes s locally, sends RST_STREAM, and (for a client
// stream) rejects its Response promise with the resulting StreamError —
// used when this side detects the protocol violation, per spec §8's
// "decoder or transport failure fails the promise" property.
func (c *Connection) resetStream(s *Stream, code Error) {
	c.logStreamReset(s.id, code)
	s.onReset(code)
	_ = c.codec.WriteRSTStream(s.id, code)
	c.removeStream(s.id)
}

// Shutdown asks the connection to send GOAWAY with code and hint,
// scheduled onto the event-loop goroutine like any other mutation so it
// never races the loop's own frame writes. HardShutdown fails every open
// stream and closes the connection as soon as GOAWAY is flushed.
// GracefulShutdown instead lets every stream already open — plus up to
// Options.ExtraStreamIDs more peer-initiated streams that may already be
// in flight when the peer sees the GOAWAY — finish normally, and only
// tears the connection down once none remain (spec §7).
func (c *Connection) Shutdown(code Error, hint ShutdownHint) {
	c.enqueueTask(func() { c.shutdown(code, hint) })
}

func (c *Connection) shutdown(code Error, hint ShutdownHint) {
	connErr := NewConnectionError(code, hint)

	if hint == HardShutdown {
		c.shutdownNow(connErr)
		return
	}

	c.mu.Lock()
	lastID := extendedStreamIDLimit(c.maxPeerStreamID, c.opts.ExtraStreamIDs)
	c.gracefulLastStreamID = lastID
	c.shuttingDown = true
	c.goingAway = true
	remaining := len(c.streams)
	c.mu.Unlock()

	c.logShutdown(connErr)
	_ = c.codec.WriteGoAway(lastID, code, nil)

	if remaining == 0 {
		c.teardown(connErr)
	}
}

// shutdownNow sends GOAWAY, fails every open stream with err, and closes
// the socket. Used for HardShutdown; GracefulShutdown instead goes
// through shutdown's drain-then-teardown path.
func (c *Connection) shutdownNow(err *ConnectionError) {
	c.logShutdown(err)

	c.mu.Lock()
	c.goingAway = true
	lastID := c.maxPeerStreamID
	streams := make([]*Stream, 0, len(c.streams))
	for _, s := range c.streams {
		streams = append(streams, s)
	}
	c.mu.Unlock()

	_ = c.codec.WriteGoAway(lastID, err.Code, nil)
	for _, s := range streams {
		s.onGoAway(err)
	}
	c.teardown(err)
}

// logShutdown implements spec §7's shutdown logging policy: a NO_ERROR
// shutdown is routine and logged at info, any other code might implicate
// either side and is logged at warn.
func (c *Connection) logShutdown(err *ConnectionError) {
	if err.Code == ErrNoError {
		c.opts.Logger.Infof("http2: connection shutdown: %v", err)
		return
	}
	c.opts.Logger.Warnf("http2: connection shutdown: %v", err)
}

// logStreamReset mirrors logShutdown for a single stream's RST_STREAM.
func (c *Connection) logStreamReset(streamID uint32, code Error) {
	if code == ErrNoError {
		c.opts.Logger.Infof("http2: stream %d reset: %s", streamID, code)
		return
	}
	c.opts.Logger.Warnf("http2: stream %d reset: %s", streamID, code)
}

// teardown closes the socket and the done channel exactly once, unblocking
// receive() and any goroutine parked in enqueueTask.
func (c *Connection) teardown(err error) {
	c.mu.Lock()
	if c.closeErr != nil {
		c.mu.Unlock()
		return
	}
	c.closeErr = err
	c.mu.Unlock()
	close(c.done)
	c.rw.Close()
}

// bodyPipeReader adapts a *BodyPipe to io.Reader for the StreamBody wiring
// used by inbound Request/Response bodies.
type bodyPipeReader struct {
	pipe *BodyPipe
	buf  []byte
}

func newBodyPipeReader(pipe *BodyPipe) *bodyPipeReader {
	return &bodyPipeReader{pipe: pipe}
}

func (r *bodyPipeReader) Read(p []byte) (int, error) {
	if len(r.buf) == 0 {
		chunk, err := r.pipe.Pull(context.Background())
		if err != nil {
			return 0, err
		}
		r.buf = chunk
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}
