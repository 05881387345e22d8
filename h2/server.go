// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package h2

import (
	"errors"
	"fmt"
)

// errNoHandler is what an accepted stream is rejected with when the
// connection was constructed without a Handler; a misconfiguration, not a
// protocol error.
var errNoHandler = errors.New("http2: no handler registered for server connection")

// serveStream is the Server Stream Handler from spec §4.5: it wires
// Stream.Dispatch to the Body Dispatcher and runs Handler, subject to
// Options.Executor's accept/reject decision.
func (c *Connection) serveStream(s *Stream) {
	s.Dispatch.Then(func(resp *Response, err error) {
		c.finishDispatch(s, resp, err)
	})

	run := func() { c.runHandler(s) }

	if c.opts.Executor == nil {
		run()
		return
	}
	if accepted := c.opts.Executor(run); !accepted {
		resp := c.opts.RejectedHandler(s.Request)
		if resp == nil {
			resp = DefaultRejectedHandler(s.Request)
		}
		s.Dispatch.Resolve(resp)
	}
}

// runHandler invokes Handler, recovering a panic into a rejection so a
// single bad handler can never leave Dispatch unresolved.
func (c *Connection) runHandler(s *Stream) {
	defer func() {
		if r := recover(); r != nil {
			s.Dispatch.Reject(fmt.Errorf("http2: handler panic: %v", r))
		}
	}()
	if c.Handler == nil {
		s.Dispatch.Reject(errNoHandler)
		return
	}
	c.Handler(s)
}

// finishDispatch runs once Stream.Dispatch resolves or rejects. A
// rejection is given to Options.ErrorHandler exactly once; if that also
// fails to produce a response (nil return or panic), DefaultErrorHandler
// is the hard fallback, so a broken ErrorHandler can never wedge a stream
// open. Sending the resulting response can itself fail (a write error, a
// header-encoding error); that failure is given to ErrorHandler once more
// and the retried response sent in its place, and a second failure simply
// propagates as the stream's terminal error (spec §4.5 point 4).
func (c *Connection) finishDispatch(s *Stream, resp *Response, err error) {
	if err != nil {
		resp = c.recoverFromHandlerError(s, err)
	}
	if resp == nil {
		return
	}
	if derr := DispatchResponse(s, resp, s.Request, c.opts); derr != nil {
		retry := c.recoverFromHandlerError(s, derr)
		if retry == nil {
			c.removeStream(s.id)
			return
		}
		if derr2 := DispatchResponse(s, retry, s.Request, c.opts); derr2 != nil {
			c.opts.Logger.Warnf("http2: dispatch response failed twice, propagating stream=%d: %v", s.ID(), derr2)
			s.recordError(derr2)
		}
	}
	c.removeStream(s.id)
}

func (c *Connection) recoverFromHandlerError(s *Stream, err error) *Response {
	resp := c.callErrorHandlerSafely(err)
	if resp != nil {
		return resp
	}
	c.opts.Logger.Warnf("http2: error handler produced no response for stream=%d, falling back: %v", s.ID(), err)
	return DefaultErrorHandler(err)
}

func (c *Connection) callErrorHandlerSafely(err error) (resp *Response) {
	defer func() {
		if recover() != nil {
			resp = nil
		}
	}()
	return c.opts.ErrorHandler(err)
}
