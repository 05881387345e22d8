// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package h2

import "errors"

// errNotClientConn is returned by OpenStream on a Connection constructed
// with isClient=false.
var errNotClientConn = errors.New("http2: OpenStream called on a server connection")

// errGoingAway is returned by OpenStream once this connection has sent or
// received a GOAWAY: per spec §4.4/§7, no new streams are opened past
// that point.
var errGoingAway = errors.New("http2: connection is going away, refusing new stream")

// OpenStream is the Client Stream Handler's entry point (spec §4.4): it
// allocates the next client-initiated stream id, registers the Stream,
// and runs req through the Body Dispatcher. The caller awaits the result
// via the returned Stream's Response promise; DATA frames for the inbound
// response are piped into Stream.Inbound and surfaced through
// Response.Body transparently.
func (c *Connection) OpenStream(req *Request) (*Stream, error) {
	if !c.isClient {
		return nil, errNotClientConn
	}

	c.mu.Lock()
	if c.goingAway {
		c.mu.Unlock()
		return nil, errGoingAway
	}
	id := c.nextStreamID
	c.nextStreamID += 2
	c.mu.Unlock()

	s := newStream(c, id, true, 1<<20, int32(c.opts.ResponseBufferSize))
	c.addStream(s)

	if err := DispatchRequest(s, req, c.opts); err != nil {
		c.removeStream(id)
		return nil, err
	}
	return s, nil
}
