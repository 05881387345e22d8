// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package h2

import (
	"context"
	"io"
	"net"
	"testing"

	"golang.org/x/net/http2/hpack"
)

// drain discards everything the peer end of a net.Pipe is sent, so that
// Stream writes made by the tests in this file don't block on an unread
// pipe.
func drain(c net.Conn) { io.Copy(io.Discard, c) }

// newTestClientStream wires a bare *Stream to a live codec over a net.Pipe,
// without running Connection.Serve's event loop — enough to exercise
// WriteHeaders/WriteData/Close in isolation.
func newTestClientStream(t *testing.T) (*Stream, *hpack.Decoder, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })

	conn := NewConnection(a, true, false, Options{})
	s := newStream(conn, 1, true, 1<<20, 1<<20)
	return s, hpack.NewDecoder(4096, nil), b
}

func TestStreamWriteHeadersTransitionsToHalfClosedLocal(t *testing.T) {
	s, _, peer := newTestClientStream(t)
	go drain(peer)

	if err := s.WriteHeaders([]hpack.HeaderField{{Name: ":status", Value: "200"}}, true); err != nil {
		t.Fatalf("WriteHeaders: %v", err)
	}
	if s.State() != StreamClosed && s.State() != StreamHalfClosedLocal {
		t.Fatalf("state=%v, want HALF_CLOSED_LOCAL or CLOSED", s.State())
	}
	if s.Writable() {
		t.Fatal("writable should be false after sending END_STREAM")
	}
}

func TestStreamWriteAfterNotWritableFails(t *testing.T) {
	s, _, peer := newTestClientStream(t)
	go drain(peer)

	_ = s.WriteHeaders([]hpack.HeaderField{{Name: ":status", Value: "200"}}, true)
	if err := s.WriteData([]byte("x"), true); err != errStreamNotWritable {
		t.Fatalf("got %v, want errStreamNotWritable", err)
	}
}

func TestStreamCloseIsIdempotent(t *testing.T) {
	s, _, peer := newTestClientStream(t)
	go drain(peer)

	s.Inbound = NewBodyPipe(64)
	s.Close()
	s.Close() // must not panic or double-send RST_STREAM

	if s.State() != StreamClosed {
		t.Fatalf("state=%v, want CLOSED", s.State())
	}
	if _, err := s.Inbound.Pull(context.Background()); err == nil {
		t.Fatal("expected Inbound to be closed")
	}
}

func TestStreamOnResetFailsClientPromises(t *testing.T) {
	s, _, peer := newTestClientStream(t)
	go drain(peer)

	s.onReset(ErrCancel)

	if _, err := s.Response.Await(context.Background()); err == nil {
		t.Fatal("expected Response promise to be rejected")
	}
	done, err := s.Complete.Await(context.Background())
	if err != nil || done != false {
		t.Fatalf("got done=%v err=%v, want false,nil", done, err)
	}
	if s.LastError() == nil {
		t.Fatal("expected LastError to be recorded")
	}
}

func TestStreamOnGoAwayMarksConnectionShutdownNeeded(t *testing.T) {
	s, _, peer := newTestClientStream(t)
	go drain(peer)

	connErr := NewConnectionError(ErrEnhanceYourCalm, GracefulShutdown)
	s.onGoAway(connErr)

	done, err := s.Complete.Await(context.Background())
	if err != nil || done != true {
		t.Fatalf("got done=%v err=%v, want true,nil", done, err)
	}
}
