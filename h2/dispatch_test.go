// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package h2

import (
	"bytes"
	"net"
	"os"
	"testing"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

// recordingPeer reads every frame sent to a Stream's Connection and
// decodes HEADERS via its own hpack.Decoder, so dispatch.go's output can
// be asserted against directly.
type recordingPeer struct {
	framer  *http2.Framer
	decoder *hpack.Decoder
	fields  []hpack.HeaderField
}

func newRecordingPeer(conn net.Conn) *recordingPeer {
	p := &recordingPeer{framer: http2.NewFramer(conn, conn)}
	p.decoder = hpack.NewDecoder(4096, func(f hpack.HeaderField) { p.fields = append(p.fields, f) })
	return p
}

func (p *recordingPeer) readAll(t *testing.T) []http2.Frame {
	t.Helper()
	var frames []http2.Frame
	for {
		f, err := p.framer.ReadFrame()
		if err != nil {
			return frames
		}
		frames = append(frames, f)
		if hf, ok := f.(*http2.HeadersFrame); ok {
			p.fields = nil
			if _, err := p.decoder.Write(hf.HeaderBlockFragment()); err != nil {
				t.Fatalf("hpack decode: %v", err)
			}
		}
		if df, ok := f.(*http2.DataFrame); ok && df.StreamEnded() {
			return frames
		}
		if hf, ok := f.(*http2.HeadersFrame); ok && hf.StreamEnded() {
			return frames
		}
	}
}

func newDispatchTestStream(t *testing.T, isClient bool) (*Stream, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	conn := NewConnection(a, isClient, false, Options{})
	s := newStream(conn, 1, isClient, 1<<20, 1<<20)
	return s, b
}

func TestDispatchResponseStringBody(t *testing.T) {
	s, peer := newDispatchTestStream(t, false)
	peerReader := newRecordingPeer(peer)

	resultCh := make(chan error, 1)
	go func() { resultCh <- DispatchResponse(s, &Response{Status: 200, Headers: NewHeaders(), Body: StringBody("hi")}, &Request{Method: MethodGet}, Options{}.withDefaults()) }()

	frames := peerReader.readAll(t)
	if err := <-resultCh; err != nil {
		t.Fatalf("DispatchResponse: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want HEADERS+DATA", len(frames))
	}
	if _, ok := frames[0].(*http2.HeadersFrame); !ok {
		t.Fatalf("frame[0]=%T, want HeadersFrame", frames[0])
	}
	df, ok := frames[1].(*http2.DataFrame)
	if !ok {
		t.Fatalf("frame[1]=%T, want DataFrame", frames[1])
	}
	if string(df.Data()) != "hi" || !df.StreamEnded() {
		t.Fatalf("data=%q streamEnded=%v", df.Data(), df.StreamEnded())
	}

	var status, contentLength string
	for _, f := range peerReader.fields {
		switch f.Name {
		case ":status":
			status = f.Value
		case "content-length":
			contentLength = f.Value
		}
	}
	if status != "200" {
		t.Fatalf("status=%q, want 200", status)
	}
	if contentLength != "2" {
		t.Fatalf("content-length=%q, want 2", contentLength)
	}
}

func TestDispatchResponseNoBodySendsOneFrame(t *testing.T) {
	s, peer := newDispatchTestStream(t, false)
	peerReader := newRecordingPeer(peer)

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- DispatchResponse(s, &Response{Status: 204, Headers: NewHeaders()}, &Request{Method: MethodGet}, Options{}.withDefaults())
	}()

	frames := peerReader.readAll(t)
	if err := <-resultCh; err != nil {
		t.Fatalf("DispatchResponse: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want exactly one HEADERS(END_STREAM)", len(frames))
	}
	hf := frames[0].(*http2.HeadersFrame)
	if !hf.StreamEnded() {
		t.Fatal("expected END_STREAM on the sole HEADERS frame")
	}
	for _, f := range peerReader.fields {
		if f.Name == "content-length" {
			t.Fatalf("204 must not carry content-length, got %q", f.Value)
		}
	}
}

func TestDispatchRequestDropsTraceBody(t *testing.T) {
	s, peer := newDispatchTestStream(t, true)
	peerReader := newRecordingPeer(peer)

	req := &Request{Method: MethodTrace, Scheme: "https", Authority: "example.com", Path: "/", Headers: NewHeaders(), Body: StringBody("payload")}
	resultCh := make(chan error, 1)
	go func() { resultCh <- DispatchRequest(s, req, Options{}.withDefaults()) }()

	frames := peerReader.readAll(t)
	if err := <-resultCh; err != nil {
		t.Fatalf("DispatchRequest: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want a single HEADERS(END_STREAM) with no body", len(frames))
	}
}

func TestDispatchFileRegionRejectedOnTLS(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	conn := NewConnection(a, false, true, Options{}) // isTLS=true
	s := newStream(conn, 1, false, 1<<20, 1<<20)
	s.Inbound = NewBodyPipe(64)
	go drain(b)

	f, err := os.CreateTemp(t.TempDir(), "body")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	f.WriteString("contents")

	resp := &Response{Status: 200, Headers: NewHeaders(), Body: FileRegionBody{File: f, Offset: 0, Length: 8}}
	err = DispatchResponse(s, resp, nil, Options{}.withDefaults())
	if err == nil {
		t.Fatal("expected an error rejecting FileRegionBody on a TLS connection")
	}
	var serr *StreamError
	if se, ok := err.(*StreamError); !ok {
		t.Fatalf("got %T, want *StreamError", err)
	} else {
		serr = se
	}
	if serr.Code != ErrInternal {
		t.Fatalf("code=%v, want ErrInternal", serr.Code)
	}
	if s.State() != StreamClosed {
		t.Fatalf("state=%v, want CLOSED", s.State())
	}
}

func TestDispatchRequestMissingAuthorityFailsBeforeAnyFrame(t *testing.T) {
	s, peer := newDispatchTestStream(t, true)
	done := make(chan int, 1)
	go func() {
		var buf bytes.Buffer
		buf.ReadFrom(peer)
		done <- buf.Len()
	}()

	req := &Request{Method: MethodGet, Scheme: "https", Path: "/", Headers: NewHeaders()}
	err := DispatchRequest(s, req, Options{}.withDefaults())
	if err == nil {
		t.Fatal("expected an error for a missing :authority pseudo-header")
	}
	var serr *StreamError
	if se, ok := err.(*StreamError); !ok {
		t.Fatalf("got %T, want *StreamError", err)
	} else {
		serr = se
	}
	if serr.Code != ErrProtocol {
		t.Fatalf("code=%v, want ErrProtocol", serr.Code)
	}
	peer.Close()
	if n := <-done; n != 0 {
		t.Fatalf("peer received %d bytes, want none before the error", n)
	}
}
