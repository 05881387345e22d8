// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package h2

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

func newPipedConnections(t *testing.T, serverOpts, clientOpts Options) (*Connection, *Connection) {
	t.Helper()
	clientRW, serverRW := net.Pipe()
	server := NewConnection(serverRW, false, false, serverOpts)
	client := NewConnection(clientRW, true, false, clientOpts)
	t.Cleanup(func() {
		clientRW.Close()
		serverRW.Close()
	})
	return server, client
}

func TestConnectionGetRequestResponseRoundTrip(t *testing.T) {
	server, client := newPipedConnections(t, Options{}, Options{})
	server.Handler = func(s *Stream) {
		if s.Request.Method != MethodGet || s.Request.Path != "/widgets" {
			s.Dispatch.Reject(errors.New("unexpected request"))
			return
		}
		resp := &Response{Status: 200, Headers: NewHeaders(), Body: StringBody("hello")}
		s.Dispatch.Resolve(resp)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go server.Serve(ctx)
	go client.Serve(ctx)

	// Give both event loops a chance to exchange SETTINGS before opening a
	// stream; OpenStream itself would otherwise race the handshake, which
	// is harmless protocol-wise but makes frame ordering in this test
	// harder to reason about.
	time.Sleep(20 * time.Millisecond)

	stream, err := client.OpenStream(&Request{
		Method: MethodGet, Scheme: "https", Authority: "example.com", Path: "/widgets",
	})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	resp, err := stream.Response.Await(ctx)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if resp.Status != 200 {
		t.Fatalf("status=%d, want 200", resp.Status)
	}
	sb, ok := resp.Body.(StreamBody)
	if !ok {
		t.Fatalf("body type=%T, want StreamBody", resp.Body)
	}
	got, err := io.ReadAll(sb.Reader)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("body=%q, want %q", got, "hello")
	}
}

func TestConnectionHandlerErrorBecomes500(t *testing.T) {
	server, client := newPipedConnections(t, Options{}, Options{})
	server.Handler = func(s *Stream) {
		s.Dispatch.Reject(errors.New("boom"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go server.Serve(ctx)
	go client.Serve(ctx)
	time.Sleep(20 * time.Millisecond)

	stream, err := client.OpenStream(&Request{Method: MethodGet, Scheme: "https", Authority: "example.com", Path: "/"})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	resp, err := stream.Response.Await(ctx)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if resp.Status != 500 {
		t.Fatalf("status=%d, want 500", resp.Status)
	}
}

func TestConnectionRejectedHandlerBecomes503(t *testing.T) {
	opts := Options{
		Executor: func(func()) bool { return false },
	}
	server, client := newPipedConnections(t, opts, Options{})
	server.Handler = func(s *Stream) {
		t.Fatal("handler should never run once Executor rejects the task")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go server.Serve(ctx)
	go client.Serve(ctx)
	time.Sleep(20 * time.Millisecond)

	stream, err := client.OpenStream(&Request{Method: MethodGet, Scheme: "https", Authority: "example.com", Path: "/"})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	resp, err := stream.Response.Await(ctx)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if resp.Status != 503 {
		t.Fatalf("status=%d, want 503", resp.Status)
	}
}

func TestConnectionHeadResponseDropsBody(t *testing.T) {
	server, client := newPipedConnections(t, Options{}, Options{})
	server.Handler = func(s *Stream) {
		s.Dispatch.Resolve(&Response{Status: 200, Headers: NewHeaders(), Body: StringBody("should be dropped")})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go server.Serve(ctx)
	go client.Serve(ctx)
	time.Sleep(20 * time.Millisecond)

	stream, err := client.OpenStream(&Request{Method: MethodHead, Scheme: "https", Authority: "example.com", Path: "/"})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	resp, err := stream.Response.Await(ctx)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	sb := resp.Body.(StreamBody)
	got, err := io.ReadAll(sb.Reader)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("body=%q, want empty (HEAD response must drop body)", got)
	}
}
