// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package h2

import (
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http2/hpack"
)

// httpTimeFormat is RFC 9110's preferred HTTP-date layout, spelled out here
// rather than importing net/http just for http.TimeFormat.
const httpTimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// chunkSizeOrDefault resolves a per-request override against Options.
func chunkSizeOrDefault(override int, opts Options) int {
	if override > 0 {
		return override
	}
	return opts.ChunkSize
}

// applyContentLength sets the content-length header when body's length is
// statically known and it hasn't already been set by the caller, skipping
// 1xx and 204 responses per RFC 9110 §8.6 (spec §4.2). status is ignored
// (pass 0) for outbound requests, which are never subject to that carve-out.
func applyContentLength(headers *Headers, body Body, status int) {
	if headers.Has("content-length") {
		return
	}
	if status != 0 && (status/100 == 1 || status == 204) {
		return
	}
	if length, known := bodyLength(body); known {
		headers.Set("content-length", strconv.FormatInt(length, 10))
	}
}

// injectDefaultResponseHeaders adds server, date, and a UTF-8 charset
// extension to a bare "text/plain" content-type, whenever absent (spec
// §3).
func injectDefaultResponseHeaders(headers *Headers, now time.Time) {
	if !headers.Has("server") {
		headers.Set("server", "h2flow")
	}
	if !headers.Has("date") {
		headers.Set("date", now.UTC().Format(httpTimeFormat))
	}
	if strings.EqualFold(headers.Get("content-type"), "text/plain") {
		headers.Set("content-type", "text/plain; charset=UTF-8")
	}
}

// DispatchRequest is the outbound half of the Body Dispatcher for a client
// request: it builds the HEADERS block from req and emits HEADERS/DATA per
// the dispatch table in spec §4.2. On any failure it closes stream and
// returns the resulting *StreamError.
func DispatchRequest(stream *Stream, req *Request, opts Options) error {
	body := req.Body
	if body == nil {
		body = NoBody
	}
	if req.Method == MethodTrace {
		if _, isNone := body.(noBody); !isNone {
			opts.Logger.Warnf("http2: dropping body on TRACE request, stream=%d", stream.ID())
			body = NoBody
		}
	}

	headers := req.Headers
	applyContentLength(&headers, body, 0)

	fields, err := EncodeRequestHeaders(&Request{
		Method: req.Method, Scheme: req.Scheme, Authority: req.Authority,
		Path: req.Path, Query: req.Query, Headers: headers,
	})
	if err != nil {
		return failDispatch(stream, err)
	}
	return emitBody(stream, fields, body, chunkSizeOrDefault(req.ChunkSize, opts))
}

// DispatchResponse is the outbound half of the Body Dispatcher for a
// server response. req is the inbound request this response answers (for
// the HEAD body-suppression rule); it may be nil for a client reading its
// own outbound... (never the case in practice, but the nil check keeps the
// function usable from tests in isolation).
func DispatchResponse(stream *Stream, resp *Response, req *Request, opts Options) error {
	body := resp.Body
	if body == nil {
		body = NoBody
	}

	headers := resp.Headers
	if headers.m == nil {
		headers = NewHeaders()
	}
	injectDefaultResponseHeaders(&headers, time.Now())

	if req != nil && req.Method == MethodHead {
		if _, isNone := body.(noBody); !isNone {
			opts.Logger.Warnf("http2: dropping body on response to HEAD request, stream=%d", stream.ID())
			body = NoBody
		}
	}

	status := resp.EffectiveStatus()
	applyContentLength(&headers, body, status)

	fields, err := EncodeResponseHeaders(&Response{Status: status, Headers: headers})
	if err != nil {
		return failDispatch(stream, err)
	}
	return emitBody(stream, fields, body, chunkSizeOrDefault(0, opts))
}

// emitBody selects exactly one of the strategies in spec §4.2's dispatch
// table and runs it. Strategy selection is the first-match-wins switch
// over Body's closed type set.
func emitBody(stream *Stream, fields []hpack.HeaderField, body Body, chunkSize int) error {
	switch b := body.(type) {

	case noBody:
		if err := stream.WriteHeaders(fields, true); err != nil {
			return failTransportIO(stream, err)
		}
		return nil

	case StringBody:
		return emitContiguous(stream, fields, []byte(b))
	case BytesBody:
		return emitContiguous(stream, fields, []byte(b))
	case BufferBody:
		var data []byte
		if b.Buf != nil {
			data = b.Buf.Bytes()
		}
		return emitContiguous(stream, fields, data)

	case ChunkedBody:
		if err := stream.WriteHeaders(fields, false); err != nil {
			return failTransportIO(stream, err)
		}
		return writeBodyFromReader(stream, b.Reader, chunkSize)

	case RangedFileBody:
		if err := stream.WriteHeaders(fields, false); err != nil {
			return failTransportIO(stream, err)
		}
		cs := chunkSize
		if b.ChunkSize > 0 {
			cs = b.ChunkSize
		}
		return writeBodyFromReader(stream, io.NewSectionReader(b.File, b.Offset, b.Length), cs)

	case PathBody:
		if err := stream.WriteHeaders(fields, false); err != nil {
			return failTransportIO(stream, err)
		}
		f, ferr := os.Open(b.Path)
		if ferr != nil {
			return failBodyIO(stream, ferr)
		}
		defer f.Close()
		return writeBodyFromReader(stream, f, chunkSize)

	case OpenFileBody:
		if err := stream.WriteHeaders(fields, false); err != nil {
			return failTransportIO(stream, err)
		}
		return writeBodyFromReader(stream, b.File, chunkSize)

	case FileRegionBody:
		if stream.conn.TLS() {
			return rejectFileRegionOnTLS(stream)
		}
		if err := stream.WriteHeaders(fields, false); err != nil {
			return failTransportIO(stream, err)
		}
		// Not a kernel-level zero-copy transfer: the region is read
		// through a section reader and copied into DATA frames of up to
		// the wire's maximum frame payload.
		return writeBodyFromReader(stream, io.NewSectionReader(b.File, b.Offset, b.Length), maxFramePayload)

	case StreamBody:
		if err := stream.WriteHeaders(fields, false); err != nil {
			return failTransportIO(stream, err)
		}
		return writeBodyFromReader(stream, b.Reader, chunkSize)

	default:
		return failBodyIO(stream, errUnknownBodyType)
	}
}

var errUnknownBodyType = errors.New("http2: unrecognized body type")

// emitContiguous covers the string/byte-array/byte-buffer dispatch row:
// one HEADERS, then exactly one DATA carrying END_STREAM, even when the
// body is empty.
func emitContiguous(stream *Stream, fields []hpack.HeaderField, data []byte) error {
	if err := stream.WriteHeaders(fields, false); err != nil {
		return failTransportIO(stream, err)
	}
	if err := stream.WriteData(data, true); err != nil {
		return failTransportIO(stream, err)
	}
	return nil
}

// writeBodyFromReader drains r in chunkSize pieces, emitting one DATA frame
// per read and marking the frame that observes EOF as END_STREAM. If r is
// empty, it still emits a final empty DATA(END_STREAM), so that "exactly
// one frame carries END_STREAM" holds even for a zero-length chunked body.
func writeBodyFromReader(stream *Stream, r io.Reader, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			atEOF := errors.Is(err, io.EOF)
			if werr := stream.WriteData(chunk, atEOF); werr != nil {
				return failTransportIO(stream, werr)
			}
			if atEOF {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if werr := stream.WriteData(nil, true); werr != nil {
					return failTransportIO(stream, werr)
				}
				return nil
			}
			return failBodyIO(stream, err)
		}
	}
}

// rejectFileRegionOnTLS implements spec §4.2's FileRegion+TLS
// incompatibility: the stream is closed and a StreamError(INTERNAL_ERROR)
// is returned without any HEADERS or DATA frame ever being sent.
func rejectFileRegionOnTLS(stream *Stream) error {
	serr := NewStreamError(stream.ID(), ErrInternal)
	stream.recordError(serr)
	stream.Close()
	return serr
}

// failDispatch handles a header-construction failure: nothing has been
// written to the wire yet, so the stream is simply marked closed and the
// resulting StreamError(PROTOCOL_ERROR) is handed back to the caller.
func failDispatch(stream *Stream, err error) error {
	serr := NewStreamError(stream.ID(), ErrProtocol)
	stream.recordError(serr)
	stream.markNotWritable()
	stream.setState(StreamClosed)
	if stream.Inbound != nil {
		stream.Inbound.Close(serr)
	}
	return serr
}

// failBodyIO handles a failure reading the body source itself (opening a
// PathBody's file, a Reader returning a non-EOF error): the fault is local
// to this stream's body, so only the stream is closed with a
// StreamError(INTERNAL_ERROR).
func failBodyIO(stream *Stream, err error) error {
	serr := NewStreamError(stream.ID(), ErrInternal)
	stream.recordError(serr)
	stream.Close()
	return serr
}

// failTransportIO handles a failure writing HEADERS or DATA to the wire
// itself. Unlike failBodyIO, a broken write leaves the connection's byte
// stream in an unknown state — nothing else can safely be framed on it —
// so this runs the failure through asH2Error, the Lifecycle Manager's
// classifier, and escalates to a connection-wide shutdown whenever the
// error isn't already scoped to this one stream. errStreamNotWritable is
// such a stream-scoped error: the stream refused the write and nothing
// reached the wire.
func failTransportIO(stream *Stream, err error) error {
	code, _, isStream := asH2Error(err)
	serr := NewStreamError(stream.ID(), code)
	stream.recordError(serr)
	if isStream || errors.Is(err, errStreamNotWritable) {
		stream.Close()
		return serr
	}
	stream.conn.shutdownNow(NewConnectionError(code, HardShutdown))
	return serr
}
