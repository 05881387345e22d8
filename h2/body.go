// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package h2

import (
	"bytes"
	"io"
	"os"
)

// Body is a closed sum type over the outbound/inbound message body shapes
// named in spec §3. Dispatch in body.go/dispatch.go is exhaustive over this
// set; adding a variant means adding both a type here and a branch there.
// The unexported marker method is what keeps the set closed to this package.
type Body interface {
	bodyTag()
}

// noBody is the nil / "omitted" sentinel: no DATA frames are emitted.
type noBody struct{}

func (noBody) bodyTag() {}

// NoBody is the sentinel Body for "no content". A nil Body is treated
// identically by the dispatcher, so callers may use either.
var NoBody Body = noBody{}

// StringBody is a contiguous body given as a string.
type StringBody string

func (StringBody) bodyTag() {}

// BytesBody is a contiguous body given as an owned or borrowed byte slice.
type BytesBody []byte

func (BytesBody) bodyTag() {}

// BufferBody is a contiguous body given as a *bytes.Buffer. Ownership stays
// with the caller; the dispatcher only reads it.
type BufferBody struct {
	Buf *bytes.Buffer
}

func (BufferBody) bodyTag() {}

// ChunkedBody is a pre-chunked input: a reader plus a declared length that
// may be unknown (-1).
type ChunkedBody struct {
	Reader io.Reader
	Length int64 // -1 if unknown
}

func (ChunkedBody) bodyTag() {}

// RangedFileBody is a random-access file read in fixed-size chunks starting
// at Offset for Length bytes. ChunkSize of 0 means use Options.ChunkSize.
type RangedFileBody struct {
	File      *os.File
	Offset    int64
	Length    int64
	ChunkSize int
}

func (RangedFileBody) bodyTag() {}

// PathBody names a file on disk to be opened and streamed in full.
type PathBody struct {
	Path string
}

func (PathBody) bodyTag() {}

// OpenFileBody streams an already-open file descriptor in full, from its
// current position.
type OpenFileBody struct {
	File *os.File
}

func (OpenFileBody) bodyTag() {}

// FileRegionBody is a file-region descriptor (offset+length into File). The
// dispatcher reads the region and copies it into DATA frames; it makes no
// sendfile-style zero-copy transfer. Per spec §4.2, this shape is rejected with
// a StreamError(INTERNAL_ERROR) when the connection is TLS-protected,
// because zero-copy and kernel-level TLS termination don't compose.
type FileRegionBody struct {
	File   *os.File
	Offset int64
	Length int64
}

func (FileRegionBody) bodyTag() {}

// StreamBody is a lazy or asynchronous byte sequence realized through an
// io.Reader. This is also the fallback path for "any other" body shape: in
// Go, coercing an arbitrary value into a byte-stream means wrapping it in an
// io.Reader in the first place, so the "byte-buffer stream coercion"
// strategy from spec §4.2's dispatch table and the native streaming
// strategy collapse into one implementation here.
type StreamBody struct {
	Reader io.Reader
}

func (StreamBody) bodyTag() {}

// bodyLength returns the statically known length of body, and whether one
// exists. Used to decide whether content-length may be auto-injected.
func bodyLength(body Body) (length int64, known bool) {
	switch b := body.(type) {
	case nil, noBody:
		return 0, true
	case StringBody:
		return int64(len(b)), true
	case BytesBody:
		return int64(len(b)), true
	case BufferBody:
		if b.Buf == nil {
			return 0, true
		}
		return int64(b.Buf.Len()), true
	case ChunkedBody:
		if b.Length >= 0 {
			return b.Length, true
		}
		return 0, false
	case RangedFileBody:
		return b.Length, true
	case FileRegionBody:
		return b.Length, true
	default: // PathBody, OpenFileBody, StreamBody: length not known up front
		return 0, false
	}
}
