// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package h2

import (
	"fmt"

	"golang.org/x/net/http2"
)

// Error is the RFC 9113 error-code taxonomy. It is a thin alias over
// golang.org/x/net/http2.ErrCode: the codec already enumerates NO_ERROR,
// PROTOCOL_ERROR, INTERNAL_ERROR, and the rest, and there is no reason for
// this package to keep a second copy of RFC 9113 §7.
type Error = http2.ErrCode

const (
	ErrNoError            = http2.ErrCodeNo
	ErrProtocol           = http2.ErrCodeProtocol
	ErrInternal           = http2.ErrCodeInternal
	ErrFlowControl        = http2.ErrCodeFlowControl
	ErrSettingsTimeout    = http2.ErrCodeSettingsTimeout
	ErrStreamClosed       = http2.ErrCodeStreamClosed
	ErrFrameSize          = http2.ErrCodeFrameSize
	ErrRefusedStream      = http2.ErrCodeRefusedStream
	ErrCancel             = http2.ErrCodeCancel
	ErrCompression        = http2.ErrCodeCompression
	ErrConnect            = http2.ErrCodeConnect
	ErrEnhanceYourCalm    = http2.ErrCodeEnhanceYourCalm
	ErrInadequateSecurity = http2.ErrCodeInadequateSecurity
	ErrHTTP11Required     = http2.ErrCodeHTTP11Required
)

// ShutdownHint says whether a ConnectionError should close immediately or
// allow already-opened streams to drain first.
type ShutdownHint uint8

const (
	HardShutdown     ShutdownHint = iota // close right after GOAWAY is flushed
	GracefulShutdown                     // drain open streams, subject to ExtraStreamIDs
)

// StreamError is isolated to one stream: it results in an RST_STREAM for
// that id and the rest of the connection continues unaffected.
type StreamError struct {
	StreamID uint32
	Code     Error
}

func NewStreamError(streamID uint32, code Error) *StreamError {
	return &StreamError{StreamID: streamID, Code: code}
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("http2: stream %d error: %s", e.StreamID, e.Code)
}

// ConnectionError results in a GOAWAY for the whole connection. Hint decides
// whether already-open streams get to finish (GracefulShutdown) or the
// connection closes as soon as the GOAWAY is flushed (HardShutdown, the
// default).
type ConnectionError struct {
	Code Error
	Hint ShutdownHint
}

func NewConnectionError(code Error, hint ShutdownHint) *ConnectionError {
	return &ConnectionError{Code: code, Hint: hint}
}

func (e *ConnectionError) Error() string {
	if e.Hint == GracefulShutdown {
		return fmt.Sprintf("http2: connection error (graceful): %s", e.Code)
	}
	return fmt.Sprintf("http2: connection error: %s", e.Code)
}

// asH2Error extracts the (code, streamID, isStream) triple used when deciding whether a
// failure surfaced during frame processing should become an RST_STREAM or a
// GOAWAY. Anything that isn't one of our own error types is treated as an
// INTERNAL_ERROR connection error, mirroring the teacher's goawayCloseConn
// fallback for "processor i/o error".
func asH2Error(err error) (code Error, streamID uint32, isStream bool) {
	switch e := err.(type) {
	case *StreamError:
		return e.Code, e.StreamID, true
	case *ConnectionError:
		return e.Code, 0, false
	default:
		return ErrInternal, 0, false
	}
}
