// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package h2

import (
	"bytes"
	"io"
	"sync"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

// FrameCodec is the external collaborator spec §1 assumes: raw frame
// byte-layout and HPACK are its job, not this package's. Everything above
// this interface works in terms of field lists and byte payloads only.
type FrameCodec interface {
	// ReadFrame blocks until the next frame arrives. When the frame is a
	// HEADERS/CONTINUATION sequence, the codec is expected to have already
	// run it through HPACK and hand back a *http2.MetaHeadersFrame.
	ReadFrame() (http2.Frame, error)

	WriteSettings(settings ...http2.Setting) error
	WriteSettingsAck() error
	// WriteHeaders HPACK-encodes fields and emits HEADERS plus as many
	// CONTINUATION frames as needed to stay within the codec's frame-size
	// limit.
	WriteHeaders(streamID uint32, fields []hpack.HeaderField, endStream bool) error
	WriteData(streamID uint32, data []byte, endStream bool) error
	WriteWindowUpdate(streamID uint32, increment uint32) error
	WriteRSTStream(streamID uint32, code Error) error
	WriteGoAway(lastStreamID uint32, code Error, debugData []byte) error
	WritePing(ack bool, data [8]byte) error
}

// framerCodec implements FrameCodec on top of golang.org/x/net/http2's
// Framer and golang.org/x/net/http2/hpack's Encoder/Decoder — the pair used
// throughout the surveyed third-party HTTP/2 stream engines for exactly
// this seam.
type framerCodec struct {
	framer *http2.Framer

	mu         sync.Mutex // serializes writes; ReadFrame has its own caller discipline (one reader goroutine)
	encBuf     bytes.Buffer
	enc        *hpack.Encoder
	maxPayload uint32
}

// NewFrameCodec wraps rw with a Framer configured to decode inbound
// HEADERS/CONTINUATION via HPACK automatically (http2.Framer's
// ReadMetaHeaders), and to fragment outbound header blocks larger than
// maxPayload bytes into HEADERS+CONTINUATION.
func NewFrameCodec(rw io.ReadWriter, maxPayload uint32) FrameCodec {
	if maxPayload == 0 {
		maxPayload = defaultChunkSize
	}
	c := &framerCodec{maxPayload: maxPayload}
	c.enc = hpack.NewEncoder(&c.encBuf)
	fr := http2.NewFramer(rw, rw)
	fr.ReadMetaHeaders = hpack.NewDecoder(maxHeaderTableSize, nil)
	fr.MaxHeaderListSize = maxHeaderListSize
	c.framer = fr
	return c
}

func (c *framerCodec) ReadFrame() (http2.Frame, error) {
	return c.framer.ReadFrame()
}

func (c *framerCodec) WriteSettings(settings ...http2.Setting) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.framer.WriteSettings(settings...)
}

func (c *framerCodec) WriteSettingsAck() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.framer.WriteSettingsAck()
}

func (c *framerCodec) WriteHeaders(streamID uint32, fields []hpack.HeaderField, endStream bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.encBuf.Reset()
	for _, f := range fields {
		if err := c.enc.WriteField(f); err != nil {
			return err
		}
	}
	block := c.encBuf.Bytes()

	first := block
	rest := []byte(nil)
	if uint32(len(block)) > c.maxPayload {
		first = block[:c.maxPayload]
		rest = block[c.maxPayload:]
	}
	if err := c.framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      streamID,
		BlockFragment: first,
		EndStream:     endStream,
		EndHeaders:    len(rest) == 0,
	}); err != nil {
		return err
	}
	for len(rest) > 0 {
		chunk := rest
		if uint32(len(chunk)) > c.maxPayload {
			chunk = rest[:c.maxPayload]
		}
		rest = rest[len(chunk):]
		if err := c.framer.WriteContinuation(streamID, len(rest) == 0, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (c *framerCodec) WriteData(streamID uint32, data []byte, endStream bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.framer.WriteData(streamID, endStream, data)
}

func (c *framerCodec) WriteWindowUpdate(streamID uint32, increment uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.framer.WriteWindowUpdate(streamID, increment)
}

func (c *framerCodec) WriteRSTStream(streamID uint32, code Error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.framer.WriteRSTStream(streamID, code)
}

func (c *framerCodec) WriteGoAway(lastStreamID uint32, code Error, debugData []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.framer.WriteGoAway(lastStreamID, code, debugData)
}

func (c *framerCodec) WritePing(ack bool, data [8]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.framer.WritePing(ack, data)
}

const (
	maxHeaderTableSize = 4096
	maxHeaderListSize  = 16384
)
