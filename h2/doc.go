// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// Package h2 adapts a framed, multiplexed HTTP/2 connection into ergonomic
// request/response exchanges for both client and server roles.
//
// It owns header construction and validation, body-to-frame dispatch, the
// per-stream state machine, and the connection-level supervisor that routes
// GOAWAY and RST_STREAM to the right producers and consumers. It does not
// implement HPACK or raw frame byte-layout itself: those are delegated to
// golang.org/x/net/http2 and golang.org/x/net/http2/hpack, which this
// package treats as the "underlying HTTP/2 codec" collaborator.
//
// Server push, automatic body decompression, HTTP/2 proxying, trailer
// propagation, and HTTP/2-native multipart are not supported.
package h2
