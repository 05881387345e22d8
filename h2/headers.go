// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package h2

import (
	"errors"
	"strconv"
	"strings"

	"golang.org/x/net/http2/hpack"
)

// ErrMissingPseudoHeader is returned by the outbound codec when a required
// pseudo-header is absent. The caller turns this into a
// StreamError(ErrProtocol) before any frame is emitted (spec §4.1).
var ErrMissingPseudoHeader = errors.New("http2: missing required pseudo-header")

// ErrForbiddenHeader is returned when a connection-specific header name is
// present, or transfer-encoding carries a value other than "trailers".
var ErrForbiddenHeader = errors.New("http2: forbidden connection-specific header")

// ErrNilHeaderName is returned when a header name is the empty string.
var ErrNilHeaderName = errors.New("http2: nil header name")

// forbiddenHeaders are connection-specific header names that have no
// meaning in HTTP/2 and must never be emitted (RFC 9113 §8.2.2).
var forbiddenHeaders = map[string]bool{
	"connection":       true,
	"proxy-connection": true,
	"keep-alive":       true,
	"upgrade":          true,
}

// EncodeRequestHeaders turns req into the ordered HEADERS field list: the
// pseudo-headers first, in :method/:scheme/:authority/:path order, then the
// regular headers in the order Headers.Range yields them.
func EncodeRequestHeaders(req *Request) ([]hpack.HeaderField, error) {
	if req.Method == "" {
		return nil, ErrMissingPseudoHeader
	}
	if req.Scheme == "" {
		return nil, ErrMissingPseudoHeader
	}
	if req.Authority == "" {
		return nil, ErrMissingPseudoHeader
	}
	if req.Path == "" {
		return nil, ErrMissingPseudoHeader
	}

	fields := make([]hpack.HeaderField, 0, 4+req.Headers.Len())
	fields = append(fields,
		hpack.HeaderField{Name: ":method", Value: strings.ToUpper(string(req.Method))},
		hpack.HeaderField{Name: ":scheme", Value: req.Scheme},
		hpack.HeaderField{Name: ":authority", Value: req.Authority},
		hpack.HeaderField{Name: ":path", Value: joinPath(req.Path, req.Query)},
	)

	regular, err := encodeRegularHeaders(req.Headers)
	if err != nil {
		return nil, err
	}
	return append(fields, regular...), nil
}

// EncodeResponseHeaders turns resp into the ordered HEADERS field list:
// :status first, defaulting to 200 when Status is absent (spec §4.2, an
// explicit compatibility affordance), then the regular headers.
func EncodeResponseHeaders(resp *Response) ([]hpack.HeaderField, error) {
	fields := make([]hpack.HeaderField, 0, 1+resp.Headers.Len())
	fields = append(fields, hpack.HeaderField{
		Name:  ":status",
		Value: strconv.Itoa(resp.EffectiveStatus()),
	})

	regular, err := encodeRegularHeaders(resp.Headers)
	if err != nil {
		return nil, err
	}
	return append(fields, regular...), nil
}

func encodeRegularHeaders(headers Headers) ([]hpack.HeaderField, error) {
	fields := make([]hpack.HeaderField, 0, headers.Len())
	var outer error
	headers.Range(func(name string, values []string) {
		if outer != nil {
			return
		}
		if name == "" {
			outer = ErrNilHeaderName
			return
		}
		lowered := globalHeaderNameCache.lower(name)
		if forbiddenHeaders[lowered] {
			outer = ErrForbiddenHeader
			return
		}
		if lowered == "transfer-encoding" {
			for _, v := range values {
				if v != "trailers" {
					outer = ErrForbiddenHeader
					return
				}
			}
		}
		for _, v := range values {
			fields = append(fields, hpack.HeaderField{Name: lowered, Value: v})
		}
	})
	if outer != nil {
		return nil, outer
	}
	return fields, nil
}

// DecodeRequestHeaders builds an inbound Request from a decoded field list.
// Missing :method, :scheme, or :path is a StreamError(ErrProtocol).
func DecodeRequestHeaders(fields []hpack.HeaderField) (*Request, error) {
	req := &Request{Headers: NewHeaders()}
	var haveMethod, haveScheme, havePath bool
	for _, f := range fields {
		switch f.Name {
		case ":method":
			// Method tokens are case-sensitive (RFC 9110 §9.1); preserved
			// verbatim so it compares equal to the uppercase Method*
			// constants.
			req.Method = Method(f.Value)
			haveMethod = true
		case ":scheme":
			req.Scheme = f.Value
			haveScheme = true
		case ":authority":
			req.Authority = f.Value
		case ":path":
			req.Path, req.Query = splitPath(f.Value)
			havePath = true
		default:
			if strings.HasPrefix(f.Name, ":") {
				continue // unknown pseudo-header: ignore rather than fail the whole request
			}
			req.Headers.Add(f.Name, f.Value)
		}
	}
	if !haveMethod || !haveScheme || !havePath {
		return nil, NewStreamError(0, ErrProtocol)
	}
	return req, nil
}

// DecodeResponseHeaders builds an inbound Response from a decoded field
// list. Status is parsed as an integer; on a duplicate regular header name
// the decoded Headers preserves every value (round-trip equality only needs
// multiset equality, spec §9).
func DecodeResponseHeaders(fields []hpack.HeaderField) (*Response, error) {
	resp := &Response{Headers: NewHeaders()}
	for _, f := range fields {
		switch f.Name {
		case ":status":
			status, err := strconv.Atoi(f.Value)
			if err != nil {
				return nil, NewStreamError(0, ErrProtocol)
			}
			resp.Status = status
		default:
			if strings.HasPrefix(f.Name, ":") {
				continue
			}
			resp.Headers.Add(f.Name, f.Value)
		}
	}
	return resp, nil
}
