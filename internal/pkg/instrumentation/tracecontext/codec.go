// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package tracecontext decodes and generates W3C trace-context identities
// in the fixed-size form the probes work with.
package tracecontext

import (
	"go.opentelemetry.io/otel/trace"

	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/context"
)

const (
	// HeaderKey is the canonical trace-context header name.
	HeaderKey = "traceparent"
	// KeyLen is the length of HeaderKey.
	KeyLen = len(HeaderKey)
	// ValueLen is the exact length of a version 00 traceparent value:
	// "00-" + 32 hex + "-" + 16 hex + "-" + 2 hex.
	ValueLen = 55

	traceIDPos    = 3
	spanIDPos     = traceIDPos + 2*len(trace.TraceID{}) + 1
	traceFlagsPos = spanIDPos + 2*len(trace.SpanID{}) + 1

	version = "00"
)

// HeaderKeys are the spellings of HeaderKey looked up in a Go http.Header
// map. Canonicalized MIME keys are stored as "Traceparent", but maps built
// by hand may hold the lowercase form.
var HeaderKeys = [][]byte{
	[]byte(HeaderKey),
	[]byte("Traceparent"),
}

// Decode parses a traceparent value. The layout is fixed, so no length
// checks are done. Hex digits are not validated: an invalid digit decodes as
// zero.
func Decode(raw [ValueLen]byte) context.SpanContext {
	var sc context.SpanContext
	hexToBytes(raw[traceIDPos:traceIDPos+2*len(sc.TraceID)], sc.TraceID[:])
	hexToBytes(raw[spanIDPos:spanIDPos+2*len(sc.SpanID)], sc.SpanID[:])

	var flags [1]byte
	hexToBytes(raw[traceFlagsPos:traceFlagsPos+2], flags[:])
	sc.TraceFlags = trace.TraceFlags(flags[0])
	return sc
}

// Encode returns the version 00 traceparent value for sc.
func Encode(sc context.SpanContext) [ValueLen]byte {
	var out [ValueLen]byte
	copy(out[:], version)
	out[traceIDPos-1] = '-'
	bytesToHex(sc.TraceID[:], out[traceIDPos:])
	out[spanIDPos-1] = '-'
	bytesToHex(sc.SpanID[:], out[spanIDPos:])
	out[traceFlagsPos-1] = '-'
	bytesToHex([]byte{byte(sc.TraceFlags)}, out[traceFlagsPos:])
	return out
}

const hexDigits = "0123456789abcdef"

func hexToBytes(src, dst []byte) {
	for i := 0; i < len(dst) && 2*i+1 < len(src); i++ {
		dst[i] = nibble(src[2*i])<<4 | nibble(src[2*i+1])
	}
}

func bytesToHex(src, dst []byte) {
	for i, b := range src {
		dst[2*i] = hexDigits[b>>4]
		dst[2*i+1] = hexDigits[b&0x0f]
	}
}

func nibble(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10
	default:
		return 0
	}
}
