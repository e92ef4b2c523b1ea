// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package context contains tracing types shared by the probes and the code
// reading their records.
package context // nolint:revive  // Internal package name.

import "go.opentelemetry.io/otel/trace"

// SpanContextSize is the encoded size of a SpanContext in a probe record.
const SpanContextSize = 32

// SpanContext is the span identity as it is stored in probe records and
// kernel-side maps.
type SpanContext struct {
	TraceID    trace.TraceID
	SpanID     trace.SpanID
	TraceFlags trace.TraceFlags
	_          [7]byte // padding
}

// IsZero reports whether sc carries no identity at all. Records emitted for
// a correlation miss carry a zero SpanContext.
func (sc SpanContext) IsZero() bool {
	return !sc.TraceID.IsValid() && !sc.SpanID.IsValid() && sc.TraceFlags == 0
}

// IsValid reports whether both the trace and span IDs are set.
func (sc SpanContext) IsValid() bool {
	return sc.TraceID.IsValid() && sc.SpanID.IsValid()
}

// OTel returns sc as an OpenTelemetry span context.
func (sc SpanContext) OTel(remote bool) trace.SpanContext {
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    sc.TraceID,
		SpanID:     sc.SpanID,
		TraceFlags: sc.TraceFlags,
		Remote:     remote,
	})
}
