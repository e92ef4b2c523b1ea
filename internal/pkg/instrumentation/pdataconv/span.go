// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pdataconv

import (
	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/ptrace"

	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/context"
	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/kernel"
)

// Timestamp converts a CLOCK_MONOTONIC timestamp recorded by a probe.
func Timestamp(ns uint64) pcommon.Timestamp {
	return pcommon.NewTimestampFromTime(kernel.MonotonicToTime(ns))
}

// SpanContext sets the identity of dest to sc and its parent to psc. The
// parent is left unset if psc is not valid.
func SpanContext(dest ptrace.Span, sc, psc context.SpanContext) {
	dest.SetTraceID(pcommon.TraceID(sc.TraceID))
	dest.SetSpanID(pcommon.SpanID(sc.SpanID))
	dest.SetFlags(uint32(sc.TraceFlags))

	if psc.IsValid() {
		dest.SetParentSpanID(pcommon.SpanID(psc.SpanID))
	}
}
