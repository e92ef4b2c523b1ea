// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"go.opentelemetry.io/collector/pdata/ptrace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"golang.org/x/sys/unix"

	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/pdataconv"
)

// ConvertRecord returns the span of a record. Records without a span
// context, emitted when a returning request was not correlated, produce no
// span.
func ConvertRecord(e *event) ptrace.SpanSlice {
	spans := ptrace.NewSpanSlice()
	if e == nil || e.SpanContext.IsZero() {
		return spans
	}

	method := unix.ByteSliceToString(e.Method[:])
	path := unix.ByteSliceToString(e.Path[:])

	span := spans.AppendEmpty()
	// Do not include the high-cardinality path here (there is no
	// templatized path manifest to reference).
	span.SetName(method)
	span.SetKind(ptrace.SpanKindServer)
	span.SetStartTimestamp(pdataconv.Timestamp(e.StartTime))
	span.SetEndTimestamp(pdataconv.Timestamp(e.EndTime))
	pdataconv.SpanContext(span, e.SpanContext, e.ParentSpanContext)

	pdataconv.Attributes(
		span.Attributes(),
		semconv.HTTPRequestMethodKey.String(method),
		semconv.URLPath(path),
	)
	return spans
}
