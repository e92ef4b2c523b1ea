// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/ptrace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/context"
	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/kernel"
	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/pdataconv"
)

func TestConvertRecord(t *testing.T) {
	start := time.Unix(0, time.Now().UnixNano()) // No wall clock.
	end := start.Add(1 * time.Second)

	startOffset := kernel.TimeToMonotonic(start)
	endOffset := kernel.TimeToMonotonic(end)

	traceID := trace.TraceID{1}
	spanID := trace.SpanID{1}
	parentID := trace.SpanID{2}

	newEvent := func(psc context.SpanContext) *event {
		e := &event{
			StartTime: startOffset,
			EndTime:   endOffset,
			SpanContext: context.SpanContext{
				TraceID:    traceID,
				SpanID:     spanID,
				TraceFlags: trace.FlagsSampled,
			},
			ParentSpanContext: psc,
		}
		copy(e.Method[:], "GET")
		copy(e.Path[:], "/foo/bar")
		return e
	}

	expected := func(parent pcommon.SpanID) ptrace.SpanSlice {
		spans := ptrace.NewSpanSlice()
		span := spans.AppendEmpty()
		span.SetName("GET")
		span.SetKind(ptrace.SpanKindServer)
		span.SetStartTimestamp(pcommon.NewTimestampFromTime(start))
		span.SetEndTimestamp(pcommon.NewTimestampFromTime(end))
		span.SetTraceID(pcommon.TraceID(traceID))
		span.SetSpanID(pcommon.SpanID(spanID))
		span.SetParentSpanID(parent)
		span.SetFlags(uint32(trace.FlagsSampled))
		pdataconv.Attributes(
			span.Attributes(),
			semconv.HTTPRequestMethodKey.String("GET"),
			semconv.URLPath("/foo/bar"),
		)
		return spans
	}

	testCases := []struct {
		name     string
		event    *event
		expected ptrace.SpanSlice
	}{
		{
			name:     "root",
			event:    newEvent(context.SpanContext{}),
			expected: expected(pcommon.NewSpanIDEmpty()),
		},
		{
			name: "child",
			event: newEvent(context.SpanContext{
				TraceID:    traceID,
				SpanID:     parentID,
				TraceFlags: trace.FlagsSampled,
			}),
			expected: expected(pcommon.SpanID(parentID)),
		},
		{
			name:     "degraded",
			event:    &event{StartTime: startOffset, EndTime: endOffset},
			expected: ptrace.NewSpanSlice(),
		},
		{
			name:     "nil",
			expected: ptrace.NewSpanSlice(),
		},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ConvertRecord(tt.event))
		})
	}
}
