// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package tracecontext

import (
	stdctx "context"
	"crypto/rand"
	"io"
	"sync"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/context"
)

// maxAttempts bounds the retries for a rejected (zero or colliding) ID.
const maxAttempts = 4

// Generator is an [sdktrace.IDGenerator] reading random bytes from an
// io.Reader. It never returns all-zero IDs unless the reader keeps failing.
type Generator struct {
	mu   sync.Mutex
	rand io.Reader
}

var _ sdktrace.IDGenerator = (*Generator)(nil)

// NewGenerator returns a Generator reading from r. If r is nil,
// crypto/rand is used.
func NewGenerator(r io.Reader) *Generator {
	if r == nil {
		r = rand.Reader
	}
	return &Generator{rand: r}
}

func (g *Generator) fill(b []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := io.ReadFull(g.rand, b); err != nil {
		clear(b)
	}
}

// NewIDs returns a random trace ID and span ID.
func (g *Generator) NewIDs(ctx stdctx.Context) (trace.TraceID, trace.SpanID) {
	var tid trace.TraceID
	for i := 0; i < maxAttempts && !tid.IsValid(); i++ {
		g.fill(tid[:])
	}
	return tid, g.NewSpanID(ctx, tid)
}

// NewSpanID returns a random span ID.
func (g *Generator) NewSpanID(stdctx.Context, trace.TraceID) trace.SpanID {
	var sid trace.SpanID
	for i := 0; i < maxAttempts && !sid.IsValid(); i++ {
		g.fill(sid[:])
	}
	return sid
}

// NewSpanContext returns a root span context with IDs from gen and the
// sampled flag set.
func NewSpanContext(gen sdktrace.IDGenerator) context.SpanContext {
	tid, sid := gen.NewIDs(stdctx.Background())
	return context.SpanContext{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: trace.FlagsSampled,
	}
}

// DeriveChild returns a span context continuing the trace of parent with a
// new span ID from gen, and parent unchanged to be recorded as the parent
// span context.
func DeriveChild(gen sdktrace.IDGenerator, parent context.SpanContext) (child, recorded context.SpanContext) {
	ctx := stdctx.Background()
	sid := gen.NewSpanID(ctx, parent.TraceID)
	for i := 1; i < maxAttempts && sid == parent.SpanID; i++ {
		sid = gen.NewSpanID(ctx, parent.TraceID)
	}

	child = context.SpanContext{
		TraceID:    parent.TraceID,
		SpanID:     sid,
		TraceFlags: parent.TraceFlags,
	}
	return child, parent
}
