// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cilium/ebpf"
	"github.com/go-logr/logr"
	"github.com/hashicorp/go-version"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/bpfmap"
	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/context"
	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/gomap"
	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/probe"
	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/testutils"
	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/tracecontext"
)

const (
	nCPU        = 2
	traceparent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
)

type fixture struct {
	mem     *testutils.Memory
	layout  testutils.RequestLayout
	maps    gomap.Layout
	probe   *Probe
	output  *bpfmap.PerfEventArray
	metrics *prometheus.Registry
}

func newFixture(t *testing.T, opts ...func(*Config)) *fixture {
	t.Helper()

	target := &probe.Target{GoVersion: version.Must(version.NewVersion("1.22.5"))}
	consts, err := probe.Constants(target, Manifest().Consts)
	require.NoError(t, err)

	maps, err := gomap.DefaultLayouts().Find(target.GoVersion)
	require.NoError(t, err)

	output, err := bpfmap.NewPerfEventArray(EventsOutputSpec, nCPU, 2*MaxConcurrentRequests)
	require.NoError(t, err)
	t.Cleanup(func() { _ = output.Close() })

	reg := prometheus.NewRegistry()
	metrics, err := NewPrometheusMetrics(reg)
	require.NoError(t, err)

	var now atomic.Uint64
	now.Store(1000)

	f := &fixture{
		mem: testutils.NewMemory(),
		layout: testutils.RequestLayout{
			Method: consts[MethodPtrPos],
			URL:    consts[URLPtrPos],
			Path:   consts[PathPtrPos],
			Ctx:    consts[CtxPtrPos],
			Header: consts[HeadersPtrPos],
		},
		maps:    maps,
		output:  output,
		metrics: reg,
	}

	cfg := Config{
		Logger:      logr.Discard(),
		Memory:      f.mem,
		Consts:      consts,
		Layout:      maps,
		CPUs:        nCPU,
		Output:      output,
		IDGenerator: tracecontext.NewGenerator(nil),
		Metrics:     metrics,
		Clock:       func() uint64 { return now.Add(10) },
	}
	for _, o := range opts {
		o(&cfg)
	}

	f.probe, err = New(cfg)
	require.NoError(t, err)
	return f
}

// request lays out a request with the given headers and returns its
// address.
func (f *fixture) request(method, path string, ctx uint64, headers ...testutils.MapEntry) uint64 {
	var hmap uint64
	if headers != nil {
		hmap = f.mem.Map(f.maps, 0, -1, headers...)
	}
	return f.mem.Request(f.layout, testutils.Request{
		Method: method,
		Path:   path,
		Ctx:    ctx,
		Header: hmap,
	})
}

func (f *fixture) serve(t *testing.T, req uint64) *event {
	t.Helper()

	f.probe.Entry(testutils.NewFrame(0, reqArgPos, req))
	f.probe.Return(testutils.NewFrame(0, reqArgPos, req))
	return f.read(t)
}

func (f *fixture) read(t *testing.T) *event {
	t.Helper()

	rec, err := f.output.Read()
	require.NoError(t, err)
	e, err := DecodeRecord(rec)
	require.NoError(t, err)
	return e
}

func str(b []byte) string { return string(bytes.TrimRight(b, "\x00")) }

func TestManifest(t *testing.T) {
	m := Manifest()
	assert.Equal(t, "net/http/server", m.ID.String())
	assert.Equal(t, []probe.FunctionSymbol{{Symbol: Symbol, Return: true}}, m.Symbols())
	assert.Len(t, m.StructFields(), 5)
}

func TestProbeRootSpan(t *testing.T) {
	f := newFixture(t)

	e := f.serve(t, f.request("GET", "/users/42", 0xc0ffee))

	assert.Equal(t, "GET", str(e.Method[:]))
	assert.Equal(t, "/users/42", str(e.Path[:]))
	assert.NotZero(t, e.StartTime)
	assert.GreaterOrEqual(t, e.EndTime, e.StartTime)

	assert.True(t, e.SpanContext.IsValid())
	assert.Equal(t, trace.FlagsSampled, e.SpanContext.TraceFlags)
	assert.True(t, e.ParentSpanContext.IsZero(), "root span has no parent")

	assert.Equal(t, 0, f.probe.InFlight(), "entry removed")
	assert.Equal(t, 0, f.probe.SpansInProgress().Len())
	assert.InDelta(t, 1, promtest.ToFloat64(f.probe.metrics.(*promMetrics).emittedRecords), 0)
}

func TestProbeEmptyHeaderMap(t *testing.T) {
	f := newFixture(t)

	empty := f.mem.Map(f.maps, 0, -1)
	req := f.mem.Request(f.layout, testutils.Request{Method: "GET", Path: "/", Ctx: 1, Header: empty})
	e := f.serve(t, req)

	assert.True(t, e.SpanContext.IsValid())
	assert.True(t, e.ParentSpanContext.IsZero())
}

func TestProbePropagatesParent(t *testing.T) {
	for _, key := range []string{"traceparent", "Traceparent"} {
		t.Run(key, func(t *testing.T) {
			f := newFixture(t)

			e := f.serve(t, f.request("POST", "/orders", 7,
				testutils.MapEntry{Key: "Accept", Values: []string{"*/*"}},
				testutils.MapEntry{Key: key, Values: []string{traceparent}},
			))

			wantTrace := trace.TraceID{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6, 0xa3, 0xce, 0x92, 0x9d, 0x0e, 0x0e, 0x47, 0x36}
			wantParent := trace.SpanID{0x00, 0xf0, 0x67, 0xaa, 0x0b, 0xa9, 0x02, 0xb7}

			assert.Equal(t, wantTrace, e.ParentSpanContext.TraceID)
			assert.Equal(t, wantParent, e.ParentSpanContext.SpanID)
			assert.Equal(t, trace.FlagsSampled, e.ParentSpanContext.TraceFlags)

			assert.Equal(t, wantTrace, e.SpanContext.TraceID, "trace continued")
			assert.NotEqual(t, wantParent, e.SpanContext.SpanID)
			assert.True(t, e.SpanContext.SpanID.IsValid())
			assert.Equal(t, trace.FlagsSampled, e.SpanContext.TraceFlags)

			assert.InDelta(t, 1, promtest.ToFloat64(f.probe.metrics.(*promMetrics).propagatedParents), 0)
		})
	}
}

func TestProbeIgnoresMalformedParent(t *testing.T) {
	tests := []struct {
		name   string
		header testutils.MapEntry
	}{
		{
			name:   "TooLong",
			header: testutils.MapEntry{Key: "traceparent", Values: []string{traceparent + "-"}},
		},
		{
			name:   "TooShort",
			header: testutils.MapEntry{Key: "traceparent", Values: []string{traceparent[:54]}},
		},
		{
			name:   "ZeroTrace",
			header: testutils.MapEntry{Key: "traceparent", Values: []string{"00-00000000000000000000000000000000-00f067aa0ba902b7-01"}},
		},
		{
			name:   "NotInFirstBucket",
			header: testutils.MapEntry{Key: "traceparent", Values: []string{traceparent}, Bucket: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			hmap := f.mem.Map(f.maps, 1, -1, tt.header)
			req := f.mem.Request(f.layout, testutils.Request{Method: "GET", Path: "/", Ctx: 3, Header: hmap})
			e := f.serve(t, req)

			assert.True(t, e.SpanContext.IsValid())
			assert.True(t, e.ParentSpanContext.IsZero())
		})
	}
}

func TestProbeTruncates(t *testing.T) {
	f := newFixture(t)

	method := strings.Repeat("M", 150)
	path := "/" + strings.Repeat("p", 200)
	e := f.serve(t, f.request(method, path, 9))

	assert.Equal(t, method[:maxMethodLen], string(e.Method[:]))
	assert.Equal(t, path[:maxPathLen], string(e.Path[:]))
	assert.InDelta(t, 2, promtest.ToFloat64(f.probe.metrics.(*promMetrics).truncatedFields), 0)
}

func TestProbeNilURL(t *testing.T) {
	f := newFixture(t)

	req := f.mem.Request(f.layout, testutils.Request{Method: "GET", NoURL: true, Ctx: 4})
	e := f.serve(t, req)

	assert.Equal(t, "GET", str(e.Method[:]))
	assert.Equal(t, "", str(e.Path[:]))
	assert.True(t, e.SpanContext.IsValid())
}

func TestProbeCorrelationMiss(t *testing.T) {
	f := newFixture(t)
	req := f.request("GET", "/", 11)

	f.probe.Entry(testutils.NewFrame(0, reqArgPos, req))
	f.probe.Return(testutils.NewFrame(0, reqArgPos, req))
	first := f.read(t)
	assert.True(t, first.SpanContext.IsValid())

	f.probe.Return(testutils.NewFrame(0, reqArgPos, req))
	second := f.read(t)
	assert.Zero(t, second.StartTime)
	assert.NotZero(t, second.EndTime)
	assert.Equal(t, [maxMethodLen]byte{}, second.Method)
	assert.True(t, second.SpanContext.IsZero())
	assert.True(t, second.ParentSpanContext.IsZero())

	assert.InDelta(t, 1, promtest.ToFloat64(f.probe.metrics.(*promMetrics).correlationMisses), 0)
	assert.Equal(t, 0, ConvertRecord(second).Len(), "degraded record dropped")
}

func TestProbeReturnUsesStackArgument(t *testing.T) {
	f := newFixture(t)
	req := f.request("GET", "/", 12)

	f.probe.Entry(testutils.NewFrame(1, reqArgPos, req))
	f.probe.Return(testutils.Frame{
		Args:      map[int]uint64{reqArgPos: 0xbad},
		StackArgs: map[int]uint64{reqArgPos: req},
		CPUIndex:  1,
	})

	rec, err := f.output.Read()
	require.NoError(t, err)
	assert.Equal(t, 1, rec.CPU)

	e, err := DecodeRecord(rec)
	require.NoError(t, err)
	assert.True(t, e.SpanContext.IsValid(), "correlated through the stack argument")
}

func TestProbeSharesSpanInProgress(t *testing.T) {
	shared, err := bpfmap.NewHash[uint64, context.SpanContext](SpansInProgressSpec)
	require.NoError(t, err)

	f := newFixture(t, func(c *Config) { c.SpansInProgress = shared })
	require.Same(t, shared, f.probe.SpansInProgress())

	const ctx = 13
	req := f.request("GET", "/", ctx)
	f.probe.Entry(testutils.NewFrame(0, reqArgPos, req))

	var sc context.SpanContext
	require.NoError(t, shared.Lookup(ctx, &sc))
	assert.True(t, sc.IsValid())

	f.probe.Return(testutils.NewFrame(0, reqArgPos, req))
	e := f.read(t)
	assert.Equal(t, sc, e.SpanContext)
	assert.ErrorIs(t, shared.Lookup(ctx, &sc), ebpf.ErrKeyNotExist)
}

func TestProbeTableFull(t *testing.T) {
	f := newFixture(t)

	reqs := make([]uint64, MaxConcurrentRequests+1)
	for i := range reqs {
		reqs[i] = f.request("GET", "/", uint64(100+i))
		f.probe.Entry(testutils.NewFrame(0, reqArgPos, reqs[i]))
	}
	assert.Equal(t, MaxConcurrentRequests, f.probe.InFlight())
	assert.InDelta(t, 1, promtest.ToFloat64(f.probe.metrics.(*promMetrics).insertFailures), 0)

	// The request that did not fit is not correlated.
	f.probe.Return(testutils.NewFrame(0, reqArgPos, reqs[MaxConcurrentRequests]))
	assert.True(t, f.read(t).SpanContext.IsZero())

	// The stored ones were not overwritten.
	for _, req := range reqs[:MaxConcurrentRequests] {
		f.probe.Return(testutils.NewFrame(0, reqArgPos, req))
		e := f.read(t)
		assert.True(t, e.SpanContext.IsValid())
		assert.GreaterOrEqual(t, e.EndTime, e.StartTime)
	}
	assert.Equal(t, 0, f.probe.InFlight())
}

func TestProbeSameIdentityLastWriterWins(t *testing.T) {
	f := newFixture(t)

	f.probe.Entry(testutils.NewFrame(0, reqArgPos, f.request("GET", "/first", 21)))
	f.probe.Entry(testutils.NewFrame(1, reqArgPos, f.request("PUT", "/second", 21)))
	assert.Equal(t, 1, f.probe.InFlight())

	f.probe.Return(testutils.NewFrame(0, reqArgPos, f.request("GET", "/first", 21)))
	e := f.read(t)
	assert.Equal(t, "PUT", str(e.Method[:]))
	assert.Equal(t, "/second", str(e.Path[:]))
}

func TestProbeOutputFull(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		out, err := bpfmap.NewPerfEventArray(EventsOutputSpec, nCPU, 1)
		require.NoError(t, err)
		c.Output = out
	})

	f.probe.Return(testutils.NewFrame(0, reqArgPos, f.request("GET", "/", 31)))
	f.probe.Return(testutils.NewFrame(0, reqArgPos, f.request("GET", "/", 32)))

	m := f.probe.metrics.(*promMetrics)
	assert.InDelta(t, 1, promtest.ToFloat64(m.emittedRecords), 0)
	assert.InDelta(t, 1, promtest.ToFloat64(m.lostRecords), 0)
}

func TestNewErrors(t *testing.T) {
	_, err := New(Config{Logger: logr.Discard()})
	require.Error(t, err)
	assert.ErrorContains(t, err, "missing target memory")
	assert.ErrorContains(t, err, "missing output")
	assert.ErrorContains(t, err, "missing constant ctx_ptr_pos")

	f := newFixture(t)
	_, err = New(Config{
		Memory: f.mem,
		Output: f.output,
		Consts: map[string]uint64{
			MethodPtrPos:  0,
			URLPtrPos:     16,
			PathPtrPos:    56,
			CtxPtrPos:     232,
			HeadersPtrPos: 56,
		},
		CPUs: 1,
	})
	assert.Error(t, err, "invalid map layout")
}
