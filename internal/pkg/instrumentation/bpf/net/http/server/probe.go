// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package server provides the probes instrumenting the request dispatch of
// net/http servers.
package server

import (
	"errors"
	"fmt"
	"io"

	"github.com/cilium/ebpf"
	"github.com/go-logr/logr"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/bpfmap"
	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/context"
	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/gomap"
	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/kernel"
	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/probe"
	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/tracecontext"
	"go.opentelemetry.io/autohttp/internal/pkg/process"
	"go.opentelemetry.io/autohttp/internal/pkg/structfield"
)

const (
	pkg = "net/http"

	// Symbol is the instrumented function.
	Symbol = "net/http.(*ServeMux).ServeHTTP"

	// reqArgPos is the position of the *http.Request argument of
	// ServeHTTP, counting the receiver.
	reqArgPos = 4

	// MaxConcurrentRequests is the capacity of the correlation table.
	MaxConcurrentRequests = 50
)

// Keys of the constants the probe is parameterized with.
const (
	MethodPtrPos  = "method_ptr_pos"
	URLPtrPos     = "url_ptr_pos"
	PathPtrPos    = "path_ptr_pos"
	CtxPtrPos     = "ctx_ptr_pos"
	HeadersPtrPos = "headers_ptr_pos"
)

var (
	// EventsSpec declares the table correlating entering and returning
	// requests.
	EventsSpec = &ebpf.MapSpec{
		Name:       "context_to_http_events",
		Type:       ebpf.Hash,
		KeySize:    8,
		ValueSize:  RecordSize,
		MaxEntries: MaxConcurrentRequests,
	}

	// SpansInProgressSpec declares the table sharing the span context of
	// in-flight requests with other probes.
	SpansInProgressSpec = &ebpf.MapSpec{
		Name:       "spans_in_progress",
		Type:       ebpf.Hash,
		KeySize:    8,
		ValueSize:  context.SpanContextSize,
		MaxEntries: MaxConcurrentRequests,
	}

	// BucketStorageSpec declares the scratch space of header lookups.
	BucketStorageSpec = &ebpf.MapSpec{
		Name:       "golang_mapbucket_storage_map",
		Type:       ebpf.PerCPUArray,
		KeySize:    4,
		MaxEntries: 1,
	}

	// ParentStorageSpec declares the scratch space of decoded parents.
	ParentStorageSpec = &ebpf.MapSpec{
		Name:       "parent_span_context_storage_map",
		Type:       ebpf.PerCPUArray,
		KeySize:    4,
		ValueSize:  context.SpanContextSize,
		MaxEntries: 1,
	}

	// EventsOutputSpec declares the output channel of records.
	EventsOutputSpec = &ebpf.MapSpec{
		Name: "events",
		Type: ebpf.PerfEventArray,
	}
)

// Manifest returns the manifest of the probe.
func Manifest() probe.Manifest {
	return probe.NewManifest(
		probe.ID{SpanKind: trace.SpanKindServer, InstrumentedPkg: pkg},
		[]probe.Const{
			probe.StructFieldConst{
				Key: MethodPtrPos,
				ID:  structfield.NewID(probe.StdLib, "net/http", "Request", "Method"),
			},
			probe.StructFieldConst{
				Key: URLPtrPos,
				ID:  structfield.NewID(probe.StdLib, "net/http", "Request", "URL"),
			},
			probe.StructFieldConst{
				Key: CtxPtrPos,
				ID:  structfield.NewID(probe.StdLib, "net/http", "Request", "ctx"),
			},
			probe.StructFieldConst{
				Key: PathPtrPos,
				ID:  structfield.NewID(probe.StdLib, "net/url", "URL", "Path"),
			},
			probe.StructFieldConst{
				Key: HeadersPtrPos,
				ID:  structfield.NewID(probe.StdLib, "net/http", "Request", "Header"),
			},
		},
		[]*probe.Uprobe{
			{
				Sym:         Symbol,
				EntryProbe:  "uprobe_ServeHTTP",
				ReturnProbe: "uprobe_ServeHTTP_Returns",
			},
		},
	)
}

// Config configures a Probe.
type Config struct {
	Logger logr.Logger
	// Memory is the address space of the instrumented process.
	Memory io.ReaderAt
	// Consts holds the resolved values of the constants of the Manifest.
	Consts map[string]uint64
	// Layout describes the maps of the instrumented process.
	Layout gomap.Layout
	// CPUs is the number of per-CPU scratch slots.
	CPUs int

	// Output receives the records.
	Output *bpfmap.PerfEventArray
	// SpansInProgress is shared with other probes. A private table is
	// created when nil.
	SpansInProgress *bpfmap.Hash[uint64, context.SpanContext]

	// IDGenerator defaults to a crypto/rand backed generator.
	IDGenerator sdktrace.IDGenerator
	// Metrics defaults to NoopMetrics.
	Metrics Metrics
	// Clock returns CLOCK_MONOTONIC nanoseconds. It defaults to kernel.Now.
	Clock func() uint64
}

// Probe holds the state of the entry and return hooks of Symbol.
type Probe struct {
	logger  logr.Logger
	mem     io.ReaderAt
	headers *gomap.Reader
	gen     sdktrace.IDGenerator
	metrics Metrics
	clock   func() uint64

	methodPos, urlPos, pathPos, ctxPos, headersPos uint64

	events  *bpfmap.Hash[uint64, event]
	spans   *bpfmap.Hash[uint64, context.SpanContext]
	buckets *bpfmap.PerCPUArray[gomap.Scratch]
	parents *bpfmap.PerCPUArray[context.SpanContext]
	output  *bpfmap.PerfEventArray
}

// New returns a Probe for cfg.
func New(cfg Config) (*Probe, error) {
	p := &Probe{
		logger:  cfg.Logger.WithName(pkg),
		mem:     cfg.Memory,
		gen:     cfg.IDGenerator,
		metrics: cfg.Metrics,
		clock:   cfg.Clock,
		spans:   cfg.SpansInProgress,
		output:  cfg.Output,
	}
	if p.gen == nil {
		p.gen = tracecontext.NewGenerator(nil)
	}
	if p.metrics == nil {
		p.metrics = NoopMetrics{}
	}
	if p.clock == nil {
		p.clock = kernel.Now
	}

	var err error
	if p.mem == nil {
		err = errors.Join(err, errors.New("missing target memory"))
	}
	if p.output == nil {
		err = errors.Join(err, errors.New("missing output"))
	}
	for key, dst := range map[string]*uint64{
		MethodPtrPos:  &p.methodPos,
		URLPtrPos:     &p.urlPos,
		PathPtrPos:    &p.pathPos,
		CtxPtrPos:     &p.ctxPos,
		HeadersPtrPos: &p.headersPos,
	} {
		v, ok := cfg.Consts[key]
		if !ok {
			err = errors.Join(err, fmt.Errorf("missing constant %s", key))
		}
		*dst = v
	}
	if err != nil {
		return nil, err
	}

	if p.headers, err = gomap.NewReader(cfg.Layout); err != nil {
		return nil, err
	}
	if p.events, err = bpfmap.NewHash[uint64, event](EventsSpec); err != nil {
		return nil, err
	}
	if p.spans == nil {
		if p.spans, err = bpfmap.NewHash[uint64, context.SpanContext](SpansInProgressSpec); err != nil {
			return nil, err
		}
	}

	layout := cfg.Layout
	p.buckets, err = bpfmap.NewPerCPUArray(BucketStorageSpec, cfg.CPUs, func() *gomap.Scratch {
		return gomap.NewScratch(layout, tracecontext.KeyLen, tracecontext.ValueLen)
	})
	if err != nil {
		return nil, err
	}
	if p.parents, err = bpfmap.NewPerCPUArray[context.SpanContext](ParentStorageSpec, cfg.CPUs, nil); err != nil {
		return nil, err
	}
	return p, nil
}

// SpansInProgress returns the table holding the span context of requests
// being served.
func (p *Probe) SpansInProgress() *bpfmap.Hash[uint64, context.SpanContext] { return p.spans }

// InFlight returns the number of requests stored for correlation.
func (p *Probe) InFlight() int { return p.events.Len() }

// identity returns the key correlating the entry and return of the request
// at req: the data word of its context interface. It is never dereferenced.
func (p *Probe) identity(req uint64) uint64 {
	if req == 0 {
		return 0
	}
	return process.ReadUint64(p.mem, req+p.ctxPos+process.PointerSize)
}

func (p *Probe) readString(addr uint64, dst []byte) {
	if addr == 0 {
		return
	}
	if _, truncated := process.ReadGoString(p.mem, addr, dst); truncated {
		p.metrics.FieldTruncated()
	}
}

// Entry runs when Symbol is entered. It captures the request and stores it
// until Return is run for the same request.
func (p *Probe) Entry(f probe.Frame) {
	var e event
	e.StartTime = p.clock()

	req := f.Argument(reqArgPos)
	if req != 0 {
		p.readString(req+p.methodPos, e.Method[:])
		if u := process.ReadPointer(p.mem, req+p.urlPos); u != 0 {
			p.readString(u+p.pathPos, e.Path[:])
		}
	}
	key := p.identity(req)

	if parent, ok := p.parent(f.CPU(), req); ok {
		e.SpanContext, e.ParentSpanContext = tracecontext.DeriveChild(p.gen, *parent)
		p.metrics.ParentPropagated()
	} else {
		e.SpanContext = tracecontext.NewSpanContext(p.gen)
	}

	if err := p.events.Update(key, &e, ebpf.UpdateAny); err != nil {
		p.metrics.InsertFailed()
		p.logger.V(1).Info("request not tracked", "key", key, "error", err)
	}
	if err := p.spans.Update(key, &e.SpanContext, ebpf.UpdateAny); err != nil {
		p.logger.V(1).Info("span in progress not shared", "key", key, "error", err)
	}
}

// parent decodes the traceparent header of req into the scratch slot of
// cpu. False is returned if the header is absent or does not carry a valid
// trace.
func (p *Probe) parent(cpu int, req uint64) (*context.SpanContext, bool) {
	if req == 0 {
		return nil, false
	}
	scratch, slot := p.buckets.Lookup(cpu), p.parents.Lookup(cpu)
	if scratch == nil || slot == nil {
		return nil, false
	}

	hmap := process.ReadPointer(p.mem, req+p.headersPos)
	v, ok := p.headers.Lookup(p.mem, hmap, scratch, tracecontext.HeaderKeys, tracecontext.ValueLen)
	if !ok {
		return nil, false
	}

	var raw [tracecontext.ValueLen]byte
	copy(raw[:], v)
	*slot = tracecontext.Decode(raw)
	if !slot.TraceID.IsValid() {
		return nil, false
	}
	return slot, true
}

// Return runs when Symbol returns. It emits the record stored by Entry, or
// a zero record if there is none, and forgets the request.
func (p *Probe) Return(f probe.Frame) {
	key := p.identity(f.StackArgument(reqArgPos))

	var e event
	if err := p.events.Lookup(key, &e); err != nil {
		p.metrics.CorrelationMissed()
		p.logger.V(1).Info("request not correlated", "key", key)
	}
	e.EndTime = p.clock()

	var buf [RecordSize]byte
	if err := e.encode(buf[:]); err != nil {
		p.logger.Error(err, "encoding record")
	} else if err := p.output.Output(f.CPU(), buf[:]); err != nil {
		p.metrics.RecordLost()
		p.logger.V(1).Info("record dropped", "key", key, "error", err)
	} else {
		p.metrics.RecordEmitted()
	}

	_ = p.events.Delete(key)
	_ = p.spans.Delete(key)
}
