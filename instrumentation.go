// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package autohttp instruments the request dispatch of Go net/http servers
// running in another process and produces a span for every request served.
package autohttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/caarlos0/env/v9"
	"github.com/cilium/ebpf/perf"
	"github.com/go-logr/logr"
	"github.com/hashicorp/go-version"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/collector/consumer"
	"go.opentelemetry.io/collector/pdata/ptrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/bpf/net/http/server"
	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/bpfmap"
	instcontext "go.opentelemetry.io/autohttp/internal/pkg/instrumentation/context"
	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/gomap"
	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/kernel"
	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/probe"
	"go.opentelemetry.io/autohttp/internal/pkg/log"
	"go.opentelemetry.io/autohttp/internal/pkg/process"
)

const (
	// scopeName is the instrumentation scope of the produced spans.
	scopeName = "go.opentelemetry.io/autohttp"

	// defaultOutputBuffer is the number of records buffered between the
	// probes and Run.
	defaultOutputBuffer = 1024
)

// Frame gives access to the arguments of the instrumented function at the
// time a hook runs.
type Frame = probe.Frame

// SpanTable holds the span context of the requests being served, keyed by
// request identity. It can be shared with other instrumentation.
type SpanTable = bpfmap.Hash[uint64, instcontext.SpanContext]

// NewSpanTable returns an empty SpanTable.
func NewSpanTable() (*SpanTable, error) {
	return bpfmap.NewHash[uint64, instcontext.SpanContext](server.SpansInProgressSpec)
}

// Instrumentation manages the instrumentation of net/http servers in a
// single target process.
type Instrumentation struct {
	logger    logr.Logger
	goVersion *version.Version
	layout    gomap.Layout
	consts    map[string]uint64

	probe    *server.Probe
	output   *bpfmap.PerfEventArray
	consumer consumer.Traces

	memCloser io.Closer
	closeOnce sync.Once
	closeErr  error
}

// NewInstrumentation returns a new [Instrumentation] configured with the
// provided opts.
//
// If the target memory or Go version are not set with options, they are
// read from the target process which must then be set using [WithPID] or
// [WithEnv].
func NewInstrumentation(ctx context.Context, opts ...InstrumentationOption) (*Instrumentation, error) {
	c, err := newInstConfig(ctx, opts)
	if err != nil {
		return nil, err
	}

	i := &Instrumentation{
		logger:    c.logger,
		goVersion: c.goVersion,
		consumer:  c.consumer,
	}

	mem := c.mem
	if mem == nil {
		m, err := process.OpenMemory(c.pid)
		if err != nil {
			return nil, fmt.Errorf("opening target memory: %w", err)
		}
		mem, i.memCloser = m, m
	}

	if i.layout, err = c.layouts.Find(c.goVersion); err != nil {
		return nil, i.closeAfter(err)
	}

	target := &probe.Target{GoVersion: c.goVersion}
	if i.consts, err = probe.Constants(target, server.Manifest().Consts); err != nil {
		return nil, i.closeAfter(fmt.Errorf("resolving offsets: %w", err))
	}

	cpus, err := kernel.GetCPUCount()
	if err != nil {
		return nil, i.closeAfter(fmt.Errorf("counting CPUs: %w", err))
	}

	i.output, err = bpfmap.NewPerfEventArray(server.EventsOutputSpec, int(cpus), c.outputBuffer) // nolint: gosec  // Bounded by the kernel.
	if err != nil {
		return nil, i.closeAfter(err)
	}

	var metrics server.Metrics = server.NoopMetrics{}
	if c.registerer != nil {
		if metrics, err = server.NewPrometheusMetrics(c.registerer); err != nil {
			return nil, i.closeAfter(fmt.Errorf("registering metrics: %w", err))
		}
	}

	i.probe, err = server.New(server.Config{
		Logger:          c.logger,
		Memory:          mem,
		Consts:          i.consts,
		Layout:          i.layout,
		CPUs:            int(cpus), // nolint: gosec  // Bounded by the kernel.
		Output:          i.output,
		SpansInProgress: c.spans,
		IDGenerator:     c.idGenerator,
		Metrics:         metrics,
	})
	if err != nil {
		return nil, i.closeAfter(fmt.Errorf("creating probe: %w", err))
	}

	i.logger.Info(
		"instrumentation loaded",
		"pid", c.pid,
		"go.version", c.goVersion.String(),
		"map.layout", i.layout.Name,
		"cpus", cpus,
	)
	return i, nil
}

func (i *Instrumentation) closeAfter(err error) error {
	return errors.Join(err, i.Close())
}

// Entry is the hook run when net/http.(*ServeMux).ServeHTTP is entered.
func (i *Instrumentation) Entry(f Frame) { i.probe.Entry(f) }

// Return is the hook run when net/http.(*ServeMux).ServeHTTP returns.
func (i *Instrumentation) Return(f Frame) { i.probe.Return(f) }

// SpansInProgress returns the table holding the span context of the
// requests being served.
func (i *Instrumentation) SpansInProgress() *SpanTable { return i.probe.SpansInProgress() }

// Constants returns a copy of the offsets the probes are parameterized with.
func (i *Instrumentation) Constants() map[string]uint64 {
	out := make(map[string]uint64, len(i.consts))
	for k, v := range i.consts {
		out[k] = v
	}
	return out
}

// Layout returns the map layout used to read request headers.
func (i *Instrumentation) Layout() gomap.Layout { return i.layout }

// GoVersion returns the Go version of the target.
func (i *Instrumentation) GoVersion() *version.Version { return i.goVersion }

// Run reads the records emitted by the probes and passes their spans to the
// traces consumer. It returns nil once ctx is done or i is closed.
//
// Cancelling ctx only stops reading: probes keep buffering records, and a
// later call to Run resumes delivering them. Close releases the output.
func (i *Instrumentation) Run(ctx context.Context) error {
	for {
		rec, err := i.output.ReadContext(ctx)
		if err != nil {
			if errors.Is(err, perf.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading records: %w", err)
		}
		i.handle(ctx, rec)
	}
}

func (i *Instrumentation) handle(ctx context.Context, rec perf.Record) {
	if rec.LostSamples > 0 {
		i.logger.Info("records lost", "cpu", rec.CPU, "count", rec.LostSamples)
	}
	if len(rec.RawSample) == 0 {
		return
	}

	e, err := server.DecodeRecord(rec)
	if err != nil {
		i.logger.Error(err, "failed to decode record", "cpu", rec.CPU)
		return
	}

	spans := server.ConvertRecord(e)
	if spans.Len() == 0 {
		return
	}

	td := ptrace.NewTraces()
	ss := td.ResourceSpans().AppendEmpty().ScopeSpans().AppendEmpty()
	ss.Scope().SetName(scopeName)
	ss.Scope().SetVersion(Version())
	spans.MoveAndAppendTo(ss.Spans())

	if err := i.consumer.ConsumeTraces(ctx, td); err != nil {
		i.logger.Error(err, "failed to consume traces")
	}
}

// Close stops Run and releases the target memory. It is safe to call more
// than once.
func (i *Instrumentation) Close() error {
	i.closeOnce.Do(func() {
		if i.output != nil {
			i.closeErr = i.output.Close()
		}
		if i.memCloser != nil {
			i.closeErr = errors.Join(i.closeErr, i.memCloser.Close())
		}
	})
	return i.closeErr
}

// InstrumentationOption applies a configuration option to [Instrumentation].
type InstrumentationOption interface {
	apply(context.Context, instConfig) (instConfig, error)
}

type instConfig struct {
	pid          process.ID
	mem          io.ReaderAt
	goVersion    *version.Version
	layouts      gomap.Layouts
	logger       logr.Logger
	logLevel     LogLevel
	registerer   prometheus.Registerer
	idGenerator  sdktrace.IDGenerator
	consumer     consumer.Traces
	outputBuffer int
	spans        *SpanTable
}

func newInstConfig(ctx context.Context, opts []InstrumentationOption) (instConfig, error) {
	var (
		c   instConfig
		err error
	)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		var e error
		c, e = opt.apply(ctx, c)
		err = errors.Join(err, e)
	}
	if err != nil {
		return c, err
	}

	if c.logger.GetSink() == nil {
		if c.logger, err = log.New(c.logLevel.level()); err != nil {
			return c, err
		}
	}
	if c.layouts == nil {
		c.layouts = gomap.DefaultLayouts()
	}
	if c.outputBuffer == 0 {
		c.outputBuffer = defaultOutputBuffer
	}
	if c.consumer == nil {
		if c.consumer, err = logConsumer(c.logger); err != nil {
			return c, err
		}
	}
	if c.goVersion == nil && c.pid != 0 {
		if c.goVersion, err = c.pid.GoVersion(); err != nil {
			return c, fmt.Errorf("reading target Go version: %w", err)
		}
	}

	return c, c.validate()
}

func (c instConfig) validate() error {
	var err error
	if c.pid == 0 && c.mem == nil {
		err = errors.Join(err, errors.New("undefined target: set a PID or the target memory"))
	}
	if c.goVersion == nil {
		err = errors.Join(err, errors.New("undefined target Go version"))
	}
	if c.pid != 0 && c.mem == nil {
		err = errors.Join(err, c.pid.Validate())
	}
	return err
}

// logConsumer returns a consumer logging the spans it receives.
func logConsumer(l logr.Logger) (consumer.Traces, error) {
	return consumer.NewTraces(func(_ context.Context, td ptrace.Traces) error {
		rs := td.ResourceSpans()
		for i := 0; i < rs.Len(); i++ {
			ss := rs.At(i).ScopeSpans()
			for j := 0; j < ss.Len(); j++ {
				spans := ss.At(j).Spans()
				for k := 0; k < spans.Len(); k++ {
					s := spans.At(k)
					l.Info(
						"span",
						"name", s.Name(),
						"trace.id", s.TraceID().String(),
						"span.id", s.SpanID().String(),
						"parent.id", s.ParentSpanID().String(),
					)
				}
			}
		}
		return nil
	})
}

type fnOpt func(context.Context, instConfig) (instConfig, error)

func (o fnOpt) apply(ctx context.Context, c instConfig) (instConfig, error) { return o(ctx, c) }

// WithPID returns an [InstrumentationOption] defining the process
// [Instrumentation] reads requests from. The target memory and Go version
// are read from the process unless set with [WithMemory] and
// [WithGoVersion].
func WithPID(pid int) InstrumentationOption {
	return fnOpt(func(_ context.Context, c instConfig) (instConfig, error) {
		c.pid = process.ID(pid)
		return c, nil
	})
}

// WithMemory returns an [InstrumentationOption] defining the address space
// of the target. Addresses are used as offsets into mem.
func WithMemory(mem io.ReaderAt) InstrumentationOption {
	return fnOpt(func(_ context.Context, c instConfig) (instConfig, error) {
		c.mem = mem
		return c, nil
	})
}

// WithGoVersion returns an [InstrumentationOption] defining the Go version
// the target was built with. Both "1.22.5" and "go1.22.5" are accepted.
func WithGoVersion(v string) InstrumentationOption {
	return fnOpt(func(_ context.Context, c instConfig) (instConfig, error) {
		ver, err := parseGoVersion(v)
		if err != nil {
			return c, err
		}
		c.goVersion = ver
		return c, nil
	})
}

func parseGoVersion(v string) (*version.Version, error) {
	if len(v) > 2 && v[:2] == "go" {
		v = v[2:]
	}
	ver, err := version.NewVersion(v)
	if err != nil {
		return nil, fmt.Errorf("invalid Go version %q: %w", v, err)
	}
	return ver, nil
}

// WithLogger returns an [InstrumentationOption] that will configure an
// [Instrumentation] to use the provided logger. It takes precedence over
// [WithLogLevel].
func WithLogger(l logr.Logger) InstrumentationOption {
	return fnOpt(func(_ context.Context, c instConfig) (instConfig, error) {
		c.logger = l
		return c, nil
	})
}

// WithLogLevel returns an [InstrumentationOption] that will configure an
// [Instrumentation] with the logger level visibility defined as inputted.
func WithLogLevel(level LogLevel) InstrumentationOption {
	return fnOpt(func(_ context.Context, c instConfig) (instConfig, error) {
		if err := level.validate(); err != nil {
			return c, err
		}
		c.logLevel = level
		return c, nil
	})
}

// WithLayouts returns an [InstrumentationOption] replacing the known map
// layouts with the YAML descriptors read from r.
func WithLayouts(r io.Reader) InstrumentationOption {
	return fnOpt(func(_ context.Context, c instConfig) (instConfig, error) {
		ls, err := gomap.LoadLayouts(r)
		if err != nil {
			return c, err
		}
		c.layouts = ls
		return c, nil
	})
}

// WithRegisterer returns an [InstrumentationOption] registering the probe
// metrics with reg.
func WithRegisterer(reg prometheus.Registerer) InstrumentationOption {
	return fnOpt(func(_ context.Context, c instConfig) (instConfig, error) {
		c.registerer = reg
		return c, nil
	})
}

// WithIDGenerator returns an [InstrumentationOption] defining how trace and
// span IDs are generated.
func WithIDGenerator(gen sdktrace.IDGenerator) InstrumentationOption {
	return fnOpt(func(_ context.Context, c instConfig) (instConfig, error) {
		c.idGenerator = gen
		return c, nil
	})
}

// WithTracesConsumer returns an [InstrumentationOption] defining where the
// produced spans are sent. Spans are logged if it is not set.
func WithTracesConsumer(tc consumer.Traces) InstrumentationOption {
	return fnOpt(func(_ context.Context, c instConfig) (instConfig, error) {
		c.consumer = tc
		return c, nil
	})
}

// WithOutputBuffer returns an [InstrumentationOption] defining how many
// records are buffered before they are dropped.
func WithOutputBuffer(n int) InstrumentationOption {
	return fnOpt(func(_ context.Context, c instConfig) (instConfig, error) {
		if n <= 0 {
			return c, fmt.Errorf("invalid output buffer size %d", n)
		}
		c.outputBuffer = n
		return c, nil
	})
}

// WithSpansInProgress returns an [InstrumentationOption] sharing t as the
// table of the span context of the requests being served.
func WithSpansInProgress(t *SpanTable) InstrumentationOption {
	return fnOpt(func(_ context.Context, c instConfig) (instConfig, error) {
		c.spans = t
		return c, nil
	})
}

// envConfig holds the configuration read by [WithEnv].
type envConfig struct {
	PID          int      `env:"OTEL_GO_AUTO_TARGET_PID"`
	GoVersion    string   `env:"OTEL_GO_AUTO_GO_VERSION"`
	LayoutsFile  string   `env:"OTEL_GO_AUTO_LAYOUTS_FILE"`
	OutputBuffer int      `env:"OTEL_GO_AUTO_OUTPUT_BUFFER"`
	LogLevel     LogLevel `env:"OTEL_LOG_LEVEL"`
}

// WithEnv returns an [InstrumentationOption] that will configure
// [Instrumentation] using the values defined by the following environment
// variables:
//
//   - OTEL_GO_AUTO_TARGET_PID: sets the target process
//   - OTEL_GO_AUTO_GO_VERSION: sets the Go version of the target
//   - OTEL_GO_AUTO_LAYOUTS_FILE: sets the YAML file of map layouts
//   - OTEL_GO_AUTO_OUTPUT_BUFFER: sets the record buffer size
//   - OTEL_LOG_LEVEL: sets the logging level
//
// This option may conflict with options that set the same values. The
// last option applied wins.
func WithEnv() InstrumentationOption {
	return fnOpt(func(_ context.Context, c instConfig) (instConfig, error) {
		var e envConfig
		if err := env.Parse(&e); err != nil {
			return c, fmt.Errorf("parsing environment: %w", err)
		}

		var err error
		if e.PID != 0 {
			c.pid = process.ID(e.PID)
		}
		if e.GoVersion != "" {
			ver, vErr := parseGoVersion(e.GoVersion)
			err = errors.Join(err, vErr)
			c.goVersion = ver
		}
		if e.LayoutsFile != "" {
			ls, lErr := loadLayoutsFile(e.LayoutsFile)
			err = errors.Join(err, lErr)
			c.layouts = ls
		}
		if e.OutputBuffer < 0 {
			err = errors.Join(err, fmt.Errorf("invalid output buffer size %d", e.OutputBuffer))
		} else if e.OutputBuffer > 0 {
			c.outputBuffer = e.OutputBuffer
		}
		if e.LogLevel != logLevelUndefined {
			c.logLevel = e.LogLevel
		}
		return c, err
	})
}

func loadLayoutsFile(path string) (gomap.Layouts, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening map layouts: %w", err)
	}
	defer f.Close()
	return gomap.LoadLayouts(f)
}
