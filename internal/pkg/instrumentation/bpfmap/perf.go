// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package bpfmap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/perf"
	"golang.org/x/sys/unix"
)

// PerfEventArray is the output channel from probes to user space, modeled
// after a BPF_MAP_TYPE_PERF_EVENT_ARRAY read with a perf.Reader.
//
// Writers never block: when the buffer is full the sample is dropped and
// counted. The count is reported in LostSamples of the next record
// delivered for the same CPU.
type PerfEventArray struct {
	name string

	mu      sync.Mutex
	lost    []uint64
	records chan perf.Record
	closed  bool
	done    chan struct{}
}

// NewPerfEventArray returns a PerfEventArray for nCPU CPUs buffering up to
// size records.
func NewPerfEventArray(spec *ebpf.MapSpec, nCPU, size int) (*PerfEventArray, error) {
	if spec == nil {
		return nil, errors.New("nil map spec")
	}
	if spec.Type != ebpf.PerfEventArray {
		return nil, fmt.Errorf("map %s: unsupported type %s", spec.Name, spec.Type)
	}
	if nCPU <= 0 {
		return nil, fmt.Errorf("map %s: invalid CPU count %d", spec.Name, nCPU)
	}
	if size <= 0 {
		return nil, fmt.Errorf("map %s: invalid buffer size %d", spec.Name, size)
	}
	return &PerfEventArray{
		name:    spec.Name,
		lost:    make([]uint64, nCPU),
		records: make(chan perf.Record, size),
		done:    make(chan struct{}),
	}, nil
}

// Output submits a copy of sample from cpu. It returns unix.ENOSPC when the
// sample was dropped and perf.ErrClosed after Close.
func (p *PerfEventArray) Output(cpu int, sample []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return perf.ErrClosed
	}
	if cpu < 0 || cpu >= len(p.lost) {
		return fmt.Errorf("output %s: invalid CPU %d", p.name, cpu)
	}

	rec := perf.Record{
		CPU:         cpu,
		RawSample:   append([]byte(nil), sample...),
		LostSamples: p.lost[cpu],
	}
	select {
	case p.records <- rec:
		p.lost[cpu] = 0
		return nil
	default:
		p.lost[cpu]++
		return fmt.Errorf("output %s: %w", p.name, unix.ENOSPC)
	}
}

// Read blocks until a record is available. It returns perf.ErrClosed once
// the array is closed.
func (p *PerfEventArray) Read() (perf.Record, error) {
	return p.ReadContext(context.Background())
}

// ReadContext is Read that also returns ctx.Err() once ctx is done. Records
// not read stay buffered.
func (p *PerfEventArray) ReadContext(ctx context.Context) (perf.Record, error) {
	select {
	case <-p.done:
		return perf.Record{}, perf.ErrClosed
	default:
	}

	select {
	case rec := <-p.records:
		rec.Remaining = len(p.records)
		return rec, nil
	case <-p.done:
		return perf.Record{}, perf.ErrClosed
	case <-ctx.Done():
		return perf.Record{}, ctx.Err()
	}
}

// Close unblocks pending reads and rejects further output. It is safe to
// call more than once.
func (p *PerfEventArray) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		p.closed = true
		close(p.done)
	}
	return nil
}
