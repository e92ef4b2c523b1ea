// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package bpfmap

import (
	"errors"
	"fmt"

	"github.com/cilium/ebpf"
)

// PerCPUArray holds one value per CPU, like a single-entry
// BPF_MAP_TYPE_PERCPU_ARRAY. Values are not synchronized: a slot must only
// be used by the probe invocation currently running on its CPU.
type PerCPUArray[T any] struct {
	name  string
	slots []*T
}

// NewPerCPUArray returns a PerCPUArray with nCPU slots, each allocated by
// newFn.
func NewPerCPUArray[T any](spec *ebpf.MapSpec, nCPU int, newFn func() *T) (*PerCPUArray[T], error) {
	if spec == nil {
		return nil, errors.New("nil map spec")
	}
	if spec.Type != ebpf.PerCPUArray {
		return nil, fmt.Errorf("map %s: unsupported type %s", spec.Name, spec.Type)
	}
	if nCPU <= 0 {
		return nil, fmt.Errorf("map %s: invalid CPU count %d", spec.Name, nCPU)
	}
	if newFn == nil {
		newFn = func() *T { return new(T) }
	}

	slots := make([]*T, nCPU)
	for i := range slots {
		slots[i] = newFn()
	}
	return &PerCPUArray[T]{name: spec.Name, slots: slots}, nil
}

// Lookup returns the slot of cpu, or nil if cpu is out of range.
func (a *PerCPUArray[T]) Lookup(cpu int) *T {
	if cpu < 0 || cpu >= len(a.slots) {
		return nil
	}
	return a.slots[cpu]
}

// Len returns the number of slots.
func (a *PerCPUArray[T]) Len() int { return len(a.slots) }
