// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package bpfmap provides in-process models of the kernel maps used by the
// probes: a fixed-capacity hash table, per-CPU scratch storage and a
// perf event output channel.
//
// The models follow the semantics of the kernel maps they stand for. Every
// container is sized when it is created and no operation blocks.
package bpfmap

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cilium/ebpf"
	"golang.org/x/sys/unix"
)

// Hash is a fixed-capacity hash table with the semantics of a BPF_MAP_TYPE_HASH
// map. Keys and values are copied in and out. Each operation is atomic on
// its own; sequences of operations are not.
type Hash[K comparable, V any] struct {
	name     string
	capacity int

	mu      sync.Mutex
	entries map[K]V
}

// NewHash returns an empty Hash declared by spec.
func NewHash[K comparable, V any](spec *ebpf.MapSpec) (*Hash[K, V], error) {
	if spec == nil {
		return nil, errors.New("nil map spec")
	}
	if spec.Type != ebpf.Hash {
		return nil, fmt.Errorf("map %s: unsupported type %s", spec.Name, spec.Type)
	}
	if spec.MaxEntries == 0 {
		return nil, fmt.Errorf("map %s: max entries must be positive", spec.Name)
	}
	return &Hash[K, V]{
		name:     spec.Name,
		capacity: int(spec.MaxEntries),
		entries:  make(map[K]V, spec.MaxEntries),
	}, nil
}

// Name returns the name of the map spec h was created from.
func (h *Hash[K, V]) Name() string { return h.name }

// Cap returns the capacity of h.
func (h *Hash[K, V]) Cap() int { return h.capacity }

// Update stores a copy of *val for key.
//
// With ebpf.UpdateAny an existing value is overwritten, otherwise the key is
// inserted. ebpf.UpdateNoExist fails with ebpf.ErrKeyExist if the key is
// present and ebpf.UpdateExist fails with ebpf.ErrKeyNotExist if it is not.
// Inserting into a full table fails with unix.E2BIG; nothing is evicted.
func (h *Hash[K, V]) Update(key K, val *V, flags ebpf.MapUpdateFlags) error {
	if val == nil {
		return fmt.Errorf("update %s: nil value", h.name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	_, exists := h.entries[key]
	switch flags {
	case ebpf.UpdateAny:
	case ebpf.UpdateNoExist:
		if exists {
			return fmt.Errorf("update %s: %w", h.name, ebpf.ErrKeyExist)
		}
	case ebpf.UpdateExist:
		if !exists {
			return fmt.Errorf("update %s: %w", h.name, ebpf.ErrKeyNotExist)
		}
	default:
		return fmt.Errorf("update %s: unsupported flags %d", h.name, flags)
	}

	if !exists && len(h.entries) >= h.capacity {
		return fmt.Errorf("update %s: %w", h.name, unix.E2BIG)
	}
	h.entries[key] = *val
	return nil
}

// Lookup copies the value stored for key into val. It returns
// ebpf.ErrKeyNotExist if key is absent.
func (h *Hash[K, V]) Lookup(key K, val *V) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	v, ok := h.entries[key]
	if !ok {
		return fmt.Errorf("lookup %s: %w", h.name, ebpf.ErrKeyNotExist)
	}
	if val != nil {
		*val = v
	}
	return nil
}

// Delete removes key. It returns ebpf.ErrKeyNotExist if key is absent.
func (h *Hash[K, V]) Delete(key K) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.entries[key]; !ok {
		return fmt.Errorf("delete %s: %w", h.name, ebpf.ErrKeyNotExist)
	}
	delete(h.entries, key)
	return nil
}

// Len returns the number of stored entries.
func (h *Hash[K, V]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.entries)
}
