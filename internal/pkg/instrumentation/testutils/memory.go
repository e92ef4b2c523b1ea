// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutils provides a fake target address space for probe tests.
package testutils

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/gomap"
)

// baseAddr is the lowest address handed out by a Memory.
const baseAddr = 0xc000010000

// Memory is a contiguous fake address space starting at baseAddr. Reads
// outside of allocated memory fail like a fault in a real process.
type Memory struct {
	mu   sync.RWMutex
	data []byte
}

var _ io.ReaderAt = (*Memory)(nil)

// NewMemory returns an empty Memory.
func NewMemory() *Memory { return &Memory{} }

// ReadAt implements io.ReaderAt over virtual addresses.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if off < baseAddr || off-baseAddr+int64(len(p)) > int64(len(m.data)) {
		return 0, fmt.Errorf("fault reading %d bytes at %#x", len(p), off)
	}
	return copy(p, m.data[off-baseAddr:]), nil
}

// Alloc reserves size zeroed bytes aligned to 8 and returns their address.
func (m *Memory) Alloc(size int) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pad := len(m.data) % 8; pad != 0 {
		m.data = append(m.data, make([]byte, 8-pad)...)
	}
	addr := baseAddr + uint64(len(m.data))
	m.data = append(m.data, make([]byte, size)...)
	return addr
}

// Write copies b to addr. The range must already be allocated.
func (m *Memory) Write(addr uint64, b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copy(m.data[addr-baseAddr:], b)
}

// PutUint64 writes v at addr.
func (m *Memory) PutUint64(addr, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	m.Write(addr, buf[:])
}

// Bytes allocates a copy of b and returns its address.
func (m *Memory) Bytes(b []byte) uint64 {
	addr := m.Alloc(len(b))
	m.Write(addr, b)
	return addr
}

// PutString writes a Go string header for s at addr. The string data is
// allocated separately.
func (m *Memory) PutString(addr uint64, s string) {
	var data uint64
	if len(s) > 0 {
		data = m.Bytes([]byte(s))
	}
	m.PutUint64(addr, data)
	m.PutUint64(addr+8, uint64(len(s)))
}

// PutStringSlice writes a []string header for vals at addr. The backing
// array and the string data are allocated separately.
func (m *Memory) PutStringSlice(addr uint64, vals []string) {
	var arr uint64
	if len(vals) > 0 {
		arr = m.Alloc(16 * len(vals))
		for i, v := range vals {
			m.PutString(arr+uint64(16*i), v)
		}
	}
	m.PutUint64(addr, arr)
	m.PutUint64(addr+8, uint64(len(vals)))
	m.PutUint64(addr+16, uint64(len(vals)))
}

// MapEntry is an entry of a fake map[string][]string.
type MapEntry struct {
	Key    string
	Values []string
	// Bucket is the index of the bucket the entry is stored in.
	Bucket int
	// TopHash overrides the tophash of the cell. Zero means occupied with a
	// default hash.
	TopHash uint8
}

// defaultTopHash is any value marking an occupied cell.
const defaultTopHash = 0xa7

// Map lays out a map[string][]string with 1<<logBuckets buckets as
// described by l and returns the address of its header. Entries fill the
// cells of their bucket in order. Count overrides the element count in the
// header when non-negative.
func (m *Memory) Map(l gomap.Layout, logBuckets uint8, count int, entries ...MapEntry) uint64 {
	hdr := m.Alloc(48)
	nBuckets := 1 << logBuckets
	bucketSize := l.BucketSize()
	buckets := m.Alloc(nBuckets * int(bucketSize))

	used := make([]int, nBuckets)
	for _, e := range entries {
		slot := used[e.Bucket]
		if slot >= l.BucketSlots {
			panic(fmt.Sprintf("bucket %d full", e.Bucket))
		}
		used[e.Bucket]++

		b := buckets + uint64(e.Bucket)*bucketSize
		th := e.TopHash
		if th == 0 {
			th = defaultTopHash
		}
		m.Write(b+uint64(slot), []byte{th})
		m.PutString(b+l.KeysOffset()+uint64(slot)*l.KeySize, e.Key)
		m.PutStringSlice(b+l.ValuesOffset()+uint64(slot)*l.ValueSize, e.Values)
	}

	if count < 0 {
		count = len(entries)
	}
	m.PutUint64(hdr+l.CountOffset, uint64(count))
	m.Write(hdr+l.LogBucketsOffset, []byte{logBuckets})
	m.PutUint64(hdr+l.BucketsOffset, buckets)
	return hdr
}
