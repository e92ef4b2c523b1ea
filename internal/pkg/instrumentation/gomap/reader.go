// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package gomap reads Go runtime maps out of the memory of another process.
//
// The reader is restricted to what can be done in a single bounded pass:
// only the first bucket of a map is inspected, overflow buckets are not
// followed and every copy has a fixed size. Entries hashed into any other
// bucket are not found.
package gomap

import (
	"bytes"
	"encoding/binary"
	"io"

	"go.opentelemetry.io/autohttp/internal/pkg/process"
)

// scannedBuckets is the number of buckets inspected per lookup.
const scannedBuckets = 1

// Scratch is the working memory of a lookup. It is reused across lookups
// and overwritten before every read.
type Scratch struct {
	Bucket []byte
	Key    []byte
	Value  []byte
}

// NewScratch returns a Scratch for buckets of layout l, keys up to maxKey
// bytes and values up to maxValue bytes.
func NewScratch(l Layout, maxKey, maxValue int) *Scratch {
	return &Scratch{
		Bucket: make([]byte, l.BucketSize()),
		Key:    make([]byte, maxKey),
		Value:  make([]byte, maxValue),
	}
}

// Reader looks up string keys of a map[string][]string, such as an
// http.Header, in foreign memory.
type Reader struct {
	layout Layout
}

// NewReader returns a Reader for maps laid out as l.
func NewReader(l Layout) (*Reader, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &Reader{layout: l}, nil
}

// Layout returns the layout used by r.
func (r *Reader) Layout() Layout { return r.layout }

// Lookup finds the first value stored for any of keys in the map whose
// runtime.hmap header is at hmap. All keys must have the same length. The
// value must be exactly valueLen bytes long.
//
// The returned slice aliases s.Value. False is returned if the map is empty,
// the key is not in the first bucket, the value has another length or any
// read fails.
func (r *Reader) Lookup(mem io.ReaderAt, hmap uint64, s *Scratch, keys [][]byte, valueLen int) ([]byte, bool) {
	if hmap == 0 || s == nil || len(keys) == 0 {
		return nil, false
	}
	if uint64(len(s.Bucket)) < r.layout.BucketSize() {
		return nil, false
	}

	if process.ReadUint64(mem, hmap+r.layout.CountOffset) == 0 {
		return nil, false
	}

	var logBuckets [1]byte
	if !process.ProbeRead(mem, logBuckets[:], hmap+r.layout.LogBucketsOffset) {
		return nil, false
	}
	nBuckets := uint64(1) << (logBuckets[0] & 63)
	nBuckets = min(nBuckets, scannedBuckets)

	buckets := process.ReadPointer(mem, hmap+r.layout.BucketsOffset)
	bucketSize := r.layout.BucketSize()
	bucket := s.Bucket[:bucketSize]
	for j := uint64(0); j < nBuckets; j++ {
		if !process.ProbeRead(mem, bucket, buckets+j*bucketSize) {
			return nil, false
		}
		if v, ok := ScanBucket(r.layout, bucket, mem, s, keys, valueLen); ok {
			return v, true
		}
	}
	return nil, false
}

// ScanBucket searches the copied bucket for any of keys. Key and value data
// are read from mem into s.
func ScanBucket(l Layout, bucket []byte, mem io.ReaderAt, s *Scratch, keys [][]byte, valueLen int) ([]byte, bool) {
	if s == nil || len(keys) == 0 || uint64(len(bucket)) < l.BucketSize() {
		return nil, false
	}
	if len(keys[0]) > len(s.Key) || valueLen < 0 || valueLen > len(s.Value) {
		return nil, false
	}

	keyLen := uint64(len(keys[0])) // nolint: gosec  // Non-negative.
	key := s.Key[:keyLen]
	value := s.Value[:valueLen]

	slots := min(l.BucketSlots, MaxBucketSlots)
	for i := 0; i < slots; i++ {
		if bucket[i] < l.MinTopHash {
			continue
		}

		k := l.KeysOffset() + uint64(i)*l.KeySize // nolint: gosec  // Bounded.
		kPtr := binary.LittleEndian.Uint64(bucket[k:])
		kLen := binary.LittleEndian.Uint64(bucket[k+process.PointerSize:])
		if kLen != keyLen {
			continue
		}
		if !process.ProbeRead(mem, key, kPtr) || !matchAny(key, keys) {
			continue
		}

		// The value is a []string; its first element holds the header value.
		v := l.ValuesOffset() + uint64(i)*l.ValueSize // nolint: gosec  // Bounded.
		elems := binary.LittleEndian.Uint64(bucket[v:])
		if binary.LittleEndian.Uint64(bucket[v+process.PointerSize:]) == 0 {
			continue
		}
		vPtr := process.ReadPointer(mem, elems)
		vLen := process.ReadUint64(mem, elems+process.PointerSize)
		if vLen != uint64(valueLen) { // nolint: gosec  // Non-negative.
			continue
		}
		if !process.ProbeRead(mem, value, vPtr) {
			continue
		}
		return value, true
	}
	return nil, false
}

func matchAny(key []byte, keys [][]byte) bool {
	for _, k := range keys {
		if bytes.Equal(key, k) {
			return true
		}
	}
	return false
}
