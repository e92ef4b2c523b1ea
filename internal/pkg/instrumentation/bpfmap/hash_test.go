// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package bpfmap

import (
	"sync"
	"testing"

	"github.com/cilium/ebpf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newHash(t *testing.T, capacity uint32) *Hash[uint64, string] {
	t.Helper()

	h, err := NewHash[uint64, string](&ebpf.MapSpec{
		Name:       "test_map",
		Type:       ebpf.Hash,
		KeySize:    8,
		MaxEntries: capacity,
	})
	require.NoError(t, err)
	return h
}

func ptr[T any](v T) *T { return &v }

func TestNewHashInvalid(t *testing.T) {
	_, err := NewHash[uint64, string](nil)
	assert.Error(t, err)

	_, err = NewHash[uint64, string](&ebpf.MapSpec{Name: "arr", Type: ebpf.Array, MaxEntries: 1})
	assert.Error(t, err)

	_, err = NewHash[uint64, string](&ebpf.MapSpec{Name: "empty", Type: ebpf.Hash})
	assert.Error(t, err)
}

func TestHashUpdateFlags(t *testing.T) {
	h := newHash(t, 4)

	require.NoError(t, h.Update(1, ptr("a"), ebpf.UpdateNoExist))
	assert.ErrorIs(t, h.Update(1, ptr("b"), ebpf.UpdateNoExist), ebpf.ErrKeyExist)
	assert.ErrorIs(t, h.Update(2, ptr("b"), ebpf.UpdateExist), ebpf.ErrKeyNotExist)

	require.NoError(t, h.Update(1, ptr("c"), ebpf.UpdateExist))
	require.NoError(t, h.Update(1, ptr("d"), ebpf.UpdateAny))

	var got string
	require.NoError(t, h.Lookup(1, &got))
	assert.Equal(t, "d", got, "last writer wins")
	assert.Equal(t, 1, h.Len())

	assert.Error(t, h.Update(1, nil, ebpf.UpdateAny))
	assert.Error(t, h.Update(1, ptr("e"), ebpf.UpdateLock))
}

func TestHashCopies(t *testing.T) {
	h := newHash(t, 1)

	v := "original"
	require.NoError(t, h.Update(1, &v, ebpf.UpdateAny))
	v = "changed"

	var got string
	require.NoError(t, h.Lookup(1, &got))
	assert.Equal(t, "original", got)
}

func TestHashFull(t *testing.T) {
	const capacity = 50
	h := newHash(t, capacity)

	for i := uint64(0); i < capacity; i++ {
		require.NoError(t, h.Update(i, ptr("v"), ebpf.UpdateAny))
	}
	assert.Equal(t, capacity, h.Len())

	err := h.Update(capacity, ptr("new"), ebpf.UpdateAny)
	assert.ErrorIs(t, err, unix.E2BIG)
	assert.Equal(t, capacity, h.Len(), "nothing evicted")
	assert.ErrorIs(t, h.Lookup(capacity, nil), ebpf.ErrKeyNotExist)

	require.NoError(t, h.Update(0, ptr("overwrite"), ebpf.UpdateAny), "existing key when full")
	var got string
	require.NoError(t, h.Lookup(0, &got))
	assert.Equal(t, "overwrite", got)

	require.NoError(t, h.Delete(1))
	require.NoError(t, h.Update(capacity, ptr("new"), ebpf.UpdateAny), "room after delete")
}

func TestHashDelete(t *testing.T) {
	h := newHash(t, 2)

	assert.ErrorIs(t, h.Delete(1), ebpf.ErrKeyNotExist)
	require.NoError(t, h.Update(1, ptr("a"), ebpf.UpdateAny))
	require.NoError(t, h.Delete(1))
	assert.ErrorIs(t, h.Delete(1), ebpf.ErrKeyNotExist)
	assert.ErrorIs(t, h.Lookup(1, new(string)), ebpf.ErrKeyNotExist)
	assert.Equal(t, 0, h.Len())
}

func TestHashConcurrent(t *testing.T) {
	const capacity = 50
	h := newHash(t, capacity)

	var wg sync.WaitGroup
	for i := 0; i < 2*capacity; i++ {
		wg.Add(1)
		go func(key uint64) {
			defer wg.Done()
			_ = h.Update(key, ptr("v"), ebpf.UpdateAny)
		}(uint64(i))
	}
	wg.Wait()

	assert.Equal(t, capacity, h.Len())
}
