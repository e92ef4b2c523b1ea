// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package gomap_test

import (
	"strings"
	"testing"

	"github.com/hashicorp/go-version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/gomap"
)

func TestDefaultLayouts(t *testing.T) {
	ls := gomap.DefaultLayouts()
	require.Len(t, ls, 1)

	l := ls[0]
	assert.Equal(t, uint64(0), l.CountOffset)
	assert.Equal(t, uint64(9), l.LogBucketsOffset)
	assert.Equal(t, uint64(16), l.BucketsOffset)
	assert.Equal(t, 8, l.BucketSlots)
	assert.Equal(t, uint8(5), l.MinTopHash)
	assert.Equal(t, uint64(8), l.KeysOffset())
	assert.Equal(t, uint64(136), l.ValuesOffset())
	assert.Equal(t, uint64(336), l.BucketSize())
}

func TestLayoutsFind(t *testing.T) {
	ls := gomap.DefaultLayouts()

	for _, v := range []string{"1.12.0", "1.21.5", "1.23.4"} {
		t.Run(v, func(t *testing.T) {
			l, err := ls.Find(version.Must(version.NewVersion(v)))
			require.NoError(t, err)
			assert.Equal(t, "hmap-bmap", l.Name)
		})
	}

	for _, v := range []string{"1.11.0", "1.24.0", "1.25.1"} {
		t.Run(v, func(t *testing.T) {
			_, err := ls.Find(version.Must(version.NewVersion(v)))
			assert.ErrorIs(t, err, gomap.ErrUnsupportedLayout)
		})
	}

	_, err := ls.Find(nil)
	assert.ErrorIs(t, err, gomap.ErrUnsupportedLayout)
}

func TestLoadLayouts(t *testing.T) {
	const doc = `
- name: narrow
  versions: ">= 1.0"
  count_offset: 8
  log2_buckets_offset: 17
  buckets_offset: 24
  bucket_slots: 4
  min_top_hash: 2
  key_size: 16
  value_size: 24
`
	ls, err := gomap.LoadLayouts(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, ls, 1)
	assert.Equal(t, "narrow", ls[0].Name)
	assert.Equal(t, uint64(4+64+96+8), ls[0].BucketSize())
	assert.True(t, ls[0].Matches(version.Must(version.NewVersion("1.2.3"))))
}

func TestLoadLayoutsInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "Syntax",
			doc:  "- name: [",
			want: "decoding map layouts",
		},
		{
			name: "Slots",
			doc:  "- {name: wide, bucket_slots: 16, key_size: 16, value_size: 24}",
			want: "bucket_slots 16 out of range",
		},
		{
			name: "KeySize",
			doc:  "- {name: small, bucket_slots: 8, key_size: 8, value_size: 24}",
			want: "key_size 8",
		},
		{
			name: "ValueSize",
			doc:  "- {name: small, bucket_slots: 8, key_size: 16, value_size: 16}",
			want: "value_size 16",
		},
		{
			name: "Versions",
			doc:  "- {name: bad, versions: '~~1', bucket_slots: 8, key_size: 16, value_size: 24}",
			want: "versions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gomap.LoadLayouts(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLayoutWithoutVersionsNeverMatches(t *testing.T) {
	l := gomap.Layout{Name: "any", BucketSlots: 8, KeySize: 16, ValueSize: 24}
	require.NoError(t, l.Validate())
	assert.False(t, l.Matches(version.Must(version.NewVersion("1.20"))))
}
