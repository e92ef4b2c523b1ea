// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package gomap

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/go-version"
	"gopkg.in/yaml.v3"

	"go.opentelemetry.io/autohttp/internal/pkg/process"
)

// MaxBucketSlots is the largest bucket width a Layout may declare. It bounds
// every scan loop.
const MaxBucketSlots = 8

// ErrUnsupportedLayout is returned when no Layout describes the map
// implementation of a Go version.
var ErrUnsupportedLayout = errors.New("unsupported Go map layout")

//go:embed layouts.yaml
var defaultLayouts []byte

// Layout describes the memory layout of a bucketed Go runtime map (the
// runtime.hmap header and its runtime.bmap buckets) for a range of Go
// versions.
//
// A bucket is laid out as
//
//	tophash [BucketSlots]uint8
//	keys    [BucketSlots]key     // KeySize bytes each
//	values  [BucketSlots]value   // ValueSize bytes each
//	overflow *bmap
type Layout struct {
	// Name identifies the layout in logs.
	Name string `yaml:"name"`
	// Versions is the Go version constraint the layout applies to.
	Versions string `yaml:"versions"`

	// CountOffset is the offset of hmap.count (int).
	CountOffset uint64 `yaml:"count_offset"`
	// LogBucketsOffset is the offset of hmap.B (uint8), the log2 of the
	// number of buckets.
	LogBucketsOffset uint64 `yaml:"log2_buckets_offset"`
	// BucketsOffset is the offset of hmap.buckets (pointer).
	BucketsOffset uint64 `yaml:"buckets_offset"`

	// BucketSlots is the number of cells in a bucket.
	BucketSlots int `yaml:"bucket_slots"`
	// MinTopHash is the smallest tophash value of an occupied cell. Smaller
	// values mark empty or evacuated cells.
	MinTopHash uint8 `yaml:"min_top_hash"`
	// KeySize is the size of a key cell.
	KeySize uint64 `yaml:"key_size"`
	// ValueSize is the size of a value cell.
	ValueSize uint64 `yaml:"value_size"`

	constraints version.Constraints
}

// Validate returns an error if l cannot be used to scan a map.
func (l *Layout) Validate() error {
	var err error
	if l.BucketSlots <= 0 || l.BucketSlots > MaxBucketSlots {
		err = errors.Join(err, fmt.Errorf("bucket_slots %d out of range (1-%d)", l.BucketSlots, MaxBucketSlots))
	}
	if l.KeySize < 2*process.PointerSize {
		err = errors.Join(err, fmt.Errorf("key_size %d smaller than a string header", l.KeySize))
	}
	if l.ValueSize < 3*process.PointerSize {
		err = errors.Join(err, fmt.Errorf("value_size %d smaller than a slice header", l.ValueSize))
	}
	if l.Versions != "" {
		c, e := version.NewConstraint(l.Versions)
		if e != nil {
			err = errors.Join(err, fmt.Errorf("versions %q: %w", l.Versions, e))
		}
		l.constraints = c
	}
	if err != nil {
		return fmt.Errorf("layout %q: %w", l.Name, err)
	}
	return nil
}

// KeysOffset returns the offset of the key array within a bucket.
func (l Layout) KeysOffset() uint64 { return uint64(l.BucketSlots) } // nolint: gosec  // Validated.

// ValuesOffset returns the offset of the value array within a bucket.
func (l Layout) ValuesOffset() uint64 {
	return l.KeysOffset() + uint64(l.BucketSlots)*l.KeySize // nolint: gosec  // Validated.
}

// BucketSize returns the size of one bucket, overflow pointer included.
func (l Layout) BucketSize() uint64 {
	return l.ValuesOffset() + uint64(l.BucketSlots)*l.ValueSize + process.PointerSize // nolint: gosec  // Validated.
}

// Matches reports whether l applies to the Go version ver.
func (l Layout) Matches(ver *version.Version) bool {
	return ver != nil && l.constraints != nil && l.constraints.Check(ver)
}

// Layouts is an ordered set of Layout. The first match wins.
type Layouts []Layout

// LoadLayouts decodes and validates a YAML list of layouts from r.
func LoadLayouts(r io.Reader) (Layouts, error) {
	var ls Layouts
	if err := yaml.NewDecoder(r).Decode(&ls); err != nil {
		return nil, fmt.Errorf("decoding map layouts: %w", err)
	}

	var err error
	for i := range ls {
		err = errors.Join(err, ls[i].Validate())
	}
	if err != nil {
		return nil, err
	}
	return ls, nil
}

// DefaultLayouts returns the layouts of the Go runtime versions known to
// use bucketed maps.
func DefaultLayouts() Layouts {
	ls, err := LoadLayouts(bytes.NewReader(defaultLayouts))
	if err != nil {
		panic(err)
	}
	return ls
}

// Find returns the first layout matching ver.
func (ls Layouts) Find(ver *version.Version) (Layout, error) {
	for _, l := range ls {
		if l.Matches(ver) {
			return l, nil
		}
	}
	return Layout{}, fmt.Errorf("%w: Go %s", ErrUnsupportedLayout, ver)
}
