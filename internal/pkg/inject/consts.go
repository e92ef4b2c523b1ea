// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package inject resolves the constants probes are parameterized with.
package inject

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hashicorp/go-version"

	"go.opentelemetry.io/autohttp/internal/pkg/structfield"
)

var (
	//go:embed offsets.json
	offsetsData []byte

	offsets = func() *structfield.Index {
		idx := structfield.NewIndex()
		if err := json.Unmarshal(offsetsData, idx); err != nil {
			panic(err)
		}
		return idx
	}()

	// ErrNotFound is returned when the offset of a struct field is not known
	// for the requested version.
	ErrNotFound = errors.New("offset not found")
)

// Offsets returns the index of known struct field offsets.
func Offsets() *structfield.Index { return offsets }

// Constants returns the key-values defined by opts. The keys are constant
// names and the values the constant values.
//
// If duplicate or colliding Options are passed, the last one passed is used.
// Errors of all options are joined.
func Constants(opts ...Option) (map[string]uint64, error) {
	consts := make(map[string]uint64)
	var err error
	for _, o := range opts {
		err = errors.Join(err, o.apply(consts))
	}
	return consts, err
}

// Option configures key-values to be injected into a probe.
type Option interface {
	apply(map[string]uint64) error
}

type option map[string]uint64

func (o option) apply(m map[string]uint64) error {
	for key, val := range o {
		m[key] = val
	}
	return nil
}

type errOpt struct {
	err error
}

func (o errOpt) apply(map[string]uint64) error {
	return o.err
}

// WithKeyValue returns an option that will set key to value.
func WithKeyValue(key string, value uint64) Option {
	return option{key: value}
}

// WithOffset returns an option that sets key to the offset value of the struct
// field id at the specified version ver.
//
// If the offset value is not known, the option returns an error wrapping
// ErrNotFound when applied.
func WithOffset(key string, id structfield.ID, ver *version.Version) Option {
	return WithOffsetFrom(offsets, key, id, ver)
}

// WithOffsetFrom is like WithOffset but resolves the offset in idx.
func WithOffsetFrom(idx *structfield.Index, key string, id structfield.ID, ver *version.Version) Option {
	if ver == nil {
		return errOpt{
			err: fmt.Errorf("missing version: %s", id),
		}
	}

	off, ok := idx.GetOffset(id, ver)
	if !ok {
		return errOpt{
			err: fmt.Errorf("%w: %s (%s)", ErrNotFound, id, ver),
		}
	}
	return WithKeyValue(key, off)
}

// LoadOffsets decodes an offsets index in the embedded JSON format.
func LoadOffsets(data []byte) (*structfield.Index, error) {
	idx := structfield.NewIndex()
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(idx); err != nil {
		return nil, fmt.Errorf("decoding offsets: %w", err)
	}
	return idx, nil
}
