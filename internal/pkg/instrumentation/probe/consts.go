// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package probe provides instrumentation probe types and definitions.
package probe

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-version"

	"go.opentelemetry.io/autohttp/internal/pkg/inject"
	"go.opentelemetry.io/autohttp/internal/pkg/structfield"
)

// StdLib is the module path used for the Go standard library.
const StdLib = "std"

// Target describes the instrumented process.
type Target struct {
	// GoVersion is the Go version the target was built with. It is the
	// version of the "std" module.
	GoVersion *version.Version
	// Libraries are the versions of the modules the target depends on.
	Libraries map[string]*version.Version
	// Offsets resolves struct field offsets. The embedded index is used if
	// nil.
	Offsets *structfield.Index
}

// ModuleVersion returns the version of the module mod within t.
func (t *Target) ModuleVersion(mod string) (*version.Version, bool) {
	if mod == StdLib {
		return t.GoVersion, t.GoVersion != nil
	}
	ver, ok := t.Libraries[mod]
	return ver, ok && ver != nil
}

// Const is a constant a probe is parameterized with.
type Const interface {
	// InjectOption returns the inject.Option to run for the Const when running
	// inject.Constants.
	InjectOption(t *Target) (inject.Option, error)
}

// StructFieldConst is a [Const] for a struct field offset. These struct field
// ID needs to be known offsets in the [inject] package.
type StructFieldConst struct {
	Key string
	ID  structfield.ID
}

// InjectOption returns the appropriately configured [inject.WithOffset] if the
// version of the struct field module is known. If it is not, an error is
// returned.
func (c StructFieldConst) InjectOption(t *Target) (inject.Option, error) {
	ver, ok := t.ModuleVersion(c.ID.ModPath)
	if !ok {
		return nil, fmt.Errorf("unknown module version: %s", c.ID.ModPath)
	}
	if t.Offsets != nil {
		return inject.WithOffsetFrom(t.Offsets, c.Key, c.ID, ver), nil
	}
	return inject.WithOffset(c.Key, c.ID, ver), nil
}

// KeyValConst is a [Const] for a generic key-value pair.
type KeyValConst struct {
	Key string
	Val uint64
}

// InjectOption returns the appropriately configured [inject.WithKeyValue].
func (c KeyValConst) InjectOption(*Target) (inject.Option, error) {
	return inject.WithKeyValue(c.Key, c.Val), nil
}

// Constants resolves consts for t.
func Constants(t *Target, consts []Const) (map[string]uint64, error) {
	if t == nil {
		return nil, errors.New("nil target")
	}

	var (
		opts []inject.Option
		err  error
	)
	for _, c := range consts {
		o, e := c.InjectOption(t)
		err = errors.Join(err, e)
		if o != nil {
			opts = append(opts, o)
		}
	}
	if err != nil {
		return nil, err
	}
	return inject.Constants(opts...)
}
