// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package binary locates functions in Go ELF executables.
package binary

import (
	"debug/buildinfo"
	"debug/elf"
	"errors"
)

// Func is the location of a function in an executable.
type Func struct {
	Name string `json:"name"`
	// Offset is the file offset of the first instruction.
	Offset uint64 `json:"offset"`
	// ReturnOffsets are the file offsets of the return instructions.
	ReturnOffsets []uint64 `json:"return_offsets"`
}

// FindFunctions returns the functions of f named in names. The symbol
// table is used when present, otherwise the Go pclntab is decoded. bi is
// only required for executables without symbols.
func FindFunctions(f *elf.File, bi *buildinfo.BuildInfo, names ...string) ([]*Func, error) {
	relevant := make(map[string]struct{}, len(names))
	for _, n := range names {
		relevant[n] = struct{}{}
	}

	funcs, err := findFunctionsUnstripped(f, relevant)
	if errors.Is(err, elf.ErrNoSymbols) {
		if bi == nil {
			return nil, errors.New("no symbols and no build info")
		}
		return findFunctionsStripped(f, relevant, bi)
	}
	return funcs, err
}
