// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"debug/elf"

	"github.com/pkg/errors"

	"go.opentelemetry.io/autohttp/internal/pkg/process/binary"
)

// Functions returns the location of the functions named in names within
// the executable of id. Functions that are not found are omitted.
func (id ID) Functions(names ...string) ([]*binary.Func, error) {
	f, err := elf.Open(id.ExePath())
	if err != nil {
		return nil, errors.Wrapf(err, "opening executable of %d", id)
	}
	defer f.Close()

	// Only needed to read executables without symbols.
	bi, _ := id.BuildInfo()

	funcs, err := binary.FindFunctions(f, bi, names...)
	if err != nil {
		return nil, errors.Wrapf(err, "finding functions of %d", id)
	}
	return funcs, nil
}
