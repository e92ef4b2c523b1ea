// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package binary

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindRetInstructions(t *testing.T) {
	data := []byte{
		0x1f, 0x20, 0x03, 0xd5, // nop
		0xc0, 0x03, 0x5f, 0xd6, // ret
		0x1f, 0x20, 0x03, 0xd5, // nop
	}

	got, err := findRetInstructions(data)
	require.NoError(t, err)
	assert.Equal(t, []uint64{4}, got)
}
