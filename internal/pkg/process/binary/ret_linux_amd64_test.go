// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package binary

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindRetInstructions(t *testing.T) {
	// nop; ret; mov rbp, rsp; ret
	data := []byte{0x90, 0xc3, 0x48, 0x89, 0xe5, 0xc3}

	got, err := findRetInstructions(data)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 5}, got)
}
