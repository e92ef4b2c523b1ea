// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package binary

import (
	"debug/buildinfo"
	"debug/elf"
	"encoding/hex"
	"net/http"
	"os"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Keeps the function linked in the test executable.
var serveHTTP = http.NewServeMux().ServeHTTP

const serveHTTPSym = "net/http.(*ServeMux).ServeHTTP"

func TestFindFunctions(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("ELF executables only")
	}
	require.NotNil(t, serveHTTP)

	exe, err := os.Executable()
	require.NoError(t, err)

	f, err := elf.Open(exe)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	bi, err := buildinfo.ReadFile(exe)
	require.NoError(t, err)

	funcs, err := FindFunctions(f, bi, serveHTTPSym, "not.a.function")
	require.NoError(t, err)
	require.Len(t, funcs, 1)

	fn := funcs[0]
	assert.Equal(t, serveHTTPSym, fn.Name)
	assert.NotZero(t, fn.Offset)
	if runtime.GOARCH == "amd64" || runtime.GOARCH == "arm64" {
		require.NotEmpty(t, fn.ReturnOffsets)
		for _, ret := range fn.ReturnOffsets {
			assert.Greater(t, ret, fn.Offset)
		}
	}
}

func TestMagicNumber(t *testing.T) {
	tests := []struct {
		version string
		want    string
	}{
		{version: "1.12", want: "fbffffff"},
		{version: "1.16.2", want: "faffffff"},
		{version: "go1.18", want: "f0ffffff"},
		{version: "1.9", want: "fbffffff"},
		{version: "1.20.1", want: "f1ffffff"},
		{version: "1.23.4", want: "f1ffffff"},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			got, err := magicNumber(tt.version)
			require.NoError(t, err)
			assert.Equal(t, tt.want, hex.EncodeToString(got))
		})
	}

	_, err := magicNumber("devel")
	assert.Error(t, err)
}
