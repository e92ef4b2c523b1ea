// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"

	"go.opentelemetry.io/autohttp/internal/pkg/structfield"
)

func TestNewManifest(t *testing.T) {
	id := ID{SpanKind: trace.SpanKindServer, InstrumentedPkg: "net/http"}
	assert.Equal(t, "net/http/server", id.String())

	var (
		urlPath   = structfield.NewID("std", "net/url", "URL", "Path")
		reqMethod = structfield.NewID("std", "net/http", "Request", "Method")
		reqCtx    = structfield.NewID("std", "net/http", "Request", "ctx")
		other     = structfield.NewID("a", "a/a", "A", "A")
	)

	consts := []Const{
		StructFieldConst{Key: "path_ptr_pos", ID: urlPath},
		KeyValConst{Key: "max_entries", Val: 50},
		StructFieldConst{Key: "ctx_ptr_pos", ID: reqCtx},
		StructFieldConst{Key: "method_ptr_pos", ID: reqMethod},
		StructFieldConst{Key: "a", ID: other},
	}
	uprobes := []*Uprobe{
		{Sym: "b", EntryProbe: "uprobe_b"},
		{Sym: "a", EntryProbe: "uprobe_a", ReturnProbe: "uprobe_a_Returns"},
	}

	got := NewManifest(id, consts, uprobes)
	assert.Equal(t, Manifest{ID: id, Consts: consts, Uprobes: uprobes}, got)

	assert.Equal(t, []structfield.ID{other, reqMethod, reqCtx, urlPath}, got.StructFields())
	assert.Equal(t, []FunctionSymbol{
		{Symbol: "a", Return: true},
		{Symbol: "b"},
	}, got.Symbols())
}
