// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package pdataconv converts probe data to the pdata format.
package pdataconv

import (
	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/otel/attribute"
)

// Attributes sets the attrs in the provided pcommon.Map dest. Empty string
// values are skipped.
func Attributes(dest pcommon.Map, attrs ...attribute.KeyValue) {
	dest.EnsureCapacity(dest.Len() + len(attrs))
	for _, attr := range attrs {
		setAttr(dest, attr)
	}
}

func setAttr(dest pcommon.Map, attr attribute.KeyValue) {
	key := string(attr.Key)
	switch attr.Value.Type() {
	case attribute.BOOL:
		dest.PutBool(key, attr.Value.AsBool())
	case attribute.INT64:
		dest.PutInt(key, attr.Value.AsInt64())
	case attribute.FLOAT64:
		dest.PutDouble(key, attr.Value.AsFloat64())
	case attribute.STRING:
		if v := attr.Value.AsString(); v != "" {
			dest.PutStr(key, v)
		}
	case attribute.STRINGSLICE:
		s := dest.PutEmptySlice(key)
		for _, v := range attr.Value.AsStringSlice() {
			s.AppendEmpty().SetStr(v)
		}
	}
}
