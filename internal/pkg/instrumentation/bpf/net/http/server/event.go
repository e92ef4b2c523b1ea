// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/binary"
	"fmt"

	"github.com/cilium/ebpf/perf"

	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/context"
)

const (
	// maxMethodLen is the capacity of the method field of a record.
	maxMethodLen = 100
	// maxPathLen is the capacity of the path field of a record.
	maxPathLen = 100

	// RecordSize is the encoded size of a record.
	RecordSize = 8 + 8 + maxMethodLen + maxPathLen + 2*context.SpanContextSize
)

// event represents an HTTP request handled by a server. It is encoded
// little-endian in the field order below.
type event struct {
	// StartTime and EndTime are CLOCK_MONOTONIC nanoseconds. EndTime is zero
	// until the request returns.
	StartTime uint64
	EndTime   uint64
	// Method and Path are zero-padded and silently truncated.
	Method [maxMethodLen]byte
	Path   [maxPathLen]byte

	SpanContext context.SpanContext
	// ParentSpanContext is zero for root spans.
	ParentSpanContext context.SpanContext
}

func (e *event) encode(dst []byte) error {
	_, err := binary.Encode(dst, binary.LittleEndian, e)
	return err
}

// DecodeRecord decodes a record read from the output channel.
func DecodeRecord(rec perf.Record) (*event, error) {
	if len(rec.RawSample) < RecordSize {
		return nil, fmt.Errorf("short record: %d bytes, want %d", len(rec.RawSample), RecordSize)
	}

	e := new(event)
	if _, err := binary.Decode(rec.RawSample[:RecordSize], binary.LittleEndian, e); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	return e, nil
}
