// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package testutils

// RequestLayout holds the field offsets of a net/http.Request and its URL.
type RequestLayout struct {
	Method, URL, Ctx, Header uint64
	// Path is the offset within the net/url.URL.
	Path uint64
}

// Request is the content of a fake net/http.Request.
type Request struct {
	Method string
	// Path is stored in a separate net/url.URL. The URL pointer is nil if
	// NoURL is set.
	Path  string
	NoURL bool
	// Ctx is the data word of the request context.
	Ctx uint64
	// Header is the address of the header map, 0 for a nil map.
	Header uint64
}

const (
	requestSize = 320
	urlSize     = 144
	// ctxType stands in for the itab of the context interface.
	ctxType = 0xdead
)

// Request lays out r as described by l and returns its address.
func (m *Memory) Request(l RequestLayout, r Request) uint64 {
	req := m.Alloc(requestSize)
	m.PutString(req+l.Method, r.Method)
	if !r.NoURL {
		u := m.Alloc(urlSize)
		m.PutString(u+l.Path, r.Path)
		m.PutUint64(req+l.URL, u)
	}
	m.PutUint64(req+l.Ctx, ctxType)
	m.PutUint64(req+l.Ctx+8, r.Ctx)
	m.PutUint64(req+l.Header, r.Header)
	return req
}

// Frame is a probe.Frame with fixed values.
type Frame struct {
	Args      map[int]uint64
	StackArgs map[int]uint64
	CPUIndex  int
}

// NewFrame returns a Frame on cpu where the argument at pos, in registers
// and on the stack, is val.
func NewFrame(cpu, pos int, val uint64) Frame {
	return Frame{
		Args:      map[int]uint64{pos: val},
		StackArgs: map[int]uint64{pos: val},
		CPUIndex:  cpu,
	}
}

func (f Frame) Argument(pos int) uint64      { return f.Args[pos] }
func (f Frame) StackArgument(pos int) uint64 { return f.StackArgs[pos] }
func (f Frame) CPU() int                     { return f.CPUIndex }
