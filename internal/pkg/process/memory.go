// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// PointerSize is the size of a pointer in the target process. Only 64-bit
// targets are supported.
const PointerSize = 8

// Memory reads the address space of a running process.
type Memory struct {
	id ID
	fd int
}

var _ io.ReaderAt = (*Memory)(nil)

// OpenMemory opens the memory of the process id for reading.
func OpenMemory(id ID) (*Memory, error) {
	fd, err := unix.Open(id.MemPath(), unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open memory of process %d", id)
	}
	return &Memory{id: id, fd: fd}, nil
}

// ReadAt reads len(p) bytes starting at the virtual address off.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	n, err := unix.Pread(m.fd, p, off)
	if err != nil {
		return n, errors.Wrapf(err, "read %d bytes at %#x of process %d", len(p), off, m.id)
	}
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

// Close releases the memory file.
func (m *Memory) Close() error {
	return errors.WithStack(unix.Close(m.fd))
}

// ProbeRead copies len(dst) bytes at addr from mem into dst. It reports
// whether the full read succeeded. On failure dst is zeroed so no partial
// data is ever observed.
func ProbeRead(mem io.ReaderAt, dst []byte, addr uint64) bool {
	if len(dst) == 0 {
		return true
	}
	if mem == nil || addr == 0 || addr > math.MaxInt64 {
		clear(dst)
		return false
	}
	n, err := mem.ReadAt(dst, int64(addr)) // nolint: gosec  // Bounds checked.
	if err != nil || n != len(dst) {
		clear(dst)
		return false
	}
	return true
}

// ReadUint64 reads a little-endian uint64 at addr. Zero is returned if the
// read fails.
func ReadUint64(mem io.ReaderAt, addr uint64) uint64 {
	var buf [8]byte
	ProbeRead(mem, buf[:], addr)
	return binary.LittleEndian.Uint64(buf[:])
}

// ReadPointer reads a pointer stored at addr.
func ReadPointer(mem io.ReaderAt, addr uint64) uint64 {
	return ReadUint64(mem, addr)
}

// ReadGoString reads the Go string header (data pointer, length) at addr and
// copies at most len(dst) bytes of its data into dst. It returns the number
// of bytes copied and whether the string was longer than dst.
func ReadGoString(mem io.ReaderAt, addr uint64, dst []byte) (n int, truncated bool) {
	ptr := ReadPointer(mem, addr)
	size := ReadUint64(mem, addr+PointerSize)

	n = len(dst)
	if size < uint64(n) {
		n = int(size) // nolint: gosec  // Bounded by len(dst).
	}
	if !ProbeRead(mem, dst[:n], ptr) {
		return 0, false
	}
	return n, size > uint64(len(dst))
}
