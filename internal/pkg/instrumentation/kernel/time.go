// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"time"
)

// monotonicOffset is the difference between CLOCK_REALTIME and
// CLOCK_MONOTONIC in nanoseconds, measured once at startup.
var monotonicOffset = func() int64 {
	offset, err := estimateMonotonicOffset()
	if err != nil {
		panic(err)
	}
	return offset
}()

// Now returns the CLOCK_MONOTONIC time in nanoseconds, the clock probes
// timestamp records with.
func Now() uint64 { return monotonicNow() }

// MonotonicToTime converts a CLOCK_MONOTONIC timestamp to wall clock time.
func MonotonicToTime(ns uint64) time.Time {
	return time.Unix(0, int64(ns)+monotonicOffset) // nolint: gosec  // Monotonic time fits in int64.
}

// TimeToMonotonic converts a wall clock time to a CLOCK_MONOTONIC timestamp.
// Times before the clock origin return 0.
func TimeToMonotonic(t time.Time) uint64 {
	ns := t.UnixNano() - monotonicOffset
	if ns < 0 {
		return 0
	}
	return uint64(ns)
}
