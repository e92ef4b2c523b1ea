// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package kernel

import (
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

const estimationRounds = 25

func monotonicNow() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return uint64(ts.Nano()) // nolint: gosec  // Monotonic time is positive.
}

// estimateMonotonicOffset samples both clocks several times and keeps the
// pair taken closest together. The thread is pinned to keep the two reads
// adjacent.
func estimateMonotonicOffset() (int64, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var (
		offset  int64
		minDiff int64 = 1<<63 - 1
	)
	for round := 0; round < estimationRounds; round++ {
		var ts unix.Timespec
		before := time.Now()
		if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
			return 0, err
		}
		after := time.Now()

		if d := after.Sub(before).Nanoseconds(); d < minDiff {
			minDiff = d
			offset = before.UnixNano() + d/2 - ts.Nano()
		}
	}
	return offset, nil
}
