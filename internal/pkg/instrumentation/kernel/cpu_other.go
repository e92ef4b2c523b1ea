// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package kernel

import "runtime"

func cpuCount() (uint64, error) { return uint64(runtime.NumCPU()), nil } // nolint: gosec  // Positive.
