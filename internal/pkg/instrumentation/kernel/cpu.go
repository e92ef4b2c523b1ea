// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package kernel provides the clock and CPU topology of the host, as seen
// by probes.
package kernel

// GetCPUCount returns the number of CPUs a probe may run on. Per-CPU
// storage needs one slot for each of them.
func GetCPUCount() (uint64, error) { return cpuCount() }
