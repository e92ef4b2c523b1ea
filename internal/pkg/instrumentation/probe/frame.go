// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package probe

// Frame is the state of the instrumented function a probe fires in. It is
// provided by the mechanism attaching the probe.
type Frame interface {
	// Argument returns the value of the argument at pos, counted from 1, as
	// passed by the register-based calling convention.
	Argument(pos int) uint64
	// StackArgument returns the value of the argument at pos, counted from
	// 1, as spilled to the goroutine stack. Return probes read arguments
	// from there since the registers have been reused.
	StackArgument(pos int) uint64
	// CPU returns the index of the CPU the probe runs on. Two probe
	// invocations running at the same time never share a CPU index.
	CPU() int
}
