// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package autohttp

// Version is the current release version of autohttp in use.
func Version() string {
	return "v0.1.0"
}
