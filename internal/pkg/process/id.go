// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides access to the target process being observed:
// its identity, Go version and memory.
package process

import (
	"debug/buildinfo"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/hashicorp/go-version"
)

var (
	errInvalidID = errors.New("invalid ID")
	errNoID      = errors.New("no process found")
	errNoRunID   = errors.New("process not running")
)

// Injectable for tests.
var (
	procDir = func(id ID) string {
		return "/proc/" + strconv.Itoa(int(id))
	}
	osFindProcess     = os.FindProcess
	sig               = func(p *os.Process, s os.Signal) error { return p.Signal(s) }
	buildinfoReadFile = buildinfo.ReadFile
)

// ID represents a process identification number.
type ID int

// Validate returns nil if id represents a valid running process. Otherwise, an
// error is returned.
func (id ID) Validate() error {
	if id < 0 {
		return fmt.Errorf("%w: %d", errInvalidID, id)
	}

	p, err := osFindProcess(int(id))
	if err != nil {
		return fmt.Errorf("%w with ID %d: %w", errNoID, id, err)
	}

	if err = sig(p, syscall.Signal(0)); err != nil {
		return fmt.Errorf("%w with ID %d: %w", errNoRunID, id, err)
	}
	return nil
}

// ExePath returns the path of the executable link of the process.
func (id ID) ExePath() string {
	return filepath.Join(procDir(id), "exe")
}

// MemPath returns the path of the memory file of the process.
func (id ID) MemPath() string {
	return filepath.Join(procDir(id), "mem")
}

// ExeLink returns the resolved absolute path to the executable being run by
// the process.
func (id ID) ExeLink() (string, error) {
	p, err := os.Readlink(id.ExePath())
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(p) {
		return p, nil
	}
	return filepath.Abs(filepath.Join(procDir(id), p))
}

// BuildInfo returns the Go build info of the process executable. The "go"
// prefix and any GOEXPERIMENT suffix are removed from the GoVersion.
func (id ID) BuildInfo() (*buildinfo.BuildInfo, error) {
	bi, err := buildinfoReadFile(id.ExePath())
	if err != nil {
		return nil, err
	}

	bi.GoVersion = strings.ReplaceAll(bi.GoVersion, "go", "")
	if idx := strings.Index(bi.GoVersion, " X:"); idx > 0 {
		bi.GoVersion = bi.GoVersion[:idx]
	}
	return bi, nil
}

// GoVersion returns the version of the Go runtime the process was built
// with.
func (id ID) GoVersion() (*version.Version, error) {
	bi, err := id.BuildInfo()
	if err != nil {
		return nil, err
	}
	return version.NewVersion(bi.GoVersion)
}
