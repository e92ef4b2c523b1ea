// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package kernel

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Injectable for tests. Possible CPUs include the ones that may be
// hotplugged later, present ones are what LSCPU reports.
var cpuListPaths = []string{
	"/sys/devices/system/cpu/possible",
	"/sys/devices/system/cpu/present",
}

// Injectable for tests.
var procInfoPath = "/proc/cpuinfo"

func getCPUCountFromSysDevices(path string) (uint64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return parseCPUList(strings.TrimSpace(string(raw)))
}

// parseCPUList counts the CPUs of a kernel CPU list such as "0-7,10,12-15".
func parseCPUList(raw string) (uint64, error) {
	if raw == "" {
		return 0, errors.New("empty CPU list")
	}

	var count uint64
	for _, v := range strings.Split(raw, ",") {
		if !strings.Contains(v, "-") {
			count++
			continue
		}

		var first, last uint64
		if _, err := fmt.Sscanf(v, "%d-%d", &first, &last); err != nil {
			return 0, fmt.Errorf("invalid CPU range %q: %w", v, err)
		}
		if last < first {
			return 0, fmt.Errorf("invalid CPU range %q", v)
		}
		count += last - first + 1
	}
	return count, nil
}

func getCPUCountFromProc() (uint64, error) {
	file, err := os.Open(procInfoPath)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var count uint64
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "processor") {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, fmt.Errorf("no processor found in %s", procInfoPath)
	}
	return count, nil
}

func cpuCount() (uint64, error) {
	var err error
	for _, path := range cpuListPaths {
		n, e := getCPUCountFromSysDevices(path)
		if e == nil {
			return n, nil
		}
		err = errors.Join(err, e)
	}

	n, e := getCPUCountFromProc()
	if e == nil {
		return n, nil
	}
	return 0, errors.Join(err, e)
}
