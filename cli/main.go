// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli inspects how the net/http servers of a Go process are
// instrumented.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/go-logr/logr"
	goversion "github.com/hashicorp/go-version"

	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/bpf/net/http/server"
	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/gomap"
	"go.opentelemetry.io/autohttp/internal/pkg/instrumentation/probe"
	"go.opentelemetry.io/autohttp/internal/pkg/log"
	"go.opentelemetry.io/autohttp/internal/pkg/process"
	"go.opentelemetry.io/autohttp/internal/pkg/process/binary"
)

const help = `Usage of %s:
  -target-pid int
    	PID of target process
  -target-exe string
    	Executable path run by the target process
  -go-version string
    	Go version of the target (read from the target if unset)
  -layouts string
    	YAML file describing Go map layouts
  -log-level string
    	Logging level ("debug", "info", "warn", "error")

Prints, as JSON, how the net/http servers of a Go process are instrumented.

If -go-version is provided the target process is not inspected. Otherwise
the target is resolved from -target-pid, -target-exe, then the environment.

Environment variable configuration:

	- OTEL_GO_AUTO_TARGET_PID: PID of the target process
	- OTEL_GO_AUTO_TARGET_EXE: executable path run by the target process
	- OTEL_LOG_LEVEL: log level (flag takes precedence)
`

const (
	// envLogLevelKey is the key for the environment variable value containing the
	// log level.
	envLogLevelKey = "OTEL_LOG_LEVEL"
	// envTargetPIDKey is the environment variable key containing the target
	// process ID to instrument.
	envTargetPIDKey = "OTEL_GO_AUTO_TARGET_PID"
	// envTargetExeKey is the environment variable key containing the path to
	// target binary to instrument.
	envTargetExeKey = "OTEL_GO_AUTO_TARGET_EXE"
)

type flags struct {
	logLevel  string
	targetPID int
	targetExe string
	goVersion string
	layouts   string
}

func parseFlags(args []string, output io.Writer) (flags, error) {
	var f flags

	fs := flag.NewFlagSet(filepath.Base(os.Args[0]), flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() { fmt.Fprintf(output, help, fs.Name()) }

	fs.StringVar(&f.logLevel, "log-level", "", `Logging level ("debug", "info", "warn", "error")`)
	fs.IntVar(&f.targetPID, "target-pid", -1, `PID of target process`)
	fs.StringVar(&f.targetExe, "target-exe", "", `Executable path run by the target process`)
	fs.StringVar(&f.goVersion, "go-version", "", `Go version of the target`)
	fs.StringVar(&f.layouts, "layouts", "", `YAML file describing Go map layouts`)

	return f, fs.Parse(args)
}

func newLogger(lvlStr string) (logr.Logger, error) {
	if lvlStr == "" {
		lvlStr = os.Getenv(envLogLevelKey)
	}
	if lvlStr == "" {
		return log.New(log.LevelInfo)
	}

	lvl, err := log.ParseLevel(lvlStr)
	if err != nil {
		return logr.Discard(), err
	}
	return log.New(lvl)
}

func main() {
	f, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	logger, err := newLogger(f.logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q: %v\n", f.logLevel, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.V(1).Info("inspecting target", "version", newVersion())
	if err := run(ctx, logger, f, os.Stdout); err != nil {
		logger.Error(err, "failed to inspect target")
		stop()
		os.Exit(1)
	}
}

// report is the printed result of an inspection.
type report struct {
	Version   version                `json:"version"`
	PID       int                    `json:"pid,omitempty"`
	GoVersion string                 `json:"go_version"`
	Layout    gomap.Layout           `json:"map_layout"`
	Offsets   map[string]uint64      `json:"offsets"`
	Symbols   []probe.FunctionSymbol `json:"symbols"`
	// Functions locates the symbols in the target executable. It is only
	// set when a target process is inspected.
	Functions []*binary.Func `json:"functions,omitempty"`
}

func run(ctx context.Context, l logr.Logger, f flags, w io.Writer) error {
	r := report{Version: newVersion()}

	var (
		ver *goversion.Version
		err error
	)
	if f.goVersion != "" {
		if ver, err = parseGoVersion(f.goVersion); err != nil {
			return err
		}
	} else {
		if r.PID, err = findPID(ctx, l, f.targetPID, f.targetExe); err != nil {
			return err
		}
		if ver, err = process.ID(r.PID).GoVersion(); err != nil {
			return fmt.Errorf("reading Go version of %d: %w", r.PID, err)
		}
	}
	r.GoVersion = ver.String()

	layouts := gomap.DefaultLayouts()
	if f.layouts != "" {
		if layouts, err = loadLayouts(f.layouts); err != nil {
			return err
		}
	}
	if r.Layout, err = layouts.Find(ver); err != nil {
		return err
	}

	m := server.Manifest()
	if r.Offsets, err = probe.Constants(&probe.Target{GoVersion: ver}, m.Consts); err != nil {
		return fmt.Errorf("resolving offsets: %w", err)
	}
	r.Symbols = m.Symbols()

	if r.PID != 0 {
		names := make([]string, len(r.Symbols))
		for i, sym := range r.Symbols {
			names[i] = sym.Symbol
		}
		if r.Functions, err = process.ID(r.PID).Functions(names...); err != nil {
			return err
		}
		if len(r.Functions) < len(names) {
			l.Info("instrumented functions not all found", "want", names, "found", len(r.Functions))
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func parseGoVersion(v string) (*goversion.Version, error) {
	if len(v) > 2 && v[:2] == "go" {
		v = v[2:]
	}
	ver, err := goversion.NewVersion(v)
	if err != nil {
		return nil, fmt.Errorf("invalid Go version %q: %w", v, err)
	}
	return ver, nil
}

func loadLayouts(path string) (gomap.Layouts, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening map layouts: %w", err)
	}
	defer f.Close()
	return gomap.LoadLayouts(f)
}

var errNoPID = fmt.Errorf(
	"no target: -target-pid, -target-exe or -go-version not provided and the env vars %s and %s are unset",
	envTargetPIDKey, envTargetExeKey,
)

func findPID(ctx context.Context, l logr.Logger, pid int, binPath string) (int, error) {
	// Priority:
	//  1. pid
	//  2. binPath
	//  3. OTEL_GO_AUTO_TARGET_PID
	//  4. OTEL_GO_AUTO_TARGET_EXE

	l.V(1).Info(
		"finding target PID",
		"PID", pid,
		"executable", binPath,
		envTargetPIDKey, os.Getenv(envTargetPIDKey),
		envTargetExeKey, os.Getenv(envTargetExeKey),
	)

	if pid >= 0 {
		return pid, nil
	}

	if binPath != "" {
		return findExeFn(ctx, l, binPath)
	}

	if pidStr := os.Getenv(envTargetPIDKey); pidStr != "" {
		pid, err := strconv.Atoi(pidStr)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value: %s: %w", envTargetPIDKey, pidStr, err)
		}
		return pid, nil
	}

	if binPath = os.Getenv(envTargetExeKey); binPath != "" {
		return findExeFn(ctx, l, binPath)
	}

	return -1, errNoPID
}

// Used for testing.
var findExeFn = findExe

func findExe(ctx context.Context, l logr.Logger, exe string) (int, error) {
	pp := ProcessPoller{Logger: l, BinPath: exe}
	return pp.Poll(ctx)
}
