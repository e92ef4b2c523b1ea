// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package log builds the logr.Logger used across the instrumentation.
package log

import (
	"bytes"
	"errors"
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Level is a logging verbosity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var errInvalidLevel = errors.New("invalid log level")

func (l Level) String() string {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return string(l)
	default:
		return fmt.Sprintf("Level(%s)", string(l))
	}
}

// UnmarshalText sets l from text, ignoring case.
func (l *Level) UnmarshalText(text []byte) error {
	if l == nil {
		return errors.New("can't unmarshal nil values")
	}

	switch v := Level(bytes.ToLower(text)); v {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		*l = v
		return nil
	default:
		return fmt.Errorf("%w: %q", errInvalidLevel, text)
	}
}

// ParseLevel returns the Level text names.
func ParseLevel(text string) (Level, error) {
	var level Level
	err := level.UnmarshalText([]byte(text))
	return level, err
}

// ZapLevel returns the zap level of l. Debug maps to zap's debug level,
// which enables logr V(1) messages.
func (l Level) ZapLevel() (zapcore.Level, error) {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel, nil
	case LevelInfo:
		return zapcore.InfoLevel, nil
	case LevelWarn:
		return zapcore.WarnLevel, nil
	case LevelError:
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("%w: %s", errInvalidLevel, l)
	}
}
