// Copyright 2026 The layerfs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging selects a log/slog handler from a LogMode and, when a log
// file is configured, rotates it through gopkg.in/natefinch/lumberjack.v2.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Mode is one of the recognized log_mode values (spec.md §3).
type Mode string

const (
	Disabled Mode = "disabled"
	Screen   Mode = "screen"
	Error    Mode = "error"
	Warn     Mode = "warn"
	Info     Mode = "info"
	Debug    Mode = "debug"
)

func (m Mode) level() (slog.Level, bool) {
	switch m {
	case Error:
		return slog.LevelError, true
	case Warn:
		return slog.LevelWarn, true
	case Info:
		return slog.LevelInfo, true
	case Debug:
		return slog.LevelDebug, true
	case Screen:
		return slog.LevelInfo, true
	default:
		return 0, false
	}
}

// Config selects the output destination and rotation policy in addition to
// the mode.
type Config struct {
	Mode Mode

	// LogFile, when non-empty, routes output through a rotating
	// lumberjack.Logger instead of stderr (ignored when Mode is Screen or
	// Disabled).
	LogFile    string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// discardHandler satisfies slog.Handler by dropping everything, used for
// Disabled so callers never branch on a nil *slog.Logger.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs(attrs []slog.Attr) slog.Handler  { return discardHandler{} }
func (discardHandler) WithGroup(name string) slog.Handler        { return discardHandler{} }

// New builds a *slog.Logger per cfg. Screen always writes to stderr,
// ignoring LogFile; the other enabled modes write to LogFile when set, via
// a rotating lumberjack.Logger, and to stderr otherwise.
func New(cfg Config) (*slog.Logger, error) {
	if cfg.Mode == Disabled || cfg.Mode == "" {
		return slog.New(discardHandler{}), nil
	}

	level, ok := cfg.Mode.level()
	if !ok {
		return nil, fmt.Errorf("logging: unrecognized log_mode %q", cfg.Mode)
	}

	var w io.Writer = os.Stderr
	if cfg.Mode != Screen && cfg.LogFile != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h), nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
