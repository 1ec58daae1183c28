// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/vietddude/stylelog"
)

// Options selects the handler installed by Setup.
type Options struct {
	Level   string
	Format  string
	Verbose bool
}

// ParseLevel maps a config level name onto slog. Unknown names fall back to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ReplaceAttr standardizes the "error" key to "err".
func ReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == "error" {
		a.Key = "err"
	}
	return a
}

func (o Options) level() slog.Level {
	if o.Verbose {
		return slog.LevelDebug
	}
	return ParseLevel(o.Level)
}

// Setup installs the default logger. Text output goes through tint with
// RFC3339 timestamps; json output is meant for servers behind a collector.
func Setup(opts Options) {
	if opts.Format == "json" {
		slog.SetDefault(slog.New(NewHandler(os.Stderr, opts)))
		return
	}

	stylelog.InitDefault(&tint.Options{
		Level:       opts.level(),
		TimeFormat:  time.RFC3339,
		ReplaceAttr: ReplaceAttr,
	})
}

// NewHandler builds the handler Setup would install, writing to w.
func NewHandler(w io.Writer, opts Options) slog.Handler {
	if opts.Format == "json" {
		return slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       opts.level(),
			ReplaceAttr: ReplaceAttr,
		})
	}
	return tint.NewHandler(w, &tint.Options{
		Level:       opts.level(),
		TimeFormat:  time.RFC3339,
		ReplaceAttr: ReplaceAttr,
		NoColor:     true,
	})
}

// NewNop returns a logger that discards everything.
func NewNop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
