// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

//go:build !windows

package config

import (
	"io/fs"
	"log/slog"
	"os"
)

// ExposedPermissions stats path and reports whether users other than the
// owner can read it.
func ExposedPermissions(path string) (fs.FileMode, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false, err
	}
	perm := info.Mode().Perm()
	return perm, perm&0o044 != 0, nil
}

// WarnInsecurePermissions logs a warning when the config file at path can
// be read by group or other users. Provider keys may be stored inline.
func WarnInsecurePermissions(path string) {
	if path == "" {
		return
	}
	perm, exposed, err := ExposedPermissions(path)
	if err != nil {
		slog.Debug("skipping config permission check", "path", path, "error", err)
		return
	}
	if exposed {
		slog.Warn("config file is readable by other users",
			"path", path,
			"mode", perm,
			"recommended", "0600",
		)
	}
}
