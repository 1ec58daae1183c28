// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

//go:build windows

package config

import (
	"io/fs"
	"os"
)

// ExposedPermissions only checks that path exists. Windows access is
// governed by ACLs, not mode bits.
func ExposedPermissions(path string) (fs.FileMode, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false, err
	}
	return info.Mode().Perm(), false, nil
}

func WarnInsecurePermissions(string) {}
