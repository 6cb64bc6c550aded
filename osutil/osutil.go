// -*- Mode: Go; indent-tabs-mode: t -*-

// Package osutil collects the small filesystem helpers the launcher core
// needs and that do not deserve their own package.
package osutil

import (
	"os"
)

// FileExists returns true if the given path can be stat()ed by us. Note
// that it may return false on e.g. permission issues.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsDirectory returns true if the given path can be stat()ed by us and is
// a directory. The Legacy and Libertine stores use this to skip a scan
// root that doesn't exist rather than glob a nonexistent path.
func IsDirectory(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.IsDir()
}
