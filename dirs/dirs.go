// -*- Mode: Go; indent-tabs-mode: t -*-

// Package dirs centralizes every filesystem and bus-socket path this
// launcher core needs to know about, all of them overridable the way the
// real XDG base-directory environment variables (and a handful of
// UBUNTU_APP_LAUNCH_-prefixed ones) are.
package dirs

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// UserDataDir returns the user's XDG data directory, e.g. ~/.local/share.
func UserDataDir() string {
	if d := os.Getenv("XDG_DATA_HOME"); d != "" {
		return d
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share")
}

// SystemDataDirs returns the ordered list of system XDG data directories,
// e.g. [/usr/local/share, /usr/share].
func SystemDataDirs() []string {
	if d := os.Getenv("XDG_DATA_DIRS"); d != "" {
		return strings.Split(d, string(os.PathListSeparator))
	}
	return []string{"/usr/local/share", "/usr/share"}
}

// DesktopFileDirs returns UserDataDir and SystemDataDirs, in the search
// order the Legacy store must use (spec.md §4.3): user directory first,
// then system directories in their configured order.
func DesktopFileDirs() []string {
	return append([]string{UserDataDir()}, SystemDataDirs()...)
}

// UserRuntimeDir returns the XDG runtime directory, e.g. /run/user/1000.
func UserRuntimeDir() string {
	if d := os.Getenv("XDG_RUNTIME_DIR"); d != "" {
		return d
	}
	return filepath.Join("/run", "user", strconv.Itoa(os.Getuid()))
}

// SystemdCgroupRoot returns the root of the systemd cgroup hierarchy,
// honoring UBUNTU_APP_LAUNCH_SYSTEMD_CGROUP_ROOT (spec.md §6).
func SystemdCgroupRoot() string {
	if d := os.Getenv("UBUNTU_APP_LAUNCH_SYSTEMD_CGROUP_ROOT"); d != "" {
		return d
	}
	return filepath.Join("/sys", "fs", "cgroup", "systemd")
}

// UserBusPath returns the path of the systemd user bus socket, honoring
// UBUNTU_APP_LAUNCH_SYSTEMD_PATH (spec.md §6).
func UserBusPath() string {
	if p := os.Getenv("UBUNTU_APP_LAUNCH_SYSTEMD_PATH"); p != "" {
		return p
	}
	return filepath.Join("/run", "user", strconv.Itoa(os.Getuid()), "bus")
}

// ResetUnitsDisabled reports whether UBUNTU_APP_LAUNCH_SYSTEMD_NO_RESET is
// set, disabling ResetFailedUnit calls (spec.md §6).
func ResetUnitsDisabled() bool {
	return os.Getenv("UBUNTU_APP_LAUNCH_SYSTEMD_NO_RESET") != ""
}

// InSnapSandbox reports whether the current process is running inside a
// snap's confinement, per the presence of SNAP (spec.md §6).
func InSnapSandbox() bool {
	return os.Getenv("SNAP") != ""
}
