// -*- Mode: Go; indent-tabs-mode: t -*-

package launcher

import "errors"

// Error taxonomy (spec.md §7). Sentinel errors checked with errors.Is,
// following the teacher's own convention of exported Err* sentinels
// rather than typed exceptions.
var (
	// ErrMalformed is returned when an input (AppID, unit name, Exec
	// template) fails its grammar. User-visible.
	ErrMalformed = errors.New("launcher: malformed input")

	// ErrNotFound is returned by Existing when no tracked unit matches
	// the requested appid, job and instance. User-visible.
	ErrNotFound = errors.New("launcher: app not found")

	// ErrCancelled is returned by the Registry's posted entry points when
	// worker shutdown raced the call. A cancelled StartTransientUnit
	// inside a launch is swallowed instead and not reported.
	ErrCancelled = errors.New("launcher: cancelled")

	// ErrBusError wraps an underlying RPC failure or timeout.
	ErrBusError = errors.New("launcher: bus error")

	// ErrDuplicateUnit names the case of UnitNew observed for a key
	// already present in the registry. No function returns it: the Unit
	// Registry drops such an announcement with a debug log.
	ErrDuplicateUnit = errors.New("launcher: duplicate unit announcement")

	// errUnitExists names the bus-level "UnitExists" error systemd
	// returns from StartTransientUnit. Launch recognises that error by
	// its D-Bus name (isUnitExists), not by this value, and answers it
	// with second-exec without surfacing it (spec.md §7).
	errUnitExists = errors.New("launcher: unit already exists")
)

// FailureKind names the reason a jobFailed signal carries (spec.md §4.6).
type FailureKind int

const (
	// StartFailure corresponds to a PropertiesChanged Result of
	// "exit-code": the unit's process exited with a non-zero status
	// before doing useful work.
	StartFailure FailureKind = iota
	// Crash corresponds to any other non-"success" Result.
	Crash
)

func (k FailureKind) String() string {
	switch k {
	case StartFailure:
		return "start-failure"
	case Crash:
		return "crash"
	default:
		return "unknown"
	}
}
