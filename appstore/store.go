// -*- Mode: Go; indent-tabs-mode: t -*-

// Package appstore implements the polymorphic application lookup behind
// the Registry: a common Store capability set with three variants,
// Legacy (desktop files), Libertine (container-hosted legacy apps), and
// Snap (package-manifest driven), queried in a fixed order by Dispatcher
// (spec.md §4.3).
package appstore

import (
	"context"
	"errors"

	"github.com/mardy/ubuntu-app-launch/appid"
)

// ErrNotFound is returned by Verify when a store has no record for the
// requested AppID.
var ErrNotFound = errors.New("appstore: not found")

// ErrMalformed is for a Verify whose requested AppID is malformed for the
// store. An AppID that merely belongs to another store (e.g. a non-empty
// package given to Legacy) gets ErrNotFound instead. Malformed
// short-circuits Dispatcher.Verify: it is surfaced immediately rather
// than falling through to the next store.
var ErrMalformed = errors.New("appstore: malformed appid for this store")

// StoreID names which of the three variants produced an AppRecord.
type StoreID int

const (
	Legacy StoreID = iota
	Libertine
	Snap
)

func (id StoreID) String() string {
	switch id {
	case Legacy:
		return "legacy"
	case Libertine:
		return "libertine"
	case Snap:
		return "snap"
	default:
		return "unknown"
	}
}

// AppRecord is the immutable, resolved description of one launchable
// application (spec.md §3). Icon and Name are populated when the
// underlying store originates from a desktop file (SPEC_FULL.md §3);
// stores with no such concept leave them empty.
type AppRecord struct {
	AppID           appid.AppID
	Store           StoreID
	ExecTemplate    string
	WorkingDir      string
	AppArmorProfile string
	ExtraEnv        map[string]string
	Icon            string
	Name            string
}

// DiscoveryKind distinguishes an app appearing from one disappearing
// (SPEC_FULL.md §3).
type DiscoveryKind int

const (
	Added DiscoveryKind = iota
	Removed
)

// DiscoveryEvent is pushed on a Store's discovery channel when its
// backing collection of installed applications changes.
type DiscoveryEvent struct {
	Kind  DiscoveryKind
	AppID appid.AppID
}

// Store is the capability set every variant (Legacy, Libertine, Snap)
// presents to the Registry (spec.md §4.3). Implementations share no
// state; there is no base class, only this interface.
type Store interface {
	// List returns every application this store currently knows about.
	List(ctx context.Context) ([]AppRecord, error)
	// HasApp reports whether id is known to this store, without the cost
	// of building a full AppRecord.
	HasApp(ctx context.Context, id appid.AppID) bool
	// Verify resolves id to a full AppRecord, or ErrNotFound/ErrMalformed.
	Verify(ctx context.Context, id appid.AppID) (AppRecord, error)
	// Discovery returns the channel on which Added/Removed events are
	// pushed as this store's backing collection changes.
	Discovery() <-chan DiscoveryEvent
}
