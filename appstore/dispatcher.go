// -*- Mode: Go; indent-tabs-mode: t -*-

package appstore

import (
	"context"

	"github.com/mardy/ubuntu-app-launch/appid"
)

// Dispatcher queries a fixed, ordered list of stores — Legacy, then
// Libertine, then Snap — the way spec.md §4.3 requires: the first Verify
// that does not return ErrNotFound wins, and ErrMalformed short-circuits
// instead of falling through.
type Dispatcher struct {
	stores []Store
}

// NewDispatcher builds a Dispatcher over legacy, libertine, and snap, in
// that fixed query order. Any of them may be nil, in which case it is
// skipped.
func NewDispatcher(legacy, libertine, snap Store) *Dispatcher {
	d := &Dispatcher{}
	for _, s := range []Store{legacy, libertine, snap} {
		if s != nil {
			d.stores = append(d.stores, s)
		}
	}
	return d
}

// Verify queries each store in order, returning the first AppRecord
// found. ErrMalformed from any store is returned immediately. If every
// store returns ErrNotFound, Verify returns ErrNotFound.
func (d *Dispatcher) Verify(ctx context.Context, id appid.AppID) (AppRecord, error) {
	for _, s := range d.stores {
		rec, err := s.Verify(ctx, id)
		switch {
		case err == nil:
			return rec, nil
		case err == ErrMalformed:
			return AppRecord{}, err
		case err == ErrNotFound:
			continue
		default:
			return AppRecord{}, err
		}
	}
	return AppRecord{}, ErrNotFound
}

// HasApp reports whether any store in the dispatch order knows id.
func (d *Dispatcher) HasApp(ctx context.Context, id appid.AppID) bool {
	for _, s := range d.stores {
		if s.HasApp(ctx, id) {
			return true
		}
	}
	return false
}

// List concatenates the List result of every store, in dispatch order.
func (d *Dispatcher) List(ctx context.Context) ([]AppRecord, error) {
	var all []AppRecord
	for _, s := range d.stores {
		recs, err := s.List(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
	}
	return all, nil
}

// ListVersions implements appid.Lister by scanning every store's List
// result for matching app names, letting appid.Find settle a version
// wildcard without any store exposing more than its Store interface.
func (d *Dispatcher) ListVersions(ctx context.Context, pkg, app string) ([]string, error) {
	recs, err := d.List(ctx)
	if err != nil {
		return nil, err
	}
	var versions []string
	for _, rec := range recs {
		if rec.AppID.App == app && (pkg == "" || rec.AppID.Package == pkg) {
			versions = append(versions, rec.AppID.Version)
		}
	}
	return versions, nil
}
