// -*- Mode: Go; indent-tabs-mode: t -*-

package appstore_test

import (
	"context"

	. "gopkg.in/check.v1"

	"github.com/mardy/ubuntu-app-launch/appid"
	"github.com/mardy/ubuntu-app-launch/appstore"
)

type dispatcherSuite struct{}

var _ = Suite(&dispatcherSuite{})

type fakeStore struct {
	recs    map[appid.AppID]appstore.AppRecord
	malformed bool
	events  chan appstore.DiscoveryEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{recs: map[appid.AppID]appstore.AppRecord{}, events: make(chan appstore.DiscoveryEvent, 1)}
}

func (f *fakeStore) List(ctx context.Context) ([]appstore.AppRecord, error) {
	var out []appstore.AppRecord
	for _, r := range f.recs {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeStore) HasApp(ctx context.Context, id appid.AppID) bool {
	_, ok := f.recs[id]
	return ok
}

func (f *fakeStore) Verify(ctx context.Context, id appid.AppID) (appstore.AppRecord, error) {
	if f.malformed {
		return appstore.AppRecord{}, appstore.ErrMalformed
	}
	rec, ok := f.recs[id]
	if !ok {
		return appstore.AppRecord{}, appstore.ErrNotFound
	}
	return rec, nil
}

func (f *fakeStore) Discovery() <-chan appstore.DiscoveryEvent {
	return f.events
}

func (s *dispatcherSuite) TestFirstMatchWins(c *C) {
	legacy := newFakeStore()
	snap := newFakeStore()
	id := appid.AppID{Package: "pkg", App: "app", Version: "1"}
	snap.recs[id] = appstore.AppRecord{AppID: id, Store: appstore.Snap}

	d := appstore.NewDispatcher(legacy, nil, snap)
	rec, err := d.Verify(context.Background(), id)
	c.Assert(err, IsNil)
	c.Check(rec.Store, Equals, appstore.Snap)
}

func (s *dispatcherSuite) TestMalformedShortCircuits(c *C) {
	legacy := newFakeStore()
	legacy.malformed = true
	snap := newFakeStore()
	id := appid.AppID{App: "app"}
	snap.recs[id] = appstore.AppRecord{AppID: id, Store: appstore.Snap}

	d := appstore.NewDispatcher(legacy, nil, snap)
	_, err := d.Verify(context.Background(), id)
	c.Check(err, Equals, appstore.ErrMalformed)
}

func (s *dispatcherSuite) TestNotFoundWhenNoStoreHasIt(c *C) {
	d := appstore.NewDispatcher(newFakeStore(), newFakeStore(), newFakeStore())
	_, err := d.Verify(context.Background(), appid.AppID{App: "missing"})
	c.Check(err, Equals, appstore.ErrNotFound)
}

func (s *dispatcherSuite) TestLegacyNotFoundFallsThroughToSnap(c *C) {
	legacy := appstore.NewLegacyStore([]string{c.MkDir()})
	snap := newFakeStore()
	id := appid.AppID{Package: "pkg", App: "app", Version: "1"}
	snap.recs[id] = appstore.AppRecord{AppID: id, Store: appstore.Snap}

	d := appstore.NewDispatcher(legacy, nil, snap)
	rec, err := d.Verify(context.Background(), id)
	c.Assert(err, IsNil)
	c.Check(rec.Store, Equals, appstore.Snap)
}

func (s *dispatcherSuite) TestListVersionsForWildcard(c *C) {
	legacy := newFakeStore()
	id1 := appid.AppID{Package: "pkg", App: "app", Version: "1.0"}
	id2 := appid.AppID{Package: "pkg", App: "app", Version: "2.0"}
	legacy.recs[id1] = appstore.AppRecord{AppID: id1}
	legacy.recs[id2] = appstore.AppRecord{AppID: id2}

	d := appstore.NewDispatcher(legacy, nil, nil)
	versions, err := d.ListVersions(context.Background(), "pkg", "app")
	c.Assert(err, IsNil)
	c.Check(len(versions), Equals, 2)
}
