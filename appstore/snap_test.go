// -*- Mode: Go; indent-tabs-mode: t -*-

package appstore_test

import (
	"context"

	. "gopkg.in/check.v1"

	"github.com/mardy/ubuntu-app-launch/appid"
	"github.com/mardy/ubuntu-app-launch/appstore"
)

type snapSuite struct{}

var _ = Suite(&snapSuite{})

type fakeManifestReader struct {
	recs []appstore.AppRecord
}

func (f *fakeManifestReader) List(ctx context.Context) ([]appstore.AppRecord, error) {
	return f.recs, nil
}

func (s *snapSuite) TestVerifyAfterRefresh(c *C) {
	id := appid.AppID{Package: "my-snap", App: "app", Version: "1.0"}
	reader := &fakeManifestReader{recs: []appstore.AppRecord{{AppID: id, ExecTemplate: "app.bin"}}}
	store := appstore.NewSnapStore(context.Background(), reader)

	rec, err := store.Verify(context.Background(), id)
	c.Assert(err, IsNil)
	c.Check(rec.ExecTemplate, Equals, "app.bin")
	c.Check(rec.Store, Equals, appstore.Snap)
}

func (s *snapSuite) TestVerifyEmptyPackageNotFound(c *C) {
	reader := &fakeManifestReader{}
	store := appstore.NewSnapStore(context.Background(), reader)
	_, err := store.Verify(context.Background(), appid.AppID{App: "app"})
	c.Check(err, Equals, appstore.ErrNotFound)
}

func (s *snapSuite) TestListReflectsManifests(c *C) {
	id := appid.AppID{Package: "my-snap", App: "app", Version: "1.0"}
	reader := &fakeManifestReader{recs: []appstore.AppRecord{{AppID: id}}}
	store := appstore.NewSnapStore(context.Background(), reader)
	recs, err := store.List(context.Background())
	c.Assert(err, IsNil)
	c.Check(recs, HasLen, 1)
}
