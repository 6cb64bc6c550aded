// -*- Mode: Go; indent-tabs-mode: t -*-

package appstore

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mardy/ubuntu-app-launch/appid"
)

// ManifestReader is the external collaborator that knows how to fetch
// and parse snap manifests (spec.md §1 places package-manifest fetch out
// of this core's scope). SnapStore only caches and indexes whatever
// ManifestReader hands it.
type ManifestReader interface {
	// List returns every application found across installed snap
	// manifests, already resolved to AppRecords.
	List(ctx context.Context) ([]AppRecord, error)
}

// SnapStore indexes the AppRecords a ManifestReader produces, the way
// application-impl-click.h models a packaged application as
// {appid, clickDir, manifest} with the manifest treated as an external
// collaborator (SPEC_FULL.md §4.3).
type SnapStore struct {
	manifests ManifestReader

	mu    sync.Mutex
	index map[appid.AppID]AppRecord

	events  chan DiscoveryEvent
	limiter *rate.Limiter
}

// NewSnapStore builds a SnapStore backed by manifests and performs the
// initial refresh.
func NewSnapStore(ctx context.Context, manifests ManifestReader) *SnapStore {
	s := &SnapStore{
		manifests: manifests,
		index:     map[appid.AppID]AppRecord{},
		events:    make(chan DiscoveryEvent, 16),
		limiter:   rate.NewLimiter(rate.Every(250*time.Millisecond), 1),
	}
	s.Refresh(ctx)
	return s
}

// Refresh re-fetches every installed application's record from
// ManifestReader and publishes a coalesced discovery event.
func (s *SnapStore) Refresh(ctx context.Context) error {
	if !s.limiter.Allow() {
		return nil
	}
	recs, err := s.manifests.List(ctx)
	if err != nil {
		return err
	}

	next := make(map[appid.AppID]AppRecord, len(recs))
	for _, rec := range recs {
		rec.Store = Snap
		next[rec.AppID] = rec
	}

	s.mu.Lock()
	s.index = next
	s.mu.Unlock()

	select {
	case s.events <- DiscoveryEvent{Kind: Added}:
	default:
	}
	return nil
}

func (s *SnapStore) Discovery() <-chan DiscoveryEvent {
	return s.events
}

func (s *SnapStore) HasApp(ctx context.Context, id appid.AppID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[id]
	return ok
}

func (s *SnapStore) Verify(ctx context.Context, id appid.AppID) (AppRecord, error) {
	if id.Package == "" {
		return AppRecord{}, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.index[id]
	if !ok {
		return AppRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *SnapStore) List(ctx context.Context) ([]AppRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := make([]AppRecord, 0, len(s.index))
	for _, rec := range s.index {
		recs = append(recs, rec)
	}
	return recs, nil
}
