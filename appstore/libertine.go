// -*- Mode: Go; indent-tabs-mode: t -*-

package appstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/time/rate"

	"github.com/mardy/ubuntu-app-launch/appid"
	"github.com/mardy/ubuntu-app-launch/desktop/desktopentry"
	"github.com/mardy/ubuntu-app-launch/logger"
	"github.com/mardy/ubuntu-app-launch/osutil"
)

// Container names one libertine container: a legacy-app chroot/LXD
// rootfs with its own applications directory.
type Container struct {
	Name    string
	RootDir string
}

// LibertineStore presents legacy desktop-file applications hosted inside
// libertine containers, one directory scan per container, the same
// shape as LegacyStore but keyed by container name as the AppID package
// component (spec.md §1 treats the libertine store's own packaging
// policy as an external collaborator; this implementation covers the
// interface and a faithful-enough directory scan, not container
// provisioning itself).
type LibertineStore struct {
	containers []Container

	mu    sync.Mutex
	index map[appid.AppID]*desktopentry.DesktopEntry

	events  chan DiscoveryEvent
	limiter *rate.Limiter
}

// NewLibertineStore builds a LibertineStore over the given containers
// and performs the initial scan.
func NewLibertineStore(containers []Container) *LibertineStore {
	s := &LibertineStore{
		containers: containers,
		index:      map[appid.AppID]*desktopentry.DesktopEntry{},
		events:     make(chan DiscoveryEvent, 16),
		limiter:    rate.NewLimiter(rate.Every(250*time.Millisecond), 1),
	}
	s.scan()
	return s
}

func (s *LibertineStore) scan() {
	next := map[appid.AppID]*desktopentry.DesktopEntry{}
	for _, ctr := range s.containers {
		if !osutil.IsDirectory(ctr.RootDir) {
			// An unprovisioned or unmounted container has no rootfs
			// to scan yet.
			continue
		}
		pattern := filepath.Join(ctr.RootDir, ".local", "share", "applications", "**", "*.desktop")
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			logger.Debugf("libertine store: bad glob under %q: %v", ctr.RootDir, err)
			continue
		}
		for _, path := range matches {
			name := strings.TrimSuffix(filepath.Base(path), ".desktop")
			f, err := os.Open(path)
			if err != nil {
				continue
			}
			de, err := desktopentry.Parse(path, f)
			f.Close()
			if err != nil || de.Exec == "" {
				continue
			}
			next[appid.AppID{Package: ctr.Name, App: name}] = de
		}
	}

	s.mu.Lock()
	s.index = next
	s.mu.Unlock()
}

// Rescan re-walks the container directories, coalescing bursts the same
// way LegacyStore.Rescan does.
func (s *LibertineStore) Rescan() {
	if !s.limiter.Allow() {
		return
	}
	s.scan()
	select {
	case s.events <- DiscoveryEvent{Kind: Added}:
	default:
	}
}

func (s *LibertineStore) Discovery() <-chan DiscoveryEvent {
	return s.events
}

func (s *LibertineStore) lookup(id appid.AppID) (*desktopentry.DesktopEntry, bool) {
	if id.Package == "" {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	de, ok := s.index[appid.AppID{Package: id.Package, App: id.App}]
	return de, ok
}

func (s *LibertineStore) HasApp(ctx context.Context, id appid.AppID) bool {
	_, ok := s.lookup(id)
	return ok
}

func (s *LibertineStore) Verify(ctx context.Context, id appid.AppID) (AppRecord, error) {
	if id.Package == "" {
		return AppRecord{}, ErrNotFound
	}
	de, ok := s.lookup(id)
	if !ok {
		return AppRecord{}, ErrNotFound
	}
	return AppRecord{
		AppID:        appid.AppID{Package: id.Package, App: id.App},
		Store:        Libertine,
		ExecTemplate: de.Exec,
		Icon:         de.Icon,
		Name:         de.Name,
	}, nil
}

func (s *LibertineStore) List(ctx context.Context) ([]AppRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := make([]AppRecord, 0, len(s.index))
	for id, de := range s.index {
		recs = append(recs, AppRecord{
			AppID:        id,
			Store:        Libertine,
			ExecTemplate: de.Exec,
			Icon:         de.Icon,
			Name:         de.Name,
		})
	}
	return recs, nil
}
