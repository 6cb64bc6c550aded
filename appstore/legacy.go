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

// LegacyStore scans, in order, the user data directory then the system
// data directories, for applications/**/*.desktop files (spec.md §4.3).
// Unlike desktop-exec.c's single-level try_dir, the glob is recursive.
// An entry found in a subdirectory is keyed by its base file name only,
// not by a subdirectory-qualified desktop-file ID, so two files with the
// same base name under one data directory replace each other.
type LegacyStore struct {
	dataDirs []string

	mu    sync.Mutex
	index map[string]*desktopentry.DesktopEntry // app name -> entry

	events  chan DiscoveryEvent
	limiter *rate.Limiter
}

// NewLegacyStore builds a LegacyStore scanning dataDirs in priority
// order (first match wins), and performs the initial scan.
func NewLegacyStore(dataDirs []string) *LegacyStore {
	s := &LegacyStore{
		dataDirs: dataDirs,
		index:    map[string]*desktopentry.DesktopEntry{},
		events:   make(chan DiscoveryEvent, 16),
		limiter:  rate.NewLimiter(rate.Every(250*time.Millisecond), 1),
	}
	s.scan()
	return s
}

// scan rebuilds the in-memory index by walking every data directory,
// lowest priority first, so that a higher-priority directory's entry for
// the same app name overwrites (wins over) a lower-priority one.
func (s *LegacyStore) scan() {
	next := map[string]*desktopentry.DesktopEntry{}
	for i := len(s.dataDirs) - 1; i >= 0; i-- {
		dir := s.dataDirs[i]
		appsDir := filepath.Join(dir, "applications")
		if !osutil.IsDirectory(appsDir) {
			// Most entries in XDG_DATA_DIRS have no applications
			// subdirectory at all; skip the glob rather than let it
			// walk a path that can't exist.
			continue
		}
		matches, err := doublestar.FilepathGlob(filepath.Join(appsDir, "**", "*.desktop"))
		if err != nil {
			logger.Debugf("legacy store: bad glob under %q: %v", dir, err)
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
			if err != nil {
				logger.Debugf("legacy store: %v", err)
				continue
			}
			if de.Exec == "" {
				continue
			}
			next[name] = de
		}
	}

	s.mu.Lock()
	s.index = next
	s.mu.Unlock()
}

// Rescan re-walks the data directories and publishes a coalesced
// discovery event if the caller's filesystem watcher observed a change.
// Bursts of filesystem activity (e.g. a package manager unpacking many
// files) collapse into a single discovery pass via the rate limiter,
// since we have no GIO file monitor doing that coalescing for us.
func (s *LegacyStore) Rescan() {
	if !s.limiter.Allow() {
		return
	}
	s.scan()
	select {
	case s.events <- DiscoveryEvent{Kind: Added}:
	default:
	}
}

func (s *LegacyStore) Discovery() <-chan DiscoveryEvent {
	return s.events
}

func (s *LegacyStore) lookup(id appid.AppID) (*desktopentry.DesktopEntry, bool) {
	if id.Package != "" {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	de, ok := s.index[id.App]
	return de, ok
}

func (s *LegacyStore) HasApp(ctx context.Context, id appid.AppID) bool {
	_, ok := s.lookup(id)
	return ok
}

func (s *LegacyStore) Verify(ctx context.Context, id appid.AppID) (AppRecord, error) {
	if id.Package != "" {
		return AppRecord{}, ErrNotFound
	}
	de, ok := s.lookup(id)
	if !ok {
		return AppRecord{}, ErrNotFound
	}
	return AppRecord{
		AppID:           appid.AppID{App: id.App},
		Store:           Legacy,
		ExecTemplate:    de.Exec,
		AppArmorProfile: de.AppArmorProfile,
		Icon:            de.Icon,
		Name:            de.Name,
	}, nil
}

func (s *LegacyStore) List(ctx context.Context) ([]AppRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := make([]AppRecord, 0, len(s.index))
	for name, de := range s.index {
		recs = append(recs, AppRecord{
			AppID:           appid.AppID{App: name},
			Store:           Legacy,
			ExecTemplate:    de.Exec,
			AppArmorProfile: de.AppArmorProfile,
			Icon:            de.Icon,
			Name:            de.Name,
		})
	}
	return recs, nil
}
