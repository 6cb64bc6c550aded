// -*- Mode: Go; indent-tabs-mode: t -*-

package launcher

import (
	"context"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"gopkg.in/yaml.v3"

	"github.com/mardy/ubuntu-app-launch/logger"
)

// UnitData is the registry's record of one live unit: the job object path
// systemd handed back from StartTransientUnit/ListUnits, and the resolved
// unit object path used for property/signal lookups (spec.md §3).
type UnitData struct {
	JobPath  dbus.ObjectPath
	UnitPath dbus.ObjectPath
}

// JobObserver receives the three lifecycle signals the Unit Registry
// translates bus events into (spec.md §2, C6).
type JobObserver interface {
	JobStarted(info UnitInfo)
	JobStopped(info UnitInfo)
	JobFailed(info UnitInfo, kind FailureKind)
}

// UnitRegistry maintains the process-wide UnitInfo -> UnitData map,
// fed exclusively from bus events (spec.md §4.6 — no external caller
// ever mutates this map directly). The initial enumeration in Subscribe
// runs on the Registry worker; later signals are handled on the separate
// goroutine that runs Run, not on the worker, and a mutex guards the map.
type UnitRegistry struct {
	mgr Manager

	mu        sync.Mutex
	units     map[UnitInfo]UnitData
	observers []JobObserver

	resetDisabled bool
}

// NewUnitRegistry creates an UnitRegistry bound to mgr. resetDisabled
// mirrors dirs.ResetUnitsDisabled (UBUNTU_APP_LAUNCH_SYSTEMD_NO_RESET,
// spec.md §6); it is passed in rather than read here so the registry has
// no direct dependency on the dirs package.
func NewUnitRegistry(mgr Manager, resetDisabled bool) *UnitRegistry {
	return &UnitRegistry{
		mgr:           mgr,
		units:         make(map[UnitInfo]UnitData),
		resetDisabled: resetDisabled,
	}
}

// AddObserver registers an observer for JobStarted/Stopped/Failed.
func (r *UnitRegistry) AddObserver(o JobObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// HasObserver reports whether any observer is registered, the signal the
// Job Manager's launch handshake timeout decision is keyed on
// (spec.md §4.5 step 5).
func (r *UnitRegistry) HasObserver() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.observers) > 0
}

// Get returns the UnitData currently tracked for info, if any.
func (r *UnitRegistry) Get(info UnitInfo) (UnitData, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.units[info]
	return d, ok
}

// List returns every currently-tracked UnitInfo whose Job is in jobs (or
// every one, if jobs is empty), the primitive instances()/running_app_ids()
// build on (spec.md §4.5).
func (r *UnitRegistry) List(jobs map[string]bool) []UnitInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]UnitInfo, 0, len(r.units))
	for info := range r.units {
		if len(jobs) == 0 || jobs[info.Job] {
			out = append(out, info)
		}
	}
	return out
}

// dumpEntry is one row of Dump's YAML snapshot.
type dumpEntry struct {
	Job      string `yaml:"job"`
	AppID    string `yaml:"appid"`
	Instance string `yaml:"instance"`
	JobPath  string `yaml:"job-path"`
	UnitPath string `yaml:"unit-path"`
}

// Dump renders the live UnitInfo -> UnitData map as YAML, for inclusion in
// a debug-log snapshot the way the teacher dumps structured state
// elsewhere (e.g. snap.yaml); it never fails on a well-formed map, but
// returns the marshal error if one somehow occurs.
func (r *UnitRegistry) Dump() (string, error) {
	r.mu.Lock()
	entries := make([]dumpEntry, 0, len(r.units))
	for info, data := range r.units {
		entries = append(entries, dumpEntry{
			Job:      info.Job,
			AppID:    info.AppID,
			Instance: info.Instance,
			JobPath:  string(data.JobPath),
			UnitPath: string(data.UnitPath),
		})
	}
	r.mu.Unlock()

	out, err := yaml.Marshal(entries)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (r *UnitRegistry) insert(info UnitInfo, data UnitData) bool {
	r.mu.Lock()
	if _, exists := r.units[info]; exists {
		r.mu.Unlock()
		logger.Debugf("dropping duplicate unit announcement for %v", info)
		return false
	}
	r.units[info] = data
	observers := append([]JobObserver(nil), r.observers...)
	r.mu.Unlock()

	for _, o := range observers {
		o.JobStarted(info)
	}
	return true
}

func (r *UnitRegistry) remove(info UnitInfo) {
	r.mu.Lock()
	if _, exists := r.units[info]; !exists {
		r.mu.Unlock()
		return
	}
	delete(r.units, info)
	observers := append([]JobObserver(nil), r.observers...)
	r.mu.Unlock()

	for _, o := range observers {
		o.JobStopped(info)
	}
}

func (r *UnitRegistry) fail(info UnitInfo, kind FailureKind) {
	r.mu.Lock()
	observers := append([]JobObserver(nil), r.observers...)
	r.mu.Unlock()
	for _, o := range observers {
		o.JobFailed(info, kind)
	}
}

// findByUnitPath locates the UnitInfo whose UnitData.UnitPath equals path,
// the lookup PropertiesChanged dispatch needs (spec.md §4.6).
func (r *UnitRegistry) findByUnitPath(path dbus.ObjectPath) (UnitInfo, UnitData, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for info, data := range r.units {
		if data.UnitPath == path {
			return info, data, true
		}
	}
	return UnitInfo{}, UnitData{}, false
}

// handleUnitNew processes one UnitNew(name, path) announcement: parse the
// name, resolve the unit object path, and insert (spec.md §4.6).
func (r *UnitRegistry) handleUnitNew(ctx context.Context, name string, jobPath dbus.ObjectPath) {
	info, err := parseUnit(name)
	if err != nil {
		logger.Debugf("ignoring unmanaged unit %q: %v", name, err)
		return
	}
	unitPath, err := r.mgr.GetUnit(ctx, name)
	if err != nil {
		logger.Noticef("GetUnit(%q) failed: %v", name, err)
		return
	}
	r.insert(info, UnitData{JobPath: jobPath, UnitPath: unitPath})
}

// handleUnitRemoved processes one UnitRemoved(name, path) announcement.
func (r *UnitRegistry) handleUnitRemoved(name string) {
	info, err := parseUnit(name)
	if err != nil {
		return
	}
	r.remove(info)
}

// handlePropertiesChanged processes one PropertiesChanged signal on a
// unit's Service interface (spec.md §4.6).
func (r *UnitRegistry) handlePropertiesChanged(ctx context.Context, unitPath dbus.ObjectPath, changed map[string]dbus.Variant) {
	resultVar, ok := changed["Result"]
	if !ok {
		return
	}
	result, _ := resultVar.Value().(string)
	if result == "" || result == "success" {
		return
	}

	info, _, ok := r.findByUnitPath(unitPath)
	if !ok {
		return
	}

	kind := Crash
	if result == "exit-code" {
		kind = StartFailure
	}
	r.fail(info, kind)

	if !r.resetDisabled {
		if err := r.mgr.ResetFailedUnit(ctx, unitName(info)); err != nil {
			logger.Debugf("ResetFailedUnit(%v) failed: %v", info, err)
		}
	}
}

// Subscribe performs the initial bus setup (spec.md §4.6): subscribes to
// systemd's unit signals, then enumerates every currently-running unit
// exactly as handleUnitNew would process it. Initial enumeration
// completes before Run starts processing further signals (spec.md §5).
func (r *UnitRegistry) Subscribe(ctx context.Context) error {
	if err := r.mgr.Subscribe(ctx); err != nil {
		return err
	}
	entries, err := r.mgr.ListUnits(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name, unitPrefix+unitDelim) {
			continue
		}
		r.handleUnitNew(ctx, e.Name, e.Path)
	}
	return nil
}

// Run processes bus signals until ctx is done or the signal channel
// closes. It is meant to be the body of the Registry worker's dedicated
// signal-pump goroutine (spec.md §5).
func (r *UnitRegistry) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-r.mgr.Signals():
			if !ok {
				return
			}
			r.dispatchSignal(ctx, sig)
		}
	}
}

func (r *UnitRegistry) dispatchSignal(ctx context.Context, sig *dbus.Signal) {
	switch sig.Name {
	case "org.freedesktop.systemd1.Manager.UnitNew":
		if len(sig.Body) != 2 {
			return
		}
		name, _ := sig.Body[0].(string)
		path, _ := sig.Body[1].(dbus.ObjectPath)
		r.handleUnitNew(ctx, name, path)
	case "org.freedesktop.systemd1.Manager.UnitRemoved":
		if len(sig.Body) != 2 {
			return
		}
		name, _ := sig.Body[0].(string)
		r.handleUnitRemoved(name)
	case "org.freedesktop.DBus.Properties.PropertiesChanged":
		if len(sig.Body) < 2 {
			return
		}
		changed, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			return
		}
		r.handlePropertiesChanged(ctx, sig.Path, changed)
	}
}
