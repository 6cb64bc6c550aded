// -*- Mode: Go; indent-tabs-mode: t -*-

package launcher

import (
	"context"

	"github.com/godbus/dbus/v5"
)

// Well-known systemd bus names, matching jobs-systemd.cpp's
// SYSTEMD_DBUS_ADDRESS/PATH_MANAGER/IFACE_MANAGER/IFACE_SERVICE
// constants.
const (
	systemdBusName       = "org.freedesktop.systemd1"
	systemdManagerPath   = dbus.ObjectPath("/org/freedesktop/systemd1")
	systemdManagerIface  = "org.freedesktop.systemd1.Manager"
	systemdServiceIface  = "org.freedesktop.systemd1.Service"
	propertiesIface      = "org.freedesktop.DBus.Properties"
)

// UnitProperty is one (name, value) pair passed to StartTransientUnit.
type UnitProperty struct {
	Name  string
	Value interface{}
}

// UnitListEntry is one row of ListUnits' reply, trimmed to the fields
// the Unit Registry needs.
type UnitListEntry struct {
	Name string
	Path dbus.ObjectPath
}

// Manager is the subset of org.freedesktop.systemd1.Manager this core
// calls (spec.md §6), abstracted so the Unit Registry and Job Manager
// can be exercised against a fake in tests without a live user bus.
type Manager interface {
	Subscribe(ctx context.Context) error
	StartTransientUnit(ctx context.Context, name, mode string, properties []UnitProperty) (dbus.ObjectPath, error)
	StopUnit(ctx context.Context, name, mode string) (dbus.ObjectPath, error)
	ResetFailedUnit(ctx context.Context, name string) error
	ListUnits(ctx context.Context) ([]UnitListEntry, error)
	GetUnit(ctx context.Context, name string) (dbus.ObjectPath, error)
	GetServiceProperty(ctx context.Context, unitPath dbus.ObjectPath, prop string) (dbus.Variant, error)
	// Signals returns the channel the bus connection's signals are
	// delivered to; Subscribe must be called first.
	Signals() <-chan *dbus.Signal
	// SecondExec delivers a new URL list to an already-running instance's
	// rendezvous object (spec.md §4.7, Glossary "second-exec"), emitted as
	// a signal on path since the running application's own unique bus
	// name is not something this core tracks.
	SecondExec(ctx context.Context, path dbus.ObjectPath, uris []string) error
	Close() error
}

// dbusManager implements Manager directly against a *dbus.Conn, in the
// same low-level call style xdgopenproxy.go and dbus/safelauncher.go use
// for their own bus needs, rather than a higher-level systemd-dbus
// wrapper (DESIGN.md explains why coreos/go-systemd is not used here).
type dbusManager struct {
	conn *dbus.Conn
	sigs chan *dbus.Signal
}

// newDbusManager dials the user bus at busAddr (normally a unix socket
// path from dirs.UserBusPath).
func newDbusManager(busAddr string) (*dbusManager, error) {
	conn, err := dbus.Dial("unix:path=" + busAddr)
	if err != nil {
		return nil, err
	}
	if err := conn.Auth(nil); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.Hello(); err != nil {
		conn.Close()
		return nil, err
	}
	return &dbusManager{conn: conn, sigs: make(chan *dbus.Signal, 64)}, nil
}

func (m *dbusManager) managerObj() dbus.BusObject {
	return m.conn.Object(systemdBusName, systemdManagerPath)
}

func (m *dbusManager) Subscribe(ctx context.Context) error {
	m.conn.Signal(m.sigs)
	if err := m.conn.AddMatchSignal(
		dbus.WithMatchInterface(systemdManagerIface),
	); err != nil {
		return err
	}
	if err := m.conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		return err
	}
	call := m.managerObj().CallWithContext(ctx, systemdManagerIface+".Subscribe", 0)
	return call.Err
}

func (m *dbusManager) StartTransientUnit(ctx context.Context, name, mode string, properties []UnitProperty) (dbus.ObjectPath, error) {
	type propEntry struct {
		Name  string
		Value dbus.Variant
	}
	props := make([]propEntry, 0, len(properties))
	for _, p := range properties {
		props = append(props, propEntry{Name: p.Name, Value: dbus.MakeVariant(p.Value)})
	}
	var path dbus.ObjectPath
	call := m.managerObj().CallWithContext(ctx, systemdManagerIface+".StartTransientUnit", 0,
		name, mode, props, []struct {
			Name string
			Deps []struct {
				Name string
				Vals []dbus.Variant
			}
		}{})
	if call.Err != nil {
		return "", call.Err
	}
	if err := call.Store(&path); err != nil {
		return "", err
	}
	return path, nil
}

func (m *dbusManager) StopUnit(ctx context.Context, name, mode string) (dbus.ObjectPath, error) {
	var path dbus.ObjectPath
	call := m.managerObj().CallWithContext(ctx, systemdManagerIface+".StopUnit", 0, name, mode)
	if call.Err != nil {
		return "", call.Err
	}
	err := call.Store(&path)
	return path, err
}

func (m *dbusManager) ResetFailedUnit(ctx context.Context, name string) error {
	return m.managerObj().CallWithContext(ctx, systemdManagerIface+".ResetFailedUnit", 0, name).Err
}

func (m *dbusManager) ListUnits(ctx context.Context) ([]UnitListEntry, error) {
	var rows [][]interface{}
	call := m.managerObj().CallWithContext(ctx, systemdManagerIface+".ListUnits", 0)
	if call.Err != nil {
		return nil, call.Err
	}
	if err := call.Store(&rows); err != nil {
		return nil, err
	}
	entries := make([]UnitListEntry, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		name, _ := row[0].(string)
		path, _ := row[6].(dbus.ObjectPath)
		entries = append(entries, UnitListEntry{Name: name, Path: path})
	}
	return entries, nil
}

func (m *dbusManager) GetUnit(ctx context.Context, name string) (dbus.ObjectPath, error) {
	var path dbus.ObjectPath
	call := m.managerObj().CallWithContext(ctx, systemdManagerIface+".GetUnit", 0, name)
	if call.Err != nil {
		return "", call.Err
	}
	err := call.Store(&path)
	return path, err
}

func (m *dbusManager) GetServiceProperty(ctx context.Context, unitPath dbus.ObjectPath, prop string) (dbus.Variant, error) {
	obj := m.conn.Object(systemdBusName, unitPath)
	var v dbus.Variant
	call := obj.CallWithContext(ctx, propertiesIface+".Get", 0, systemdServiceIface, prop)
	if call.Err != nil {
		return dbus.Variant{}, call.Err
	}
	err := call.Store(&v)
	return v, err
}

func (m *dbusManager) Signals() <-chan *dbus.Signal {
	return m.sigs
}

const secondExecIface = "com.canonical.UbuntuAppLaunch.SecondExec"

func (m *dbusManager) SecondExec(ctx context.Context, path dbus.ObjectPath, uris []string) error {
	return m.conn.Emit(path, secondExecIface+".UrlsReceived", uris)
}

func (m *dbusManager) Close() error {
	return m.conn.Close()
}
