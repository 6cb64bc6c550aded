// -*- Mode: Go; indent-tabs-mode: t -*-

package launcher

import (
	"context"

	"github.com/godbus/dbus/v5"
	. "gopkg.in/check.v1"
)

type unitRegistrySuite struct {
	mgr *fakeManager
	reg *UnitRegistry
}

var _ = Suite(&unitRegistrySuite{})

func (s *unitRegistrySuite) SetUpTest(c *C) {
	s.mgr = newFakeManager()
	s.reg = NewUnitRegistry(s.mgr, false)
}

type recordingObserver struct {
	started []UnitInfo
	stopped []UnitInfo
	failed  []UnitInfo
	kinds   []FailureKind
}

func (o *recordingObserver) JobStarted(info UnitInfo) { o.started = append(o.started, info) }
func (o *recordingObserver) JobStopped(info UnitInfo) { o.stopped = append(o.stopped, info) }
func (o *recordingObserver) JobFailed(info UnitInfo, kind FailureKind) {
	o.failed = append(o.failed, info)
	o.kinds = append(o.kinds, kind)
}

func (s *unitRegistrySuite) TestUnitNewInsertsAndEmitsJobStarted(c *C) {
	obs := &recordingObserver{}
	s.reg.AddObserver(obs)

	info := UnitInfo{Job: "application-legacy", AppID: "foo_1.0", Instance: "1"}
	name := unitName(info)
	path := s.mgr.allocPath(name)

	s.reg.handleUnitNew(context.Background(), name, path)

	c.Assert(obs.started, HasLen, 1)
	c.Check(obs.started[0], Equals, info)

	data, ok := s.reg.Get(info)
	c.Assert(ok, Equals, true)
	c.Check(data.UnitPath, Equals, path)
}

func (s *unitRegistrySuite) TestDuplicateUnitNewDropped(c *C) {
	obs := &recordingObserver{}
	s.reg.AddObserver(obs)

	info := UnitInfo{Job: "application-legacy", AppID: "foo_1.0", Instance: "1"}
	name := unitName(info)
	path := s.mgr.allocPath(name)

	s.reg.handleUnitNew(context.Background(), name, path)
	s.reg.handleUnitNew(context.Background(), name, path)

	c.Check(obs.started, HasLen, 1)
}

func (s *unitRegistrySuite) TestUnitRemovedEmitsJobStopped(c *C) {
	obs := &recordingObserver{}
	s.reg.AddObserver(obs)

	info := UnitInfo{Job: "application-legacy", AppID: "foo_1.0", Instance: "1"}
	name := unitName(info)
	path := s.mgr.allocPath(name)
	s.reg.handleUnitNew(context.Background(), name, path)

	s.reg.handleUnitRemoved(name)
	c.Assert(obs.stopped, HasLen, 1)
	c.Check(obs.stopped[0], Equals, info)

	_, ok := s.reg.Get(info)
	c.Check(ok, Equals, false)
}

func (s *unitRegistrySuite) TestSpuriousRemovalIgnored(c *C) {
	obs := &recordingObserver{}
	s.reg.AddObserver(obs)
	s.reg.handleUnitRemoved("ubuntu-app-launch--job--appid--1.service")
	c.Check(obs.stopped, HasLen, 0)
}

func (s *unitRegistrySuite) TestUnmanagedUnitIgnored(c *C) {
	obs := &recordingObserver{}
	s.reg.AddObserver(obs)
	s.reg.handleUnitNew(context.Background(), "some-other.service", dbus.ObjectPath("/x"))
	c.Check(obs.started, HasLen, 0)
}

func (s *unitRegistrySuite) TestPropertiesChangedExitCodeEmitsStartFailure(c *C) {
	obs := &recordingObserver{}
	s.reg.AddObserver(obs)

	info := UnitInfo{Job: "application-legacy", AppID: "foo_1.0", Instance: "1"}
	name := unitName(info)
	path := s.mgr.allocPath(name)
	s.reg.handleUnitNew(context.Background(), name, path)

	s.reg.handlePropertiesChanged(context.Background(), path, map[string]dbus.Variant{
		"Result": dbus.MakeVariant("exit-code"),
	})

	c.Assert(obs.failed, HasLen, 1)
	c.Check(obs.kinds[0], Equals, StartFailure)
	c.Assert(s.mgr.resetCalls, HasLen, 1)
	c.Check(s.mgr.resetCalls[0], Equals, name)
}

func (s *unitRegistrySuite) TestPropertiesChangedSuccessEmitsNothing(c *C) {
	obs := &recordingObserver{}
	s.reg.AddObserver(obs)

	info := UnitInfo{Job: "application-legacy", AppID: "foo_1.0", Instance: "1"}
	name := unitName(info)
	path := s.mgr.allocPath(name)
	s.reg.handleUnitNew(context.Background(), name, path)

	s.reg.handlePropertiesChanged(context.Background(), path, map[string]dbus.Variant{
		"Result": dbus.MakeVariant("success"),
	})

	c.Check(obs.failed, HasLen, 0)
	c.Check(s.mgr.resetCalls, HasLen, 0)
}

func (s *unitRegistrySuite) TestPropertiesChangedCrashKind(c *C) {
	obs := &recordingObserver{}
	s.reg.AddObserver(obs)

	info := UnitInfo{Job: "application-legacy", AppID: "foo_1.0", Instance: "1"}
	name := unitName(info)
	path := s.mgr.allocPath(name)
	s.reg.handleUnitNew(context.Background(), name, path)

	s.reg.handlePropertiesChanged(context.Background(), path, map[string]dbus.Variant{
		"Result": dbus.MakeVariant("core-dump"),
	})

	c.Assert(obs.kinds, HasLen, 1)
	c.Check(obs.kinds[0], Equals, Crash)
}

func (s *unitRegistrySuite) TestResetDisabledSkipsResetFailedUnit(c *C) {
	s.reg = NewUnitRegistry(s.mgr, true)
	obs := &recordingObserver{}
	s.reg.AddObserver(obs)

	info := UnitInfo{Job: "application-legacy", AppID: "foo_1.0", Instance: "1"}
	name := unitName(info)
	path := s.mgr.allocPath(name)
	s.reg.handleUnitNew(context.Background(), name, path)

	s.reg.handlePropertiesChanged(context.Background(), path, map[string]dbus.Variant{
		"Result": dbus.MakeVariant("exit-code"),
	})

	c.Check(s.mgr.resetCalls, HasLen, 0)
}

func (s *unitRegistrySuite) TestSubscribeEnumeratesExistingUnits(c *C) {
	info := UnitInfo{Job: "application-legacy", AppID: "foo_1.0", Instance: "1"}
	name := unitName(info)
	s.mgr.allocPath(name)
	s.mgr.units = append(s.mgr.units, UnitListEntry{Name: name, Path: s.mgr.unitPath[name]})

	obs := &recordingObserver{}
	s.reg.AddObserver(obs)

	c.Assert(s.reg.Subscribe(context.Background()), IsNil)
	c.Assert(obs.started, HasLen, 1)
	c.Check(obs.started[0], Equals, info)
}

func (s *unitRegistrySuite) TestDumpRendersYAML(c *C) {
	info := UnitInfo{Job: "application-legacy", AppID: "foo_1.0", Instance: "1"}
	name := unitName(info)
	path := s.mgr.allocPath(name)
	s.reg.handleUnitNew(context.Background(), name, path)

	out, err := s.reg.Dump()
	c.Assert(err, IsNil)
	c.Check(out, Matches, "(?s).*appid: foo_1\\.0.*")
}

func (s *unitRegistrySuite) TestHasObserver(c *C) {
	c.Check(s.reg.HasObserver(), Equals, false)
	s.reg.AddObserver(&recordingObserver{})
	c.Check(s.reg.HasObserver(), Equals, true)
}
