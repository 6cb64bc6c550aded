// -*- Mode: Go; indent-tabs-mode: t -*-

package launcher

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	. "gopkg.in/check.v1"

	"github.com/mardy/ubuntu-app-launch/appid"
)

type jobManagerSuite struct {
	mgr *fakeManager
	reg *UnitRegistry
	jm  *JobManager
}

var _ = Suite(&jobManagerSuite{})

func (s *jobManagerSuite) SetUpTest(c *C) {
	s.mgr = newFakeManager()
	s.reg = NewUnitRegistry(s.mgr, false)
	s.jm = NewJobManager(s.mgr, s.reg, nil)
	os.Unsetenv("SNAP")
}

func (s *jobManagerSuite) TestLaunchBuildsArgvAndStripsEnv(c *C) {
	id := appid.AppID{App: "foo", Version: "1.0"}
	getenv := NewAppRecordEnv("/usr/bin/foo %u", "foo_profile", "/opt/foo", nil)

	handle, err := s.jm.Launch(context.Background(), id, ApplicationLegacy, "1", []string{"file:///tmp/x"}, Normal, getenv)
	c.Assert(err, IsNil)
	c.Assert(handle, NotNil)
	c.Check(handle.Info(), Equals, UnitInfo{Job: ApplicationLegacy, AppID: appid.Render(id), Instance: "1"})

	c.Assert(len(s.mgr.started), Equals, 1)
	call := s.mgr.started[0]
	c.Check(call.mode, Equals, "replace")
	c.Check(call.name, Equals, unitName(handle.Info()))

	var execStart []execStartEntry
	var workDir string
	var envList []string
	for _, p := range call.args {
		switch p.Name {
		case "ExecStart":
			execStart = p.Value.([]execStartEntry)
		case "WorkingDirectory":
			workDir = p.Value.(string)
		case "Environment":
			envList = p.Value.([]string)
		}
	}
	c.Assert(execStart, HasLen, 1)
	c.Check(execStart[0].Argv, DeepEquals, []string{"aa-exec", "-p", "foo_profile", "/usr/bin/foo", "file:///tmp/x"})
	c.Check(workDir, Equals, "/opt/foo")

	for _, kv := range envList {
		for _, stripped := range strippedKeys {
			c.Check(strings.HasPrefix(kv, stripped+"="), Equals, false)
		}
	}
}

func (s *jobManagerSuite) TestLaunchSetsAppID(c *C) {
	id := appid.AppID{App: "foo", Version: "1.0"}
	getenv := NewAppRecordEnv("/usr/bin/foo", "", "", nil)
	_, err := s.jm.Launch(context.Background(), id, ApplicationLegacy, "1", nil, Normal, getenv)
	c.Assert(err, IsNil)

	call := s.mgr.started[0]
	var env []string
	for _, p := range call.args {
		if p.Name == "Environment" {
			env = p.Value.([]string)
		}
	}
	c.Check(env, testContains, "APP_ID="+appid.Render(id))
}

func (s *jobManagerSuite) TestLaunchCopiesQtAndXdgForLegacyOutsideSnap(c *C) {
	c.Assert(os.Setenv("QT_SOMETHING", "v"), IsNil)
	c.Assert(os.Setenv("XDG_SOMETHING", "v"), IsNil)
	defer os.Unsetenv("QT_SOMETHING")
	defer os.Unsetenv("XDG_SOMETHING")

	id := appid.AppID{App: "foo", Version: "1.0"}
	getenv := NewAppRecordEnv("/usr/bin/foo", "", "", nil)
	_, err := s.jm.Launch(context.Background(), id, ApplicationLegacy, "1", nil, Normal, getenv)
	c.Assert(err, IsNil)

	env := envOf(s.mgr.started[0])
	c.Check(env, testContains, "QT_SOMETHING=v")
	c.Check(env, testContains, "XDG_SOMETHING=v")
}

func (s *jobManagerSuite) TestLaunchCopiesQtAndXdgForUntrustedHelperOutsideSnap(c *C) {
	c.Assert(os.Setenv("QT_SOMETHING", "v"), IsNil)
	c.Assert(os.Setenv("XDG_SOMETHING", "v"), IsNil)
	defer os.Unsetenv("QT_SOMETHING")
	defer os.Unsetenv("XDG_SOMETHING")

	id := appid.AppID{App: "foo", Version: "1.0"}
	getenv := NewAppRecordEnv("/usr/bin/foo", "", "", nil)
	_, err := s.jm.Launch(context.Background(), id, UntrustedHelper, "1", nil, Normal, getenv)
	c.Assert(err, IsNil)

	env := envOf(s.mgr.started[0])
	c.Check(env, testContains, "QT_SOMETHING=v")
	c.Check(env, testContains, "XDG_SOMETHING=v")
}

func (s *jobManagerSuite) TestLaunchSkipsQtXdgInsideSnapSandbox(c *C) {
	c.Assert(os.Setenv("SNAP", "/snap/foo/1"), IsNil)
	c.Assert(os.Setenv("QT_SOMETHING", "v"), IsNil)
	defer os.Unsetenv("SNAP")
	defer os.Unsetenv("QT_SOMETHING")

	id := appid.AppID{App: "foo", Version: "1.0"}
	getenv := NewAppRecordEnv("/usr/bin/foo", "", "", nil)
	_, err := s.jm.Launch(context.Background(), id, ApplicationLegacy, "1", nil, Normal, getenv)
	c.Assert(err, IsNil)

	env := envOf(s.mgr.started[0])
	c.Check(env, Not(testContains), "QT_SOMETHING=v")
}

func (s *jobManagerSuite) TestLaunchRewritesMirQtQpaPlatform(c *C) {
	id := appid.AppID{App: "foo", Version: "1.0"}
	extra := map[string]string{"QT_QPA_PLATFORM": "mirserver"}
	getenv := NewAppRecordEnv("/usr/bin/foo", "", "", extra)
	_, err := s.jm.Launch(context.Background(), id, ApplicationLegacy, "1", nil, Normal, getenv)
	c.Assert(err, IsNil)

	env := envOf(s.mgr.started[0])
	c.Check(env, testContains, "QT_QPA_PLATFORM=wayland")
}

func (s *jobManagerSuite) TestLaunchSetsTestability(c *C) {
	id := appid.AppID{App: "foo", Version: "1.0"}
	getenv := NewAppRecordEnv("/usr/bin/foo", "", "", nil)
	_, err := s.jm.Launch(context.Background(), id, ApplicationLegacy, "1", nil, Test, getenv)
	c.Assert(err, IsNil)

	env := envOf(s.mgr.started[0])
	c.Check(env, testContains, "QT_LOAD_TESTABILITY=1")
}

func (s *jobManagerSuite) TestLaunchRejectsEmptyAppID(c *C) {
	getenv := NewAppRecordEnv("/usr/bin/foo", "", "", nil)
	_, err := s.jm.Launch(context.Background(), appid.AppID{}, ApplicationLegacy, "1", nil, Normal, getenv)
	c.Check(errors.Is(err, ErrMalformed), Equals, true)
}

func (s *jobManagerSuite) TestLaunchUnitExistsTriggersSecondExec(c *C) {
	id := appid.AppID{App: "foo", Version: "1.0"}
	s.mgr.startErr = errors.New("dbus: UnitExists: org.freedesktop.systemd1.UnitExists: Unit already exists")

	getenv := NewAppRecordEnv("/usr/bin/foo %u", "", "", nil)
	handle, err := s.jm.Launch(context.Background(), id, ApplicationLegacy, "7", []string{"file:///tmp/y"}, Normal, getenv)
	c.Assert(err, IsNil)
	c.Assert(handle, NotNil)

	c.Assert(s.mgr.secondExecs, HasLen, 1)
	c.Check(s.mgr.secondExecs[0].path, Equals, secondExecPath("7"))
	c.Check(s.mgr.secondExecs[0].uris, DeepEquals, []string{"file:///tmp/y"})
}

type fakeHandshake struct {
	calls []time.Duration
}

func (h *fakeHandshake) Wait(ctx context.Context, timeout time.Duration) error {
	h.calls = append(h.calls, timeout)
	return nil
}

func (s *jobManagerSuite) TestLaunchHandshakeTimeoutIsOneSecondWithoutObserver(c *C) {
	hs := &fakeHandshake{}
	s.jm = NewJobManager(s.mgr, s.reg, hs)

	id := appid.AppID{App: "foo", Version: "1.0"}
	getenv := NewAppRecordEnv("/usr/bin/foo", "", "", nil)
	_, err := s.jm.Launch(context.Background(), id, ApplicationLegacy, "1", nil, Normal, getenv)
	c.Assert(err, IsNil)

	c.Assert(hs.calls, HasLen, 1)
	c.Check(hs.calls[0], Equals, time.Second)
}

func (s *jobManagerSuite) TestLaunchHandshakeTimeoutIsZeroWithObserver(c *C) {
	hs := &fakeHandshake{}
	s.jm = NewJobManager(s.mgr, s.reg, hs)
	s.reg.AddObserver(&recordingObserver{})

	id := appid.AppID{App: "foo", Version: "1.0"}
	getenv := NewAppRecordEnv("/usr/bin/foo", "", "", nil)
	_, err := s.jm.Launch(context.Background(), id, ApplicationLegacy, "1", nil, Normal, getenv)
	c.Assert(err, IsNil)

	c.Assert(hs.calls, HasLen, 1)
	c.Check(hs.calls[0], Equals, time.Duration(0))
}

func (s *jobManagerSuite) TestLaunchSkipsHandshakeForNonApplicationJob(c *C) {
	hs := &fakeHandshake{}
	s.jm = NewJobManager(s.mgr, s.reg, hs)

	id := appid.AppID{App: "foo", Version: "1.0"}
	getenv := NewAppRecordEnv("/usr/bin/foo", "", "", nil)
	_, err := s.jm.Launch(context.Background(), id, UntrustedHelper, "1", nil, Normal, getenv)
	c.Assert(err, IsNil)

	c.Check(hs.calls, HasLen, 0)
}

func (s *jobManagerSuite) TestStartTransientUnitNotIssuedBeforeHandshakeCompletes(c *C) {
	hs := &blockingHandshake{release: make(chan struct{})}
	s.jm = NewJobManager(s.mgr, s.reg, hs)

	id := appid.AppID{App: "foo", Version: "1.0"}
	getenv := NewAppRecordEnv("/usr/bin/foo", "", "", nil)

	done := make(chan struct{})
	go func() {
		s.jm.Launch(context.Background(), id, ApplicationLegacy, "1", nil, Normal, getenv)
		close(done)
	}()

	select {
	case <-done:
		c.Fatal("Launch returned before the handshake was released")
	case <-time.After(20 * time.Millisecond):
	}
	c.Check(s.mgr.started, HasLen, 0)

	close(hs.release)
	<-done
	c.Check(s.mgr.started, HasLen, 1)
}

type blockingHandshake struct {
	release chan struct{}
}

func (h *blockingHandshake) Wait(ctx context.Context, timeout time.Duration) error {
	select {
	case <-h.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *jobManagerSuite) TestExistingRequiresTrackedUnit(c *C) {
	id := appid.AppID{App: "foo", Version: "1.0"}
	_, err := s.jm.Existing(context.Background(), id, ApplicationLegacy, "1", nil)
	c.Check(err, Equals, ErrNotFound)
}

func (s *jobManagerSuite) TestStopCallsStopUnit(c *C) {
	info := UnitInfo{Job: ApplicationLegacy, AppID: "foo_1.0", Instance: "1"}
	c.Assert(s.jm.Stop(context.Background(), info), IsNil)
	c.Assert(s.mgr.stopped, HasLen, 1)
	c.Check(s.mgr.stopped[0], Equals, unitName(info))
}

func envOf(call startCall) []string {
	for _, p := range call.args {
		if p.Name == "Environment" {
			return p.Value.([]string)
		}
	}
	return nil
}

type containsChecker struct{ *CheckerInfo }

var testContains Checker = &containsChecker{
	&CheckerInfo{Name: "testContains", Params: []string{"list", "item"}},
}

func (c *containsChecker) Check(params []interface{}, names []string) (bool, string) {
	list, ok := params[0].([]string)
	if !ok {
		return false, "list must be []string"
	}
	item, ok := params[1].(string)
	if !ok {
		return false, "item must be string"
	}
	for _, v := range list {
		if v == item {
			return true, ""
		}
	}
	return false, ""
}
