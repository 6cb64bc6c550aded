// -*- Mode: Go; indent-tabs-mode: t -*-

package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mardy/ubuntu-app-launch/appid"
	"github.com/mardy/ubuntu-app-launch/dirs"
	"github.com/mardy/ubuntu-app-launch/execline"
	"github.com/mardy/ubuntu-app-launch/logger"
)

// Job names this core launches. ApplicationClick/Legacy/Snap are treated
// as "is_application" jobs for the starting handshake (spec.md §4.5 step
// 1 and step 5); UntrustedHelper is not. The QT_*/XDG_* copy does not
// depend on the job (see assembleEnv).
const (
	ApplicationClick  = "application-click"
	ApplicationLegacy = "application-legacy"
	ApplicationSnap   = "application-snap"
	UntrustedHelper   = "untrusted-helper"
)

var applicationJobs = map[string]bool{
	ApplicationClick:  true,
	ApplicationLegacy: true,
	ApplicationSnap:   true,
}

// LaunchMode selects between a normal launch and a test launch that asks
// Qt to load its testability plugin (spec.md §4.5 step 4).
type LaunchMode int

const (
	Normal LaunchMode = iota
	Test
)

// GetEnvFunc supplies the launch-time base environment (spec.md §4.5 step
// 3); it is caller-provided so the Job Manager has no direct opinion on
// where APP_EXEC/APP_DIR/APP_EXEC_POLICY/APP_URIS originate (usually a
// resolved appstore.AppRecord, via NewAppRecordEnv below).
type GetEnvFunc func() []EnvVar

// NewAppRecordEnv builds the GetEnvFunc for a resolved AppRecord, setting
// the well-known keys the launch algorithm expects to find already
// present: APP_EXEC, APP_EXEC_POLICY, APP_DIR, and any ExtraEnv the store
// attached to the record.
func NewAppRecordEnv(execTemplate, policy, workingDir string, extra map[string]string) GetEnvFunc {
	return func() []EnvVar {
		var env []EnvVar
		env = append(env, EnvVar{Name: "APP_EXEC", Value: execTemplate})
		if policy != "" {
			env = append(env, EnvVar{Name: "APP_EXEC_POLICY", Value: policy})
		}
		if workingDir != "" {
			env = append(env, EnvVar{Name: "APP_DIR", Value: workingDir})
		}
		for k, v := range extra {
			env = append(env, EnvVar{Name: k, Value: v})
		}
		return env
	}
}

// strippedKeys lists the environment variables that carry launch-time
// bookkeeping and must never reach the running process (spec.md §4.5
// step 7).
var strippedKeys = []string{
	"APP_DIR", "APP_URIS", "APP_EXEC", "APP_EXEC_POLICY", "APP_LAUNCHER_PID",
	"INSTANCE_ID", "MIR_SERVER_PLATFORM_PATH", "MIR_SERVER_PROMPT_FILE",
	"MIR_SERVER_HOST_SOCKET", "UBUNTU_APP_LAUNCH_OOM_HELPER",
	"UBUNTU_APP_LAUNCH_LEGACY_ROOT",
}

// StartingHandshake is the out-of-band rendezvous a launch blocks on
// until a downstream observer (e.g. a compositor) is ready for the new
// unit (spec.md Glossary, §4.5 step 5).
type StartingHandshake interface {
	Wait(ctx context.Context, timeout time.Duration) error
}

// InProcessHandshake is the minimal StartingHandshake this core ships:
// downstream code in the same process (a compositor integration is out
// of scope per spec.md §1's UI non-goal, but this is the hook it would
// use) calls Ready to unblock every launch currently waiting; absent a
// call to Ready, Wait simply blocks out to its timeout.
type InProcessHandshake struct {
	mu      sync.Mutex
	waiters []chan struct{}
}

// NewInProcessHandshake creates an empty handshake with no pending
// waiters.
func NewInProcessHandshake() *InProcessHandshake {
	return &InProcessHandshake{}
}

// Wait blocks until Ready is called or timeout elapses, whichever comes
// first.
func (h *InProcessHandshake) Wait(ctx context.Context, timeout time.Duration) error {
	ch := make(chan struct{})
	h.mu.Lock()
	h.waiters = append(h.waiters, ch)
	h.mu.Unlock()

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case <-ch:
		return nil
	case <-tctx.Done():
		return tctx.Err()
	}
}

// Ready unblocks every launch currently waiting on the handshake.
func (h *InProcessHandshake) Ready() {
	h.mu.Lock()
	waiters := h.waiters
	h.waiters = nil
	h.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

// JobManager implements the Job Manager (C5): constructing transient
// units, handling the starting handshake, second-exec, and environment
// assembly, grounded line-for-line on jobs-systemd.cpp's launch()
// (SPEC_FULL.md §4.5).
type JobManager struct {
	mgr       Manager
	units     *UnitRegistry
	handshake StartingHandshake
}

// NewJobManager creates a JobManager bound to mgr and units. handshake
// may be nil, in which case step 5 of the launch algorithm is skipped
// entirely.
func NewJobManager(mgr Manager, units *UnitRegistry, handshake StartingHandshake) *JobManager {
	return &JobManager{mgr: mgr, units: units, handshake: handshake}
}

// unitExistsMember is the D-Bus error name systemd returns from
// StartTransientUnit when the unit is already running.
const unitExistsMember = "org.freedesktop.systemd1.UnitExists"

func isUnitExists(err error) bool {
	return err != nil && strings.Contains(err.Error(), unitExistsMember)
}

// Launch implements launch() (spec.md §4.5): resolve the environment,
// compute the argv via the Exec Parser, and issue StartTransientUnit.
func (jm *JobManager) Launch(ctx context.Context, id appid.AppID, job, instance string, urls []string, mode LaunchMode, getenv GetEnvFunc) (*InstanceHandle, error) {
	if id.Empty() {
		return nil, fmt.Errorf("%w: empty app id", ErrMalformed)
	}
	isApplication := applicationJobs[job]

	info := UnitInfo{Job: job, AppID: appid.Render(id), Instance: instance}
	name := unitName(info)

	env := getenv()
	env = jm.assembleEnv(id, urls, mode, env)
	checkEnvSize(env)

	if isApplication && jm.handshake != nil {
		timeout := time.Second
		if jm.units.HasObserver() {
			timeout = 0
		}
		hctx, cancel := context.WithTimeout(ctx, max(timeout, time.Millisecond))
		err := jm.handshake.Wait(hctx, timeout)
		cancel()
		if err != nil {
			logger.Debugf("starting handshake for %s: %v", name, err)
		}
	}

	execTemplate := findEnv("APP_EXEC", env)
	policy := findEnv("APP_EXEC_POLICY", env)
	workDir := findEnv("APP_DIR", env)

	argv, err := execline.Expand(execTemplate, urls, execline.Context{})
	if err != nil {
		return nil, err
	}
	argv = execline.WrapAppArmor(argv, policy)

	for _, key := range strippedKeys {
		env = removeEnv(key, env)
	}

	handle := &InstanceHandle{jm: jm, info: info}

	props := []UnitProperty{
		{Name: "ExecStart", Value: execStartValue(argv)},
		{Name: "RemainAfterExit", Value: false},
		{Name: "Type", Value: "oneshot"},
	}
	if workDir != "" {
		props = append(props, UnitProperty{Name: "WorkingDirectory", Value: workDir})
	}
	props = append(props, UnitProperty{Name: "Environment", Value: envStrings(env)})

	_, err = jm.mgr.StartTransientUnit(ctx, name, "replace", props)
	switch {
	case err == nil:
		return handle, nil
	case isUnitExists(err):
		jm.secondExec(ctx, info, urls)
		return handle, nil
	case errors.Is(err, context.Canceled):
		return handle, nil
	default:
		logger.Noticef("StartTransientUnit(%s) failed: %v", name, err)
		return handle, nil
	}
}

// execStartEntry is one row of systemd's ExecStart aa(sasb) property: the
// binary path, its full argv, and whether failure should be ignored.
type execStartEntry struct {
	Path        string
	Argv        []string
	IgnoreError bool
}

func execStartValue(argv []string) []execStartEntry {
	return []execStartEntry{{Path: argv[0], Argv: argv, IgnoreError: false}}
}

// envStrings renders env as "NAME=VALUE" strings for the Environment=
// unit property.
func envStrings(env []EnvVar) []string {
	out := make([]string, len(env))
	for i, e := range env {
		out[i] = e.Name + "=" + e.Value
	}
	return out
}

// assembleEnv performs spec.md §4.5 step 4 in full. The QT_/XDG_ copy is
// gated only on package emptiness and sandboxing, not on job type — the
// grounding source gates only the starting handshake on is_application,
// never the env copy (jobs-systemd.cpp's launch()).
func (jm *JobManager) assembleEnv(id appid.AppID, urls []string, mode LaunchMode, env []EnvVar) []EnvVar {
	env = append(env, EnvVar{Name: "APP_ID", Value: appid.Render(id)})
	env = append(env, EnvVar{Name: "APP_LAUNCHER_PID", Value: strconv.Itoa(os.Getpid())})

	env = copyEnv("DISPLAY", env)
	env = copyEnvByPrefix("DBUS_", env)
	env = copyEnvByPrefix("MIR_", env)
	env = copyEnvByPrefix("UBUNTU_APP_LAUNCH_", env)

	if id.Package == "" && !dirs.InSnapSandbox() {
		env = copyEnvByPrefix("QT_", env)
		env = copyEnvByPrefix("XDG_", env)
	}

	if v := findEnv("QT_QPA_PLATFORM", env); v == "mirserver" || v == "ubuntumirclient" {
		env = removeEnv("QT_QPA_PLATFORM", env)
		env = append(env, EnvVar{Name: "QT_QPA_PLATFORM", Value: "wayland"})
	}

	if findEnv("MIR_SOCKET", env) == "" {
		env = append(env, EnvVar{Name: "MIR_SOCKET", Value: filepath.Join(dirs.UserRuntimeDir(), "mir_socket")})
	}

	if len(urls) > 0 {
		env = append(env, EnvVar{Name: "APP_URIS", Value: shellQuoteJoin(urls)})
	}

	if mode == Test {
		env = append(env, EnvVar{Name: "QT_LOAD_TESTABILITY", Value: "1"})
	}

	return env
}

// shellQuoteJoin single-quotes each URL and space-joins them, the inverse
// of the tokenization the Exec Parser's %u/%U handling performs on the
// far side (spec.md §4.5 step 4).
func shellQuoteJoin(urls []string) string {
	quoted := make([]string, len(urls))
	for i, u := range urls {
		quoted[i] = "'" + strings.ReplaceAll(u, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}

// secondExec implements the second-exec rendezvous (spec.md §4.7): the
// already-running instance is sent the new URL list over the bus instead
// of a second unit being started.
func (jm *JobManager) secondExec(ctx context.Context, info UnitInfo, urls []string) {
	path := secondExecPath(info.Instance)
	if err := jm.mgr.SecondExec(ctx, path, urls); err != nil {
		logger.Noticef("second-exec to %s failed: %v", path, err)
	}
}

// Existing implements existing() (spec.md §4.5): returns a handle for an
// already-running unit without issuing a new StartTransientUnit, forwarding
// urls via second-exec if given.
func (jm *JobManager) Existing(ctx context.Context, id appid.AppID, job, instance string, urls []string) (*InstanceHandle, error) {
	info := UnitInfo{Job: job, AppID: appid.Render(id), Instance: instance}
	if _, ok := jm.units.Get(info); !ok {
		return nil, ErrNotFound
	}
	if len(urls) > 0 {
		jm.secondExec(ctx, info, urls)
	}
	return &InstanceHandle{jm: jm, info: info}, nil
}

// Instances implements instances() (spec.md §4.5): every tracked unit for
// the given appid/job pair.
func (jm *JobManager) Instances(id appid.AppID, job string) []*InstanceHandle {
	rendered := appid.Render(id)
	var out []*InstanceHandle
	for _, info := range jm.units.List(map[string]bool{job: true}) {
		if info.AppID == rendered {
			out = append(out, &InstanceHandle{jm: jm, info: info})
		}
	}
	return out
}

// RunningAppIds implements running_app_ids() (spec.md §4.5): the set of
// distinct rendered AppIDs with at least one tracked unit among jobs.
func (jm *JobManager) RunningAppIds(jobs []string) map[string]bool {
	set := make(map[string]bool)
	jobSet := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		jobSet[j] = true
	}
	for _, info := range jm.units.List(jobSet) {
		set[info.AppID] = true
	}
	return set
}

// Stop implements stop() (spec.md §4.5).
func (jm *JobManager) Stop(ctx context.Context, info UnitInfo) error {
	_, err := jm.mgr.StopUnit(ctx, unitName(info), "replace-irreversibly")
	return err
}
