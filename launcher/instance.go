// -*- Mode: Go; indent-tabs-mode: t -*-

package launcher

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/mardy/ubuntu-app-launch/dirs"
)

// InstanceHandle is a live reference to a launched unit (C7): created by
// JobManager.Launch or JobManager.Existing, and remains valid independent
// of whether the unit it points to still exists (spec.md §3).
type InstanceHandle struct {
	jm   *JobManager
	info UnitInfo
}

// Info returns the UnitInfo this handle refers to.
func (h *InstanceHandle) Info() UnitInfo {
	return h.info
}

// PrimaryPid reads the MainPID property of the unit's service interface
// (spec.md §4.7).
func (h *InstanceHandle) PrimaryPid(ctx context.Context) (int, error) {
	data, ok := h.jm.units.Get(h.info)
	if !ok {
		return 0, nil
	}
	v, err := h.jm.mgr.GetServiceProperty(ctx, data.UnitPath, "MainPID")
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBusError, err)
	}
	pid, ok := v.Value().(uint32)
	if !ok {
		return 0, nil
	}
	return int(pid), nil
}

// Pids reads the unit's control group membership and returns every pid
// listed in its "tasks" file, tolerating ENOENT (the cgroup may already
// be gone) by returning an empty list rather than an error (spec.md §4.7,
// §9 "Cgroup reads").
func (h *InstanceHandle) Pids(ctx context.Context) ([]int, error) {
	data, ok := h.jm.units.Get(h.info)
	if !ok {
		return nil, nil
	}
	v, err := h.jm.mgr.GetServiceProperty(ctx, data.UnitPath, "ControlGroup")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBusError, err)
	}
	cgroup, _ := v.Value().(string)
	if cgroup == "" {
		return nil, nil
	}

	tasksPath := filepath.Join(dirs.SystemdCgroupRoot(), cgroup, "tasks")
	f, err := os.Open(tasksPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var pids []int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, scanner.Err()
}

// Stop calls StopUnit against this instance's unit (spec.md §4.7).
func (h *InstanceHandle) Stop(ctx context.Context) error {
	return h.jm.Stop(ctx, h.info)
}

// secondExecPath renders the well-known per-instance object path a
// running application's second-exec rendezvous object is exported on
// (SPEC_FULL.md §4.7).
func secondExecPath(instance string) dbus.ObjectPath {
	return dbus.ObjectPath("/com/canonical/ubuntu_app_launch/second_exec/" + instance)
}
