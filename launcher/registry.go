// -*- Mode: Go; indent-tabs-mode: t -*-

// Package launcher implements the Registry, Job Manager, Unit Registry,
// and Instance Handle components (C4–C7) of the launcher core: bus
// connection lifecycle, transient-unit launch, and lifecycle signaling
// (spec.md §4.4–§4.7).
package launcher

import (
	"context"
	"sync"
	"time"

	"gopkg.in/retry.v1"
	"gopkg.in/tomb.v2"

	"github.com/mardy/ubuntu-app-launch/appid"
	"github.com/mardy/ubuntu-app-launch/appstore"
	"github.com/mardy/ubuntu-app-launch/dirs"
	"github.com/mardy/ubuntu-app-launch/logger"
)

// busBootstrapStrategy bounds how long the worker retries connecting to
// the user bus socket at startup, which may not exist yet if this
// process races the session bus's own startup (grounded on
// store/store_download.go's use of gopkg.in/retry.v1 for its own network
// bootstrap, SPEC_FULL.md §4.4).
var busBootstrapStrategy = retry.LimitCount(10, retry.Exponential{
	Initial: 50 * time.Millisecond,
	Factor:  1.5,
})

// dialBus is replaced in tests to avoid touching a real bus socket.
var dialBus = func(busAddr string) (Manager, error) {
	return newDbusManager(busAddr)
}

// Registry is the process-wide coordinator (C4): it owns the worker
// goroutine, the lazily-opened bus connection, the ordered store list,
// and the singleton Job Manager (spec.md §4.4).
type Registry struct {
	t     tomb.Tomb
	tasks chan func()

	connectOnce sync.Once
	connectErr  error

	mgr     Manager
	busAddr string

	Stores     *appstore.Dispatcher
	JobManager *JobManager
	Units      *UnitRegistry
	Handshake  *InProcessHandshake
}

var (
	globalMu sync.Mutex
	global   *Registry
)

// Get returns the global Registry instance, initializing it (and its
// worker thread) on first call (spec.md §4.4 "Registry::get()").
func Get(stores *appstore.Dispatcher) *Registry {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = NewRegistry(stores)
	}
	return global
}

// ResetGlobalForTests drops the global singleton so tests can construct
// Registry instances in isolation.
func ResetGlobalForTests() {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = nil
}

// NewRegistry constructs a standalone Registry (not the global one),
// starting its worker goroutine immediately.
func NewRegistry(stores *appstore.Dispatcher) *Registry {
	r := &Registry{
		tasks:   make(chan func()),
		busAddr: dirs.UserBusPath(),
		Stores:  stores,
	}
	r.t.Go(r.loop)
	return r
}

// loop is the worker thread's cooperative event loop (spec.md §5): it
// processes posted tasks until the tomb is killed.
func (r *Registry) loop() error {
	for {
		select {
		case <-r.t.Dying():
			return nil
		case task := <-r.tasks:
			task()
		}
	}
}

// post runs fn on the worker thread and blocks the caller until it
// completes, the posted-task discipline every public entry point uses
// (spec.md §4.4, §5). If the worker is shutting down, fn never runs and
// post returns ErrCancelled.
func (r *Registry) post(fn func()) error {
	done := make(chan struct{})
	select {
	case r.tasks <- func() {
		fn()
		close(done)
	}:
		<-done
		return nil
	case <-r.t.Dying():
		return ErrCancelled
	}
}

// ensureBus lazily dials the user bus, subscribes the Unit Registry, and
// starts its signal pump — all exactly once, on the worker thread (spec.md
// §4.4 "a bus connection... opened lazily on the worker thread").
func (r *Registry) ensureBus(ctx context.Context) error {
	r.connectOnce.Do(func() {
		var mgr Manager
		for attempt := retry.Start(busBootstrapStrategy, nil); attempt.Next(); {
			m, err := dialBus(r.busAddr)
			if err == nil {
				mgr = m
				break
			}
			r.connectErr = err
		}
		if mgr == nil {
			return
		}
		r.mgr = mgr
		r.Units = NewUnitRegistry(mgr, dirs.ResetUnitsDisabled())
		r.Handshake = NewInProcessHandshake()
		r.JobManager = NewJobManager(mgr, r.Units, r.Handshake)
		if err := r.Units.Subscribe(ctx); err != nil {
			r.connectErr = err
			return
		}
		r.connectErr = nil
		r.t.Go(func() error {
			r.Units.Run(r.t.Context(ctx))
			return nil
		})
	})
	return r.connectErr
}

// Launch posts a launch() call to the worker thread (spec.md §4.5).
func (r *Registry) Launch(ctx context.Context, id appid.AppID, job, instance string, urls []string, mode LaunchMode, getenv GetEnvFunc) (*InstanceHandle, error) {
	var handle *InstanceHandle
	var err error
	postErr := r.post(func() {
		if err = r.ensureBus(ctx); err != nil {
			return
		}
		handle, err = r.JobManager.Launch(ctx, id, job, instance, urls, mode, getenv)
	})
	if postErr != nil {
		return nil, postErr
	}
	return handle, err
}

// Existing posts an existing() call to the worker thread.
func (r *Registry) Existing(ctx context.Context, id appid.AppID, job, instance string, urls []string) (*InstanceHandle, error) {
	var handle *InstanceHandle
	var err error
	postErr := r.post(func() {
		if err = r.ensureBus(ctx); err != nil {
			return
		}
		handle, err = r.JobManager.Existing(ctx, id, job, instance, urls)
	})
	if postErr != nil {
		return nil, postErr
	}
	return handle, err
}

// Instances posts an instances() call to the worker thread.
func (r *Registry) Instances(ctx context.Context, id appid.AppID, job string) ([]*InstanceHandle, error) {
	var out []*InstanceHandle
	postErr := r.post(func() {
		if err := r.ensureBus(ctx); err != nil {
			return
		}
		out = r.JobManager.Instances(id, job)
	})
	return out, postErr
}

// RunningAppIds posts a running_app_ids() call to the worker thread.
func (r *Registry) RunningAppIds(ctx context.Context, jobs []string) (map[string]bool, error) {
	var out map[string]bool
	postErr := r.post(func() {
		if err := r.ensureBus(ctx); err != nil {
			return
		}
		out = r.JobManager.RunningAppIds(jobs)
	})
	return out, postErr
}

// Stop posts a stop() call to the worker thread.
func (r *Registry) Stop(ctx context.Context, info UnitInfo) error {
	var err error
	postErr := r.post(func() {
		if err = r.ensureBus(ctx); err != nil {
			return
		}
		err = r.JobManager.Stop(ctx, info)
	})
	if postErr != nil {
		return postErr
	}
	return err
}

// AddObserver registers a JobObserver, posted to the worker thread so it
// is never racing unit-map mutation (spec.md §5).
func (r *Registry) AddObserver(ctx context.Context, o JobObserver) error {
	return r.post(func() {
		if err := r.ensureBus(ctx); err != nil {
			return
		}
		r.Units.AddObserver(o)
	})
}

// Shutdown cancels the worker's cancellation token, drains pending
// operations (which complete with ErrCancelled), and closes the bus
// connection (spec.md §4.4).
func (r *Registry) Shutdown() {
	if r.Units != nil {
		if dump, err := r.Units.Dump(); err == nil {
			logger.Debugf("unit map at shutdown:\n%s", dump)
		}
	}
	r.t.Kill(nil)
	_ = r.t.Wait()
	if r.mgr != nil {
		if err := r.mgr.Close(); err != nil {
			logger.Debugf("closing bus connection: %v", err)
		}
	}
}
