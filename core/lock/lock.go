// Package lock implements the process-wide advisory lock that serializes
// mutating top-level operations (spec §4.6). cmd/updatectl's
// execUpdatePlan acquires it before running procedures and releases it
// on every exit path; the planning path (genUpdatePlan) does not take it.
//
// Two mechanisms back the single file path the spec names. The named
// mutex from github.com/juju/mutex/v2 - the same package juju's own
// machine agent uses to serialize container provisioning - does the
// actual cross-process exclusion. github.com/gofrs/flock, the file
// primitive juju/mutex is itself built on, is used directly against the
// lock's own path so the lock has a concrete, inspectable file on disk
// the way the spec describes it, independent of whatever backing juju/mutex
// chooses on a given platform.
package lock

import (
	"context"
	"time"

	"github.com/gofrs/flock"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/mutex/v2"
	"gopkg.in/tomb.v2"

	"github.com/kaizengarden/sdcadm/api"
)

// DefaultPath is where the advisory lock lives when a caller doesn't
// override it (spec §6: "/var/run/<tool>.lock - advisory lock").
const DefaultPath = "/var/run/sdcadm.lock"

// warnAfter is how long Acquire waits before emitting a progress message,
// per spec §4.6: "Acquire emits a progress message after 1 s of waiting."
const warnAfter = time.Second

// Manager acquires the single process-wide advisory lock described in
// spec §4.6. It is deliberately the only piece of global, cross-procedure
// state in the module (spec DESIGN NOTES: "scope it to an explicit object
// with RAII-style release").
type Manager struct {
	// Path is the lock file's location. Defaults to DefaultPath.
	Path string
	// Name is the juju/mutex named-mutex identity; it must be stable
	// across processes on the same host to actually serialize them.
	// Defaults to "sdcadm-update".
	Name string
	// Clock drives the 1s progress-message timer. The named mutex always
	// polls on clock.WallClock regardless. Defaults to clock.WallClock.
	Clock clock.Clock
}

func (m Manager) path() string {
	if m.Path != "" {
		return m.Path
	}
	return DefaultPath
}

func (m Manager) name() string {
	if m.Name != "" {
		return m.Name
	}
	return "sdcadm-update"
}

func (m Manager) clock() clock.Clock {
	if m.Clock != nil {
		return m.Clock
	}
	return clock.WallClock
}

// Lock is the held advisory lock. Release must be called exactly once,
// on every exit path of the caller's mutating operation - callers should
// defer it immediately after a successful Acquire.
type Lock struct {
	releaser mutex.Releaser
	file     *flock.Flock
}

// Release drops both halves of the lock. It never returns an error:
// releasing a lock this process holds cannot meaningfully fail, and a
// failure here must not mask the caller's own return value.
func (l *Lock) Release() {
	if l.file != nil {
		_ = l.file.Unlock()
	}
	if l.releaser != nil {
		l.releaser.Release()
	}
}

// Acquire blocks until the lock is free or ctx is done, emitting one
// progress message if the wait crosses warnAfter (spec §4.6). timeout
// bounds the total wait; zero means wait indefinitely (subject to ctx).
func (m Manager) Acquire(ctx context.Context, progress api.Progress, timeout time.Duration) (*Lock, error) {
	t := &tomb.Tomb{}
	warned := make(chan struct{})
	t.Go(func() error {
		timer := m.clock().NewTimer(warnAfter)
		defer timer.Stop()
		select {
		case <-timer.Chan():
			if progress != nil {
				progress("waiting for update lock %s ...", m.path())
			}
			close(warned)
		case <-t.Dying():
		}
		return nil
	})
	defer func() {
		t.Kill(nil)
		_ = t.Wait()
	}()

	// The named mutex always polls on the wall clock: its own retry
	// cadence is a real-time concern between unrelated OS processes, not
	// something a caller should be able to fake. m.Clock only drives our
	// own 1s progress timer above, which tests do need to control.
	releaser, err := mutex.Acquire(mutex.Spec{
		Name:    m.name(),
		Clock:   clock.WallClock,
		Delay:   10 * time.Millisecond,
		Timeout: timeout,
	})
	if err != nil {
		return nil, api.NewInternalError(err, "acquiring update lock %s", m.path())
	}

	file := flock.New(m.path())
	locked, err := file.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		releaser.Release()
		return nil, api.NewInternalError(err, "acquiring update lock file %s", m.path())
	}
	if !locked {
		releaser.Release()
		return nil, api.NewInternalError(errors.New("lock file busy"), "acquiring update lock file %s", m.path())
	}

	select {
	case <-warned:
	default:
	}

	return &Lock{releaser: releaser, file: file}, nil
}
