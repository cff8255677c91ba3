package resource

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/asset-runtime/errors"
)

// LoadingRoutine loads r for mf on the calling goroutine.
//
// It moves mf from StatusUnloaded or StatusInvalid to StatusProcessing and
// calls r.Load; if mf is in any other state it does nothing. On success r is
// published and mf becomes StatusLoaded. A recoverable failure
// (*errors.Error) leaves mf StatusLoaded or StatusInvalid depending on its
// ResourceValid flag, is logged, and in CollectionAutomatic mode an
// out-of-memory failure triggers one reference sweep. Any other error marks
// mf StatusInvalid and is returned. A panic marks mf StatusInvalid and is
// re-raised.
func (m *Manager) LoadingRoutine(ctx context.Context, mf *Manifest, r Resource, desc Descriptor) error {
	m.inFlight.Add(1)
	defer m.inFlight.Add(-1)

	if m.closed.Load() {
		return errors.Closed(errors.PhaseLoad, "manager")
	}
	return m.load(ctx, mf, r, desc)
}

// ReloadingRoutine reloads mf's object in place on the calling goroutine.
// It does nothing unless mf is StatusLoaded. Outcomes are handled as in
// LoadingRoutine.
func (m *Manager) ReloadingRoutine(ctx context.Context, mf *Manifest) error {
	m.inFlight.Add(1)
	defer m.inFlight.Add(-1)

	if m.closed.Load() {
		return errors.Closed(errors.PhaseReload, "manager")
	}
	return m.reload(ctx, mf)
}

// UnloadingRoutine unloads mf's object and marks it StatusInvalid. It does
// nothing unless mf is StatusLoaded and the manager is open, and reports
// whether it unloaded.
func (m *Manager) UnloadingRoutine(mf *Manifest) bool {
	m.inFlight.Add(1)
	defer m.inFlight.Add(-1)

	if m.closed.Load() {
		return false
	}
	return m.unload(mf, nil)
}

// InvalidateResource unloads mf unless it is already StatusInvalid.
func (m *Manager) InvalidateResource(mf *Manifest) bool {
	if mf == nil || mf.Status() == StatusInvalid {
		return false
	}
	return m.UnloadingRoutine(mf)
}

// LoadAsync schedules LoadingRoutine on the task queue.
func (m *Manager) LoadAsync(mf *Manifest, r Resource, desc Descriptor) error {
	return m.submit(errors.PhaseLoad, func(ctx context.Context) error {
		return m.load(ctx, mf, r, desc)
	})
}

// ReloadAsync schedules ReloadingRoutine on the task queue.
func (m *Manager) ReloadAsync(mf *Manifest) error {
	return m.submit(errors.PhaseReload, func(ctx context.Context) error {
		return m.reload(ctx, mf)
	})
}

// UnloadAsync schedules UnloadingRoutine on the task queue.
func (m *Manager) UnloadAsync(mf *Manifest) error {
	return m.submit(errors.PhaseUnload, func(ctx context.Context) error {
		m.unload(mf, nil)
		return nil
	})
}

// UnloadResource is the manual unload entry point. It returns false, without
// effect, unless the manifest exists, is StatusLoaded and uses GCManual.
// With async set the unload is scheduled and true means it was accepted.
func (m *Manager) UnloadResource(id ID, async bool) bool {
	mf := m.RequestManifest(id, false)
	if mf == nil || mf.Status() != StatusLoaded || mf.Strategy() != GCManual {
		return false
	}
	if async {
		return m.UnloadAsync(mf) == nil
	}
	return m.UnloadingRoutine(mf)
}

// ReloadResource reloads a loaded resource by id. It returns false unless
// the manifest exists and is StatusLoaded. With async set the reload is
// scheduled and true means it was accepted.
func (m *Manager) ReloadResource(ctx context.Context, id ID, async bool) bool {
	mf := m.RequestManifest(id, false)
	if mf == nil || mf.Status() != StatusLoaded {
		return false
	}
	if async {
		return m.ReloadAsync(mf) == nil
	}
	return m.ReloadingRoutine(ctx, mf) == nil
}

// submit counts the routine as in flight from the moment it is queued, so
// Cleanup also waits for work that has not started yet.
func (m *Manager) submit(phase errors.Phase, fn func(ctx context.Context) error) error {
	m.inFlight.Add(1)
	if m.closed.Load() {
		m.inFlight.Add(-1)
		return errors.Closed(phase, "manager")
	}

	err := m.queue.Schedule(func(ctx context.Context) error {
		defer m.inFlight.Add(-1)
		return fn(ctx)
	})
	if err != nil {
		m.inFlight.Add(-1)
		return errors.Wrap(phase, errors.KindClosed, err, "schedule routine")
	}
	return nil
}

func (m *Manager) load(ctx context.Context, mf *Manifest, r Resource, desc Descriptor) error {
	if mf == nil || r == nil {
		return errors.InvalidInput(errors.PhaseLoad, "nil manifest or resource")
	}
	if !mf.beginLoad() {
		m.log.Debug("load skipped",
			zap.String("id", string(mf.ID())),
			zap.Stringer("status", mf.Status()))
		return nil
	}

	op := uuid.New()
	m.log.Debug("load started", zap.String("id", string(mf.ID())), zap.Stringer("op", op))
	defer m.settlePanic(mf, op, false)

	err := r.Load(ctx, m, desc)
	return m.settle(mf, r, op, false, err)
}

func (m *Manager) reload(ctx context.Context, mf *Manifest) error {
	if mf == nil {
		return errors.InvalidInput(errors.PhaseReload, "nil manifest")
	}
	if !mf.beginReload() {
		return nil
	}

	op := uuid.New()
	r := mf.current()
	if r == nil {
		mf.finish(StatusInvalid)
		return errors.NotInitialized(errors.PhaseReload, "resource object for "+string(mf.ID()))
	}

	m.log.Debug("reload started", zap.String("id", string(mf.ID())), zap.Stringer("op", op))
	defer m.settlePanic(mf, op, true)

	err := r.Reload(ctx, m)
	return m.settle(mf, r, op, true, err)
}

// unload runs the Unload half of the state machine. keep, if set, is checked
// after the manifest is owned and can veto the unload.
func (m *Manager) unload(mf *Manifest, keep func(*Manifest) bool) bool {
	if mf == nil || !mf.beginUnload() {
		return false
	}
	if keep != nil && keep(mf) {
		mf.finish(StatusLoaded)
		return false
	}

	r := mf.clear()
	func() {
		defer mf.finish(StatusInvalid)
		if r != nil {
			r.Unload(m)
		}
	}()

	m.unloads.Add(1)
	m.log.Debug("unloaded", zap.String("id", string(mf.ID())))
	m.notify(Event{
		Type:     EventUnloaded,
		ID:       mf.ID(),
		Status:   StatusInvalid,
		Strategy: mf.Strategy(),
	})
	return true
}

// settle publishes the outcome of Load or Reload.
func (m *Manager) settle(mf *Manifest, r Resource, op uuid.UUID, reload bool, err error) error {
	id := mf.ID()

	if err == nil {
		mf.publish(r)
		mf.finish(StatusLoaded)

		evt := EventLoaded
		if reload {
			m.reloads.Add(1)
			evt = EventReloaded
		} else {
			m.loads.Add(1)
		}
		m.log.Debug("load finished", zap.String("id", string(id)), zap.Stringer("op", op), zap.Bool("reload", reload))
		m.notify(Event{Type: evt, ID: id, Op: op, Status: StatusLoaded, Strategy: mf.Strategy()})
		return nil
	}

	m.failures.Add(1)

	f, ok := errors.AsFailure(err)
	if !ok {
		m.discard(mf, reload)
		mf.finish(StatusInvalid)
		m.log.Error("resource returned unexpected error",
			zap.String("id", string(id)),
			zap.Stringer("op", op),
			zap.Bool("reload", reload),
			zap.Error(err))
		m.notify(Event{Type: EventLoadFailed, ID: id, Op: op, Err: err, Status: StatusInvalid, Strategy: mf.Strategy(), Reload: reload})
		return err
	}

	status := StatusInvalid
	if f.ResourceValid {
		mf.publish(r)
		status = StatusLoaded
	} else {
		m.discard(mf, reload)
	}
	mf.finish(status)

	m.log.Warn("resource failure",
		zap.String("id", string(id)),
		zap.Stringer("op", op),
		zap.Bool("reload", reload),
		zap.String("kind", string(f.Kind)),
		zap.Bool("resource_valid", f.ResourceValid),
		zap.Error(err))
	m.notify(Event{Type: EventLoadFailed, ID: id, Op: op, Err: err, Kind: f.Kind, Status: status, Strategy: mf.Strategy(), Reload: reload})

	if m.mode == CollectionAutomatic && f.Kind == errors.KindOutOfMemory {
		n := m.TriggerReferenceGC()
		m.log.Info("out of memory, reference sweep ran",
			zap.String("id", string(id)),
			zap.Int("collected", n))
	}
	return nil
}

// settlePanic must be deferred directly by the routine body.
func (m *Manager) settlePanic(mf *Manifest, op uuid.UUID, reload bool) {
	p := recover()
	if p == nil {
		return
	}

	m.failures.Add(1)
	func() {
		// A second panic from Unload must not skip finish.
		defer mf.finish(StatusInvalid)
		m.discard(mf, reload)
	}()

	phase := errors.PhaseLoad
	if reload {
		phase = errors.PhaseReload
	}
	perr := errors.Panic(phase, p)
	m.log.Error("resource panicked",
		zap.String("id", string(mf.ID())),
		zap.Stringer("op", op),
		zap.Bool("reload", reload),
		zap.Any("panic", p))
	m.notify(Event{Type: EventLoadFailed, ID: mf.ID(), Op: op, Err: perr, Kind: errors.KindPanic, Status: StatusInvalid, Strategy: mf.Strategy(), Reload: reload})
	panic(p)
}

// discard empties mf's data slot. After a failed reload the object was fully
// loaded before, so it is unloaded too; a failed first load never is.
func (m *Manager) discard(mf *Manifest, reload bool) {
	r := mf.clear()
	if reload && r != nil {
		r.Unload(m)
	}
}
