package resource

import (
	"cmp"
	"context"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/wippyai/asset-runtime/errors"
	"github.com/wippyai/asset-runtime/taskqueue"
)

// cleanupPoll is the sleep between quiescence checks in Cleanup.
const cleanupPoll = 100 * time.Microsecond

// Config holds configuration for manager creation.
type Config struct {
	// Logger defaults to the package Logger at construction time.
	Logger *zap.Logger

	// Clock drives WaitForValidity timeouts and the collector ticker.
	// nil means the real clock.
	Clock clock.Clock

	// Observers are subscribed before the manager is returned.
	Observers []Observer

	// Mode selects whether out-of-memory failures trigger a reference sweep.
	Mode CollectionMode

	// DefaultStrategy is assigned to manifests created by RequestManifest.
	DefaultStrategy GCStrategy
}

// Manager owns the identifier -> manifest registry, drives routines on a
// task queue, runs the GC sweeps and tears everything down safely.
//
// The registry lock only guards structural changes (insert, clear). Each
// manifest's state machine is the concurrency control for its routines.
type Manager struct {
	queue           taskqueue.Queue
	log             *zap.Logger
	clk             clock.Clock
	mode            CollectionMode
	defaultStrategy GCStrategy

	mu       sync.RWMutex
	registry map[ID]*Manifest
	closed   atomic.Bool

	inFlight atomic.Int64

	observers []Observer
	obsMu     sync.RWMutex

	loads           atomic.Uint64
	reloads         atomic.Uint64
	unloads         atomic.Uint64
	failures        atomic.Uint64
	sceneSweeps     atomic.Uint64
	referenceSweeps atomic.Uint64
	collected       atomic.Uint64
}

// NewManager creates a manager that schedules its routines on queue.
func NewManager(queue taskqueue.Queue, cfg *Config) *Manager {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.Logger == nil {
		c.Logger = Logger()
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}

	m := &Manager{
		queue:           queue,
		log:             c.Logger,
		clk:             c.Clock,
		mode:            c.Mode,
		defaultStrategy: c.DefaultStrategy,
		registry:        make(map[ID]*Manifest),
	}
	for _, o := range c.Observers {
		m.Subscribe(o)
	}
	return m
}

// Mode returns the collection mode.
func (m *Manager) Mode() CollectionMode {
	return m.mode
}

// Clock returns the clock the manager was configured with.
func (m *Manager) Clock() clock.Clock {
	return m.clk
}

// RequestManifest returns the manifest for id. If none exists and
// autoCreate is set, a new StatusUnloaded manifest with the default GC
// strategy is inserted; concurrent calls for the same new id get the same
// manifest. Returns nil for unknown ids without autoCreate, and after
// Cleanup.
func (m *Manager) RequestManifest(id ID, autoCreate bool) *Manifest {
	m.mu.RLock()
	mf, ok := m.registry[id]
	m.mu.RUnlock()
	if ok {
		return mf
	}
	if !autoCreate || m.closed.Load() {
		return nil
	}

	m.mu.Lock()
	if m.closed.Load() {
		m.mu.Unlock()
		return nil
	}
	// Re-check after acquiring write lock
	if mf, ok := m.registry[id]; ok {
		m.mu.Unlock()
		return mf
	}
	mf = newManifest(id, m.defaultStrategy, m.clk)
	m.registry[id] = mf
	m.mu.Unlock()

	m.log.Debug("manifest created",
		zap.String("id", string(id)),
		zap.Stringer("strategy", mf.Strategy()))
	m.notify(Event{
		Type:     EventCreated,
		ID:       id,
		Status:   StatusUnloaded,
		Strategy: mf.Strategy(),
	})
	return mf
}

// Handle binds a new untyped handle to mf. Returns nil for a nil manifest.
func (m *Manager) Handle(mf *Manifest) *Handle[Resource] {
	return bind[Resource](mf)
}

// GetCurrentOperationCount returns the number of routines currently queued
// or executing.
func (m *Manager) GetCurrentOperationCount() int64 {
	return m.inFlight.Load()
}

// Len returns the number of registered manifests.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.registry)
}

// Each calls fn for every registered manifest until fn returns false.
// The registry is snapshotted first, so fn may call back into the manager.
func (m *Manager) Each(fn func(*Manifest) bool) {
	for _, mf := range m.manifests() {
		if !fn(mf) {
			return
		}
	}
}

// Snapshot returns the state of every manifest, sorted by ID.
func (m *Manager) Snapshot() []ManifestInfo {
	mfs := m.manifests()
	infos := make([]ManifestInfo, 0, len(mfs))
	for _, mf := range mfs {
		infos = append(infos, ManifestInfo{
			ID:         mf.ID(),
			Status:     mf.Status(),
			Strategy:   mf.Strategy(),
			References: mf.ReferenceCount(),
		})
	}
	slices.SortFunc(infos, func(a, b ManifestInfo) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return infos
}

// Stats returns manager counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Manifests:       m.Len(),
		InFlight:        m.inFlight.Load(),
		Loads:           m.loads.Load(),
		Reloads:         m.reloads.Load(),
		Unloads:         m.unloads.Load(),
		Failures:        m.failures.Load(),
		SceneSweeps:     m.sceneSweeps.Load(),
		ReferenceSweeps: m.referenceSweeps.Load(),
		Collected:       m.collected.Load(),
	}
}

// Subscribe adds an observer for lifecycle events.
func (m *Manager) Subscribe(o Observer) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.observers = append(m.observers, o)
}

// Unsubscribe removes an observer.
func (m *Manager) Unsubscribe(o Observer) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	for i, obs := range m.observers {
		if obs == o {
			m.observers = append(m.observers[:i], m.observers[i+1:]...)
			return
		}
	}
}

// Cleanup tears the manager down. It stops accepting new routines, waits
// until no routine is queued or executing, then clears the registry and
// schedules the invalidation and deletion of every manifest on the task
// queue. If ctx ends while waiting, nothing is deleted and an error is
// returned; Cleanup may be called again.
func (m *Manager) Cleanup(ctx context.Context) error {
	m.closed.Store(true)

	for m.inFlight.Load() > 0 {
		select {
		case <-ctx.Done():
			return errors.Wrap(errors.PhaseRegistry, errors.KindTimeout, ctx.Err(), "waiting for in-flight routines")
		default:
		}
		runtime.Gosched()
		time.Sleep(cleanupPoll)
	}

	m.mu.Lock()
	victims := make([]*Manifest, 0, len(m.registry))
	for _, mf := range m.registry {
		victims = append(victims, mf)
	}
	m.registry = make(map[ID]*Manifest)
	m.mu.Unlock()

	for _, mf := range victims {
		err := m.queue.Schedule(func(ctx context.Context) error {
			m.destroy(mf)
			return nil
		})
		if err != nil {
			m.log.Warn("deletion task rejected, deleting inline",
				zap.String("id", string(mf.ID())),
				zap.Error(err))
			m.destroy(mf)
		}
	}

	m.log.Info("manager cleaned up", zap.Int("manifests", len(victims)))
	return nil
}

// Closed reports whether Cleanup has started.
func (m *Manager) Closed() bool {
	return m.closed.Load()
}

func (m *Manager) destroy(mf *Manifest) {
	if mf.Status() != StatusInvalid {
		m.unload(mf, nil)
	}
	mf.markDeleted()
	m.notify(Event{
		Type:     EventDeleted,
		ID:       mf.ID(),
		Status:   mf.Status(),
		Strategy: mf.Strategy(),
	})
}

func (m *Manager) manifests() []*Manifest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Manifest, 0, len(m.registry))
	for _, mf := range m.registry {
		out = append(out, mf)
	}
	return out
}

func (m *Manager) notify(e Event) {
	m.obsMu.RLock()
	defer m.obsMu.RUnlock()
	for _, o := range m.observers {
		o.OnResourceEvent(e)
	}
}
