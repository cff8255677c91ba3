package resource

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// TriggerSceneGC unloads every loaded manifest whose strategy is
// GCSceneDeletion, regardless of how many handles reference it. Returns the
// number of manifests unloaded. Manifests stay registered and can be loaded
// again.
func (m *Manager) TriggerSceneGC() int {
	n := m.sweep(GCSceneDeletion, nil)
	m.sceneSweeps.Add(1)
	return n
}

// TriggerReferenceGC unloads every loaded manifest whose strategy is
// GCReferenceCount and that no handle references. Returns the number of
// manifests unloaded.
func (m *Manager) TriggerReferenceGC() int {
	n := m.sweep(GCReferenceCount, func(mf *Manifest) bool {
		return mf.ReferenceCount() > 0
	})
	m.referenceSweeps.Add(1)
	return n
}

// sweep unloads the manifests using strategy. keep is checked again once
// the unload owns the manifest, so a handle bound mid-sweep still saves it.
func (m *Manager) sweep(strategy GCStrategy, keep func(*Manifest) bool) int {
	m.inFlight.Add(1)
	defer m.inFlight.Add(-1)

	if m.closed.Load() {
		return 0
	}

	var n int
	for _, mf := range m.manifests() {
		if mf.Strategy() != strategy || mf.Status() != StatusLoaded {
			continue
		}
		if keep != nil && keep(mf) {
			continue
		}
		if m.unload(mf, keep) {
			n++
		}
	}

	m.collected.Add(uint64(n))
	m.log.Debug("gc sweep",
		zap.Stringer("strategy", strategy),
		zap.Int("collected", n))
	m.notify(Event{
		Type:     EventSweep,
		Strategy: strategy,
		Count:    n,
	})
	return n
}

// RunCollector runs TriggerReferenceGC every interval until ctx is done or
// the manager is cleaned up.
func (m *Manager) RunCollector(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := m.clk.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.closed.Load() {
				return
			}
			if n := m.TriggerReferenceGC(); n > 0 {
				m.log.Info("collector unloaded resources", zap.Int("count", n))
			}
		}
	}
}
