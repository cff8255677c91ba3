package resource

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

type slot struct {
	r Resource
}

// Manifest is the per-resource record: identity, status, the loaded object,
// the handle count and the GC strategy. Manifests are owned by their Manager
// and created only through Manager.RequestManifest.
//
// Every transition into StatusProcessing is a compare-and-swap, so at most
// one routine works on a manifest at any time.
type Manifest struct {
	clk clock.Clock
	id  ID

	status   atomic.Int32
	strategy atomic.Int32
	refs     atomic.Int64
	data     atomic.Pointer[slot]
	deleted  atomic.Bool

	waitMu sync.Mutex
	waitCh chan struct{}
}

func newManifest(id ID, strategy GCStrategy, clk clock.Clock) *Manifest {
	mf := &Manifest{
		clk:    clk,
		id:     id,
		waitCh: make(chan struct{}),
	}
	mf.strategy.Store(int32(strategy))
	return mf
}

// ID returns the manifest's identifier.
func (mf *Manifest) ID() ID {
	return mf.id
}

// Status returns the current load status.
func (mf *Manifest) Status() Status {
	return Status(mf.status.Load())
}

// Strategy returns the GC strategy.
func (mf *Manifest) Strategy() GCStrategy {
	return GCStrategy(mf.strategy.Load())
}

// SetStrategy reassigns the GC strategy.
func (mf *Manifest) SetStrategy(s GCStrategy) {
	mf.strategy.Store(int32(s))
}

// ReferenceCount returns the number of live handles bound to the manifest.
func (mf *Manifest) ReferenceCount() int64 {
	return mf.refs.Load()
}

// Deleted reports whether manager teardown has deleted the manifest.
func (mf *Manifest) Deleted() bool {
	return mf.deleted.Load()
}

// Data returns the loaded object, or nil unless the status is StatusLoaded.
func (mf *Manifest) Data() Resource {
	if mf.Status() != StatusLoaded {
		return nil
	}
	s := mf.data.Load()
	if s == nil {
		return nil
	}
	return s.r
}

func (mf *Manifest) acquire() {
	mf.refs.Add(1)
}

func (mf *Manifest) release() {
	if mf.refs.Add(-1) < 0 {
		panic("resource: reference count went negative for " + string(mf.id))
	}
}

func (mf *Manifest) transition(from, to Status) bool {
	if !mf.status.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	mf.broadcast()
	return true
}

func (mf *Manifest) beginLoad() bool {
	return mf.transition(StatusUnloaded, StatusProcessing) ||
		mf.transition(StatusInvalid, StatusProcessing)
}

// beginReload and beginUnload share the Loaded -> Processing edge.
func (mf *Manifest) beginReload() bool {
	return mf.transition(StatusLoaded, StatusProcessing)
}

func (mf *Manifest) beginUnload() bool {
	return mf.transition(StatusLoaded, StatusProcessing)
}

// finish ends the routine that owns the Processing state.
func (mf *Manifest) finish(to Status) {
	mf.status.Store(int32(to))
	mf.broadcast()
}

// publish must happen before finish(StatusLoaded).
func (mf *Manifest) publish(r Resource) {
	mf.data.Store(&slot{r: r})
}

func (mf *Manifest) current() Resource {
	s := mf.data.Load()
	if s == nil {
		return nil
	}
	return s.r
}

func (mf *Manifest) clear() Resource {
	s := mf.data.Swap(nil)
	if s == nil {
		return nil
	}
	return s.r
}

func (mf *Manifest) markDeleted() {
	mf.deleted.Store(true)
	mf.broadcast()
}

func (mf *Manifest) changed() <-chan struct{} {
	mf.waitMu.Lock()
	defer mf.waitMu.Unlock()
	return mf.waitCh
}

func (mf *Manifest) broadcast() {
	mf.waitMu.Lock()
	close(mf.waitCh)
	mf.waitCh = make(chan struct{})
	mf.waitMu.Unlock()
}

// wait blocks until the status settles on Loaded or Invalid, the manifest is
// deleted, or the timeout elapses. Reports whether it ended Loaded.
func (mf *Manifest) wait(timeout time.Duration) bool {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := mf.clk.Timer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		// Take the channel before reading status so a transition between
		// the two is not missed.
		ch := mf.changed()
		switch mf.Status() {
		case StatusLoaded:
			return true
		case StatusInvalid:
			return false
		}
		if mf.Deleted() || expired == nil {
			return false
		}

		select {
		case <-ch:
		case <-expired:
			return mf.Status() == StatusLoaded
		}
	}
}
