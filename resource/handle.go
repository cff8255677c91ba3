package resource

import (
	"sync/atomic"
	"time"
)

// Handle is a typed, reference-counted, non-owning view of a manifest.
//
// Handles are created by the manager (Manager.Handle, Acquire, Load) and
// always used through a pointer. Clone is the copy operation and increments
// the reference count; Release is destruction and decrements it. Passing the
// pointer on moves the binding without touching the count.
//
// A nil *Handle, or one that has been released, is unbound: every query
// answers as if no resource were present.
type Handle[T any] struct {
	mf       *Manifest
	released atomic.Bool
}

func bind[T any](mf *Manifest) *Handle[T] {
	if mf == nil {
		return nil
	}
	mf.acquire()
	return &Handle[T]{mf: mf}
}

func (h *Handle[T]) manifest() *Manifest {
	if h == nil || h.released.Load() {
		return nil
	}
	return h.mf
}

// Get returns the resource if it is loaded and is a T, else the zero value.
// It also returns the zero value while a reload or unload holds the manifest
// in StatusProcessing.
func (h *Handle[T]) Get() T {
	var zero T
	mf := h.manifest()
	if mf == nil {
		return zero
	}
	r := mf.Data()
	if r == nil {
		return zero
	}
	t, ok := r.(T)
	if !ok {
		return zero
	}
	return t
}

// ID returns the bound manifest's identifier, or "" if unbound.
func (h *Handle[T]) ID() ID {
	mf := h.manifest()
	if mf == nil {
		return ""
	}
	return mf.ID()
}

// Status returns the manifest status. Unbound handles report StatusInvalid.
func (h *Handle[T]) Status() Status {
	mf := h.manifest()
	if mf == nil {
		return StatusInvalid
	}
	return mf.Status()
}

// Available reports whether the resource is loaded.
func (h *Handle[T]) Available() bool {
	return h.Status() == StatusLoaded
}

// Valid reports whether the handle is bound to a manifest that has not been
// deleted. A valid resource need not be available.
func (h *Handle[T]) Valid() bool {
	mf := h.manifest()
	return mf != nil && !mf.Deleted()
}

// ReferenceCount returns the number of live handles sharing the manifest.
func (h *Handle[T]) ReferenceCount() int64 {
	mf := h.manifest()
	if mf == nil {
		return 0
	}
	return mf.ReferenceCount()
}

// WaitForValidity blocks until the resource is loaded or invalid, or until
// timeout elapses, and reports whether it ended up loaded. A timeout of zero
// or less only checks the current state. The routine keeps running in the
// background after a timeout.
func (h *Handle[T]) WaitForValidity(timeout time.Duration) bool {
	mf := h.manifest()
	if mf == nil {
		return false
	}
	return mf.wait(timeout)
}

// GCStrategy returns the manifest's GC strategy.
func (h *Handle[T]) GCStrategy() GCStrategy {
	mf := h.manifest()
	if mf == nil {
		return GCManual
	}
	return mf.Strategy()
}

// SetGCStrategy reassigns the manifest's GC strategy.
func (h *Handle[T]) SetGCStrategy(s GCStrategy) {
	if mf := h.manifest(); mf != nil {
		mf.SetStrategy(s)
	}
}

// Clone returns a new handle bound to the same manifest.
func (h *Handle[T]) Clone() *Handle[T] {
	return bind[T](h.manifest())
}

// Release unbinds the handle and drops its reference. Further calls are
// no-ops.
func (h *Handle[T]) Release() {
	if h == nil || h.mf == nil {
		return
	}
	if h.released.CompareAndSwap(false, true) {
		h.mf.release()
	}
}

// Cast rebinds h's manifest as a Handle[D]. It is a new binding and counts
// as a reference; release both handles independently. Get on the result
// returns the zero value while the loaded object is not a D.
func Cast[D, S any](h *Handle[S]) *Handle[D] {
	return bind[D](h.manifest())
}
