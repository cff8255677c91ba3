package resource

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/wippyai/asset-runtime/errors"
)

// stubResource is a scriptable Resource.
type stubResource struct {
	loadErr   error
	reloadErr error
	panicWith any

	// started is closed when Load begins; Load then waits on block.
	started chan struct{}
	block   chan struct{}

	// reloading and resume do the same for Reload.
	reloading   chan struct{}
	resume      chan struct{}
	reloadPanic any

	desc    Descriptor
	loads   atomic.Int32
	reloads atomic.Int32
	unloads atomic.Int32
}

func (s *stubResource) Load(ctx context.Context, m *Manager, desc Descriptor) error {
	s.loads.Add(1)
	s.desc = desc
	if s.started != nil {
		close(s.started)
	}
	if s.block != nil {
		<-s.block
	}
	if s.panicWith != nil {
		panic(s.panicWith)
	}
	return s.loadErr
}

func (s *stubResource) Reload(ctx context.Context, m *Manager) error {
	s.reloads.Add(1)
	if s.reloading != nil {
		close(s.reloading)
	}
	if s.resume != nil {
		<-s.resume
	}
	if s.reloadPanic != nil {
		panic(s.reloadPanic)
	}
	return s.reloadErr
}

func (s *stubResource) Unload(m *Manager) {
	s.unloads.Add(1)
}

// otherResource is a second Resource type for Cast tests.
type otherResource struct{ stubResource }

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnResourceEvent(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (r *recorder) last(t EventType) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == t {
			return r.events[i], true
		}
	}
	return Event{}, false
}

// loaded returns a manifest already loaded with a fresh stub.
func loaded(t interface{ Fatalf(string, ...any) }, m *Manager, id ID, strategy GCStrategy) (*Manifest, *stubResource) {
	mf := m.RequestManifest(id, true)
	mf.SetStrategy(strategy)
	r := &stubResource{}
	if err := m.LoadingRoutine(context.Background(), mf, r, nil); err != nil {
		t.Fatalf("load %s: %v", id, err)
	}
	if mf.Status() != StatusLoaded {
		t.Fatalf("load %s: status %v", id, mf.Status())
	}
	return mf, r
}

// checkDataInvariant fails if Data and Status disagree.
func checkDataInvariant(t interface{ Errorf(string, ...any) }, mf *Manifest) {
	isLoaded := mf.Status() == StatusLoaded
	if (mf.Data() != nil) != isLoaded {
		t.Errorf("%s: status %v but Data() = %v", mf.ID(), mf.Status(), mf.Data())
	}
}

func oom(valid bool) error {
	return errors.OutOfMemory(errors.PhaseDecode, 1<<30, 1<<20, valid)
}

func corrupted(valid bool) error {
	return errors.Corrupted(errors.PhaseDecode, "bad header", nil, valid)
}
