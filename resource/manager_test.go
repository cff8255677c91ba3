package resource

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/wippyai/asset-runtime/errors"
	"github.com/wippyai/asset-runtime/taskqueue"
)

func TestManager_RequestManifest(t *testing.T) {
	m := NewManager(taskqueue.Inline{}, &Config{DefaultStrategy: GCSceneDeletion})

	if m.RequestManifest("missing", false) != nil {
		t.Fatal("unknown id without autoCreate must return nil")
	}

	mf := m.RequestManifest("foo", true)
	if mf == nil {
		t.Fatal("autoCreate returned nil")
	}
	if mf.Status() != StatusUnloaded || mf.Strategy() != GCSceneDeletion {
		t.Fatalf("unexpected new manifest: %v %v", mf.Status(), mf.Strategy())
	}
	if m.RequestManifest("foo", true) != mf || m.RequestManifest("foo", false) != mf {
		t.Fatal("repeated requests must return the same manifest")
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 manifest, got %d", m.Len())
	}
}

func TestManager_RequestManifestConcurrent(t *testing.T) {
	rec := &recorder{}
	m := NewManager(taskqueue.Inline{}, &Config{Observers: []Observer{rec}})

	const goroutines = 64
	results := make([]*Manifest, goroutines)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = m.RequestManifest("shared", true)
		}(i)
	}
	close(start)
	wg.Wait()

	for i, mf := range results {
		if mf != results[0] {
			t.Fatalf("goroutine %d got a different manifest", i)
		}
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 manifest, got %d", m.Len())
	}
	if n := rec.count(EventCreated); n != 1 {
		t.Fatalf("expected 1 created event, got %d", n)
	}
}

func TestManager_LoadSucceeds(t *testing.T) {
	rec := &recorder{}
	m := NewManager(taskqueue.Inline{}, &Config{Observers: []Observer{rec}})

	mf := m.RequestManifest("foo", true)
	h := Acquire[*stubResource](m, "foo", false)
	defer h.Release()

	r := &stubResource{}
	if err := m.LoadingRoutine(context.Background(), mf, r, "descriptor"); err != nil {
		t.Fatalf("LoadingRoutine: %v", err)
	}

	if !h.Available() || h.Get() == nil {
		t.Fatalf("expected available resource, status %v", h.Status())
	}
	if r.desc != "descriptor" {
		t.Fatalf("descriptor not passed through, got %v", r.desc)
	}
	checkDataInvariant(t, mf)
	if m.GetCurrentOperationCount() != 0 {
		t.Fatal("in-flight count must return to zero")
	}
	if rec.count(EventLoaded) != 1 {
		t.Fatal("expected a loaded event")
	}
	if st := m.Stats(); st.Loads != 1 || st.Failures != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestManager_LoadIsNoopUnlessUnloadedOrInvalid(t *testing.T) {
	m := NewManager(taskqueue.Inline{}, nil)
	mf, first := loaded(t, m, "a", GCManual)

	second := &stubResource{}
	if err := m.LoadingRoutine(context.Background(), mf, second, nil); err != nil {
		t.Fatalf("LoadingRoutine: %v", err)
	}
	if second.loads.Load() != 0 {
		t.Fatal("load on a loaded manifest must not call Load")
	}
	if mf.Data() != first {
		t.Fatal("load on a loaded manifest must not replace data")
	}
}

func TestManager_LoadSingleFlight(t *testing.T) {
	m := NewManager(taskqueue.Inline{}, nil)
	mf := m.RequestManifest("a", true)

	slow := &stubResource{started: make(chan struct{}), block: make(chan struct{})}
	done := make(chan error, 1)
	go func() { done <- m.LoadingRoutine(context.Background(), mf, slow, nil) }()
	<-slow.started

	other := &stubResource{}
	if err := m.LoadingRoutine(context.Background(), mf, other, nil); err != nil {
		t.Fatalf("LoadingRoutine: %v", err)
	}
	if other.loads.Load() != 0 {
		t.Fatal("concurrent load must be rejected while processing")
	}
	if m.ReloadingRoutine(context.Background(), mf) != nil || slow.reloads.Load() != 0 {
		t.Fatal("reload must be rejected while processing")
	}
	if m.GetCurrentOperationCount() != 1 {
		t.Fatalf("expected 1 in-flight routine, got %d", m.GetCurrentOperationCount())
	}

	close(slow.block)
	if err := <-done; err != nil {
		t.Fatalf("slow load: %v", err)
	}
	if mf.Data() != slow {
		t.Fatal("expected the first load to win")
	}
}

func TestManager_LoadFailures(t *testing.T) {
	tests := []struct {
		name       string
		mode       CollectionMode
		err        error
		wantStatus Status
		wantSweeps int
	}{
		{"oom automatic", CollectionAutomatic, oom(false), StatusInvalid, 1},
		{"oom manual", CollectionManual, oom(false), StatusInvalid, 0},
		{"oom still valid", CollectionAutomatic, oom(true), StatusLoaded, 1},
		{"corrupted", CollectionAutomatic, corrupted(false), StatusInvalid, 0},
		{"corrupted still valid", CollectionAutomatic, corrupted(true), StatusLoaded, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			m := NewManager(taskqueue.Inline{}, &Config{Mode: tt.mode, Observers: []Observer{rec}})
			mf := m.RequestManifest("foo", true)
			h := m.Handle(mf)
			defer h.Release()

			r := &stubResource{loadErr: tt.err}
			if err := m.LoadingRoutine(context.Background(), mf, r, nil); err != nil {
				t.Fatalf("recoverable failure must not be returned, got %v", err)
			}

			if h.Status() != tt.wantStatus {
				t.Fatalf("expected %v, got %v", tt.wantStatus, h.Status())
			}
			if (h.Get() != nil) != (tt.wantStatus == StatusLoaded) {
				t.Fatalf("Get() = %v with status %v", h.Get(), h.Status())
			}
			checkDataInvariant(t, mf)

			if got := rec.count(EventSweep); got != tt.wantSweeps {
				t.Fatalf("expected %d sweeps, got %d", tt.wantSweeps, got)
			}
			if got := int(m.Stats().ReferenceSweeps); got != tt.wantSweeps {
				t.Fatalf("expected %d reference sweeps in stats, got %d", tt.wantSweeps, got)
			}

			e, ok := rec.last(EventLoadFailed)
			if !ok {
				t.Fatal("expected a load_failed event")
			}
			f, _ := errors.AsFailure(tt.err)
			if e.Kind != f.Kind {
				t.Fatalf("expected kind %s, got %s", f.Kind, e.Kind)
			}
			if r.unloads.Load() != 0 {
				t.Fatal("a failed load must not call Unload")
			}
		})
	}
}

func TestManager_OOMSweepReclaims(t *testing.T) {
	m := NewManager(taskqueue.Inline{}, &Config{Mode: CollectionAutomatic})
	idle, idleRes := loaded(t, m, "idle", GCReferenceCount)

	mf := m.RequestManifest("big", true)
	if err := m.LoadingRoutine(context.Background(), mf, &stubResource{loadErr: oom(false)}, nil); err != nil {
		t.Fatalf("LoadingRoutine: %v", err)
	}

	if idle.Status() != StatusInvalid || idleRes.unloads.Load() != 1 {
		t.Fatal("out-of-memory failure must reclaim unreferenced resources")
	}
}

func TestManager_ProgrammingError(t *testing.T) {
	m := NewManager(taskqueue.Inline{}, nil)
	mf := m.RequestManifest("a", true)

	bug := stderrors.New("nil map write")
	err := m.LoadingRoutine(context.Background(), mf, &stubResource{loadErr: bug}, nil)
	if !stderrors.Is(err, bug) {
		t.Fatalf("expected the error to be returned, got %v", err)
	}
	if mf.Status() != StatusInvalid {
		t.Fatalf("expected invalid, got %v", mf.Status())
	}
	checkDataInvariant(t, mf)
	if m.GetCurrentOperationCount() != 0 {
		t.Fatal("in-flight count must return to zero")
	}
}

func TestManager_ProgrammingErrorReachesQueuePolicy(t *testing.T) {
	var got error
	m := NewManager(taskqueue.Inline{OnError: func(err error) { got = err }}, nil)
	mf := m.RequestManifest("a", true)

	bug := stderrors.New("bug")
	if err := m.LoadAsync(mf, &stubResource{loadErr: bug}, nil); err != nil {
		t.Fatalf("LoadAsync: %v", err)
	}
	if !stderrors.Is(got, bug) {
		t.Fatalf("expected the queue policy to see the error, got %v", got)
	}
}

func TestManager_PanicIsReraised(t *testing.T) {
	rec := &recorder{}
	m := NewManager(taskqueue.Inline{}, &Config{Observers: []Observer{rec}})
	mf := m.RequestManifest("a", true)

	func() {
		defer func() {
			if p := recover(); p != "boom" {
				t.Fatalf("expected re-raised panic, got %v", p)
			}
		}()
		_ = m.LoadingRoutine(context.Background(), mf, &stubResource{panicWith: "boom"}, nil)
	}()

	if mf.Status() != StatusInvalid {
		t.Fatalf("expected invalid, got %v", mf.Status())
	}
	if m.GetCurrentOperationCount() != 0 {
		t.Fatal("in-flight count must return to zero after a panic")
	}
	e, ok := rec.last(EventLoadFailed)
	if !ok || e.Kind != errors.KindPanic {
		t.Fatalf("expected a panic failure event, got %+v", e)
	}
}

func TestManager_PanicInWorkerPool(t *testing.T) {
	var mu sync.Mutex
	var got []error
	pool := taskqueue.NewWorkerPool(&taskqueue.Config{
		Workers: 1,
		OnError: func(err error) {
			mu.Lock()
			got = append(got, err)
			mu.Unlock()
		},
	})
	m := NewManager(pool, nil)

	bad := m.RequestManifest("bad", true)
	good := m.RequestManifest("good", true)
	_ = m.LoadAsync(bad, &stubResource{panicWith: "boom"}, nil)
	_ = m.LoadAsync(good, &stubResource{}, nil)

	if err := pool.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if bad.Status() != StatusInvalid || good.Status() != StatusLoaded {
		t.Fatalf("unexpected statuses %v %v", bad.Status(), good.Status())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || !stderrors.Is(got[0], errors.New("", errors.KindPanic).Build()) {
		t.Fatalf("expected one panic reported to the policy, got %v", got)
	}
}

func TestManager_Reload(t *testing.T) {
	rec := &recorder{}
	m := NewManager(taskqueue.Inline{}, &Config{Observers: []Observer{rec}})

	unloaded := m.RequestManifest("unloaded", true)
	if err := m.ReloadingRoutine(context.Background(), unloaded); err != nil {
		t.Fatalf("ReloadingRoutine: %v", err)
	}
	if unloaded.Status() != StatusUnloaded {
		t.Fatalf("reload of an unloaded manifest must be a no-op, got %v", unloaded.Status())
	}

	mf, r := loaded(t, m, "a", GCManual)
	if err := m.ReloadingRoutine(context.Background(), mf); err != nil {
		t.Fatalf("ReloadingRoutine: %v", err)
	}
	if r.reloads.Load() != 1 || mf.Data() != r {
		t.Fatal("reload must refresh the same object in place")
	}
	if rec.count(EventReloaded) != 1 {
		t.Fatal("expected a reloaded event")
	}

	r.reloadErr = corrupted(true)
	_ = m.ReloadingRoutine(context.Background(), mf)
	if mf.Status() != StatusLoaded || mf.Data() != r {
		t.Fatal("a still-valid reload failure must keep the old object")
	}

	r.reloadErr = corrupted(false)
	_ = m.ReloadingRoutine(context.Background(), mf)
	if mf.Status() != StatusInvalid {
		t.Fatalf("expected invalid, got %v", mf.Status())
	}
	checkDataInvariant(t, mf)
	if r.unloads.Load() != 1 {
		t.Fatalf("failed reload must unload the old object, got %d unloads", r.unloads.Load())
	}
	if e, _ := rec.last(EventLoadFailed); !e.Reload {
		t.Fatal("failure event must be marked as a reload")
	}
}

func TestManager_FailedReloadUnloads(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *stubResource)
	}{
		{"invalid failure", func(r *stubResource) { r.reloadErr = corrupted(false) }},
		{"unexpected error", func(r *stubResource) { r.reloadErr = stderrors.New("bug") }},
		{"panic", func(r *stubResource) { r.reloadPanic = "boom" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(taskqueue.Inline{}, nil)
			mf, r := loaded(t, m, "a", GCManual)
			tt.setup(r)

			func() {
				defer func() { _ = recover() }()
				_ = m.ReloadingRoutine(context.Background(), mf)
			}()

			if mf.Status() != StatusInvalid {
				t.Fatalf("expected invalid, got %v", mf.Status())
			}
			checkDataInvariant(t, mf)
			if got := r.unloads.Load(); got != 1 {
				t.Fatalf("the previously loaded object must be unloaded once, got %d", got)
			}
			if m.GetCurrentOperationCount() != 0 {
				t.Fatal("in-flight count must return to zero")
			}
		})
	}
}

func TestManager_FailedFirstLoadIsNotUnloaded(t *testing.T) {
	m := NewManager(taskqueue.Inline{}, nil)

	for i, err := range []error{corrupted(false), stderrors.New("bug")} {
		mf := m.RequestManifest(ID(fmt.Sprint("a", i)), true)
		r := &stubResource{loadErr: err}
		_ = m.LoadingRoutine(context.Background(), mf, r, nil)
		if mf.Status() != StatusInvalid {
			t.Fatalf("expected invalid, got %v", mf.Status())
		}
		if r.unloads.Load() != 0 {
			t.Fatalf("a failed first load must not call Unload, got %d", r.unloads.Load())
		}
	}
}

func TestManager_ReloadResource(t *testing.T) {
	m := NewManager(taskqueue.Inline{}, nil)
	_, r := loaded(t, m, "a", GCReferenceCount)

	if m.ReloadResource(context.Background(), "missing", false) {
		t.Fatal("unknown id must return false")
	}
	if !m.ReloadResource(context.Background(), "a", false) || !m.ReloadResource(context.Background(), "a", true) {
		t.Fatal("loaded resource must reload")
	}
	if r.reloads.Load() != 2 {
		t.Fatalf("expected 2 reloads, got %d", r.reloads.Load())
	}
}

func TestManager_UnloadResource(t *testing.T) {
	m := NewManager(taskqueue.Inline{}, nil)
	rc, _ := loaded(t, m, "rc", GCReferenceCount)
	scene, _ := loaded(t, m, "scene", GCSceneDeletion)
	manual, manualRes := loaded(t, m, "manual", GCManual)

	if m.UnloadResource("rc", false) || m.UnloadResource("scene", true) {
		t.Fatal("non-manual resources must not be unloaded manually")
	}
	if rc.Status() != StatusLoaded || scene.Status() != StatusLoaded {
		t.Fatal("rejected unload must leave the resource loaded")
	}
	if m.UnloadResource("missing", false) {
		t.Fatal("unknown id must return false")
	}

	if !m.UnloadResource("manual", false) {
		t.Fatal("manual resource must unload")
	}
	if manual.Status() != StatusInvalid || manualRes.unloads.Load() != 1 {
		t.Fatal("expected Unload to run and status to be invalid")
	}
	checkDataInvariant(t, manual)

	if m.UnloadResource("manual", false) {
		t.Fatal("second unload must return false")
	}
}

func TestManager_UnloadResourceAsync(t *testing.T) {
	pool := taskqueue.NewWorkerPool(&taskqueue.Config{Workers: 2})
	m := NewManager(pool, nil)
	mf, r := loaded(t, m, "a", GCManual)

	if !m.UnloadResource("a", true) {
		t.Fatal("async unload must be accepted")
	}
	if err := pool.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if mf.Status() != StatusInvalid || r.unloads.Load() != 1 {
		t.Fatal("async unload did not run")
	}
}

func TestManager_InvalidateResource(t *testing.T) {
	m := NewManager(taskqueue.Inline{}, nil)
	mf, r := loaded(t, m, "a", GCReferenceCount)

	if !m.InvalidateResource(mf) {
		t.Fatal("expected invalidate to unload")
	}
	if m.InvalidateResource(mf) {
		t.Fatal("invalidating an invalid resource must be a no-op")
	}
	if r.unloads.Load() != 1 {
		t.Fatalf("expected 1 unload, got %d", r.unloads.Load())
	}

	fresh := m.RequestManifest("fresh", true)
	if m.InvalidateResource(fresh) || fresh.Status() != StatusUnloaded {
		t.Fatal("unloaded manifests have nothing to invalidate")
	}
}

func TestManager_LoadGeneric(t *testing.T) {
	pool := taskqueue.NewWorkerPool(&taskqueue.Config{Workers: 4})
	defer pool.Close(context.Background())
	m := NewManager(pool, nil)

	handles := make([]*Handle[*stubResource], 0, 10)
	for i := 0; i < 10; i++ {
		handles = append(handles, Load[stubResource](m, ID(fmt.Sprintf("asset/%d", i%3)), i))
	}
	for _, h := range handles {
		if !h.WaitForValidity(5 * time.Second) {
			t.Fatalf("%s did not load: %v", h.ID(), h.Status())
		}
		if h.Get() == nil {
			t.Fatal("expected typed resource")
		}
	}
	if m.Len() != 3 {
		t.Fatalf("expected 3 manifests, got %d", m.Len())
	}
	if got := m.RequestManifest("asset/0", false).ReferenceCount(); got != 4 {
		t.Fatalf("expected 4 handles on asset/0, got %d", got)
	}
	for _, h := range handles {
		h.Release()
	}
}

func TestManager_Snapshot(t *testing.T) {
	m := NewManager(taskqueue.Inline{}, nil)
	loaded(t, m, "b", GCReferenceCount)
	m.RequestManifest("a", true)
	h := Acquire[Resource](m, "b", false)
	defer h.Release()

	snap := m.Snapshot()
	if len(snap) != 2 || snap[0].ID != "a" || snap[1].ID != "b" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap[1].Status != StatusLoaded || snap[1].References != 1 || snap[1].Strategy != GCReferenceCount {
		t.Fatalf("unexpected entry %+v", snap[1])
	}

	var seen int
	m.Each(func(*Manifest) bool {
		seen++
		return false
	})
	if seen != 1 {
		t.Fatalf("Each must stop when fn returns false, saw %d", seen)
	}
}

func TestManager_Unsubscribe(t *testing.T) {
	rec := &recorder{}
	m := NewManager(taskqueue.Inline{}, nil)
	m.Subscribe(rec)
	m.RequestManifest("a", true)
	m.Unsubscribe(rec)
	m.RequestManifest("b", true)

	if n := rec.count(EventCreated); n != 1 {
		t.Fatalf("expected 1 event before unsubscribe, got %d", n)
	}
}
