// Package resource manages the lifecycle of loadable assets shared between
// goroutines.
//
// Three types cooperate:
//
//	Manifest  - per-resource record: id, status, loaded object, handle count, GC strategy
//	Handle[T] - typed, reference-counted view of a manifest
//	Manager   - id -> manifest registry, routines, GC sweeps and teardown
//
// # Loading
//
// Concrete asset types implement Resource. The generic Load helper creates
// the manifest on first use, binds a handle and schedules the load on the
// manager's task queue:
//
//	m := resource.NewManager(pool, &resource.Config{DefaultStrategy: resource.GCReferenceCount})
//
//	h := resource.Load[assets.Texture](m, "ui/logo.png", assets.File{Source: src, Path: "ui/logo.png"})
//	defer h.Release()
//
//	if h.WaitForValidity(time.Second) {
//	    draw(h.Get())
//	}
//
// Get never blocks and returns the zero value until the status is
// StatusLoaded. Errors from asynchronous routines never reach the caller;
// they show up as StatusInvalid and as EventLoadFailed events.
//
// # State Machine
//
//	Unloaded|Invalid --load--> Processing --ok/valid failure--> Loaded
//	                                      --failure---------->  Invalid
//	Loaded --reload|unload-->  Processing
//
// Entering Processing is a compare-and-swap, so one manifest never runs two
// routines at once. A second load request while one is running is a no-op.
//
// # Reference Counting
//
// Handles are pointers. Clone copies (count +1), Release destroys (count -1,
// idempotent) and handing the pointer on moves it. A handle that is never
// released keeps a GCReferenceCount resource alive forever.
//
// # Garbage Collection
//
// TriggerReferenceGC unloads GCReferenceCount resources nobody references.
// TriggerSceneGC unloads every GCSceneDeletion resource. GCManual resources
// are only unloaded with UnloadResource. In CollectionAutomatic mode an
// out-of-memory failure runs one reference sweep before the routine returns.
//
// # Teardown
//
// Cleanup rejects new routines, waits until every queued or running routine
// has finished, then deletes all manifests on the task queue. Handles that
// outlive it report Valid() == false.
package resource
