// Package assetruntime manages the lifecycle of loadable assets: textures,
// blobs and WebAssembly compute shaders read from a directory or an S3
// bucket.
//
// # Architecture Overview
//
//	assetruntime/
//	├── resource/        Manifests, typed handles, the manager and GC sweeps
//	├── taskqueue/       Inline and worker pool queues routines run on
//	├── errors/          Structured failures with phase and kind
//	├── source/          Directory, S3 and LRU-cached byte sources
//	├── assets/          Blob, Texture and Shader resources plus a path loader
//	├── watch/           fsnotify driven hot reload
//	├── telemetry/       Prometheus collector fed by manager events
//	├── config/          JSON configuration
//	├── app/             fx wiring and lifecycle
//	└── cmd/assetctl/    Command line and TUI front end
//
// # Quick Start
//
//	pool := taskqueue.NewWorkerPool(nil)
//	m := resource.NewManager(pool, nil)
//
//	h := resource.Load[assets.Blob](m, "readme.txt", assets.File{
//	    Source: source.NewDir("./data"),
//	    Path:   "readme.txt",
//	})
//	defer h.Release()
//
//	if h.WaitForValidity(time.Second) {
//	    fmt.Println(string(h.Get().Bytes()))
//	}
//
//	m.Cleanup(ctx)
//	pool.Close(ctx)
//
// # Lifecycle
//
// Every asset id maps to one Manifest. Loads, reloads and unloads move it
// through Unloaded, Processing, Loaded and Invalid with compare-and-swap, so
// at most one routine works on a manifest at a time. Handles count
// references; sweeps reclaim loaded assets whose strategy allows it.
// Manager.Cleanup waits for every routine to finish before deleting.
package assetruntime
