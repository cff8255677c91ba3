// Package assets implements the concrete resource types: raw blobs, decoded
// textures and WebAssembly compute shaders.
//
// Each type implements resource.Resource and reads its bytes through a
// source.Source. Load failures are returned as recoverable failures: a
// missing or corrupt file leaves the resource invalid, while a failed Reload
// keeps the previous contents and reports them as still valid.
//
// Loader picks the type from the file extension:
//
//	l := &assets.Loader{Manager: m, Source: src, Compiler: compiler}
//	h := l.Load("textures/rock.png.zst")
//	defer h.Release()
//
//	if h.WaitForValidity(time.Second) {
//	    tex := resource.Cast[*assets.Texture](h)
//	    defer tex.Release()
//	    upload(tex.Get().Image())
//	}
package assets
