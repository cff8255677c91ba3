package assets

import (
	"github.com/wippyai/asset-runtime/resource"
	"github.com/wippyai/asset-runtime/source"
)

// Loader starts loads for asset paths, picking the resource type by
// extension.
type Loader struct {
	Manager  *resource.Manager
	Source   source.Source
	Compiler *ShaderCompiler

	// BlobLimit caps every file read.
	BlobLimit int64
	// TextureBudget caps decoded texture size.
	TextureBudget int64
	MaxTextureDim int
	ShaderEntry   string
}

// Load returns a handle for path and schedules its load if needed. The
// caller owns the handle.
func (l *Loader) Load(path string) *resource.Handle[resource.Resource] {
	id := resource.ID(path)
	file := File{Source: l.Source, Path: path, Limit: l.BlobLimit}

	switch KindOf(path) {
	case KindTexture:
		return untyped(resource.Load[Texture](l.Manager, id, Image{
			File:   file,
			Budget: l.TextureBudget,
			MaxDim: l.MaxTextureDim,
		}))
	case KindShader:
		return untyped(resource.Load[Shader](l.Manager, id, Module{
			File:     file,
			Compiler: l.Compiler,
			Entry:    l.ShaderEntry,
		}))
	default:
		return untyped(resource.Load[Blob](l.Manager, id, file))
	}
}

func untyped[T any](h *resource.Handle[T]) *resource.Handle[resource.Resource] {
	u := resource.Cast[resource.Resource](h)
	h.Release()
	return u
}
