package assets

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/wippyai/asset-runtime/errors"
	"github.com/wippyai/asset-runtime/resource"
	"github.com/wippyai/asset-runtime/source"
)

// File locates an asset's bytes.
type File struct {
	Source source.Source
	Path   string
	// Limit caps the decompressed size in bytes. 0 means unlimited.
	Limit int64
}

// Image is the descriptor for a Texture.
type Image struct {
	File
	// Budget caps the decoded RGBA size in bytes. 0 means unlimited.
	Budget int64
	// MaxDim downscales images whose larger side exceeds it. 0 keeps the
	// original size.
	MaxDim int
}

// Module is the descriptor for a Shader.
type Module struct {
	File
	Compiler *ShaderCompiler
	// Entry is the exported function Run calls. Empty means "main".
	Entry string
}

// Kind classifies asset paths.
type Kind uint8

const (
	KindBlob Kind = iota
	KindTexture
	KindShader
)

func (k Kind) String() string {
	switch k {
	case KindTexture:
		return "texture"
	case KindShader:
		return "shader"
	default:
		return "blob"
	}
}

// KindOf guesses the asset kind from the path extension, ignoring any
// compression suffix.
func KindOf(name string) Kind {
	_, plain := source.Detect(name)
	switch strings.ToLower(path.Ext(plain)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp":
		return KindTexture
	case ".wasm":
		return KindShader
	}
	return KindBlob
}

func (f File) read(ctx context.Context, phase errors.Phase, valid bool) ([]byte, error) {
	data, err := source.ReadAll(ctx, f.Source, f.Path, f.Limit)
	if err != nil {
		return nil, failure(phase, f.Path, err, valid)
	}
	return data, nil
}

// failure turns err into a recoverable failure for id. valid reports whether
// the resource keeps usable contents despite it.
func failure(phase errors.Phase, id string, err error, valid bool) error {
	f, ok := errors.AsFailure(err)
	if !ok {
		return errors.New(phase, errors.KindIO).
			ID(id).
			Cause(err).
			ResourceValid(valid).
			Build()
	}
	cp := *f
	cp.ID = id
	cp.ResourceValid = valid
	return &cp
}

func descriptorError(want string, got resource.Descriptor) error {
	return errors.InvalidInput(errors.PhaseLoad, fmt.Sprintf("expected %s descriptor, got %T", want, got))
}
