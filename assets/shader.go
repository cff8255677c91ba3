package assets

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/asset-runtime/errors"
	"github.com/wippyai/asset-runtime/resource"
)

const defaultEntry = "main"

// CompilerConfig holds configuration for shader compiler creation.
type CompilerConfig struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means the wazero default.
	MemoryLimitPages uint32

	// CacheDir persists compiled code between runs. Empty keeps the cache in
	// memory only.
	CacheDir string
}

// ShaderCompiler compiles WebAssembly compute modules. One compiler is
// shared by every Shader of a manager; it is safe for concurrent use.
type ShaderCompiler struct {
	runtime  wazero.Runtime
	cache    wazero.CompilationCache
	compiled atomic.Int64
}

// NewShaderCompiler creates a compiler backed by a single wazero runtime.
func NewShaderCompiler(ctx context.Context, cfg *CompilerConfig) (*ShaderCompiler, error) {
	var c CompilerConfig
	if cfg != nil {
		c = *cfg
	}

	cache := wazero.NewCompilationCache()
	if c.CacheDir != "" {
		var err error
		cache, err = wazero.NewCompilationCacheWithDir(c.CacheDir)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindIO, err, "open compilation cache")
		}
	}

	runtimeCfg := wazero.NewRuntimeConfig().WithCompilationCache(cache)
	if c.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(c.MemoryLimitPages)
	}

	return &ShaderCompiler{
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		cache:   cache,
	}, nil
}

// Compile validates and compiles wasm.
func (c *ShaderCompiler) Compile(ctx context.Context, name string, wasm []byte) (wazero.CompiledModule, error) {
	compiled, err := c.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errors.Corrupted(errors.PhaseCompile, "compile "+name, err, false)
	}
	c.compiled.Add(1)
	return compiled, nil
}

// Compiled returns the number of successful compilations.
func (c *ShaderCompiler) Compiled() int64 {
	return c.compiled.Load()
}

// Close releases the runtime and every module compiled by it.
func (c *ShaderCompiler) Close(ctx context.Context) error {
	err := c.runtime.Close(ctx)
	if cerr := c.cache.Close(ctx); err == nil {
		err = cerr
	}
	return err
}

// Shader is a compiled WebAssembly compute module.
type Shader struct {
	mu       sync.RWMutex
	desc     Module
	compiled wazero.CompiledModule
}

// Load reads and compiles the module named by a Module descriptor.
func (s *Shader) Load(ctx context.Context, m *resource.Manager, desc resource.Descriptor) error {
	d, ok := desc.(Module)
	if !ok {
		return descriptorError("Module", desc)
	}
	if d.Compiler == nil {
		return errors.NotInitialized(errors.PhaseLoad, "shader compiler")
	}
	if d.Entry == "" {
		d.Entry = defaultEntry
	}

	compiled, err := compileShader(ctx, d, errors.PhaseLoad, false)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.desc = d
	s.compiled = compiled
	s.mu.Unlock()

	Logger().Debug("shader compiled", zap.String("path", d.Path), zap.String("entry", d.Entry))
	return nil
}

// Reload compiles the new module before the old one is closed, so Run keeps
// working throughout.
func (s *Shader) Reload(ctx context.Context, m *resource.Manager) error {
	s.mu.RLock()
	d := s.desc
	s.mu.RUnlock()

	compiled, err := compileShader(ctx, d, errors.PhaseReload, true)
	if err != nil {
		return err
	}

	s.mu.Lock()
	old := s.compiled
	s.compiled = compiled
	s.mu.Unlock()

	if old != nil {
		_ = old.Close(ctx)
	}
	return nil
}

// Unload closes the compiled module.
func (s *Shader) Unload(m *resource.Manager) {
	s.mu.Lock()
	compiled := s.compiled
	s.compiled = nil
	s.mu.Unlock()

	if compiled != nil {
		if err := compiled.Close(context.Background()); err != nil {
			Logger().Warn("close shader", zap.String("path", s.desc.Path), zap.Error(err))
		}
	}
}

// Entry returns the exported function Run calls.
func (s *Shader) Entry() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.desc.Entry
}

// Run instantiates the module and calls its entry function with params.
// Each call gets a fresh instance.
func (s *Shader) Run(ctx context.Context, params ...uint64) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.compiled == nil {
		return nil, errors.NotInitialized(errors.PhaseLoad, "shader "+s.desc.Path)
	}

	mod, err := s.desc.Compiler.runtime.InstantiateModule(ctx, s.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCompile, errors.KindInvalidInput, err, "instantiate "+s.desc.Path)
	}
	defer mod.Close(ctx)

	fn := mod.ExportedFunction(s.desc.Entry)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseCompile, "export", s.desc.Entry)
	}
	return fn.Call(ctx, params...)
}

func compileShader(ctx context.Context, d Module, phase errors.Phase, valid bool) (wazero.CompiledModule, error) {
	wasm, err := d.read(ctx, phase, valid)
	if err != nil {
		return nil, err
	}
	compiled, err := d.Compiler.Compile(ctx, d.Path, wasm)
	if err != nil {
		return nil, failure(phase, d.Path, err, valid)
	}
	if _, ok := compiled.ExportedFunctions()[d.Entry]; !ok {
		_ = compiled.Close(ctx)
		return nil, failure(phase, d.Path, errors.NotFound(errors.PhaseCompile, "export", d.Entry), valid)
	}
	return compiled, nil
}
