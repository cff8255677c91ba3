package app

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/asset-runtime/assets"
	"github.com/wippyai/asset-runtime/config"
	"github.com/wippyai/asset-runtime/resource"
	"github.com/wippyai/asset-runtime/source"
	"github.com/wippyai/asset-runtime/taskqueue"
	"github.com/wippyai/asset-runtime/telemetry"
	"github.com/wippyai/asset-runtime/watch"
)

// Module provides every runtime component built from cfg, plus a
// *Runtime that owns their start and stop.
func Module(cfg *config.Config) fx.Option {
	return fx.Module("assetruntime",
		fx.Supply(cfg),
		fx.Provide(
			NewLogger,
			NewPool,
			NewManager,
			NewSource,
			NewCompiler,
			NewLoader,
			NewTelemetry,
			newRuntime,
		),
	)
}

// New builds an fx application around Module. fx's own events go to the
// runtime logger at debug level.
func New(cfg *config.Config, opts ...fx.Option) *fx.App {
	all := []fx.Option{
		Module(cfg),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			zl := &fxevent.ZapLogger{Logger: l}
			zl.UseLogLevel(zap.DebugLevel)
			return zl
		}),
	}
	return fx.New(append(all, opts...)...)
}

// NewLogger builds the root logger and installs it as the package logger
// of every runtime package.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	l, err := cfg.Log.Build()
	if err != nil {
		return nil, err
	}
	resource.SetLogger(l.Named("resource"))
	taskqueue.SetLogger(l.Named("taskqueue"))
	assets.SetLogger(l.Named("assets"))
	watch.SetLogger(l.Named("watch"))
	return l, nil
}

// NewPool creates the worker pool routines run on.
func NewPool(cfg *config.Config) *taskqueue.WorkerPool {
	return taskqueue.NewWorkerPool(&taskqueue.Config{
		Workers:   cfg.Queue.Workers,
		QueueSize: cfg.Queue.QueueSize,
	})
}

// NewManager creates the resource manager on top of pool.
func NewManager(cfg *config.Config, pool *taskqueue.WorkerPool, l *zap.Logger) (*resource.Manager, error) {
	mode, err := cfg.Manager.CollectionMode()
	if err != nil {
		return nil, err
	}
	strategy, err := cfg.Manager.Strategy()
	if err != nil {
		return nil, err
	}
	return resource.NewManager(pool, &resource.Config{
		Logger:          l.Named("resource"),
		Mode:            mode,
		DefaultStrategy: strategy,
	}), nil
}

// Sources is the configured asset source. Cache is nil when caching is
// disabled; Dir is nil for bucket sources.
type Sources struct {
	fx.Out

	Source source.Source
	Cache  *source.Cached
	Dir    *source.Dir
}

// NewSource opens the directory or bucket from cfg, wrapped in an LRU cache
// when cache_entries is positive.
func NewSource(cfg *config.Config) (Sources, error) {
	var out Sources
	if cfg.Source.Dir != "" {
		out.Dir = source.NewDir(cfg.Source.Dir)
		out.Source = out.Dir
	} else {
		s3cfg := cfg.Source.S3
		src, err := source.NewS3(context.Background(), source.S3Config{
			Bucket:          s3cfg.Bucket,
			Prefix:          s3cfg.Prefix,
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
			ForcePathStyle:  s3cfg.ForcePathStyle,
		})
		if err != nil {
			return Sources{}, err
		}
		out.Source = src
	}

	if cfg.Source.CacheEntries > 0 {
		cached, err := source.NewCached(out.Source, cfg.Source.CacheEntries, int64(cfg.Source.CacheMaxBlob))
		if err != nil {
			return Sources{}, err
		}
		out.Cache = cached
		out.Source = cached
	}
	return out, nil
}

// NewCompiler creates the shared shader compiler.
func NewCompiler(cfg *config.Config) (*assets.ShaderCompiler, error) {
	return assets.NewShaderCompiler(context.Background(), &assets.CompilerConfig{
		MemoryLimitPages: cfg.Assets.ShaderMemoryPages(),
		CacheDir:         cfg.Assets.ShaderCacheDir,
	})
}

// NewLoader creates the path-based asset loader.
func NewLoader(cfg *config.Config, m *resource.Manager, src source.Source, c *assets.ShaderCompiler) *assets.Loader {
	return &assets.Loader{
		Manager:       m,
		Source:        src,
		Compiler:      c,
		BlobLimit:     int64(cfg.Assets.BlobLimit),
		TextureBudget: int64(cfg.Assets.TextureBudget),
		MaxTextureDim: cfg.Assets.MaxTextureDim,
		ShaderEntry:   cfg.Assets.ShaderEntry,
	}
}

// NewTelemetry subscribes a metrics collector to m and registers it.
func NewTelemetry(m *resource.Manager) (*telemetry.Collector, *prometheus.Registry, error) {
	c := telemetry.New(m)
	reg, err := telemetry.NewRegistry(c)
	if err != nil {
		c.Close()
		return nil, nil, err
	}
	return c, reg, nil
}

// Runtime owns the started components.
//
// Start brings up the metrics endpoint, the periodic collector and the file
// watcher. Stop tears them down, then drains the manager and releases the
// pool and compiler in that order.
type Runtime struct {
	Config    *config.Config
	Logger    *zap.Logger
	Pool      *taskqueue.WorkerPool
	Manager   *resource.Manager
	Source    source.Source
	Cache     *source.Cached
	Compiler  *assets.ShaderCompiler
	Loader    *assets.Loader
	Telemetry *telemetry.Collector
	Registry  *prometheus.Registry

	dir *source.Dir

	mu      sync.Mutex
	watcher *watch.Watcher
	server  *http.Server
	addr    net.Addr
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type runtimeParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Logger    *zap.Logger
	Pool      *taskqueue.WorkerPool
	Manager   *resource.Manager
	Source    source.Source
	Cache     *source.Cached `optional:"true"`
	Dir       *source.Dir    `optional:"true"`
	Compiler  *assets.ShaderCompiler
	Loader    *assets.Loader
	Telemetry *telemetry.Collector
	Registry  *prometheus.Registry
}

func newRuntime(p runtimeParams) *Runtime {
	r := &Runtime{
		Config:    p.Config,
		Logger:    p.Logger,
		Pool:      p.Pool,
		Manager:   p.Manager,
		Source:    p.Source,
		Cache:     p.Cache,
		Compiler:  p.Compiler,
		Loader:    p.Loader,
		Telemetry: p.Telemetry,
		Registry:  p.Registry,
		dir:       p.Dir,
	}
	p.Lifecycle.Append(fx.Hook{
		OnStart: r.Start,
		OnStop:  r.Stop,
	})
	return r
}

// Start launches background services.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Config.Watch.Enabled && r.dir != nil {
		w, err := watch.New(r.Manager, r.dir.Root(), &watch.Config{
			Debounce: r.Config.Watch.Debounce.Duration(),
			Logger:   r.Logger.Named("watch"),
			OnChange: r.invalidate,
		})
		if err != nil {
			return err
		}
		r.watcher = w
	}

	if addr := r.Config.Metrics.Addr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			if r.watcher != nil {
				r.watcher.Close()
				r.watcher = nil
			}
			return err
		}
		mux := http.NewServeMux()
		mux.Handle(r.Config.Metrics.Path, telemetry.Handler(r.Registry))
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		r.server = srv
		r.addr = ln.Addr()
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				r.Logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		r.Logger.Info("metrics endpoint listening", zap.Stringer("addr", r.addr))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	if interval := r.Config.Manager.GCInterval.Duration(); interval > 0 {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.Manager.RunCollector(runCtx, interval)
		}()
	}

	r.Logger.Info("asset runtime started",
		zap.Int("workers", r.Pool.Workers()),
		zap.Stringer("mode", r.Manager.Mode()),
		zap.Bool("watch", r.watcher != nil),
	)
	return nil
}

func (r *Runtime) invalidate(id resource.ID) {
	if r.Cache != nil {
		r.Cache.Invalidate(string(id))
	}
}

// Stop shuts everything down. It is safe to call more than once.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs error
	if r.watcher != nil {
		errs = multierr.Append(errs, r.watcher.Close())
		r.watcher = nil
	}
	if r.server != nil {
		errs = multierr.Append(errs, r.server.Shutdown(ctx))
		r.server = nil
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.wg.Wait()

	cleanupCtx := ctx
	if timeout := r.Config.Manager.CleanupTimeout.Duration(); timeout > 0 {
		var cancel context.CancelFunc
		cleanupCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if !r.Manager.Closed() {
		errs = multierr.Append(errs, r.Manager.Cleanup(cleanupCtx))
	}
	errs = multierr.Append(errs, r.Pool.Close(ctx))
	errs = multierr.Append(errs, r.Compiler.Close(ctx))
	r.Telemetry.Close()

	if errs != nil {
		r.Logger.Error("asset runtime stopped with errors", zap.Error(errs))
	} else {
		r.Logger.Info("asset runtime stopped", zap.Uint64("collected", r.Manager.Stats().Collected))
	}
	return errs
}

// MetricsAddr returns the bound metrics address, or nil when disabled.
func (r *Runtime) MetricsAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addr
}

// Watcher returns the running file watcher, or nil.
func (r *Runtime) Watcher() *watch.Watcher {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.watcher
}
