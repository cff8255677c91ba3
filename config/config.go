package config

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/asset-runtime/errors"
	"github.com/wippyai/asset-runtime/resource"
)

// Config is the full runtime configuration.
type Config struct {
	Queue   QueueConfig   `json:"queue"`
	Manager ManagerConfig `json:"manager"`
	Source  SourceConfig  `json:"source"`
	Assets  AssetsConfig  `json:"assets"`
	Watch   WatchConfig   `json:"watch"`
	Metrics MetricsConfig `json:"metrics"`
	Log     LogConfig     `json:"log"`
}

// QueueConfig configures the worker pool routines run on.
type QueueConfig struct {
	// Workers defaults to GOMAXPROCS.
	Workers   int `json:"workers"`
	QueueSize int `json:"queue_size"`
}

// ManagerConfig configures the resource manager.
type ManagerConfig struct {
	// Mode is "automatic" or "manual".
	Mode string `json:"mode"`
	// DefaultStrategy is "manual", "reference_count" or "scene_deletion".
	DefaultStrategy string `json:"default_strategy"`
	// GCInterval runs a reference sweep periodically. 0 disables it.
	GCInterval     Duration `json:"gc_interval"`
	CleanupTimeout Duration `json:"cleanup_timeout"`
}

// SourceConfig selects where asset bytes come from. Dir and S3 are
// mutually exclusive.
type SourceConfig struct {
	Dir string   `json:"dir,omitempty"`
	S3  S3Config `json:"s3,omitempty"`
	// CacheEntries enables an in-memory LRU cache when positive.
	CacheEntries int      `json:"cache_entries"`
	CacheMaxBlob ByteSize `json:"cache_max_blob"`
}

// S3Config describes the bucket to read from.
type S3Config struct {
	Bucket          string `json:"bucket,omitempty"`
	Prefix          string `json:"prefix,omitempty"`
	Region          string `json:"region,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
	ForcePathStyle  bool   `json:"force_path_style,omitempty"`
}

// AssetsConfig bounds asset sizes.
type AssetsConfig struct {
	BlobLimit     ByteSize `json:"blob_limit"`
	TextureBudget ByteSize `json:"texture_budget"`
	MaxTextureDim int      `json:"max_texture_dim"`
	ShaderEntry   string   `json:"shader_entry"`
	// ShaderMemory caps linear memory per shader instance.
	ShaderMemory   ByteSize `json:"shader_memory"`
	ShaderCacheDir string   `json:"shader_cache_dir,omitempty"`
}

// WatchConfig configures hot reload. It needs a Dir source.
type WatchConfig struct {
	Enabled  bool     `json:"enabled"`
	Debounce Duration `json:"debounce"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `json:"addr,omitempty"`
	Path string `json:"path"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Queue: QueueConfig{
			Workers:   runtime.GOMAXPROCS(0),
			QueueSize: 256,
		},
		Manager: ManagerConfig{
			Mode:            resource.CollectionAutomatic.String(),
			DefaultStrategy: resource.GCReferenceCount.String(),
			GCInterval:      Duration(30 * time.Second),
			CleanupTimeout:  Duration(10 * time.Second),
		},
		Source: SourceConfig{
			Dir:          ".",
			CacheEntries: 128,
			CacheMaxBlob: 4 << 20,
		},
		Assets: AssetsConfig{
			BlobLimit:     256 << 20,
			TextureBudget: 64 << 20,
			MaxTextureDim: 0,
			ShaderEntry:   "main",
			ShaderMemory:  16 << 20,
		},
		Watch: WatchConfig{
			Debounce: Duration(50 * time.Millisecond),
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a JSON file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.IO(errors.PhaseConfig, "read "+path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse "+path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	for _, v := range []interface{ Validate() error }{
		&c.Queue, &c.Manager, &c.Source, &c.Assets, &c.Watch, &c.Log,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	if c.Watch.Enabled && c.Source.Dir == "" {
		return invalid("watch: requires source.dir")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf(format, args...))
}

// Validate checks the queue section.
func (c *QueueConfig) Validate() error {
	if c.Workers < 0 {
		return invalid("queue: workers must not be negative")
	}
	if c.QueueSize < 0 {
		return invalid("queue: queue_size must not be negative")
	}
	return nil
}

// Validate checks the manager section.
func (c *ManagerConfig) Validate() error {
	if _, err := c.CollectionMode(); err != nil {
		return err
	}
	if _, err := c.Strategy(); err != nil {
		return err
	}
	if c.GCInterval < 0 {
		return invalid("manager: gc_interval must not be negative")
	}
	return nil
}

// CollectionMode parses Mode.
func (c *ManagerConfig) CollectionMode() (resource.CollectionMode, error) {
	return resource.ParseCollectionMode(c.Mode)
}

// Strategy parses DefaultStrategy.
func (c *ManagerConfig) Strategy() (resource.GCStrategy, error) {
	return resource.ParseGCStrategy(c.DefaultStrategy)
}

// Validate checks the source section.
func (c *SourceConfig) Validate() error {
	if c.Dir != "" && c.S3.Bucket != "" {
		return invalid("source: dir and s3.bucket are mutually exclusive")
	}
	if c.Dir == "" && c.S3.Bucket == "" {
		return invalid("source: one of dir or s3.bucket is required")
	}
	if c.CacheEntries < 0 || c.CacheMaxBlob < 0 {
		return invalid("source: cache bounds must not be negative")
	}
	return nil
}

// Validate checks the assets section.
func (c *AssetsConfig) Validate() error {
	if c.BlobLimit < 0 || c.TextureBudget < 0 || c.ShaderMemory < 0 || c.MaxTextureDim < 0 {
		return invalid("assets: limits must not be negative")
	}
	return nil
}

// ShaderMemoryPages converts ShaderMemory to 64KiB WebAssembly pages,
// rounding up. 0 means no limit.
func (c *AssetsConfig) ShaderMemoryPages() uint32 {
	const page = 64 << 10
	if c.ShaderMemory <= 0 {
		return 0
	}
	return uint32((int64(c.ShaderMemory) + page - 1) / page)
}

// Validate checks the watch section.
func (c *WatchConfig) Validate() error {
	if c.Debounce < 0 {
		return invalid("watch: debounce must not be negative")
	}
	return nil
}

// Validate checks the log section.
func (c *LogConfig) Validate() error {
	if _, err := zap.ParseAtomicLevel(c.Level); err != nil {
		return invalid("log: %v", err)
	}
	return nil
}

// Build creates the logger described by c.
func (c *LogConfig) Build() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, invalid("log: %v", err)
	}
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
