// Package config provides unified configuration for the bucketdb server and CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bucketdb/bucketdb/internal/cache"
	"github.com/bucketdb/bucketdb/internal/db"
	"github.com/bucketdb/bucketdb/pkg/types"
)

// Config holds the unified configuration for bucketdb.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Database configuration
	Database DatabaseConfig `json:"database" yaml:"database"`

	// Reindex configuration
	Reindex ReindexConfig `json:"reindex" yaml:"reindex"`

	// Cache configuration
	Cache CacheConfig `json:"cache" yaml:"cache"`

	// Codec configuration
	Codec CodecConfig `json:"codec" yaml:"codec"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Log configuration
	Log LogConfig `json:"log" yaml:"log"`

	// Buckets are attached at startup, in order
	Buckets []BucketConfig `json:"buckets" yaml:"buckets"`
}

// DatabaseConfig holds SQLite configuration.
type DatabaseConfig struct {
	// Path is the database file; defaults to <data_dir>/bucketdb.db
	Path string `json:"path" yaml:"path"`

	// JournalMode is the SQLite journal mode (WAL, DELETE, ...)
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`

	// BusyTimeoutMS is how long a writer waits on a locked database
	BusyTimeoutMS int `json:"busy_timeout_ms" yaml:"busy_timeout_ms"`

	// ReadPoolSize is the maximum number of reader connections
	ReadPoolSize int `json:"read_pool_size" yaml:"read_pool_size"`
}

// ReindexConfig holds reindexer configuration.
type ReindexConfig struct {
	// Throttle is the pause between two reindex tasks
	Throttle time.Duration `json:"throttle" yaml:"throttle"`

	// AutoStart runs Prepare on every bucket at startup
	AutoStart bool `json:"auto_start" yaml:"auto_start"`
}

// CacheConfig holds object cache configuration.
type CacheConfig struct {
	// Enabled controls whether each bucket gets an object cache
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Capacity is the number of documents kept per bucket
	Capacity int `json:"capacity" yaml:"capacity"`
}

// CodecConfig holds payload codec configuration.
type CodecConfig struct {
	// CompressPayloads snappy-compresses stored payloads
	CompressPayloads bool `json:"compress_payloads" yaml:"compress_payloads"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the HTTP address for metrics and health endpoints
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// ShutdownTimeout bounds draining requests and stopping buckets
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	// Level is a logrus level name
	Level string `json:"level" yaml:"level"`

	// Format is text, json or color
	Format string `json:"format" yaml:"format"`
}

// BucketConfig declares a bucket and its schema.
type BucketConfig struct {
	Name     string                 `json:"name" yaml:"name"`
	Indexes  []types.IndexField     `json:"indexes" yaml:"indexes"`
	FullText []string               `json:"full_text" yaml:"full_text"`
	Defaults map[string]interface{} `json:"defaults" yaml:"defaults"`
}

// Schema returns the declarative schema for the bucket.
func (b BucketConfig) Schema() *types.FieldSchema {
	return &types.FieldSchema{
		Indexes:  b.Indexes,
		FullText: b.FullText,
		Defaults: b.Defaults,
	}
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/bucketdb",
		Database: DatabaseConfig{
			JournalMode:   "WAL",
			BusyTimeoutMS: 5000,
			ReadPoolSize:  4,
		},
		Reindex: ReindexConfig{
			Throttle:  time.Millisecond,
			AutoStart: true,
		},
		Cache: CacheConfig{
			Enabled:  true,
			Capacity: cache.DefaultCapacity,
		},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/bucketdb"
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.DataDir, "bucketdb.db")
	}
}

// DatabaseOptions returns the options used to open the database file.
func (c *Config) DatabaseOptions() db.Options {
	opts := db.DefaultOptions(c.Database.Path)
	if c.Database.JournalMode != "" {
		opts.JournalMode = c.Database.JournalMode
	}
	if c.Database.BusyTimeoutMS > 0 {
		opts.BusyTimeout = time.Duration(c.Database.BusyTimeoutMS) * time.Millisecond
	}
	if c.Database.ReadPoolSize > 0 {
		opts.ReadPoolSize = c.Database.ReadPoolSize
	}
	return opts
}

// Bucket returns the named bucket configuration.
func (c *Config) Bucket(name string) (BucketConfig, bool) {
	for _, b := range c.Buckets {
		if b.Name == name {
			return b, true
		}
	}
	return BucketConfig{}, false
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	switch strings.ToUpper(c.Database.JournalMode) {
	case "WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY", "OFF":
	default:
		return fmt.Errorf("invalid database.journal_mode: %s", c.Database.JournalMode)
	}

	if c.Database.ReadPoolSize < 1 {
		return fmt.Errorf("database.read_pool_size must be at least 1, got %d", c.Database.ReadPoolSize)
	}

	if c.Reindex.Throttle < 0 {
		return fmt.Errorf("reindex.throttle must not be negative, got %s", c.Reindex.Throttle)
	}

	if c.Cache.Enabled && c.Cache.Capacity < 1 {
		return fmt.Errorf("cache.capacity must be at least 1 when the cache is enabled, got %d", c.Cache.Capacity)
	}

	switch c.Log.Format {
	case "text", "json", "color":
	default:
		return fmt.Errorf("invalid log.format: %s (must be text, json or color)", c.Log.Format)
	}

	seen := make(map[string]bool, len(c.Buckets))
	for _, b := range c.Buckets {
		if !types.ValidIdentifier(b.Name) {
			return fmt.Errorf("invalid bucket name: %q", b.Name)
		}
		if seen[b.Name] {
			return fmt.Errorf("duplicate bucket: %s", b.Name)
		}
		seen[b.Name] = true
		if err := b.Schema().Validate(); err != nil {
			return fmt.Errorf("bucket %s: %w", b.Name, err)
		}
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the BUCKETDB_ prefix. Unparseable values are ignored.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("BUCKETDB_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Database configuration
	if v := os.Getenv("BUCKETDB_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("BUCKETDB_DATABASE_JOURNAL_MODE"); v != "" {
		cfg.Database.JournalMode = v
	}
	if v := os.Getenv("BUCKETDB_DATABASE_BUSY_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.BusyTimeoutMS = n
		}
	}
	if v := os.Getenv("BUCKETDB_DATABASE_READ_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.ReadPoolSize = n
		}
	}

	// Reindex configuration
	if v := os.Getenv("BUCKETDB_REINDEX_THROTTLE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Reindex.Throttle = d
		}
	}
	if v := os.Getenv("BUCKETDB_REINDEX_AUTO_START"); v != "" {
		cfg.Reindex.AutoStart = v == "true" || v == "1"
	}

	// Cache configuration
	if v := os.Getenv("BUCKETDB_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("BUCKETDB_CACHE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.Capacity = n
		}
	}

	// Codec configuration
	if v := os.Getenv("BUCKETDB_CODEC_COMPRESS_PAYLOADS"); v != "" {
		cfg.Codec.CompressPayloads = v == "true" || v == "1"
	}

	// HTTP configuration
	if v := os.Getenv("BUCKETDB_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}

	// Log configuration
	if v := os.Getenv("BUCKETDB_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("BUCKETDB_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.Database.Path),
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
