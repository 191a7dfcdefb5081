package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, filepath.Join("./data/bucketdb", "bucketdb.db"), cfg.Database.Path)
	assert.Equal(t, 32, cfg.Cache.Capacity)
}

func TestLoadFromFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bucketdb.yaml")
	yamlDoc := `
data_dir: /var/lib/bucketdb
database:
  journal_mode: DELETE
  read_pool_size: 2
reindex:
  throttle: 5ms
  auto_start: false
codec:
  compress_payloads: true
buckets:
  - name: notes
    indexes:
      - name: title
      - name: author
        path: meta.author
    full_text: [title, body]
    defaults:
      tags: []
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	cfg.Resolve()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/var/lib/bucketdb", cfg.DataDir)
	assert.Equal(t, "/var/lib/bucketdb/bucketdb.db", cfg.Database.Path)
	assert.Equal(t, 5*time.Millisecond, cfg.Reindex.Throttle)
	assert.False(t, cfg.Reindex.AutoStart)
	assert.True(t, cfg.Codec.CompressPayloads)
	// untouched fields keep their defaults
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 30*time.Second, cfg.HTTP.ShutdownTimeout)

	b, ok := cfg.Bucket("notes")
	require.True(t, ok)
	s := b.Schema()
	assert.Equal(t, []string{"title", "body"}, s.FullTextFields())
	require.Len(t, s.Indexes, 2)
	assert.Equal(t, "meta.author", s.Indexes[1].Path)

	_, ok = cfg.Bucket("missing")
	assert.False(t, ok)
}

func TestLoadFromFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bucketdb.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"data_dir":"/tmp/b","cache":{"enabled":false}}`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/b", cfg.DataDir)
	assert.False(t, cfg.Cache.Enabled)
}

func TestLoadFromFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	toml := filepath.Join(dir, "bucketdb.toml")
	require.NoError(t, os.WriteFile(toml, []byte("x = 1"), 0644))
	_, err = LoadFromFile(toml)
	assert.ErrorContains(t, err, "unsupported config file format")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("buckets: {"), 0644))
	_, err = LoadFromFile(bad)
	assert.ErrorContains(t, err, "failed to parse YAML config")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BUCKETDB_DATA_DIR", "/srv/bucketdb")
	t.Setenv("BUCKETDB_DATABASE_READ_POOL_SIZE", "8")
	t.Setenv("BUCKETDB_DATABASE_BUSY_TIMEOUT_MS", "not-a-number")
	t.Setenv("BUCKETDB_REINDEX_THROTTLE", "10ms")
	t.Setenv("BUCKETDB_CACHE_ENABLED", "false")
	t.Setenv("BUCKETDB_CODEC_COMPRESS_PAYLOADS", "1")
	t.Setenv("BUCKETDB_LOG_FORMAT", "json")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	assert.Equal(t, "/srv/bucketdb", cfg.DataDir)
	assert.Equal(t, 8, cfg.Database.ReadPoolSize)
	assert.Equal(t, 5000, cfg.Database.BusyTimeoutMS, "unparseable values are ignored")
	assert.Equal(t, 10*time.Millisecond, cfg.Reindex.Throttle)
	assert.False(t, cfg.Cache.Enabled)
	assert.True(t, cfg.Codec.CompressPayloads)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }, "data_dir is required"},
		{"journal mode", func(c *Config) { c.Database.JournalMode = "FAST" }, "journal_mode"},
		{"read pool", func(c *Config) { c.Database.ReadPoolSize = 0 }, "read_pool_size"},
		{"negative throttle", func(c *Config) { c.Reindex.Throttle = -time.Second }, "throttle"},
		{"cache capacity", func(c *Config) { c.Cache.Capacity = 0 }, "cache.capacity"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"bucket name", func(c *Config) { c.Buckets = []BucketConfig{{Name: "bad-name"}} }, "invalid bucket name"},
		{"duplicate bucket", func(c *Config) {
			c.Buckets = []BucketConfig{{Name: "notes"}, {Name: "notes"}}
		}, "duplicate bucket"},
		{"bad schema", func(c *Config) {
			c.Buckets = []BucketConfig{{Name: "notes", FullText: []string{"key"}}}
		}, "reserved"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}

	cfg := DefaultConfig()
	cfg.Cache.Enabled = false
	cfg.Cache.Capacity = 0
	assert.NoError(t, cfg.Validate(), "capacity is ignored when the cache is off")
}

func TestDatabaseOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Path = "/tmp/x.db"
	cfg.Database.BusyTimeoutMS = 250
	cfg.Database.ReadPoolSize = 3

	opts := cfg.DatabaseOptions()
	assert.Equal(t, "/tmp/x.db", opts.Path)
	assert.Equal(t, 250*time.Millisecond, opts.BusyTimeout)
	assert.Equal(t, 3, opts.ReadPoolSize)
	assert.Equal(t, "WAL", opts.JournalMode)
}

func TestEnsureDirectories(t *testing.T) {
	base := filepath.Join(t.TempDir(), "nested", "data")
	cfg := DefaultConfig()
	cfg.DataDir = base
	cfg.Database.Path = filepath.Join(base, "db", "bucketdb.db")

	require.NoError(t, cfg.EnsureDirectories())
	for _, dir := range []string{base, filepath.Join(base, "db")} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
