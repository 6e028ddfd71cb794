package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guyvdb/kvrepo/fault"
	"github.com/guyvdb/kvrepo/store"
	"github.com/guyvdb/kvrepo/types"
)

const sample = `
backend: sql
codec: msgpack
atomic: true
log:
  level: debug
  format: json
sql:
  driver: sqlite
  dsn: test.db
types:
  - name: shop.Widget
    attributes:
      - name: sku
        kind: string
        primary: true
      - name: qty
        kind: int64
  - name: crm.Customer
    attributes:
      - name: id
        kind: int
        primary: true
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, BackendSQL, cfg.Backend)
	assert.Equal(t, "msgpack", cfg.Codec)
	assert.True(t, cfg.Atomic)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "test.db", cfg.SQL.DSN)
	assert.Equal(t, "kvrepo.db", cfg.Bolt.Path, "unset sections keep their defaults")
	require.Len(t, cfg.Types, 2)
	assert.Equal(t, "qty", cfg.Types[0].Attributes[1].Name)
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse([]byte("backend: [unclosed"))
	assert.Error(t, err)
}

func TestLoadAppliesEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kvrepo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	t.Setenv("KVREPO_BACKEND", "redis")
	t.Setenv("KVREPO_REDIS_ADDR", "cache:6380")
	t.Setenv("KVREPO_REDIS_DB", "3")
	t.Setenv("KVREPO_LOG_FORMAT", "text")
	t.Setenv("KVREPO_ATOMIC", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.Backend)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.False(t, cfg.Atomic)
	assert.Equal(t, "msgpack", cfg.Codec)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("KVREPO_BOLT_PATH", "/tmp/other.db")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendBolt, cfg.Backend)
	assert.Equal(t, "/tmp/other.db", cfg.Bolt.Path)
}

func TestRegistry(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	registry, err := cfg.Registry()
	require.NoError(t, err)
	assert.Len(t, registry.Mappings(), 2)

	widget, err := registry.Lookup("Widget")
	require.NoError(t, err)
	assert.Equal(t, "shop.Widget", widget.Type.TypeName())
	assert.Equal(t, "fdb1ddd4_Widget", widget.Type.Prefix())

	primary, err := widget.Primary()
	require.NoError(t, err)
	assert.Equal(t, "sku", primary.Name())

	qty, err := widget.Attribute("qty")
	require.NoError(t, err)
	assert.Equal(t, types.KindInt64, qty.Kind())

	customer, err := registry.Lookup("crm.Customer")
	require.NoError(t, err)
	id, err := customer.Primary()
	require.NoError(t, err)
	assert.Equal(t, types.KindInt64, id.Kind())
}

func TestRegistryErrors(t *testing.T) {
	tests := map[string]string{
		"bad kind": `
types:
  - name: shop.Widget
    attributes:
      - name: sku
        kind: decimal
`,
		"no suffix": `
types:
  - name: shop.Widget2
`,
		"duplicate": `
types:
  - name: shop.Widget
  - name: shop.Widget
`,
		"unnamed attribute": `
types:
  - name: shop.Widget
    attributes:
      - kind: string
`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			cfg, err := Parse([]byte(doc))
			require.NoError(t, err)

			_, err = cfg.Registry()
			assert.ErrorIs(t, err, fault.ErrConfiguration)
		})
	}
}

func TestRepositoryConfig(t *testing.T) {
	cfg := Default()
	cfg.Codec = "msgpack"
	cfg.Atomic = true

	rc, err := cfg.RepositoryConfig()
	require.NoError(t, err)
	assert.Equal(t, "msgpack", rc.Codec.Name())
	assert.True(t, rc.Atomic)

	cfg.Codec = "gob"
	_, err = cfg.RepositoryConfig()
	assert.ErrorIs(t, err, fault.ErrConfiguration)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	cfg := Default()
	cfg.Backend = BackendMemory
	s, err := Open(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryStore{}, s)

	cfg.Backend = BackendBolt
	cfg.Bolt.Path = filepath.Join(t.TempDir(), "kv.db")
	s, err = Open(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &store.BoltStore{}, s)
	require.NoError(t, s.Close())

	cfg.Backend = BackendSQL
	cfg.SQL.DSN = filepath.Join(t.TempDir(), "kv.sqlite")
	s, err = Open(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	cfg.Backend = "etcd"
	_, err = Open(ctx, cfg)
	assert.ErrorIs(t, err, fault.ErrUnsupportedBackend)
}
