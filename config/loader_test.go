package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/storagecore/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "storagecore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoaderDefaultsOnly(t *testing.T) {
	reg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), reg.Defaults)
	assert.Equal(t, DefaultCoordinatorSettings(), reg.Coordinator)
}

func TestLoaderYAMLFile(t *testing.T) {
	path := writeConfig(t, `
defaults:
  min_connections: 3
  max_connections: 12
  acquire_timeout: 15s
overrides:
  qdrant:
    min_connections: 2
    max_connections: 5
    acquire_timeout: 1s
coordinator:
  default_timeout: 45s
  phase_timeout: 8s
backends:
  redis:
    addr: cache.internal:6379
`)

	reg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 3, reg.Defaults.MinConnections)
	assert.Equal(t, 12, reg.Defaults.MaxConnections)
	assert.Equal(t, 15*time.Second, reg.Defaults.AcquireTimeout)

	q := reg.ForType(types.DatabaseQdrant)
	assert.Equal(t, 2, q.MinConnections)
	assert.Equal(t, 5, q.MaxConnections)
	assert.Equal(t, time.Second, q.AcquireTimeout)

	assert.Equal(t, 45*time.Second, reg.Coordinator.DefaultTimeout)
	assert.Equal(t, 8*time.Second, reg.Coordinator.PhaseTimeout)
	assert.Equal(t, "cache.internal:6379", reg.Backends.Redis.Addr)
}

func TestLoaderMissingFile(t *testing.T) {
	_, err := NewLoader().WithConfigPath("/nonexistent/storagecore.yaml").Load()
	assert.Error(t, err)
}

func TestLoaderInvalidConfigRejected(t *testing.T) {
	path := writeConfig(t, `
defaults:
  min_connections: 9
  max_connections: 3
`)
	_, err := NewLoader().WithConfigPath(path).Load()
	assert.Error(t, err)
}

func TestLoaderEnvOverridesWinOverYAML(t *testing.T) {
	path := writeConfig(t, `
defaults:
  max_connections: 12
`)
	t.Setenv("STORAGECORE_MAX_CONNECTIONS", "20")
	t.Setenv("STORAGECORE_ACQUIRE_TIMEOUT", "2s")
	t.Setenv("STORAGECORE_TX_DEFAULT_TIMEOUT", "1m")
	t.Setenv("STORAGECORE_REDIS_ADDR", "cache.prod:6379")

	reg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 20, reg.Defaults.MaxConnections)
	assert.Equal(t, 2*time.Second, reg.Defaults.AcquireTimeout)
	assert.Equal(t, time.Minute, reg.Coordinator.DefaultTimeout)
	assert.Equal(t, "cache.prod:6379", reg.Backends.Redis.Addr)
}

func TestLoaderPerTypeEnvOverride(t *testing.T) {
	t.Setenv("STORAGECORE_QDRANT_MIN_CONNECTIONS", "1")
	t.Setenv("STORAGECORE_QDRANT_MAX_CONNECTIONS", "4")

	reg, err := NewLoader().Load()
	require.NoError(t, err)

	q := reg.ForType(types.DatabaseQdrant)
	assert.Equal(t, 1, q.MinConnections)
	assert.Equal(t, 4, q.MaxConnections)
	// Other types stay on the defaults.
	assert.Equal(t, reg.Defaults, reg.ForType(types.DatabaseMongo))
}

func TestLoaderPerTypeEnvExplicitZero(t *testing.T) {
	t.Setenv("STORAGECORE_REDIS_MIN_CONNECTIONS", "0")

	reg, err := NewLoader().Load()
	require.NoError(t, err)

	r := reg.ForType(types.DatabaseRedis)
	assert.Equal(t, 0, r.MinConnections)
	assert.Equal(t, reg.Defaults.MaxConnections, r.MaxConnections)
}

func TestLoaderEnvExtendsYAMLOverride(t *testing.T) {
	path := writeConfig(t, `
overrides:
  qdrant:
    max_connections: 6
`)
	t.Setenv("STORAGECORE_QDRANT_MIN_CONNECTIONS", "1")

	reg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	q := reg.ForType(types.DatabaseQdrant)
	assert.Equal(t, 1, q.MinConnections)
	assert.Equal(t, 6, q.MaxConnections)
}

func TestLoaderCustomEnvPrefix(t *testing.T) {
	t.Setenv("CODEINDEX_MIN_CONNECTIONS", "5")

	reg, err := NewLoader().WithEnvPrefix("CODEINDEX_").Load()
	require.NoError(t, err)
	assert.Equal(t, 5, reg.Defaults.MinConnections)
}

func TestLoaderIgnoresMalformedEnvValues(t *testing.T) {
	t.Setenv("STORAGECORE_MAX_CONNECTIONS", "lots")
	t.Setenv("STORAGECORE_ACQUIRE_TIMEOUT", "soon")

	reg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings().MaxConnections, reg.Defaults.MaxConnections)
	assert.Equal(t, DefaultSettings().AcquireTimeout, reg.Defaults.AcquireTimeout)
}
