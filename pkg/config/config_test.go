package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/dctables/pkg/compression"
	"github.com/ajitpratap0/dctables/pkg/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Fetch.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Sync.IdleWindow)
	assert.Equal(t, "v_internal", cfg.Database.Schema)
	assert.Equal(t, TransportHTTP, cfg.Cluster.Transport)
	assert.Equal(t, ":5450", cfg.Agent.Listen)
}

func TestLoadFile(t *testing.T) {
	t.Setenv("DCTABLES_TEST_DSN", "postgres://dbadmin@localhost:5433/vmart")
	path := writeFile(t, "dctables.yaml", `
database:
  path: /var/lib/dctables/cache.db
cluster:
  database: VMart
  catalog_path: /vertica/catalog/VMart
  transport: sql
  dialect: vertica
  nodes:
    - name: v_vmart_node0001
      host: 10.0.0.1
      dsn: ${DCTABLES_TEST_DSN}
    - name: v_vmart_node0002
      host: 10.0.0.2
      port: 6000
  http:
    retry:
      max_attempts: 5
fetch:
  timeout: 90s
  fail_on_node_error: true
sync:
  idle_window: 1m
agent:
  listen: ":7000"
  compression: [zstd, gzip]
  node: v_vmart_node0001
logging:
  level: debug
collectors:
  tables: [dc_errors]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/dctables/cache.db", cfg.Database.Path)
	assert.Equal(t, TransportSQL, cfg.Cluster.Transport)
	require.Len(t, cfg.Cluster.Nodes, 2)
	assert.Equal(t, "postgres://dbadmin@localhost:5433/vmart", cfg.Cluster.Nodes[0].DSN)
	assert.Equal(t, 6000, cfg.Cluster.Nodes[1].Port)
	assert.Equal(t, 5, cfg.Cluster.HTTP.Retry.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Cluster.HTTP.Retry.MaxDelay)
	assert.Equal(t, 90*time.Second, cfg.Fetch.Timeout)
	assert.True(t, cfg.Fetch.FailOnNodeError)
	assert.Equal(t, 1000, cfg.Fetch.BlockRows)
	assert.Equal(t, time.Minute, cfg.Sync.IdleWindow)
	assert.Equal(t, 10*time.Second, cfg.Sync.PollInterval)
	assert.Equal(t, ":7000", cfg.Agent.Listen)
	assert.Equal(t, []string{"zstd", "gzip"}, cfg.Agent.Compression)
	assert.Equal(t, "v_vmart_node0001", cfg.Agent.Node)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"dc_errors"}, cfg.Collectors.Tables)

	topo, err := cfg.Topology()
	require.NoError(t, err)
	assert.Equal(t, "/vertica/catalog/VMart", topo.CatalogPath)
	assert.Len(t, topo.Nodes, 2)

	vcfg := cfg.VTab(topo.CatalogPath)
	assert.True(t, vcfg.FailOnNodeError)
	assert.Equal(t, "/vertica/catalog/VMart", vcfg.CatalogPath)
	assert.Equal(t, time.Minute, vcfg.Sync.IdleWindow)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("DCTABLES_FETCH_TIMEOUT", "2m")
	t.Setenv("DCTABLES_LOGGING_LEVEL", "warn")
	t.Setenv("DCTABLES_SYNC_ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.Fetch.Timeout)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.False(t, cfg.Sync.Enabled)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = Load(writeFile(t, "bad.yaml", "fetch: [unclosed"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = Load(writeFile(t, "invalid.yaml", "cluster:\n  transport: carrier-pigeon\n"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"log level":         func(c *Config) { c.Logging.Level = "loud" },
		"schema":            func(c *Config) { c.Database.Schema = "" },
		"transport":         func(c *Config) { c.Cluster.Transport = "smtp" },
		"dialect":           func(c *Config) { c.Cluster.Transport = TransportSQL; c.Cluster.Dialect = "oracle" },
		"compression":       func(c *Config) { c.Cluster.Compression = []string{"rar"} },
		"agent compression": func(c *Config) { c.Agent.Compression = []string{"rar"} },
		"retries":           func(c *Config) { c.Cluster.HTTP.Retry.MaxAttempts = 0 },
		"fetch timeout":     func(c *Config) { c.Fetch.Timeout = -time.Second },
		"block rows":        func(c *Config) { c.Fetch.BlockRows = 0 },
		"idle window":       func(c *Config) { c.Sync.IdleWindow = -time.Second },
		"cache schema":      func(c *Config) { c.Sync.CacheSchema = "" },
		"sampling":          func(c *Config) { c.Tracing.SamplingRate = 1.5 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestTopologyFromAdminTools(t *testing.T) {
	path := writeFile(t, "admintools.conf", `[Cluster]
hosts = 10.0.0.1,10.0.0.2

[Nodes]
v_vmart_node0001 = 10.0.0.1,/vertica/catalog,/vertica/data
v_vmart_node0002 = 10.0.0.2,/vertica/catalog,/vertica/data

[Database:VMart]
path = /vertica/catalog/VMart/v_vmart_node0001_catalog
nodes = v_vmart_node0001,v_vmart_node0002
`)
	cfg := Default()
	cfg.Cluster.AdminTools = path
	cfg.Cluster.Database = "VMart"

	topo, err := cfg.Topology()
	require.NoError(t, err)
	require.Len(t, topo.Nodes, 2)
	assert.Equal(t, "10.0.0.2", topo.Nodes[1].Host)

	cfg = Default()
	_, err = cfg.Topology()
	assert.Error(t, err)
}

func TestAccept(t *testing.T) {
	cfg := Default()
	assert.Nil(t, cfg.Accept())

	cfg.Cluster.Compression = []string{"lz4", "gzip"}
	assert.Equal(t, []compression.Algorithm{compression.LZ4, compression.Gzip}, cfg.Accept())
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Fetch.Timeout = 42 * time.Second
	cfg.Cluster.Nodes = nil
	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 42*time.Second, loaded.Fetch.Timeout)
}
