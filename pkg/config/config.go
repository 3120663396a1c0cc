// Package config provides the configuration of dctables.
//
// The configuration is organized into sections:
//   - database: the local SQLite database and its virtual table schema
//   - cluster: the nodes, how to reach them and the catalog path
//   - fetch: fan-out timeouts and block sizes
//   - sync: the background cache sync job
//   - agent: the node agent and the local database it serves
//   - logging, metrics, tracing: observability
//   - collectors: extra collector definitions and table selection
//
// Values come from defaults, then an optional YAML file with ${VAR}
// substitution, then DCTABLES_* environment variables:
//
//	cfg, err := config.Load("dctables.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	topo, err := cfg.Topology()
package config

import (
	"strings"

	"github.com/ajitpratap0/dctables/pkg/agent"
	"github.com/ajitpratap0/dctables/pkg/clients"
	"github.com/ajitpratap0/dctables/pkg/cluster"
	"github.com/ajitpratap0/dctables/pkg/cluster/sqlexec"
	"github.com/ajitpratap0/dctables/pkg/compression"
	"github.com/ajitpratap0/dctables/pkg/errors"
	"github.com/ajitpratap0/dctables/pkg/logger"
	"github.com/ajitpratap0/dctables/pkg/observability"
	"github.com/ajitpratap0/dctables/pkg/syncjob"
	"github.com/ajitpratap0/dctables/pkg/vtab"
)

// Transports nodes can be reached with.
const (
	TransportHTTP = "http"
	TransportSQL  = "sql"
)

// Config is the complete configuration.
type Config struct {
	Database   vtab.Config                 `mapstructure:"database" yaml:"database"`
	Cluster    ClusterConfig               `mapstructure:"cluster" yaml:"cluster"`
	Fetch      cluster.FetchConfig         `mapstructure:"fetch" yaml:"fetch"`
	Sync       syncjob.Config              `mapstructure:"sync" yaml:"sync"`
	Agent      AgentConfig                 `mapstructure:"agent" yaml:"agent"`
	Logging    logger.Config               `mapstructure:"logging" yaml:"logging"`
	Metrics    MetricsConfig               `mapstructure:"metrics" yaml:"metrics"`
	Tracing    observability.TracingConfig `mapstructure:"tracing" yaml:"tracing"`
	Collectors CollectorsConfig            `mapstructure:"collectors" yaml:"collectors"`
}

// ClusterConfig describes the nodes to fetch from.
type ClusterConfig struct {
	// Database names the database whose nodes are read from AdminTools.
	Database string `mapstructure:"database" yaml:"database"`
	// AdminTools is the path of an admintools.conf file. When set, the
	// node list is read from it instead of Nodes.
	AdminTools string `mapstructure:"admintools" yaml:"admintools"`
	// CatalogPath overrides the catalog path sent to the nodes.
	CatalogPath string         `mapstructure:"catalog_path" yaml:"catalog_path"`
	Nodes       []cluster.Node `mapstructure:"nodes" yaml:"nodes"`
	// Transport is "http" for node agents or "sql" for direct database
	// connections using each node's DSN.
	Transport string `mapstructure:"transport" yaml:"transport"`
	// Dialect is the SQL dialect of the sql transport.
	Dialect string `mapstructure:"dialect" yaml:"dialect"`
	// Compression lists the response encodings accepted from agents.
	Compression []string           `mapstructure:"compression" yaml:"compression"`
	HTTP        clients.HTTPConfig `mapstructure:"http" yaml:"http"`
}

// AgentConfig configures the node agent and the node-local database it
// serves.
type AgentConfig struct {
	agent.Config `mapstructure:",squash" yaml:",inline"`

	Node    string `mapstructure:"node" yaml:"node"`
	Dialect string `mapstructure:"dialect" yaml:"dialect"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

// MetricsConfig configures the prometheus endpoint of the CLI.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

// CollectorsConfig extends and narrows the collector catalog.
type CollectorsConfig struct {
	// Files are YAML collector definition files loaded after the built-in
	// definitions.
	Files []string `mapstructure:"files" yaml:"files"`
	// Tables restricts the exposed collectors. Empty exposes all.
	Tables []string `mapstructure:"tables" yaml:"tables"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Database: vtab.DefaultConfig(),
		Cluster: ClusterConfig{
			Transport: TransportHTTP,
			Dialect:   sqlexec.Vertica.Name,
			HTTP:      *clients.DefaultHTTPConfig(),
		},
		Fetch: cluster.DefaultFetchConfig(),
		Sync:  syncjob.DefaultConfig(),
		Agent: AgentConfig{
			Config:  agent.DefaultConfig(),
			Dialect: sqlexec.Vertica.Name,
		},
		Logging: logger.Config{
			Level:       "info",
			Encoding:    "json",
			OutputPaths: []string{"stderr"},
		},
		Metrics: MetricsConfig{
			Listen: ":9450",
		},
		Tracing: observability.DefaultTracingConfig(),
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.Newf(errors.ErrorTypeConfig, "logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	if c.Database.Schema == "" {
		return errors.New(errors.ErrorTypeConfig, "database.schema is required")
	}
	if c.Database.BusyTimeout < 0 {
		return errors.New(errors.ErrorTypeConfig, "database.busy_timeout cannot be negative")
	}

	switch c.Cluster.Transport {
	case TransportHTTP:
		for _, name := range c.Cluster.Compression {
			if _, err := compression.Parse(name); err != nil {
				return errors.Wrap(err, errors.ErrorTypeConfig, "invalid cluster.compression")
			}
		}
	case TransportSQL:
		if _, err := sqlexec.DialectFor(c.Cluster.Dialect); err != nil {
			return err
		}
	default:
		return errors.Newf(errors.ErrorTypeConfig, "cluster.transport %q is not one of %s, %s", c.Cluster.Transport, TransportHTTP, TransportSQL)
	}
	if c.Cluster.HTTP.Retry.MaxAttempts < 1 {
		return errors.New(errors.ErrorTypeConfig, "cluster.http.retry.max_attempts must be at least 1")
	}

	if c.Fetch.Timeout < 0 {
		return errors.New(errors.ErrorTypeConfig, "fetch.timeout cannot be negative")
	}
	if c.Fetch.BlockRows <= 0 {
		return errors.New(errors.ErrorTypeConfig, "fetch.block_rows must be positive")
	}

	if c.Sync.IdleWindow < 0 || c.Sync.PollInterval < 0 || c.Sync.PassInterval < 0 {
		return errors.New(errors.ErrorTypeConfig, "sync intervals cannot be negative")
	}
	if c.Sync.CacheSchema == "" {
		return errors.New(errors.ErrorTypeConfig, "sync.cache_schema is required")
	}

	for _, name := range c.Agent.Compression {
		if _, err := compression.Parse(name); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "invalid agent.compression")
		}
	}
	if c.Agent.ShutdownTimeout < 0 {
		return errors.New(errors.ErrorTypeConfig, "agent.shutdown_timeout cannot be negative")
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return errors.Newf(errors.ErrorTypeConfig, "tracing.sampling_rate %v is outside [0, 1]", c.Tracing.SamplingRate)
	}
	return nil
}

// Topology returns the cluster nodes, read from the admintools file when
// one is configured.
func (c *Config) Topology() (*cluster.Topology, error) {
	var topo *cluster.Topology
	if c.Cluster.AdminTools != "" {
		t, err := cluster.LoadAdminTools(c.Cluster.AdminTools, c.Cluster.Database)
		if err != nil {
			return nil, err
		}
		topo = t
	} else {
		topo = &cluster.Topology{
			Database: c.Cluster.Database,
			Nodes:    append([]cluster.Node(nil), c.Cluster.Nodes...),
		}
	}
	if c.Cluster.CatalogPath != "" {
		topo.CatalogPath = c.Cluster.CatalogPath
	}
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	return topo, nil
}

// Accept returns the response encodings to request from agents, nil for
// every supported one.
func (c *Config) Accept() []compression.Algorithm {
	if len(c.Cluster.Compression) == 0 {
		return nil
	}
	algs := make([]compression.Algorithm, 0, len(c.Cluster.Compression))
	for _, name := range c.Cluster.Compression {
		if alg, err := compression.Parse(name); err == nil {
			algs = append(algs, alg)
		}
	}
	return algs
}

// VTab returns the virtual table configuration with the fetch and sync
// settings that apply to it.
func (c *Config) VTab(catalogPath string) vtab.Config {
	cfg := c.Database
	cfg.CatalogPath = catalogPath
	cfg.FailOnNodeError = c.Fetch.FailOnNodeError
	cfg.Sync = c.Sync
	return cfg
}
