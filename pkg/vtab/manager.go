// Package vtab exposes collector tables as SQLite virtual tables.
//
// A Manager registers a database/sql driver whose connections carry the
// virtual table module, an in-memory schema holding one virtual table per
// collector, and an authorizer that records foreground activity. Scans of a
// virtual table are served by a cluster fetch; file-backed databases also
// run the background sync job that caches the virtual rows locally.
//
// The SQLite side needs the mattn/go-sqlite3 virtual table extension, built
// with the sqlite_vtable tag. Without it Open reports a configuration error.
package vtab

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/dctables/pkg/cluster"
	"github.com/ajitpratap0/dctables/pkg/collector"
	"github.com/ajitpratap0/dctables/pkg/errors"
	"github.com/ajitpratap0/dctables/pkg/syncjob"
)

// ModuleName is the name the module is registered under on each connection.
const ModuleName = "dctables"

// MemoryPath selects an in-memory database.
const MemoryPath = ":memory:"

// Config configures a Manager.
type Config struct {
	// Path is the database file; empty or ":memory:" keeps everything in
	// memory and disables the sync job.
	Path string `mapstructure:"path" yaml:"path"`
	// Schema is the attached in-memory schema holding the virtual tables.
	Schema string `mapstructure:"schema" yaml:"schema"`
	// BusyTimeout is how long a connection waits on a locked file.
	BusyTimeout time.Duration `mapstructure:"busy_timeout" yaml:"busy_timeout"`
	// CatalogPath is sent to the nodes with every fetch.
	CatalogPath string `mapstructure:"-" yaml:"-"`
	// FailOnNodeError turns a fetch with failed nodes into a query error
	// instead of returning the rows that did arrive.
	FailOnNodeError bool           `mapstructure:"-" yaml:"-"`
	Sync            syncjob.Config `mapstructure:"-" yaml:"-"`
}

// DefaultConfig returns an in-memory configuration.
func DefaultConfig() Config {
	return Config{
		Path:        MemoryPath,
		Schema:      "v_internal",
		BusyTimeout: 5 * time.Second,
		Sync:        syncjob.DefaultConfig(),
	}
}

// Fetcher runs a fetch across the cluster.
type Fetcher interface {
	Fetch(ctx context.Context, req *cluster.Request, handle cluster.BlockHandler) error
}

// Catalog lists the collectors to expose.
type Catalog interface {
	Definitions() []*collector.Definition
	Get(name string) (*collector.Definition, error)
}

// Manager owns the database handle, the virtual tables and the sync job.
type Manager struct {
	config   Config
	catalog  Catalog
	fetcher  Fetcher
	activity *syncjob.Activity
	logger   *zap.Logger

	mu     sync.Mutex
	db     *sql.DB
	job    *syncjob.Job
	ctx    context.Context
	cancel context.CancelFunc

	// background holds the driver connections used by the sync job, which
	// do not count as activity.
	background sync.Map
}

// New creates a manager. Nothing is opened until Open.
func New(config Config, catalog Catalog, fetcher Fetcher, logger *zap.Logger) *Manager {
	if config.Schema == "" {
		config.Schema = "v_internal"
	}
	if config.Path == "" {
		config.Path = MemoryPath
	}
	config.Sync.SourceSchema = config.Schema
	return &Manager{
		config:   config,
		catalog:  catalog,
		fetcher:  fetcher,
		activity: syncjob.NewActivity(),
		logger:   logger.With(zap.String("component", "vtab")),
	}
}

// Activity returns the foreground activity clock.
func (m *Manager) Activity() *syncjob.Activity { return m.activity }

// Schema returns the schema holding the virtual tables.
func (m *Manager) Schema() string { return m.config.Schema }

// FileBacked reports whether the database lives in a file.
func (m *Manager) FileBacked() bool {
	return m.config.Path != MemoryPath && !strings.HasPrefix(m.config.Path, "file::memory:")
}

// DB returns the handle opened by Open, or nil.
func (m *Manager) DB() *sql.DB {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db
}

// Sync runs one sync pass over every collector on the open database.
func (m *Manager) Sync(ctx context.Context) ([]syncjob.Result, error) {
	m.mu.Lock()
	db := m.db
	m.mu.Unlock()
	if db == nil {
		return nil, errors.New(errors.ErrorTypeInternal, "database is not open")
	}
	return m.newJob(db).RunOnce(ctx)
}

func (m *Manager) newJob(db *sql.DB) *syncjob.Job {
	return syncjob.New(db, m.catalog, m.activity, m.config.Sync, m.logger,
		syncjob.WithConnHooks(m.markBackground, m.unmarkBackground))
}

func (m *Manager) markBackground(conn *sql.Conn) error {
	return conn.Raw(func(dc any) error {
		m.background.Store(dc, struct{}{})
		return nil
	})
}

func (m *Manager) unmarkBackground(conn *sql.Conn) {
	_ = conn.Raw(func(dc any) error {
		m.background.Delete(dc)
		return nil
	})
}

func (m *Manager) isBackground(dc any) bool {
	_, ok := m.background.Load(dc)
	return ok
}

// Close stops the sync job and closes the database.
func (m *Manager) Close() error {
	m.mu.Lock()
	db, job, cancel := m.db, m.job, m.cancel
	m.db, m.job, m.cancel = nil, nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if job != nil {
		job.Stop()
	}
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to close database")
	}
	m.logger.Info("database closed", zap.String("path", m.config.Path))
	return nil
}
