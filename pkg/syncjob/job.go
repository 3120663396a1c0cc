// Package syncjob copies collector rows from the virtual tables into
// concrete cache tables in the background.
//
// A table without a cache is bootstrapped: a keyed copy of the full virtual
// table is built under a temporary name and renamed into place. Once the
// cache exists, each pass pulls only rows newer than the watermark, the
// smallest of the per-node newest cached times, into a staging table and
// inserts the staged rows whose primary key is not cached yet.
package syncjob

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/dctables/pkg/collector"
	"github.com/ajitpratap0/dctables/pkg/errors"
	"github.com/ajitpratap0/dctables/pkg/metrics"
	"github.com/ajitpratap0/dctables/pkg/observability"
)

// Modes reported in logs and metrics.
const (
	ModeBootstrap   = "bootstrap"
	ModeIncremental = "incremental"
)

// Config configures the sync job.
type Config struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// IdleWindow is how long foreground queries must have been quiet
	// before a table is synced.
	IdleWindow time.Duration `mapstructure:"idle_window" yaml:"idle_window"`
	// PollInterval caps a single idle wait.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// PassInterval is slept between passes over all tables.
	PassInterval time.Duration `mapstructure:"pass_interval" yaml:"pass_interval"`
	// CacheSchema holds the concrete cache tables.
	CacheSchema string `mapstructure:"cache_schema" yaml:"cache_schema"`
	// SourceSchema holds the virtual tables.
	SourceSchema string `mapstructure:"source_schema" yaml:"source_schema"`
}

// DefaultConfig returns the sync defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		IdleWindow:   30 * time.Second,
		PollInterval: 10 * time.Second,
		CacheSchema:  "main",
		SourceSchema: "v_internal",
	}
}

// Tables lists the collectors to sync.
type Tables interface {
	Definitions() []*collector.Definition
}

// Result describes one table sync.
type Result struct {
	Table string
	Mode  string
	Rows  int64
	// Watermark is the time rows were pulled after, empty when everything
	// was pulled.
	Watermark string
}

// Job is the background sync loop of one database.
type Job struct {
	db       *sql.DB
	tables   Tables
	activity *Activity
	config   Config
	logger   *zap.Logger
	setup    func(*sql.Conn) error
	teardown func(*sql.Conn)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Job.
type Option func(*Job)

// WithConnHooks runs setup on every connection the job acquires, before
// any statement is executed on it, and teardown before the connection is
// handed back to the pool. teardown may be nil.
func WithConnHooks(setup func(*sql.Conn) error, teardown func(*sql.Conn)) Option {
	return func(j *Job) {
		j.setup = setup
		j.teardown = teardown
	}
}

// New creates a job syncing tables of db. activity may be nil when no
// throttling is wanted.
func New(db *sql.DB, tables Tables, activity *Activity, config Config, logger *zap.Logger, opts ...Option) *Job {
	if config.CacheSchema == "" {
		config.CacheSchema = "main"
	}
	if config.SourceSchema == "" {
		config.SourceSchema = "v_internal"
	}
	j := &Job{
		db:       db,
		tables:   tables,
		activity: activity,
		config:   config,
		logger:   logger.With(zap.String("component", "sync_job")),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start launches the background loop. It fails if the loop is already
// running or no connection can be obtained.
func (j *Job) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.done != nil {
		return errors.New(errors.ErrorTypeConflict, "sync job already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	conn, err := j.conn(ctx)
	if err != nil {
		cancel()
		return err
	}

	j.cancel = cancel
	j.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		defer j.release(conn)
		j.loop(ctx, conn)
	}(j.done)

	j.logger.Info("sync job started",
		zap.Duration("idle_window", j.config.IdleWindow),
		zap.Duration("pass_interval", j.config.PassInterval))
	return nil
}

// Stop signals the loop and waits for it to finish the current table.
func (j *Job) Stop() {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel, j.done = nil, nil
	j.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	j.logger.Info("sync job stopped")
}

// RunOnce syncs every table once without waiting for idleness. Failures
// are logged per table; the returned error lists the failed tables.
func (j *Job) RunOnce(ctx context.Context) ([]Result, error) {
	conn, err := j.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer j.release(conn)

	var results []Result
	var failed []string
	for _, def := range j.tables.Definitions() {
		if ctx.Err() != nil {
			return results, errors.Wrap(ctx.Err(), errors.ErrorTypeSync, "sync interrupted")
		}
		res, err := j.syncTable(ctx, conn, def)
		if err != nil {
			failed = append(failed, def.Name)
			continue
		}
		results = append(results, res)
	}
	if len(failed) > 0 {
		return results, errors.Newf(errors.ErrorTypeSync, "sync failed for %s", strings.Join(failed, ", "))
	}
	return results, nil
}

func (j *Job) conn(ctx context.Context) (*sql.Conn, error) {
	conn, err := j.db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSync, "failed to acquire sync connection")
	}
	if j.setup != nil {
		if err := j.setup(conn); err != nil {
			conn.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeSync, "sync connection setup failed")
		}
	}
	return conn, nil
}

func (j *Job) release(conn *sql.Conn) {
	if j.teardown != nil {
		j.teardown(conn)
	}
	conn.Close()
}

func (j *Job) loop(ctx context.Context, conn *sql.Conn) {
	for {
		for _, def := range j.tables.Definitions() {
			if ctx.Err() != nil {
				return
			}
			if j.activity != nil {
				if err := j.activity.WaitIdle(ctx, j.config.IdleWindow, j.config.PollInterval); err != nil {
					return
				}
			}
			// failures are logged by syncTable
			_, _ = j.syncTable(ctx, conn, def)
		}

		if j.config.PassInterval > 0 {
			timer := time.NewTimer(j.config.PassInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return
		}
	}
}

// syncTable bootstraps or incrementally refreshes the cache of def.
func (j *Job) syncTable(ctx context.Context, conn *sql.Conn, def *collector.Definition) (res Result, err error) {
	log := j.logger.With(zap.String("table", def.Name))
	res = Result{Table: def.Name}

	ctx, span := observability.StartSpan(ctx, "sync.table", attribute.String("table", def.Name))
	timer := metrics.NewTimer()
	defer func() {
		span.SetAttributes(attribute.String("mode", res.Mode), attribute.Int64("rows", res.Rows))
		observability.EndSpan(span, err)
		if err != nil {
			metrics.SyncErrors.WithLabelValues(def.Name).Inc()
			if ctx.Err() != nil {
				log.Debug("sync interrupted", zap.String("mode", res.Mode), zap.Error(err))
			} else {
				log.Error("sync failed", zap.String("mode", res.Mode), zap.Error(err))
			}
			return
		}
		metrics.SyncDuration.WithLabelValues(def.Name, res.Mode).Observe(timer.Stop().Seconds())
		metrics.SyncRows.WithLabelValues(def.Name, res.Mode).Add(float64(res.Rows))
		metrics.SyncLastSuccess.WithLabelValues(def.Name).SetToCurrentTime()
		log.Debug("sync finished", zap.String("mode", res.Mode), zap.Int64("rows", res.Rows), zap.String("watermark", res.Watermark))
	}()

	exists, err := j.cacheExists(ctx, conn, def.Name)
	if err != nil {
		return res, err
	}
	if !exists {
		res.Mode = ModeBootstrap
		res.Rows, err = j.bootstrap(ctx, conn, def)
		return res, err
	}
	res.Mode = ModeIncremental
	res.Rows, res.Watermark, err = j.incremental(ctx, conn, def)
	return res, err
}

func (j *Job) cacheExists(ctx context.Context, conn *sql.Conn, name string) (bool, error) {
	var n int
	q := "SELECT count(*) FROM " + collector.QualifiedName(j.config.CacheSchema, "sqlite_master") +
		" WHERE type = 'table' AND name = ?"
	if err := conn.QueryRowContext(ctx, q, name).Scan(&n); err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeSync, "failed to look up cache table")
	}
	return n > 0, nil
}

// bootstrap builds the keyed cache under a temporary name and renames it
// into place, so readers never see a partly filled cache.
func (j *Job) bootstrap(ctx context.Context, conn *sql.Conn, def *collector.Definition) (int64, error) {
	tmp := def.Name + "_tmp"
	cols := collector.ColumnList("", def.ColumnNames())
	tmpName := collector.QualifiedName(j.config.CacheSchema, tmp)

	if _, err := conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+tmpName); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeSync, "failed to drop stale bootstrap table")
	}
	if _, err := conn.ExecContext(ctx, def.CreateTableSQL(j.config.CacheSchema, tmp, true)); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeSync, "failed to create bootstrap table")
	}

	result, err := conn.ExecContext(ctx, "INSERT OR IGNORE INTO "+tmpName+" ("+cols+") SELECT "+cols+
		" FROM "+collector.QualifiedName(j.config.SourceSchema, def.Name))
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeSync, "failed to populate bootstrap table")
	}
	rows, _ := result.RowsAffected()

	if _, err := conn.ExecContext(ctx, "ALTER TABLE "+tmpName+" RENAME TO "+collector.QuoteIdent(def.Name)); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeSync, "failed to rename bootstrap table")
	}
	return rows, nil
}

// Watermark returns the oldest of the per-node newest cached times of def,
// and false when the cache is empty.
func (j *Job) Watermark(ctx context.Context, conn *sql.Conn, def *collector.Definition) (string, bool, error) {
	q := "SELECT min(t) FROM (SELECT max(" + collector.QuoteIdent(collector.TimeColumn) + ") AS t FROM " +
		collector.QualifiedName(j.config.CacheSchema, def.Name) +
		" GROUP BY " + collector.QuoteIdent(collector.NodeColumn) + ")"
	var wm sql.NullString
	if err := conn.QueryRowContext(ctx, q).Scan(&wm); err != nil {
		return "", false, errors.Wrap(err, errors.ErrorTypeSync, "failed to compute watermark")
	}
	return wm.String, wm.Valid, nil
}

// incremental stages rows newer than the watermark and inserts the ones
// whose primary key is not cached yet.
func (j *Job) incremental(ctx context.Context, conn *sql.Conn, def *collector.Definition) (int64, string, error) {
	watermark, ok, err := j.Watermark(ctx, conn, def)
	if err != nil {
		return 0, "", err
	}

	names := def.ColumnNames()
	cols := collector.ColumnList("", names)
	stage := collector.QualifiedName("temp", def.Name+"_stage")
	cache := collector.QualifiedName(j.config.CacheSchema, def.Name)

	if _, err := conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+stage); err != nil {
		return 0, watermark, errors.Wrap(err, errors.ErrorTypeSync, "failed to drop stale staging table")
	}

	pull := "CREATE TEMP TABLE " + collector.QuoteIdent(def.Name+"_stage") + " AS SELECT " + cols +
		" FROM " + collector.QualifiedName(j.config.SourceSchema, def.Name)
	var args []any
	if ok {
		pull += " WHERE " + collector.QuoteIdent(collector.TimeColumn) + " > ?"
		args = append(args, watermark)
	}
	if _, err := conn.ExecContext(ctx, pull, args...); err != nil {
		return 0, watermark, errors.Wrap(err, errors.ErrorTypeSync, "failed to stage new rows")
	}
	defer func() {
		// the staging table is dropped even when the pass was interrupted
		if _, err := conn.ExecContext(context.Background(), "DROP TABLE IF EXISTS "+stage); err != nil {
			j.logger.Warn("failed to drop staging table", zap.String("table", def.Name), zap.Error(err))
		}
	}()

	keys := make([]string, len(def.PrimaryKey))
	for i, k := range def.PrimaryKey {
		q := collector.QuoteIdent(k)
		keys[i] = "c." + q + " IS s." + q
	}
	merge := "INSERT OR IGNORE INTO " + cache + " (" + cols + ") SELECT " + collector.ColumnList("s", names) +
		" FROM " + stage + " AS s WHERE NOT EXISTS (SELECT 1 FROM " + cache + " AS c WHERE " +
		strings.Join(keys, " AND ") + ")"
	result, err := conn.ExecContext(ctx, merge)
	if err != nil {
		return 0, watermark, errors.Wrap(err, errors.ErrorTypeSync, "failed to merge staged rows")
	}
	rows, _ := result.RowsAffected()
	return rows, watermark, nil
}
