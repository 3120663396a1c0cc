// Package sqlexec fetches collector rows by querying a node's database
// directly through database/sql and encoding the result in wire blocks.
//
// It backs the node agent and single-node setups. Drivers are registered by
// importing this package: vertica-sql-go for cluster nodes, pgx for
// PostgreSQL compatible nodes, the MySQL driver, and mattn/go-sqlite3 for
// local files.
package sqlexec

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/vertica/vertica-sql-go"
	"go.uber.org/zap"

	"github.com/ajitpratap0/dctables/pkg/cluster"
	"github.com/ajitpratap0/dctables/pkg/errors"
	"github.com/ajitpratap0/dctables/pkg/wire"
)

// DefaultBlockRows is the block size used when none is configured.
const DefaultBlockRows = 1000

// Executor is a cluster.Executor backed by a *sql.DB.
type Executor struct {
	node      string
	db        *sql.DB
	dialect   Dialect
	blockRows int
	logger    *zap.Logger
}

// New creates an executor for node over db.
func New(node string, db *sql.DB, dialect Dialect, blockRows int, logger *zap.Logger) *Executor {
	if blockRows <= 0 {
		blockRows = DefaultBlockRows
	}
	return &Executor{
		node:      node,
		db:        db,
		dialect:   dialect,
		blockRows: blockRows,
		logger:    logger.With(zap.String("component", "sqlexec"), zap.String("node", node), zap.String("dialect", dialect.Name)),
	}
}

// Open connects to dsn with the named dialect and checks the connection.
func Open(ctx context.Context, node, dialect, dsn string, blockRows int, logger *zap.Logger) (*Executor, error) {
	d, err := DialectFor(dialect)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to open "+node)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to "+node)
	}
	return New(node, db, d, blockRows, logger), nil
}

// Node implements cluster.Executor.
func (e *Executor) Node() string { return e.node }

// DB returns the underlying database handle.
func (e *Executor) DB() *sql.DB { return e.db }

// Close closes the database handle.
func (e *Executor) Close() error { return e.db.Close() }

// Fetch implements cluster.Executor. Rows that cannot be encoded for their
// declared types are skipped.
func (e *Executor) Fetch(ctx context.Context, req *cluster.Request, emit func([]byte) error) error {
	if len(req.Types) != len(req.Columns) {
		return errors.Newf(errors.ErrorTypeValidation, "request for %s carries no column types", req.Collector)
	}
	query, args, err := e.dialect.BuildQuery(req.Columns, req.Remote, req.Predicates)
	if err != nil {
		return err
	}
	log := e.logger.With(zap.String("table", req.Collector))
	log.Debug("querying node", zap.String("query", query), zap.Int("args", len(args)))

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return e.queryError(ctx, err)
	}
	defer rows.Close()

	w := wire.NewBlockWriter(wire.Families(req.Types))
	vals := make([]any, len(req.Columns))
	ptrs := make([]any, len(vals))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	total, skipped := 0, 0
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to scan row")
		}
		if err := w.Append(vals); err != nil {
			skipped++
			log.Debug("skipping row", zap.Error(err))
			continue
		}
		total++
		if w.Rows() >= e.blockRows {
			if err := emit(w.Bytes()); err != nil {
				return err
			}
			w = wire.NewBlockWriter(wire.Families(req.Types))
		}
	}
	if err := rows.Err(); err != nil {
		return e.queryError(ctx, err)
	}
	if w.Rows() > 0 {
		if err := emit(w.Bytes()); err != nil {
			return err
		}
	}

	log.Debug("node query finished", zap.Int("rows", total), zap.Int("skipped", skipped))
	return nil
}

func (e *Executor) queryError(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "node query interrupted")
	case errors.Is(err, driver.ErrBadConn):
		return errors.Wrap(err, errors.ErrorTypeConnection, "lost connection to "+e.node)
	}
	return errors.Wrap(err, errors.ErrorTypeQuery, "node query failed")
}
