//go:build sqlite_vtable || vtable

package vtab

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ajitpratap0/dctables/pkg/cluster"
	"github.com/ajitpratap0/dctables/pkg/collector"
	"github.com/ajitpratap0/dctables/pkg/errors"
	"github.com/ajitpratap0/dctables/pkg/logger"
	"github.com/ajitpratap0/dctables/pkg/planner"
	"github.com/ajitpratap0/dctables/pkg/wire"
)

// driverSeq keeps driver names unique; database/sql cannot unregister one.
var driverSeq atomic.Int64

// Open registers the driver, opens the database and, for file-backed
// databases with sync enabled, starts the sync job. Calling Open again
// returns the same handle.
func (m *Manager) Open(ctx context.Context) (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db != nil {
		return m.db, nil
	}

	name := fmt.Sprintf("%s_%d", ModuleName, driverSeq.Add(1))
	sql.Register(name, &sqlite3.SQLiteDriver{ConnectHook: m.connect})

	db, err := sql.Open(name, m.dsn())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to open database")
	}
	if !m.FileBacked() {
		// every in-memory connection would be a separate database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to initialise database")
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.db = db

	if m.FileBacked() && m.config.Sync.Enabled {
		job := m.newJob(db)
		if err := job.Start(m.ctx); err != nil {
			m.cancel()
			db.Close()
			m.db, m.ctx, m.cancel = nil, nil, nil
			return nil, err
		}
		m.job = job
	}

	m.logger.Info("database opened",
		zap.String("path", m.config.Path),
		zap.String("schema", m.config.Schema),
		zap.Int("tables", len(m.catalog.Definitions())),
		zap.Bool("sync", m.job != nil))
	return db, nil
}

func (m *Manager) dsn() string {
	if !m.FileBacked() {
		return m.config.Path
	}
	path := strings.TrimPrefix(m.config.Path, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return "file:" + path + "?_busy_timeout=" + strconv.FormatInt(m.config.BusyTimeout.Milliseconds(), 10) +
		"&_journal_mode=WAL"
}

// connect prepares every new connection: module, schema, tables, tracer.
func (m *Manager) connect(conn *sqlite3.SQLiteConn) error {
	if err := conn.CreateModule(ModuleName, &module{manager: m}); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to register module")
	}
	if _, err := conn.Exec("ATTACH DATABASE ':memory:' AS "+collector.QuoteIdent(m.config.Schema), nil); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to attach "+m.config.Schema)
	}
	for _, def := range m.catalog.Definitions() {
		stmt := "CREATE VIRTUAL TABLE " + collector.QualifiedName(m.config.Schema, def.Name) + " USING " + ModuleName
		if _, err := conn.Exec(stmt, nil); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to create virtual table "+def.Name)
		}
	}

	conn.RegisterAuthorizer(func(int, string, string, string) int {
		if !m.isBackground(conn) {
			m.activity.Touch()
		}
		return sqlite3.SQLITE_OK
	})
	return nil
}

type module struct {
	manager *Manager
}

// Create declares the virtual table named by the statement. Connect is the
// same operation: the tables live in memory and are rebuilt per connection.
func (mod *module) Create(c *sqlite3.SQLiteConn, args []string) (sqlite3.VTab, error) {
	if len(args) < 3 {
		return nil, errors.New(errors.ErrorTypeValidation, "virtual table name missing")
	}
	name := strings.Trim(args[2], "\"'`[]")
	def, err := mod.manager.catalog.Get(name)
	if err != nil {
		return nil, err
	}
	if err := c.DeclareVTab(def.DeclareSQL()); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to declare "+name)
	}
	return newTable(mod.manager, def), nil
}

func (mod *module) Connect(c *sqlite3.SQLiteConn, args []string) (sqlite3.VTab, error) {
	return mod.Create(c, args)
}

func (mod *module) DestroyModule() {}

// Table is one collector exposed as a virtual table.
type Table struct {
	manager *Manager
	def     *collector.Definition
	types   []string
	logger  *zap.Logger
}

func newTable(m *Manager, def *collector.Definition) *Table {
	return &Table{
		manager: m,
		def:     def,
		types:   def.ColumnTypes(),
		logger:  m.logger.With(zap.String("table", def.Name)),
	}
}

// BestIndex pushes the time and node_name constraints it can to the nodes.
func (t *Table) BestIndex(cst []sqlite3.InfoConstraint, ob []sqlite3.InfoOrderBy) (*sqlite3.IndexResult, error) {
	constraints := make([]planner.Constraint, len(cst))
	for i, c := range cst {
		constraints[i] = planner.Constraint{Column: c.Column, Op: planner.Op(c.Op), Usable: c.Usable}
	}
	orderBy := make([]planner.OrderBy, len(ob))
	for i, o := range ob {
		orderBy[i] = planner.OrderBy{Column: o.Column, Desc: o.Desc}
	}

	plan, ok := planner.BestIndex(constraints, orderBy)
	if !ok {
		return &sqlite3.IndexResult{
			Used:          make([]bool, len(cst)),
			EstimatedCost: planner.DeclinedCost,
		}, nil
	}
	return &sqlite3.IndexResult{
		Used:           plan.Used(),
		IdxNum:         plan.IndexID,
		IdxStr:         plan.IndexName,
		AlreadyOrdered: plan.Ordered,
		EstimatedCost:  plan.Cost,
	}, nil
}

// Disconnect releases nothing; the table holds no resources.
func (t *Table) Disconnect() error { return nil }

// Destroy is the same as Disconnect.
func (t *Table) Destroy() error { return t.Disconnect() }

// Open creates a cursor.
func (t *Table) Open() (sqlite3.VTabCursor, error) {
	return &Cursor{table: t}, nil
}

// Cursor iterates the rows of one scan. It is used by one statement at a
// time.
type Cursor struct {
	table *Table
	rows  []wire.Row
	pos   int
}

// Filter fetches the rows of the scan from every node and keeps those that
// satisfy the plan's constraints. SQLite does not re-check them.
func (c *Cursor) Filter(idxNum int, idxStr string, vals []any) error {
	t := c.table
	m := t.manager
	c.rows, c.pos = c.rows[:0], 0

	preds, err := planner.DecodePredicates(idxStr, vals)
	if err != nil {
		return err
	}
	filter, err := planner.NewFilter(preds)
	if err != nil {
		return err
	}
	req := cluster.NewRequest(t.def, m.config.CatalogPath, preds.Remote())
	parser := wire.NewParser(t.def.Name, t.types)

	ctx := m.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, logger.TableKey, t.def.Name)

	err = m.fetcher.Fetch(ctx, req, func(_ string, block []byte) error {
		c.rows = parser.ParseInto(c.rows, block)
		return nil
	})
	fetched := len(c.rows)
	c.rows = filter.Apply(c.rows)
	if err == nil {
		t.logger.Debug("scan fetched", zap.Int("index", idxNum), zap.Int("fetched", fetched), zap.Int("rows", len(c.rows)))
		return nil
	}
	if nodeErrs, ok := cluster.AsNodeErrors(err); ok && !m.config.FailOnNodeError {
		t.logger.Warn("scan is missing nodes",
			zap.Strings("failed_nodes", nodeErrs.FailedNodes()),
			zap.Int("rows", len(c.rows)),
			zap.Error(err))
		return nil
	}
	c.rows = c.rows[:0]
	return err
}

// Next advances the cursor.
func (c *Cursor) Next() error {
	c.pos++
	return nil
}

// EOF reports whether the cursor is past the last row.
func (c *Cursor) EOF() bool {
	return c.pos >= len(c.rows)
}

// Column hands column col of the current row to SQLite. Times are rendered
// as text in UTC and decimals as their exact text.
func (c *Cursor) Column(ctx *sqlite3.SQLiteContext, col int) error {
	row := c.rows[c.pos]
	if col < 0 || col >= len(row) {
		ctx.ResultNull()
		return nil
	}
	switch v := row[col].(type) {
	case nil:
		ctx.ResultNull()
	case int64:
		ctx.ResultInt64(v)
	case float64:
		ctx.ResultDouble(v)
	case bool:
		ctx.ResultBool(v)
	case string:
		ctx.ResultText(v)
	case []byte:
		ctx.ResultBlob(v)
	case time.Time:
		ctx.ResultText(wire.FormatTime(v))
	case decimal.Decimal:
		ctx.ResultText(v.String())
	default:
		ctx.ResultText(fmt.Sprint(v))
	}
	return nil
}

// Rowid is the position of the current row within the scan.
func (c *Cursor) Rowid() (int64, error) {
	return int64(c.pos), nil
}

// Close drops the buffered rows.
func (c *Cursor) Close() error {
	c.rows = nil
	return nil
}
