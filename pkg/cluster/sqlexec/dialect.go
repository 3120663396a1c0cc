package sqlexec

import (
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/dctables/pkg/errors"
	"github.com/ajitpratap0/dctables/pkg/planner"
	"github.com/ajitpratap0/dctables/pkg/wire"
)

// Dialect describes how to write a fetch query for one database driver.
type Dialect struct {
	// Name is the dialect name used in configuration.
	Name string
	// Driver is the database/sql driver name.
	Driver string

	quote       byte
	placeholder func(n int) string
	compare     func(col string, op planner.Op, ph string) (string, bool)
	timeArg     func(t time.Time) any
}

// Vertica speaks to cluster nodes through the native Vertica driver. Time
// arguments are bound as UTC timestamp text, which Vertica casts for the
// comparison, and IS uses the null-safe equal operator.
var Vertica = Dialect{
	Name:        "vertica",
	Driver:      "vertica",
	quote:       '"',
	placeholder: func(int) string { return "?" },
	compare:     nullSafeCompare,
	timeArg:     func(t time.Time) any { return wire.FormatTime(t) + "+00" },
}

// Postgres speaks to PostgreSQL compatible nodes through pgx.
var Postgres = Dialect{
	Name:        "postgres",
	Driver:      "pgx",
	quote:       '"',
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	compare:     standardCompare,
	timeArg:     func(t time.Time) any { return t },
}

// MySQL speaks to MySQL compatible nodes.
var MySQL = Dialect{
	Name:        "mysql",
	Driver:      "mysql",
	quote:       '`',
	placeholder: func(int) string { return "?" },
	compare:     nullSafeCompare,
	timeArg:     func(t time.Time) any { return t },
}

// SQLite reads node-local SQLite files. Timestamps are stored as text in
// the layout wire.FormatTime produces, so they compare as strings.
var SQLite = Dialect{
	Name:        "sqlite",
	Driver:      "sqlite3",
	quote:       '"',
	placeholder: func(int) string { return "?" },
	compare: func(col string, op planner.Op, ph string) (string, bool) {
		switch op {
		case planner.OpIS:
			return col + " IS " + ph, true
		case planner.OpISNOT:
			return col + " IS NOT " + ph, true
		}
		return standardCompare(col, op, ph)
	},
	timeArg: func(t time.Time) any { return wire.FormatTime(t) },
}

var dialects = map[string]Dialect{
	Postgres.Name: Postgres,
	"pgx":         Postgres,
	Vertica.Name:  Vertica,
	MySQL.Name:    MySQL,
	SQLite.Name:   SQLite,
	"sqlite3":     SQLite,
}

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	d, ok := dialects[strings.ToLower(name)]
	if !ok {
		return Dialect{}, errors.Newf(errors.ErrorTypeConfig, "unknown sql dialect %q", name)
	}
	return d, nil
}

func nullSafeCompare(col string, op planner.Op, ph string) (string, bool) {
	switch op {
	case planner.OpIS:
		return col + " <=> " + ph, true
	case planner.OpISNOT:
		return "NOT (" + col + " <=> " + ph + ")", true
	}
	return standardCompare(col, op, ph)
}

func standardCompare(col string, op planner.Op, ph string) (string, bool) {
	sqlOp, ok := op.SQL()
	if !ok {
		return "", false
	}
	return col + " " + sqlOp + " " + ph, true
}

// Quote quotes a possibly schema-qualified identifier.
func (d Dialect) Quote(name string) string {
	q := string(d.quote)
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = q + strings.ReplaceAll(p, q, q+q) + q
	}
	return strings.Join(parts, ".")
}

// BuildQuery renders the SELECT of columns from remote filtered by preds,
// and its arguments. Time predicate values, in microseconds since
// 2000-01-01 UTC, are bound as timestamps.
func (d Dialect) BuildQuery(columns []string, remote string, preds planner.PredicateMap) (string, []any, error) {
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = d.Quote(c)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(d.Quote(remote))

	if len(preds) == 0 {
		return sb.String(), nil, nil
	}

	var args []any
	var conds []string
	for _, col := range preds.Columns() {
		if col < 0 || col >= len(columns) {
			return "", nil, errors.Newf(errors.ErrorTypeQuery, "predicate on unknown column %d", col)
		}
		for _, p := range preds[col] {
			v := p.Value
			if col == planner.TimeColumn && v != nil {
				micros, ok := v.(int64)
				if !ok {
					return "", nil, errors.Newf(errors.ErrorTypeQuery, "time predicate must be microseconds, got %T", v)
				}
				t, err := wire.MicrosToTime(micros)
				if err != nil {
					return "", nil, errors.Wrap(err, errors.ErrorTypeQuery, "invalid time predicate")
				}
				v = d.timeArg(t)
			}
			cond, ok := d.compare(cols[col], p.Op, d.placeholder(len(args)+1))
			if !ok {
				return "", nil, errors.Newf(errors.ErrorTypeQuery, "operator %d cannot be pushed down", p.Op)
			}
			conds = append(conds, cond)
			args = append(args, v)
		}
	}

	sb.WriteString(" WHERE ")
	sb.WriteString(strings.Join(conds, " AND "))
	return sb.String(), args, nil
}
