package collector

import (
	"strings"
)

// QuoteIdent quotes an SQL identifier with double quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QualifiedName renders schema.name, or just name when schema is empty.
func QualifiedName(schema, name string) string {
	if schema == "" {
		return QuoteIdent(name)
	}
	return QuoteIdent(schema) + "." + QuoteIdent(name)
}

// ColumnList renders the quoted column names separated by commas, each
// prefixed with alias when it is not empty.
func ColumnList(alias string, names []string) string {
	var b strings.Builder
	for i, n := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		if alias != "" {
			b.WriteString(alias)
			b.WriteByte('.')
		}
		b.WriteString(QuoteIdent(n))
	}
	return b.String()
}

// DeclareSQL is the statement handed to SQLite to declare the virtual
// table's shape. The table name in it is ignored by SQLite.
func (d *Definition) DeclareSQL() string {
	return "CREATE TABLE " + QuoteIdent(d.Name) + "(" + d.columnDefs() + ")"
}

// CreateTableSQL renders a concrete table with the collector's columns in
// order. With withKey set, a PRIMARY KEY over the key columns is added and
// the table is created WITHOUT ROWID.
func (d *Definition) CreateTableSQL(schema, name string, withKey bool) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(QualifiedName(schema, name))
	b.WriteString(" (")
	b.WriteString(d.columnDefs())
	if withKey {
		b.WriteString(", PRIMARY KEY (")
		b.WriteString(ColumnList("", d.PrimaryKey))
		b.WriteString(")) WITHOUT ROWID")
	} else {
		b.WriteString(")")
	}
	return b.String()
}

func (d *Definition) columnDefs() string {
	var b strings.Builder
	for i, c := range d.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(QuoteIdent(c.Name))
		if c.Type != "" {
			b.WriteByte(' ')
			b.WriteString(c.Type)
		}
	}
	return b.String()
}
