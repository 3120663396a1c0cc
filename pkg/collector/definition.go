// Package collector describes the data-collector tables that can be queried
// across the cluster: their columns, declared types, primary keys and the
// relation each node reads them from.
package collector

import (
	"strings"

	"github.com/ajitpratap0/dctables/pkg/errors"
	"github.com/ajitpratap0/dctables/pkg/wire"
)

const (
	// TimeColumn is the name every collector's first column must have.
	TimeColumn = "time"
	// NodeColumn is the name every collector's second column must have.
	NodeColumn = "node_name"
)

// Column is one declared column of a collector table.
type Column struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`
}

// Definition is a collector table. Column order is the row order on the wire.
type Definition struct {
	Name       string   `yaml:"name" json:"name"`
	Remote     string   `yaml:"remote,omitempty" json:"remote,omitempty"`
	Columns    []Column `yaml:"columns" json:"columns"`
	PrimaryKey []string `yaml:"primary_key" json:"primary_key"`
}

// Validate checks the layout every collector shares: column 0 is a temporal
// "time", column 1 is a string "node_name", names are unique and every
// primary-key column exists.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return errors.New(errors.ErrorTypeValidation, "collector name is required")
	}
	if len(d.Columns) < 2 {
		return errors.Newf(errors.ErrorTypeValidation, "collector %s: at least %s and %s columns are required", d.Name, TimeColumn, NodeColumn)
	}

	first, second := d.Columns[0], d.Columns[1]
	if !strings.EqualFold(first.Name, TimeColumn) || wire.FamilyOf(first.Type) != wire.FamilyTemporal {
		return errors.Newf(errors.ErrorTypeValidation, "collector %s: column 0 must be a temporal %q, got %q %s", d.Name, TimeColumn, first.Name, first.Type)
	}
	if !strings.EqualFold(second.Name, NodeColumn) || wire.FamilyOf(second.Type) != wire.FamilyString {
		return errors.Newf(errors.ErrorTypeValidation, "collector %s: column 1 must be a string %q, got %q %s", d.Name, NodeColumn, second.Name, second.Type)
	}

	seen := make(map[string]bool, len(d.Columns))
	for _, c := range d.Columns {
		key := strings.ToLower(c.Name)
		if c.Name == "" {
			return errors.Newf(errors.ErrorTypeValidation, "collector %s: empty column name", d.Name)
		}
		if seen[key] {
			return errors.Newf(errors.ErrorTypeValidation, "collector %s: duplicate column %q", d.Name, c.Name)
		}
		if !validType(c.Type) {
			return errors.Newf(errors.ErrorTypeValidation, "collector %s: column %q has invalid type %q", d.Name, c.Name, c.Type)
		}
		seen[key] = true
	}

	if len(d.PrimaryKey) == 0 {
		return errors.Newf(errors.ErrorTypeValidation, "collector %s: primary key is required", d.Name)
	}
	for _, pk := range d.PrimaryKey {
		if !seen[strings.ToLower(pk)] {
			return errors.Newf(errors.ErrorTypeValidation, "collector %s: primary key column %q is not declared", d.Name, pk)
		}
	}
	return nil
}

func validType(t string) bool {
	for _, r := range t {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == ' ', r == '(', r == ')', r == ',', r == '_':
		default:
			return false
		}
	}
	return true
}

// RemoteName is the relation nodes read the collector from.
func (d *Definition) RemoteName() string {
	if d.Remote != "" {
		return d.Remote
	}
	return d.Name
}

// ColumnNames returns the column names in order.
func (d *Definition) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// ColumnTypes returns the declared types in column order.
func (d *Definition) ColumnTypes() []string {
	types := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		types[i] = c.Type
	}
	return types
}

// TypeMap maps column names to declared types.
func (d *Definition) TypeMap() map[string]string {
	m := make(map[string]string, len(d.Columns))
	for _, c := range d.Columns {
		m[c.Name] = c.Type
	}
	return m
}

// Families returns the wire type family of each column.
func (d *Definition) Families() []wire.Family {
	return wire.Families(d.ColumnTypes())
}

// Clone returns a deep copy.
func (d *Definition) Clone() *Definition {
	c := *d
	c.Columns = append([]Column(nil), d.Columns...)
	c.PrimaryKey = append([]string(nil), d.PrimaryKey...)
	return &c
}
