//go:build !(sqlite_vtable || vtable)

package vtab

import (
	"context"
	"database/sql"

	"github.com/ajitpratap0/dctables/pkg/errors"
)

// Open always fails: the binary was built without SQLite virtual table
// support.
func (m *Manager) Open(context.Context) (*sql.DB, error) {
	return nil, errors.New(errors.ErrorTypeConfig, "built without virtual table support, rebuild with -tags sqlite_vtable")
}
