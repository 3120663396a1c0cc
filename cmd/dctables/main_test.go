package main

import (
	"bytes"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadQuery(t *testing.T) {
	q, err := readQuery([]string{"SELECT 1"}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", q)

	q, err = readQuery(nil, "-", strings.NewReader("SELECT 2"))
	require.NoError(t, err)
	assert.Equal(t, "SELECT 2", q)

	path := filepath.Join(t.TempDir(), "q.sql")
	require.NoError(t, os.WriteFile(path, []byte("SELECT 3"), 0o644))
	q, err = readQuery(nil, path, nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 3", q)

	_, err = readQuery(nil, "", nil)
	assert.Error(t, err)
}

func queryRows(t *testing.T) *sql.Rows {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	rows, err := db.Query(`SELECT 'node0001' AS node_name, 3 AS errors UNION ALL SELECT 'node0002', NULL ORDER BY 1`)
	require.NoError(t, err)
	t.Cleanup(func() { rows.Close() })
	return rows
}

func TestPrintRowsTable(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printRows(&out, queryRows(t), "table"))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, []string{"node_name", "errors"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"node0001", "3"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"node0002", "NULL"}, strings.Fields(lines[2]))
	assert.Equal(t, "(2 rows)", lines[3])
}

func TestPrintRowsJSON(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printRows(&out, queryRows(t), "json"))
	assert.Equal(t, "{\"errors\":3,\"node_name\":\"node0001\"}\n{\"errors\":null,\"node_name\":\"node0002\"}\n", out.String())

	assert.Error(t, printRows(&out, queryRows(t), "xml"))
}
