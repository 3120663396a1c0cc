package wire

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var logTypes = []string{"timestamptz", "varchar(128)", "integer", "varchar(8192)"}

func record(fields ...string) string {
	return strings.Join(fields, string(FieldSeparator))
}

func block(records ...string) []byte {
	return []byte(strings.Join(records, string(RecordSeparator)))
}

func TestParserParse(t *testing.T) {
	p := NewParser("vertica_log", logTypes)
	assert.Equal(t, 4, p.Columns())

	rows := p.Parse(block(
		record("0", "node0001", "18446744073709551615", `hello\nworld`),
		record("1000000", "node0002", "7", ""),
	))
	require.Len(t, rows, 2)

	assert.Equal(t, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), rows[0][0])
	assert.Equal(t, "node0001", rows[0][1])
	assert.Equal(t, int64(-1), rows[0][2])
	assert.Equal(t, "hello\nworld", rows[0][3])

	assert.Equal(t, time.Date(2000, 1, 1, 0, 0, 1, 0, time.UTC), rows[1][0])
	assert.Equal(t, int64(7), rows[1][2])
	assert.Equal(t, "", rows[1][3])
}

func TestParserDropsMalformedRecords(t *testing.T) {
	p := NewParser("vertica_log", logTypes)

	rows := p.Parse(block(
		record("0", "node0001", "1", "first"),
		record("0", "node0001", "2"),
		record("0", "node0001", "3", "third"),
		record("0", "node0001", "4", "extra", "field"),
		record("0", "node0001", "5", "fifth"),
	))
	require.Len(t, rows, 3)
	assert.Equal(t, int64(1), rows[0][2])
	assert.Equal(t, int64(3), rows[1][2])
	assert.Equal(t, int64(5), rows[2][2])
}

func TestParserBadFieldBecomesNil(t *testing.T) {
	p := NewParser("vertica_log", logTypes)

	rows := p.Parse(block(
		record("soon", "node0001", "x", `trailing\`),
		record("-9223372036854775808", "node0002", "", "ok"),
	))
	require.Len(t, rows, 2)
	assert.Equal(t, Row{nil, "node0001", nil, nil}, rows[0])
	assert.Equal(t, Row{nil, "node0002", nil, "ok"}, rows[1])
}

func TestParserEmptyBlock(t *testing.T) {
	p := NewParser("vertica_log", logTypes)
	assert.Empty(t, p.Parse(nil))
	assert.Empty(t, p.Parse([]byte{}))
}

func TestParserTrailingSeparator(t *testing.T) {
	p := NewParser("vertica_log", logTypes)
	b := append(block(record("0", "n", "1", "a")), RecordSeparator)
	assert.Len(t, p.Parse(b), 1)
}

func TestParserParseIntoAppends(t *testing.T) {
	p := NewParser("t", []string{"timestamp", "varchar"})
	dst := p.Parse(block(record("0", "a")))
	dst = p.ParseInto(dst, block(record("1", "b"), record("2", "c")))
	require.Len(t, dst, 3)
	assert.Equal(t, "c", dst[2][1])
}

func TestBlockWriterRoundTrip(t *testing.T) {
	types := []string{"timestamp", "varchar", "bigint", "float", "boolean", "numeric(20,4)", "blob", "date"}
	families := Families(types)

	ts := time.Date(2024, 3, 1, 12, 30, 45, 123456000, time.UTC)
	rows := []Row{
		{ts, "node0001", int64(-1), 1.25, true, decimal.RequireFromString("12.3400"), []byte("raw"), Epoch},
		{ts.Add(time.Second), "tab\tsep\x01arated\x02", int64(9223372036854775807), -0.5, false, decimal.RequireFromString("-1"), []byte{}, ts},
		{nil, "", nil, nil, nil, nil, nil, nil},
	}

	w := NewBlockWriter(families)
	for _, r := range rows {
		require.NoError(t, w.Append(r))
	}
	assert.Equal(t, 3, w.Rows())
	assert.Greater(t, w.Len(), 0)

	got := NewParser("round_trip", types).Parse(w.Bytes())
	require.Len(t, got, len(rows))
	for i := range rows {
		for j := range rows[i] {
			want := rows[i][j]
			switch v := want.(type) {
			case decimal.Decimal:
				require.IsType(t, decimal.Decimal{}, got[i][j])
				assert.True(t, v.Equal(got[i][j].(decimal.Decimal)), "row %d col %d", i, j)
			case []byte:
				if len(v) == 0 {
					// an empty blob and a NULL blob share the empty field
					assert.Nil(t, got[i][j])
					continue
				}
				assert.Equal(t, v, got[i][j], "row %d col %d", i, j)
			default:
				assert.Equal(t, want, got[i][j], "row %d col %d", i, j)
			}
		}
	}
}

func TestBlockWriterRejectsBadRow(t *testing.T) {
	w := NewBlockWriter(Families([]string{"timestamp", "integer"}))
	require.NoError(t, w.Append([]any{int64(0), int64(1)}))
	size := w.Len()

	assert.Error(t, w.Append([]any{int64(0)}))
	assert.Error(t, w.Append([]any{int64(0), "not a number"}))
	assert.Error(t, w.Append([]any{"not a time", int64(2)}))
	assert.Equal(t, size, w.Len())
	assert.Equal(t, 1, w.Rows())

	require.NoError(t, w.Append([]any{"2000-01-01 00:00:01", uint64(18446744073709551615)}))
	rows := NewParser("t", []string{"timestamp", "integer"}).Parse(w.Bytes())
	require.Len(t, rows, 2)
	assert.Equal(t, int64(-1), rows[1][1])
	assert.Equal(t, time.Date(2000, 1, 1, 0, 0, 1, 0, time.UTC), rows[1][0])

	w.Reset()
	assert.Equal(t, 0, w.Rows())
	assert.Equal(t, 0, w.Len())
}

func TestParserInternsShortStrings(t *testing.T) {
	p := NewParser("dc_errors", []string{"varchar", "varchar"})
	rows := p.Parse(block(record("v_vmart_node0001", `a\tb`), record("v_vmart_node0001", "x")))
	require.Len(t, rows, 2)
	assert.Equal(t, "v_vmart_node0001", rows[0][0])
	assert.Equal(t, "a\tb", rows[0][1])
	assert.Equal(t, "v_vmart_node0001", rows[1][0])
}
