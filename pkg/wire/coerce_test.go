package wire

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFamilyOf(t *testing.T) {
	tests := []struct {
		declared string
		want     Family
	}{
		{"INTEGER", FamilyInteger},
		{"int8", FamilyInteger},
		{"FLOAT", FamilyFloat},
		{"double precision", FamilyFloat},
		{"TIMESTAMP WITH TIME ZONE", FamilyTemporal},
		{"timestamp", FamilyTemporal},
		{"BOOLEAN", FamilyBoolean},
		{"NUMERIC(18, 4)", FamilyDecimal},
		{"blob", FamilyBlob},
		{"VARCHAR(128)", FamilyString},
		{"char", FamilyString},
		{"interval", FamilyString},
	}
	for _, tt := range tests {
		t.Run(tt.declared, func(t *testing.T) {
			assert.Equal(t, tt.want, FamilyOf(tt.declared))
		})
	}
}

func TestCoerceInteger(t *testing.T) {
	assert.Equal(t, int64(-1), Coerce("integer", "18446744073709551615"))
	assert.Equal(t, int64(math.MaxInt64), Coerce("integer", "9223372036854775807"))
	assert.Equal(t, int64(math.MinInt64), Coerce("integer", "9223372036854775808"))
	assert.Equal(t, int64(-4503599627367231), Coerce("integer", "18442240474082184385"))
	assert.Equal(t, int64(-42), Coerce("bigint", "-42"))
	assert.Equal(t, int64(0), Coerce("int", "0"))
	assert.Nil(t, Coerce("integer", "12abc"))
	assert.Nil(t, Coerce("integer", "18446744073709551616"))
}

func TestCoerceTemporal(t *testing.T) {
	got := Coerce("timestamp", "0")
	require.IsType(t, time.Time{}, got)
	assert.Equal(t, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), got)
	assert.Equal(t, "2000-01-01 00:00:00.000000", FormatTime(got.(time.Time)))

	assert.Nil(t, Coerce("timestamp", "-9223372036854775808"))
	// the sentinel written as an unsigned magnitude
	assert.Nil(t, Coerce("timestamp", "9223372036854775808"))

	got = Coerce("timestamptz", "1500000")
	assert.Equal(t, time.Date(2000, 1, 1, 0, 0, 1, 500000000, time.UTC), got)

	got = Coerce("date", "-1")
	assert.Equal(t, "1999-12-31 23:59:59.999999", FormatTime(got.(time.Time)))

	assert.Nil(t, Coerce("timestamp", "yesterday"))
	assert.Nil(t, Coerce("timestamp", "9223372036854775807"))
}

func TestCoerceEmpty(t *testing.T) {
	assert.Equal(t, "", Coerce("varchar", ""))
	assert.Equal(t, "", Coerce("char(4)", ""))
	assert.Equal(t, "", Coerce("something_unknown", ""))
	for _, declared := range []string{"integer", "float", "timestamp", "boolean", "numeric", "blob"} {
		assert.Nil(t, Coerce(declared, ""), declared)
	}
}

func TestCoerceScalars(t *testing.T) {
	assert.Equal(t, 1.5, Coerce("float", "1.5"))
	assert.Equal(t, -2e-10, Coerce("double", "-2e-10"))
	assert.Nil(t, Coerce("float", "one"))

	assert.Equal(t, true, Coerce("boolean", "TRUE"))
	assert.Equal(t, true, Coerce("boolean", "true"))
	assert.Equal(t, false, Coerce("boolean", "t"))
	assert.Equal(t, false, Coerce("boolean", "false"))

	d := Coerce("numeric", "12345678901234567890.000000000001")
	require.IsType(t, decimal.Decimal{}, d)
	assert.Equal(t, "12345678901234567890.000000000001", d.(decimal.Decimal).String())
	assert.Nil(t, Coerce("decimal", "1.2.3"))

	assert.Equal(t, []byte("\x00\xff"), Coerce("blob", "\x00\xff"))
}

func TestCoerceString(t *testing.T) {
	assert.Equal(t, "line1\nline2", Coerce("varchar", `line1\nline2`))
	assert.Equal(t, `a\b`, Coerce("varchar", `a\\b`))
	assert.Equal(t, "tab\there", Coerce("varchar", `tab\there`))
	assert.Equal(t, "\x01", Coerce("varchar", `\x01`))
	assert.Equal(t, "A", Coerce("varchar", `\101`))
	assert.Equal(t, `keep \q`, Coerce("varchar", `keep \q`))
	assert.Equal(t, "it's", Coerce("varchar", `it\'s`))
	assert.Nil(t, Coerce("varchar", `dangling\`))
	assert.Nil(t, Coerce("varchar", `\xZZ`))
	assert.Equal(t, "plain", Coerce("varchar", "plain"))
}

func TestEscapeUnescape(t *testing.T) {
	inputs := []string{
		"",
		"plain",
		"a\\b",
		"multi\nline\r\n",
		"sep\x01and\x02sep",
		"tab\tdel\x7f",
		"unicode ✓ ünïcödé",
	}
	for _, in := range inputs {
		escaped := Escape(in)
		assert.NotContains(t, escaped, string(FieldSeparator))
		assert.NotContains(t, escaped, string(RecordSeparator))

		out, err := Unescape(escaped)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}
}

func TestParseTime(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 30, 45, 123456000, time.UTC)
	for _, s := range []string{
		"2024-03-01 12:30:45.123456",
		"2024-03-01T12:30:45.123456",
		"2024-03-01T12:30:45.123456Z",
		"2024-03-01T14:30:45.123456+02:00",
		"2024-03-01 07:30:45.123456-05",
	} {
		got, err := ParseTime(s)
		require.NoError(t, err, s)
		assert.True(t, want.Equal(got), "%s parsed as %s", s, got)
	}

	got, err := ParseTime("2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), got)

	_, err = ParseTime("last tuesday")
	assert.Error(t, err)
}

func TestTimeMicrosRoundTrip(t *testing.T) {
	for _, micros := range []int64{0, 1, -1, 1_000_000, 764_000_000_123_456, -946_684_800_000_000} {
		tm, err := MicrosToTime(micros)
		require.NoError(t, err)
		assert.Equal(t, micros, TimeToMicros(tm))
	}
	assert.Equal(t, int64(0), TimeToMicros(Epoch))
}
