// Package wire decodes the delimited text that cluster nodes stream back for
// a fetch, and encodes typed values into the same representation.
//
// A block is a sequence of records separated by RecordSeparator; a record is
// a sequence of fields separated by FieldSeparator. Field text is typed by
// the declared SQL type of its column:
//
//	integer family   decimal text of a 64-bit magnitude, two's complement
//	float family     decimal text
//	temporal family  integer microseconds since 2000-01-01 00:00:00 UTC
//	boolean          "true" (any case) or anything else
//	decimal/numeric  arbitrary precision decimal text
//	blob             raw bytes
//	everything else  text with backslash escapes
//
// Decoding never fails: a field that cannot be converted becomes nil and a
// record with the wrong number of fields is dropped.
package wire

import (
	"strings"
	"time"
)

const (
	// RecordSeparator separates rows inside a block.
	RecordSeparator byte = 0x02
	// FieldSeparator separates fields inside a row.
	FieldSeparator byte = 0x01
)

const (
	// EpochOffsetSeconds is the distance between the unix epoch and the
	// cluster's 2000-01-01 epoch.
	EpochOffsetSeconds int64 = 946684800
	// NullTimestamp is the cluster's NULL sentinel for temporal values.
	NullTimestamp int64 = -1 << 63
	// TimeLayout is how temporal values are rendered to SQLite.
	TimeLayout = "2006-01-02 15:04:05.000000"
)

// Epoch is the zero point of temporal wire values.
var Epoch = time.Unix(EpochOffsetSeconds, 0).UTC()

// Row is one decoded record. Values are nil, int64, float64, bool, string,
// []byte, time.Time or decimal.Decimal.
type Row []any

// Family groups declared SQL types by how their wire text is decoded.
type Family int

const (
	FamilyString Family = iota
	FamilyInteger
	FamilyFloat
	FamilyTemporal
	FamilyBoolean
	FamilyDecimal
	FamilyBlob
)

var familyNames = [...]string{
	FamilyString:   "string",
	FamilyInteger:  "integer",
	FamilyFloat:    "float",
	FamilyTemporal: "temporal",
	FamilyBoolean:  "boolean",
	FamilyDecimal:  "decimal",
	FamilyBlob:     "blob",
}

func (f Family) String() string {
	if int(f) < len(familyNames) {
		return familyNames[f]
	}
	return "unknown"
}

var families = map[string]Family{
	"integer":   FamilyInteger,
	"int":       FamilyInteger,
	"bigint":    FamilyInteger,
	"smallint":  FamilyInteger,
	"mediumint": FamilyInteger,
	"tinyint":   FamilyInteger,
	"int2":      FamilyInteger,
	"int4":      FamilyInteger,
	"int8":      FamilyInteger,

	"double":           FamilyFloat,
	"double precision": FamilyFloat,
	"float":            FamilyFloat,
	"float8":           FamilyFloat,
	"real":             FamilyFloat,

	"date":                        FamilyTemporal,
	"datetime":                    FamilyTemporal,
	"timestamp":                   FamilyTemporal,
	"timestamptz":                 FamilyTemporal,
	"timestamp with time zone":    FamilyTemporal,
	"timestamp without time zone": FamilyTemporal,

	"boolean": FamilyBoolean,
	"bool":    FamilyBoolean,

	"decimal": FamilyDecimal,
	"numeric": FamilyDecimal,
	"number":  FamilyDecimal,

	"blob":      FamilyBlob,
	"binary":    FamilyBlob,
	"varbinary": FamilyBlob,
	"bytea":     FamilyBlob,
}

// FamilyOf classifies a declared column type such as "VARCHAR(128)" or
// "TIMESTAMP WITH TIME ZONE". Unknown types are strings.
func FamilyOf(declared string) Family {
	t := strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(t, '('); i >= 0 {
		rest := ""
		if j := strings.IndexByte(t[i:], ')'); j >= 0 {
			rest = t[i+j+1:]
		}
		t = strings.TrimSpace(t[:i]) + rest
	}
	t = strings.Join(strings.Fields(t), " ")
	if f, ok := families[t]; ok {
		return f
	}
	return FamilyString
}

// Families classifies a list of declared column types.
func Families(declared []string) []Family {
	out := make([]Family, len(declared))
	for i, d := range declared {
		out[i] = FamilyOf(d)
	}
	return out
}
