package wire

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const maxEpochMicros = math.MaxInt64 - EpochOffsetSeconds*1e6

// Coerce converts raw field text for a column of the given declared type.
// Conversion failures yield nil.
func Coerce(declared string, raw string) any {
	v, err := CoerceFamily(FamilyOf(declared), raw)
	if err != nil {
		return nil
	}
	return v
}

// CoerceFamily converts raw field text for a type family and reports why a
// conversion failed. Callers that must never fail should use the value nil
// on error, which is what the Parser does.
func CoerceFamily(f Family, raw string) (any, error) {
	if raw == "" {
		if f == FamilyString {
			return "", nil
		}
		return nil, nil
	}

	switch f {
	case FamilyInteger:
		return ParseInteger(raw)
	case FamilyFloat:
		return strconv.ParseFloat(raw, 64)
	case FamilyTemporal:
		micros, err := ParseInteger(raw)
		if err != nil {
			return nil, err
		}
		if micros == NullTimestamp {
			return nil, nil
		}
		return MicrosToTime(micros)
	case FamilyBoolean:
		return strings.EqualFold(raw, "true"), nil
	case FamilyDecimal:
		return decimal.NewFromString(raw)
	case FamilyBlob:
		return []byte(raw), nil
	default:
		return Unescape(raw)
	}
}

// ParseInteger parses a 64-bit integer. The cluster writes unsigned 64-bit
// magnitudes, so text above MaxInt64 keeps its bit pattern and comes back
// negative: "18446744073709551615" is -1. Signed text is accepted as well.
func ParseInteger(raw string) (int64, error) {
	if u, err := strconv.ParseUint(raw, 10, 64); err == nil {
		return int64(u), nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

// MicrosToTime converts microseconds since Epoch into a UTC time.
func MicrosToTime(micros int64) (time.Time, error) {
	if micros > maxEpochMicros {
		return time.Time{}, fmt.Errorf("timestamp %d out of range", micros)
	}
	return time.UnixMicro(micros + EpochOffsetSeconds*1e6).UTC(), nil
}

// TimeToMicros converts a time into microseconds since Epoch.
func TimeToMicros(t time.Time) int64 {
	return t.UnixMicro() - EpochOffsetSeconds*1e6
}

// FormatTime renders a time the way temporal columns appear in SQLite.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05-07",
	"2006-01-02T15:04:05-07",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
}

// ParseTime parses a human timestamp. Values without a zone are UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
