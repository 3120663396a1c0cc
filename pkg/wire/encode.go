package wire

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// EncodeField renders a typed value as wire text for a column family.
// nil becomes the empty field.
func EncodeField(f Family, v any) (string, error) {
	if v == nil {
		return "", nil
	}

	switch f {
	case FamilyInteger:
		n, err := toInt64(v)
		if err != nil {
			return "", err
		}
		// unsigned magnitude, matching what nodes write
		return strconv.FormatUint(uint64(n), 10), nil

	case FamilyFloat:
		switch x := v.(type) {
		case float64:
			return strconv.FormatFloat(x, 'g', -1, 64), nil
		case float32:
			return strconv.FormatFloat(float64(x), 'g', -1, 32), nil
		default:
			n, err := toInt64(v)
			if err != nil {
				return "", err
			}
			return strconv.FormatInt(n, 10), nil
		}

	case FamilyTemporal:
		switch x := v.(type) {
		case time.Time:
			return strconv.FormatInt(TimeToMicros(x), 10), nil
		case string:
			t, err := ParseTime(x)
			if err != nil {
				return "", err
			}
			return strconv.FormatInt(TimeToMicros(t), 10), nil
		case []byte:
			return EncodeField(f, string(x))
		default:
			n, err := toInt64(v)
			if err != nil {
				return "", err
			}
			return strconv.FormatInt(n, 10), nil
		}

	case FamilyBoolean:
		switch x := v.(type) {
		case bool:
			return strconv.FormatBool(x), nil
		case string:
			return strconv.FormatBool(x == "t" || x == "1" || x == "true" || x == "TRUE"), nil
		default:
			n, err := toInt64(v)
			if err != nil {
				return "", err
			}
			return strconv.FormatBool(n != 0), nil
		}

	case FamilyDecimal:
		switch x := v.(type) {
		case decimal.Decimal:
			return x.String(), nil
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64), nil
		default:
			n, err := toInt64(v)
			if err != nil {
				return "", err
			}
			return strconv.FormatInt(n, 10), nil
		}

	case FamilyBlob:
		switch x := v.(type) {
		case []byte:
			return string(x), nil
		case string:
			return x, nil
		}
		return "", fmt.Errorf("cannot encode %T as blob", v)

	default:
		switch x := v.(type) {
		case string:
			return Escape(x), nil
		case []byte:
			return Escape(string(x)), nil
		case time.Time:
			return Escape(FormatTime(x)), nil
		default:
			return Escape(fmt.Sprint(x)), nil
		}
	}
}

// BlockWriter accumulates encoded rows into one block.
type BlockWriter struct {
	families []Family
	buf      []byte
	rows     int
}

// NewBlockWriter creates a writer for rows with the given column families.
func NewBlockWriter(families []Family) *BlockWriter {
	return &BlockWriter{families: families}
}

// Append encodes one row. A row that fails to encode leaves the block
// unchanged.
func (w *BlockWriter) Append(row []any) error {
	if len(row) != len(w.families) {
		return fmt.Errorf("row has %d fields, want %d", len(row), len(w.families))
	}
	mark := len(w.buf)
	if w.rows > 0 {
		w.buf = append(w.buf, RecordSeparator)
	}
	for i, v := range row {
		if i > 0 {
			w.buf = append(w.buf, FieldSeparator)
		}
		s, err := EncodeField(w.families[i], v)
		if err != nil {
			w.buf = w.buf[:mark]
			return fmt.Errorf("field %d: %w", i, err)
		}
		w.buf = append(w.buf, s...)
	}
	w.rows++
	return nil
}

// Rows returns the number of rows in the current block.
func (w *BlockWriter) Rows() int { return w.rows }

// Len returns the encoded size of the current block.
func (w *BlockWriter) Len() int { return len(w.buf) }

// Bytes returns the current block. The slice is reused after Reset.
func (w *BlockWriter) Bytes() []byte { return w.buf }

// Reset starts a new block.
func (w *BlockWriter) Reset() {
	w.buf = w.buf[:0]
	w.rows = 0
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case uint64:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint:
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case float64:
		if x != math.Trunc(x) || x > math.MaxInt64 || x < math.MinInt64 {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		return int64(x), nil
	case string:
		return ParseInteger(x)
	case []byte:
		return ParseInteger(string(x))
	}
	return 0, fmt.Errorf("cannot encode %T as integer", v)
}
