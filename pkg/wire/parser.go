package wire

import (
	"bytes"

	"github.com/ajitpratap0/dctables/pkg/metrics"
	"github.com/ajitpratap0/dctables/pkg/pool"
)

const (
	// internMaxLen bounds the string fields that are interned; longer
	// values (messages, query text) rarely repeat.
	internMaxLen = 64
	internMax    = 1 << 16
)

var (
	interned = pool.NewInterner(internMax)

	fieldScratch = pool.New(
		func() *[][]byte { s := make([][]byte, 0, 32); return &s },
		func(s *[][]byte) { clear(*s); *s = (*s)[:0] },
	)
)

// Parser decodes blocks for one table. It is safe for concurrent use; it
// holds no mutable state.
type Parser struct {
	table    string
	families []Family
}

// NewParser builds a parser for a table whose columns have the given
// declared types, in column order.
func NewParser(table string, declaredTypes []string) *Parser {
	return &Parser{
		table:    table,
		families: Families(declaredTypes),
	}
}

// Columns returns the number of fields a record must have to be kept.
func (p *Parser) Columns() int {
	return len(p.families)
}

// Parse decodes one block into rows.
func (p *Parser) Parse(block []byte) []Row {
	return p.ParseInto(nil, block)
}

// ParseInto decodes one block and appends the rows to dst. Records whose
// field count differs from the column count are skipped; their siblings
// are still returned. An empty block holds no rows.
func (p *Parser) ParseInto(dst []Row, block []byte) []Row {
	var kept, dropped int
	scratch := fieldScratch.Get()
	defer fieldScratch.Put(scratch)
	fields := *scratch

	for len(block) > 0 {
		var record []byte
		if i := bytes.IndexByte(block, RecordSeparator); i >= 0 {
			record, block = block[:i], block[i+1:]
		} else {
			record, block = block, nil
		}

		fields = splitFields(fields[:0], record)
		*scratch = fields
		if len(fields) != len(p.families) {
			dropped++
			continue
		}

		row := make(Row, len(fields))
		for i, raw := range fields {
			if p.families[i] == FamilyString && len(raw) <= internMaxLen && bytes.IndexByte(raw, '\\') < 0 {
				row[i] = interned.InternBytes(raw)
				continue
			}
			v, err := CoerceFamily(p.families[i], string(raw))
			if err != nil {
				metrics.FieldErrors.WithLabelValues(p.table, p.families[i].String()).Inc()
				v = nil
			}
			row[i] = v
		}
		dst = append(dst, row)
		kept++
	}

	if kept > 0 {
		metrics.RowsParsed.WithLabelValues(p.table).Add(float64(kept))
	}
	if dropped > 0 {
		metrics.RowsDropped.WithLabelValues(p.table).Add(float64(dropped))
	}
	return dst
}

func splitFields(dst [][]byte, record []byte) [][]byte {
	for {
		i := bytes.IndexByte(record, FieldSeparator)
		if i < 0 {
			return append(dst, record)
		}
		dst = append(dst, record[:i])
		record = record[i+1:]
	}
}
