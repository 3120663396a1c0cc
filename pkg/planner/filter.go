package planner

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/dctables/pkg/errors"
	"github.com/ajitpratap0/dctables/pkg/wire"
)

// Filter evaluates decoded predicates on fetched rows the way SQLite would
// evaluate the original constraints: time comparisons on microseconds,
// node_name comparisons on text (BINARY collation), LIKE folding ASCII
// case, GLOB case sensitive, and NULL never matching anything but IS and
// IS NULL.
type Filter struct {
	checks []check
}

type check struct {
	column int
	op     Op
	value  any
	re     *regexp.Regexp
}

// NewFilter prepares preds for evaluation. It fails only on a REGEXP
// operand that does not compile.
func NewFilter(preds PredicateMap) (*Filter, error) {
	f := &Filter{checks: make([]check, 0, preds.Len())}
	for _, col := range preds.Columns() {
		for _, p := range preds[col] {
			c := check{column: col, op: p.Op, value: p.Value}
			if p.Op == OpREGEXP && p.Value != nil {
				re, err := regexp.Compile(text(p.Value))
				if err != nil {
					return nil, errors.Wrap(err, errors.ErrorTypeQuery, "invalid REGEXP pattern")
				}
				c.re = re
			}
			f.checks = append(f.checks, c)
		}
	}
	return f, nil
}

// Match reports whether row satisfies every predicate.
func (f *Filter) Match(row []any) bool {
	for _, c := range f.checks {
		var v any
		if c.column < len(row) {
			v = row[c.column]
		}
		if !c.match(v) {
			return false
		}
	}
	return true
}

// Apply keeps the rows that match, reusing the backing array of rows.
func (f *Filter) Apply(rows []wire.Row) []wire.Row {
	if len(f.checks) == 0 {
		return rows
	}
	kept := rows[:0]
	for _, r := range rows {
		if f.Match(r) {
			kept = append(kept, r)
		}
	}
	clear(rows[len(kept):])
	return kept
}

func (c check) match(v any) bool {
	switch c.op {
	case OpISNULL:
		return v == nil
	case OpISNOTNULL:
		return v != nil
	case OpIS:
		return c.same(v)
	case OpISNOT:
		return !c.same(v)
	}
	if v == nil || c.value == nil {
		return false
	}

	switch c.op {
	case OpLIKE:
		return likeMatch(text(c.value), text(v))
	case OpGLOB:
		return globMatch(text(c.value), text(v))
	case OpREGEXP:
		return c.re.MatchString(text(v))
	case OpMATCH:
		return text(v) == text(c.value)
	}

	cmp := c.compare(v)
	switch c.op {
	case OpEQ:
		return cmp == 0
	case OpNE:
		return cmp != 0
	case OpLT:
		return cmp < 0
	case OpLE:
		return cmp <= 0
	case OpGT:
		return cmp > 0
	case OpGE:
		return cmp >= 0
	}
	return false
}

func (c check) same(v any) bool {
	if v == nil || c.value == nil {
		return v == nil && c.value == nil
	}
	return c.compare(v) == 0
}

// compare orders a non-NULL column value against the operand.
func (c check) compare(v any) int {
	if c.column == TimeColumn {
		t, tok := v.(time.Time)
		m, mok := c.value.(int64)
		if tok && mok {
			switch rm := wire.TimeToMicros(t); {
			case rm < m:
				return -1
			case rm > m:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(text(v), text(c.value))
}

// text renders a value the way SQLite converts it for a text column.
func text(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return wire.FormatTime(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		if x {
			return "1"
		}
		return "0"
	}
	return fmt.Sprint(v)
}

func foldASCII(r rune) rune {
	if 'A' <= r && r <= 'Z' {
		return r + 'a' - 'A'
	}
	return r
}

// likeMatch implements LIKE without ESCAPE: % spans any run, _ one
// character, and ASCII letters match regardless of case.
func likeMatch(pattern, s string) bool {
	p, t := []rune(pattern), []rune(s)
	pi, ti := 0, 0
	star, mark := -1, 0
	for ti < len(t) {
		switch {
		case pi < len(p) && p[pi] == '%':
			star, mark = pi, ti
			pi++
		case pi < len(p) && (p[pi] == '_' || foldASCII(p[pi]) == foldASCII(t[ti])):
			pi++
			ti++
		case star >= 0:
			pi = star + 1
			mark++
			ti = mark
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '%' {
		pi++
	}
	return pi == len(p)
}

// globMatch implements GLOB: * spans any run, ? one character, [...] a
// character class with ranges and ^ negation. Matching is case sensitive.
func globMatch(pattern, s string) bool {
	p, t := []rune(pattern), []rune(s)
	pi, ti := 0, 0
	star, mark := -1, 0
	for ti < len(t) {
		if pi < len(p) && p[pi] == '*' {
			star, mark = pi, ti
			pi++
			continue
		}
		if pi < len(p) {
			if next, ok := globStep(p, pi, t[ti]); ok {
				pi, ti = next, ti+1
				continue
			}
		}
		if star < 0 {
			return false
		}
		pi = star + 1
		mark++
		ti = mark
	}
	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}

// globStep matches c against the pattern element at p[i] and returns the
// index after the element.
func globStep(p []rune, i int, c rune) (int, bool) {
	switch p[i] {
	case '?':
		return i + 1, true
	case '[':
		j := i + 1
		negate := j < len(p) && p[j] == '^'
		if negate {
			j++
		}
		matched := false
		for first := true; j < len(p); j, first = j+1, false {
			if p[j] == ']' && !first {
				return j + 1, matched != negate
			}
			if j+2 < len(p) && p[j+1] == '-' && p[j+2] != ']' {
				if p[j] <= c && c <= p[j+2] {
					matched = true
				}
				j += 2
				continue
			}
			if p[j] == c {
				matched = true
			}
		}
		// unterminated class
		return 0, false
	}
	return i + 1, p[i] == c
}
