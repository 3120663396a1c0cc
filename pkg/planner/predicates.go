package planner

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/dctables/pkg/errors"
	"github.com/ajitpratap0/dctables/pkg/wire"
)

// Predicate is one pushed comparison against a column.
type Predicate struct {
	Op    Op  `json:"op"`
	Value any `json:"value"`
}

// PredicateMap groups predicates by column ordinal.
type PredicateMap map[int][]Predicate

// Columns returns the constrained column ordinals in ascending order.
func (m PredicateMap) Columns() []int {
	cols := make([]int, 0, len(m))
	for c := range m {
		cols = append(cols, c)
	}
	sort.Ints(cols)
	return cols
}

// Remote returns the predicates the nodes can evaluate, nil when there are
// none.
func (m PredicateMap) Remote() PredicateMap {
	var out PredicateMap
	for col, ps := range m {
		for _, p := range ps {
			if !p.Op.Pushable() {
				continue
			}
			if out == nil {
				out = make(PredicateMap, len(m))
			}
			out[col] = append(out[col], p)
		}
	}
	return out
}

// Len returns the number of predicates.
func (m PredicateMap) Len() int {
	n := 0
	for _, ps := range m {
		n += len(ps)
	}
	return n
}

type term struct {
	column int
	op     Op
}

func parseIndexName(indexName string) ([]term, error) {
	if indexName == "" {
		return nil, nil
	}
	parts := strings.Split(indexName, "+")
	terms := make([]term, 0, len(parts))
	for _, part := range parts {
		col, op, ok := strings.Cut(part, "_")
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeQuery, "malformed index term %q", part)
		}
		c, err := strconv.Atoi(col)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeQuery, "malformed index column in "+part)
		}
		o, err := strconv.Atoi(op)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeQuery, "malformed index operator in "+part)
		}
		terms = append(terms, term{column: c, op: Op(o)})
	}
	return terms, nil
}

// DecodePredicates rebuilds the used predicates from an index name and the
// Filter arguments, which arrive in the same order as the index terms. Time
// values of comparisons are converted to microseconds since 2000-01-01 UTC;
// pattern operands stay text and IS NULL operands are dropped.
func DecodePredicates(indexName string, args []any) (PredicateMap, error) {
	terms, err := parseIndexName(indexName)
	if err != nil {
		return nil, err
	}
	if len(terms) != len(args) {
		return nil, errors.Newf(errors.ErrorTypeQuery, "index %q has %d terms but %d arguments were given", indexName, len(terms), len(args))
	}

	preds := make(PredicateMap, 2)
	for i, t := range terms {
		v := args[i]
		if t.op == OpISNULL || t.op == OpISNOTNULL {
			v = nil
		}
		if t.column == TimeColumn && v != nil && t.op.Pushable() {
			micros, err := TimeArg(v)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeQuery, "invalid time constraint")
			}
			v = micros
		}
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		preds[t.column] = append(preds[t.column], Predicate{Op: t.op, Value: v})
	}
	return preds, nil
}

// TimeArg converts a time constraint value into microseconds since
// 2000-01-01 UTC. Text is parsed as a timestamp (UTC when no zone is given),
// numbers are unix seconds.
func TimeArg(v any) (int64, error) {
	switch x := v.(type) {
	case time.Time:
		return wire.TimeToMicros(x), nil
	case string:
		t, err := wire.ParseTime(x)
		if err != nil {
			return 0, err
		}
		return wire.TimeToMicros(t), nil
	case []byte:
		return TimeArg(string(x))
	case int64:
		return (x - wire.EpochOffsetSeconds) * 1e6, nil
	case int:
		return TimeArg(int64(x))
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, fmt.Errorf("invalid time %v", x)
		}
		return int64(math.Round((x - float64(wire.EpochOffsetSeconds)) * 1e6)), nil
	}
	return 0, fmt.Errorf("unsupported time value %T", v)
}
