// Package planner decides which WHERE-clause constraints of a collector
// query are pushed down to the cluster, and rebuilds those constraints when
// the scan starts.
//
// Only the time column (0) and the node_name column (1) take part. A plan is
// described to SQLite by an index number and an index name; the name encodes
// the used constraints as "<column>_<op>" joined by "+", so the scan can be
// decoded again without shared state.
//
// SQLite does not re-check constraints a plan uses, so every one of them is
// evaluated on the fetched rows by a Filter. Only the operators with an SQL
// rendering are also sent to the nodes.
package planner

import (
	"math"
	"strconv"
	"strings"
)

// Op is an SQLite constraint operator code.
type Op int

// Operator codes as SQLite reports them to BestIndex.
const (
	OpEQ     Op = 2
	OpGT     Op = 4
	OpLE     Op = 8
	OpLT     Op = 16
	OpGE     Op = 32
	OpMATCH  Op = 64
	OpLIKE   Op = 65
	OpGLOB   Op = 66
	OpREGEXP Op = 67
	OpNE     Op = 68
	OpISNOT  Op = 69

	// IS NOT NULL and IS NULL take no operand.
	OpISNOTNULL Op = 70
	OpISNULL    Op = 71
	OpIS        Op = 72
)

// opSQL lists the operators sent to the nodes. LIKE is matched locally
// only: SQLite folds ASCII case and node collations may not.
var opSQL = map[Op]string{
	OpEQ:    "=",
	OpGT:    ">",
	OpLE:    "<=",
	OpLT:    "<",
	OpGE:    ">=",
	OpNE:    "<>",
	OpIS:    "IS NOT DISTINCT FROM",
	OpISNOT: "IS DISTINCT FROM",
}

// SQL returns the comparison operator nodes evaluate for op, and false
// when op cannot be pushed down.
func (op Op) SQL() (string, bool) {
	s, ok := opSQL[op]
	return s, ok
}

// Pushable reports whether constraints with op are sent to the nodes.
func (op Op) Pushable() bool {
	_, ok := opSQL[op]
	return ok
}

const (
	// TimeColumn is the ordinal of the time column.
	TimeColumn = 0
	// NodeColumn is the ordinal of the node_name column.
	NodeColumn = 1
)

// Index numbers: the OR of (column+1) over the pushed constraints.
const (
	IndexTime     = 1
	IndexNode     = 2
	IndexTimeNode = 3
)

var indexCost = map[int]float64{
	IndexTime:     10,
	IndexNode:     1000,
	IndexTimeNode: 1,
}

// DeclinedCost is the cost reported when nothing can be pushed down.
const DeclinedCost = math.MaxFloat64 / 4

// Constraint is one WHERE-clause term offered by SQLite.
type Constraint struct {
	Column int
	Op     Op
	Usable bool
}

// OrderBy is one ORDER BY term offered by SQLite. Plans never consume it.
type OrderBy struct {
	Column int
	Desc   bool
}

// Plan is an accepted access plan.
type Plan struct {
	// ArgOrder holds, per offered constraint, the 0-based position of its
	// value in the Filter arguments, or -1 when it is not pushed.
	ArgOrder  []int
	IndexID   int
	IndexName string
	Ordered   bool
	Cost      float64
}

// Used reports, per offered constraint, whether it is pushed.
func (p *Plan) Used() []bool {
	used := make([]bool, len(p.ArgOrder))
	for i, a := range p.ArgOrder {
		used[i] = a >= 0
	}
	return used
}

// Qualifies reports whether c is taken into a plan: any usable constraint on
// the time or node_name column.
func Qualifies(c Constraint) bool {
	return c.Usable && (c.Column == TimeColumn || c.Column == NodeColumn)
}

// BestIndex plans a scan for the offered constraints. It returns false when
// no constraint qualifies and the host should do a full scan.
func BestIndex(constraints []Constraint, _ []OrderBy) (*Plan, bool) {
	p := &Plan{ArgOrder: make([]int, len(constraints))}
	var names []string
	next := 0

	for i, c := range constraints {
		if !Qualifies(c) {
			p.ArgOrder[i] = -1
			continue
		}
		p.ArgOrder[i] = next
		next++
		p.IndexID |= c.Column + 1
		names = append(names, strconv.Itoa(c.Column)+"_"+strconv.Itoa(int(c.Op)))
	}

	if next == 0 {
		return nil, false
	}
	p.IndexName = strings.Join(names, "+")
	p.Cost = indexCost[p.IndexID]
	return p, true
}
