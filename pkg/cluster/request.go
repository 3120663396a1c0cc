package cluster

import (
	"github.com/goccy/go-json"

	"github.com/ajitpratap0/dctables/pkg/collector"
	"github.com/ajitpratap0/dctables/pkg/errors"
	"github.com/ajitpratap0/dctables/pkg/planner"
)

// Request is what every node receives for one fetch. Time predicates carry
// integer microseconds since 2000-01-01 UTC.
type Request struct {
	CatalogPath string               `json:"catalog_path"`
	Collector   string               `json:"collector"`
	Remote      string               `json:"remote"`
	Columns     []string             `json:"columns"`
	Types       []string             `json:"types,omitempty"`
	Predicates  planner.PredicateMap `json:"predicates,omitempty"`
}

// NewRequest builds the request for def filtered by preds.
func NewRequest(def *collector.Definition, catalogPath string, preds planner.PredicateMap) *Request {
	return &Request{
		CatalogPath: catalogPath,
		Collector:   def.Name,
		Remote:      def.RemoteName(),
		Columns:     def.ColumnNames(),
		Types:       def.ColumnTypes(),
		Predicates:  preds,
	}
}

// Validate checks the request is well formed before it is executed.
func (r *Request) Validate() error {
	if r.Collector == "" {
		return errors.New(errors.ErrorTypeValidation, "collector is required")
	}
	if r.Remote == "" {
		return errors.New(errors.ErrorTypeValidation, "remote relation is required")
	}
	if len(r.Columns) == 0 {
		return errors.New(errors.ErrorTypeValidation, "columns are required")
	}
	if len(r.Types) != 0 && len(r.Types) != len(r.Columns) {
		return errors.Newf(errors.ErrorTypeValidation, "%d types for %d columns", len(r.Types), len(r.Columns))
	}
	for col, preds := range r.Predicates {
		if col < 0 || col >= len(r.Columns) {
			return errors.Newf(errors.ErrorTypeValidation, "predicate on unknown column %d", col)
		}
		for _, p := range preds {
			if !p.Op.Pushable() {
				return errors.Newf(errors.ErrorTypeValidation, "operator %d cannot be pushed down", p.Op)
			}
		}
	}
	return nil
}

// DecodeNumbers turns json.Number predicate values, as produced by a decoder
// with UseNumber, back into int64 or float64.
func (r *Request) DecodeNumbers() error {
	for col, preds := range r.Predicates {
		for i, p := range preds {
			n, ok := p.Value.(json.Number)
			if !ok {
				continue
			}
			if v, err := n.Int64(); err == nil {
				preds[i].Value = v
				continue
			}
			f, err := n.Float64()
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeValidation, "invalid numeric predicate")
			}
			preds[i].Value = f
		}
		r.Predicates[col] = preds
	}
	return nil
}
