package entity

import (
	"fmt"
	"reflect"
	"sort"
)

// Operator is a field comparison used by GetByFields queries.
type Operator string

const (
	OpEqual    Operator = "="
	OpNotEqual Operator = "!="
	OpIn       Operator = "in"
	OpNotIn    Operator = "!in"
)

// Valid reports whether op is a supported operator.
func (op Operator) Valid() bool {
	switch op {
	case OpEqual, OpNotEqual, OpIn, OpNotIn:
		return true
	}
	return false
}

// Filter matches records whose Field compares to Value with Op. For OpIn and
// OpNotIn Value must be a slice.
type Filter struct {
	Field string
	Op    Operator
	Value any
}

// Eq is shorthand for an equality filter.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: OpEqual, Value: value}
}

// QueryOptions controls ordering and paging of GetByFields results.
type QueryOptions struct {
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int
}

// Values returns the filter operand as a slice.
func (f Filter) Values() ([]any, error) {
	if f.Op != OpIn && f.Op != OpNotIn {
		return []any{f.Value}, nil
	}
	if f.Value == nil {
		return nil, nil
	}
	if vs, ok := f.Value.([]any); ok {
		return vs, nil
	}
	rv := reflect.ValueOf(f.Value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("operator %q needs a slice, got %T", f.Op, f.Value)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

// Match evaluates the filter against a value.
func (f Filter) Match(v any) bool {
	switch f.Op {
	case OpEqual:
		return Equal(v, f.Value)
	case OpNotEqual:
		return !Equal(v, f.Value)
	case OpIn, OpNotIn:
		vs, err := f.Values()
		if err != nil {
			return false
		}
		found := false
		for _, c := range vs {
			if Equal(v, c) {
				found = true
				break
			}
		}
		return found == (f.Op == OpIn)
	}
	return false
}

// Matches reports whether rec satisfies every filter.
func Matches(rec Record, filters []Filter) bool {
	for _, f := range filters {
		if !f.Match(rec[f.Field]) {
			return false
		}
	}
	return true
}

// CheckFilters validates filters against a schema.
func (s *Schema) CheckFilters(filters []Filter) error {
	for _, f := range filters {
		if _, ok := s.Field(f.Field); !ok {
			return fmt.Errorf("unknown field %s.%s", s.Name, f.Field)
		}
		if !f.Op.Valid() {
			return fmt.Errorf("unsupported operator %q on %s.%s", f.Op, s.Name, f.Field)
		}
		if _, err := f.Values(); err != nil {
			return err
		}
	}
	return nil
}

// SortRecords orders records by opts.OrderBy (id when empty) with id as the
// tie breaker, then applies Offset and Limit.
func SortRecords(recs []Record, opts QueryOptions) []Record {
	field := opts.OrderBy
	if field == "" {
		field = IDField
	}
	sort.SliceStable(recs, func(i, j int) bool {
		c := Compare(recs[i][field], recs[j][field])
		if c == 0 {
			c = Compare(recs[i].ID(), recs[j].ID())
		}
		if opts.Desc {
			return c > 0
		}
		return c < 0
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(recs) {
			return recs[:0]
		}
		recs = recs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(recs) {
		recs = recs[:opts.Limit]
	}
	return recs
}
