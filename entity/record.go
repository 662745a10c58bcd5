package entity

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
)

// IDField is the record key that carries the entity id.
const IDField = "id"

// Record is a plain entity value keyed by field name.
type Record map[string]any

// ID returns the entity id or an empty string when unset.
func (r Record) ID() string {
	id, _ := r[IDField].(string)
	return id
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Overlay copies the given fields from src on top of a copy of r. With no
// fields every key of src is copied.
func (r Record) Overlay(src Record, fields ...string) Record {
	out := r.Clone()
	if out == nil {
		out = Record{}
	}
	if len(fields) == 0 {
		for k, v := range src {
			out[k] = v
		}
		return out
	}
	for _, f := range fields {
		if v, ok := src[f]; ok {
			out[f] = v
		}
	}
	if id := src.ID(); id != "" {
		out[IDField] = id
	}
	return out
}

// Coerce converts v into the canonical Go type used for t: string, int64,
// float64, bool, or a decoded JSON value.
func Coerce(t FieldType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case String:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		case fmt.Stringer:
			return x.String(), nil
		}
	case Int:
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
		case uint32:
			return int64(x), nil
		case uint16:
			return int64(x), nil
		case uint8:
			return int64(x), nil
		case uint:
			if uint64(x) <= math.MaxInt64 {
				return int64(x), nil
			}
		case uint64:
			if x <= math.MaxInt64 {
				return int64(x), nil
			}
		case float64:
			if x == math.Trunc(x) {
				return int64(x), nil
			}
		case json.Number:
			return x.Int64()
		case string:
			return strconv.ParseInt(x, 10, 64)
		case []byte:
			return strconv.ParseInt(string(x), 10, 64)
		}
	case Float:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case int:
			return float64(x), nil
		case json.Number:
			return x.Float64()
		case string:
			return strconv.ParseFloat(x, 64)
		case []byte:
			return strconv.ParseFloat(string(x), 64)
		}
	case Bool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		case string:
			return strconv.ParseBool(x)
		case []byte:
			return strconv.ParseBool(string(x))
		}
	case JSON:
		switch x := v.(type) {
		case []byte:
			return decodeJSON(x)
		case string:
			return decodeJSON([]byte(x))
		case json.RawMessage:
			return decodeJSON(x)
		default:
			return v, nil
		}
	}
	return nil, fmt.Errorf("cannot use %T as %s", v, t)
}

func decodeJSON(b []byte) (any, error) {
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Equal reports whether two field values are equal. Numbers compare by value
// regardless of their Go type.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders two field values. nil sorts first; mismatched kinds fall back
// to their string form.
func Compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			}
			return 1
		}
	}
	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}
