package docstore

import (
	"cmp"
	"reflect"
	"slices"
	"strings"
	"time"
)

type FilterOp string

const (
	OpEqual         FilterOp = "=="
	OpArrayContains FilterOp = "array-contains"
	OpIn            FilterOp = "in"
)

type Filter struct {
	Field string   `json:"field"`
	Op    FilterOp `json:"op"`
	Value any      `json:"value"`
}

type Query struct {
	Collection string   `json:"collection"`
	Filters    []Filter `json:"filters,omitempty"`
	OrderBy    string   `json:"order_by,omitempty"`
}

func Collection(name string) Query { return Query{Collection: name} }

func (q Query) Where(field string, op FilterOp, value any) Query {
	q.Filters = append(slices.Clone(q.Filters), Filter{Field: field, Op: op, Value: value})
	return q
}

func (q Query) Order(field string) Query {
	q.OrderBy = field
	return q
}

// Matches reports whether doc lives in the queried collection and passes
// every filter.
func (q Query) Matches(doc Document) bool {
	if doc.Ref.Collection != q.Collection {
		return false
	}
	for _, f := range q.Filters {
		if !f.matches(doc.Data) {
			return false
		}
	}
	return true
}

func (f Filter) matches(data map[string]any) bool {
	v, ok := lookup(data, f.Field)
	if !ok {
		return false
	}
	switch f.Op {
	case OpEqual:
		return equalValues(v, f.Value)
	case OpArrayContains:
		for _, el := range asSlice(v) {
			if equalValues(el, f.Value) {
				return true
			}
		}
		return false
	case OpIn:
		for _, el := range asSlice(f.Value) {
			if equalValues(v, el) {
				return true
			}
		}
		return false
	}
	return false
}

// lookup resolves dotted paths into nested maps.
func lookup(data map[string]any, field string) (any, bool) {
	parts := strings.Split(field, ".")
	var cur any = data
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func (q Query) sort(docs []Document) {
	slices.SortStableFunc(docs, func(a, b Document) int {
		if q.OrderBy != "" {
			av, _ := lookup(a.Data, q.OrderBy)
			bv, _ := lookup(b.Data, q.OrderBy)
			if c := compareValues(av, bv); c != 0 {
				return c
			}
		}
		return cmp.Compare(a.Ref.ID, b.Ref.ID)
	})
}

func asSlice(v any) []any {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// equalValues compares across the numeric and timestamp representations a
// document picks up between memory, JSON and the database.
func equalValues(a, b any) bool {
	if an, ok := toFloat(a); ok {
		bn, ok := toFloat(b)
		return ok && an == bn
	}
	if at, ok := toTime(a); ok {
		bt, ok := toTime(b)
		return ok && at.Equal(bt)
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders nil first, then numbers, timestamps and strings.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if an, ok := toFloat(a); ok {
		if bn, ok := toFloat(b); ok {
			return cmp.Compare(an, bn)
		}
	}
	if at, ok := toTime(a); ok {
		if bt, ok := toTime(b); ok {
			return at.Compare(bt)
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs)
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	}
	return time.Time{}, false
}
