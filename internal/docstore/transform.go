package docstore

import "time"

const (
	transformArrayUnion      = "arrayUnion"
	transformArrayRemove     = "arrayRemove"
	transformServerTimestamp = "serverTimestamp"
)

// Transform is a field value resolved by the store at write time. It keeps
// its shape across JSON so that remote clients can send it.
type Transform struct {
	Op     string `json:"$op"`
	Values []any  `json:"values,omitempty"`
}

func ArrayUnion(values ...any) Transform {
	return Transform{Op: transformArrayUnion, Values: values}
}

func ArrayRemove(values ...any) Transform {
	return Transform{Op: transformArrayRemove, Values: values}
}

func ServerTimestamp() Transform { return Transform{Op: transformServerTimestamp} }

// asTransform recognises both the typed value and its decoded JSON form.
func asTransform(v any) (Transform, bool) {
	switch t := v.(type) {
	case Transform:
		return t, true
	case map[string]any:
		op, ok := t["$op"].(string)
		if !ok || len(t) > 2 {
			return Transform{}, false
		}
		values, _ := t["values"].([]any)
		return Transform{Op: op, Values: values}, true
	}
	return Transform{}, false
}

func (t Transform) apply(current any, now time.Time) any {
	switch t.Op {
	case transformServerTimestamp:
		return now
	case transformArrayUnion:
		out := asSlice(current)
		for _, v := range t.Values {
			if !containsValue(out, v) {
				out = append(out, v)
			}
		}
		if out == nil {
			out = []any{}
		}
		return out
	case transformArrayRemove:
		out := []any{}
		for _, v := range asSlice(current) {
			if !containsValue(t.Values, v) {
				out = append(out, v)
			}
		}
		return out
	}
	return current
}

func containsValue(list []any, v any) bool {
	for _, el := range list {
		if equalValues(el, v) {
			return true
		}
	}
	return false
}

// resolve applies transforms found in fields against base and returns the
// merged document. base is not modified.
func resolve(base, fields map[string]any, now time.Time) map[string]any {
	out := cloneMap(base)
	for k, v := range fields {
		if t, ok := asTransform(v); ok {
			out[k] = t.apply(out[k], now)
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = cloneValue(el)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = el
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, el := range t {
			out[k] = el
		}
		return out
	}
	return v
}
