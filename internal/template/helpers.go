package template

import (
	"encoding/json"
	"reflect"

	"github.com/aymerick/raymond"
)

func comparisonHelpers() map[string]any {
	return map[string]any{
		"if_equals": func(a, b any, options *raymond.Options) any {
			if strictEqual(a, b) {
				return options.Fn()
			}
			return options.Inverse()
		},
		"if_not_equals": func(a, b any, options *raymond.Options) any {
			if !strictEqual(a, b) {
				return options.Fn()
			}
			return options.Inverse()
		},
		"if_exist": func(key any, options *raymond.Options) any {
			if hasOwnKey(options.Ctx(), raymond.Str(key)) {
				return options.Fn()
			}
			return options.Inverse()
		},
	}
}

// truthy follows Handlebars truthiness; exact JSON numbers are falsy when zero.
func truthy(v any) bool {
	if n, ok := v.(json.Number); ok {
		f, err := n.Float64()
		return err != nil || f != 0
	}
	return raymond.IsTrue(v)
}

// strictEqual compares like === over template values: numbers by value
// whatever their Go type, strings and booleans by value, maps and sequences
// by identity, and nil only equals nil.
func strictEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toNumber(a); ok {
		fb, ok := toNumber(b)
		return ok && fa == fb
	}
	if _, ok := toNumber(b); ok {
		return false
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}

	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Map, reflect.Pointer, reflect.Func, reflect.Chan:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	}
	if va.Type().Comparable() {
		return a == b
	}
	return false
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	}
	return 0, false
}

// hasOwnKey reports whether ctx is a map holding key. Only the map's own
// entries count; nothing is looked up through parent contexts.
func hasOwnKey(ctx any, key string) bool {
	switch m := ctx.(type) {
	case map[string]any:
		_, ok := m[key]
		return ok
	case nil:
		return false
	}
	rv := reflect.ValueOf(ctx)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return false
	}
	return rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key())).IsValid()
}

// asList returns v as a sequence; a single value becomes a one-item list.
func asList(v any) []any {
	switch l := v.(type) {
	case nil:
		return nil
	case []any:
		return l
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}
	return []any{v}
}
