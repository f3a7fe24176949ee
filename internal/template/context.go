package template

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"
)

var errTrailingData = errors.New("trailing data after JSON value")

// Normalize converts decoded webhook input into the template context shape:
// nil, bool, number, string, []any or map[string]any.
// Query strings and form bodies arrive as url.Values; single-valued keys
// become strings and repeated keys become sequences.
func Normalize(v any) any {
	switch t := v.(type) {
	case url.Values:
		out := make(map[string]any, len(t))
		for k, vals := range t {
			switch len(vals) {
			case 0:
				out[k] = ""
			case 1:
				out[k] = vals[0]
			default:
				list := make([]any, len(vals))
				for i, s := range vals {
					list[i] = s
				}
				out[k] = list
			}
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case map[string]any:
		for k, item := range t {
			t[k] = Normalize(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = Normalize(item)
		}
		return t
	}
	return v
}

// DecodePayload turns a raw request body into a template context. JSON is
// decoded with numbers kept exact (json.Number) so long chat ids survive;
// anything else is passed through as a string.
func DecodePayload(raw string) (any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return raw, nil
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return raw, err
	}
	if dec.More() {
		return raw, errTrailingData
	}
	return v, nil
}
