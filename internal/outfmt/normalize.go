package outfmt

import (
	"encoding/json"
	"reflect"
)

// normalizeJSONOutput wraps slice output in an {"items": ...} envelope so
// --query expressions have a stable root. Byte slices and raw JSON pass
// through untouched.
func normalizeJSONOutput(v any) any {
	if v == nil {
		return v
	}
	switch v.(type) {
	case []byte, json.RawMessage:
		return v
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return v
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return v
		}
		items := rv.Interface()
		// A nil slice serializes as null, which breaks jq's .items[].
		// Coerce to an empty slice so the envelope is always "items": [].
		if rv.IsNil() {
			items = []any{}
		}
		return map[string]any{"items": items}
	default:
		return v
	}
}
