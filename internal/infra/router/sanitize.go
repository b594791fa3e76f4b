package router

import "encoding/json"

// sanitizedKeys are dropped recursively from a tool's input schema
// before it is surfaced in discover results (spec §4.E "Schema
// sanitization").
var sanitizedKeys = map[string]struct{}{
	"title":                {},
	"examples":             {},
	"$schema":              {},
	"additionalProperties": {},
	"$id":                  {},
	"$comment":             {},
	"default":              {},
}

// SanitizeSchema recursively drops the keys listed in spec §4.E,
// recursing into "properties" values and "items", and retaining
// everything else verbatim. It is idempotent (spec §8 testable
// property #7: applying it twice equals applying it once).
func SanitizeSchema(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.Marshal(sanitizeValue(v))
	if err != nil {
		return raw
	}
	return out
}

func sanitizeValue(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		if arr, ok := v.([]any); ok {
			out := make([]any, len(arr))
			for i, item := range arr {
				out[i] = sanitizeValue(item)
			}
			return out
		}
		return v
	}

	out := make(map[string]any, len(m))
	for key, val := range m {
		if _, drop := sanitizedKeys[key]; drop {
			continue
		}
		switch key {
		case "properties":
			if props, ok := val.(map[string]any); ok {
				sanitizedProps := make(map[string]any, len(props))
				for pk, pv := range props {
					sanitizedProps[pk] = sanitizeValue(pv)
				}
				out[key] = sanitizedProps
				continue
			}
		case "items":
			out[key] = sanitizeValue(val)
			continue
		}
		out[key] = val
	}
	return out
}
