package record

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Number converts a loosely-typed wire value to float64. It accepts the
// numeric types JSON decoding and hand-built fixtures produce; strings and
// booleans are rejected.
func Number(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case json.Number:
		parsed, err := typed.Float64()
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// WholeNumber converts a wire value to int64, accepting only integral
// numbers. Fractional floats are rejected; decoded JSON integers arrive as
// float64 and pass.
func WholeNumber(value any) (int64, bool) {
	parsed, ok := Number(value)
	if !ok {
		return 0, false
	}
	truncated := int64(parsed)
	if float64(truncated) != parsed {
		return 0, false
	}
	return truncated, true
}

// StringValue extracts a trimmed string from a wire value.
func StringValue(value any) (string, bool) {
	typed, ok := value.(string)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(typed), true
}

// MapValue extracts a nested wire map.
func MapValue(value any) (map[string]any, bool) {
	typed, ok := value.(map[string]any)
	return typed, ok
}

// CoerceInt converts loosely-typed values including decimal strings to int,
// for metadata fields that tolerate sloppy producers.
func CoerceInt(value any) (int, bool) {
	if parsed, ok := WholeNumber(value); ok {
		return int(parsed), true
	}
	typed, ok := value.(string)
	if !ok {
		return 0, false
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(typed))
	if err != nil {
		return 0, false
	}
	return parsed, true
}
