// Package attrs reads slog-style key/value lists ([k1, v1, k2, v2, ...]) so
// one attribute list can feed both a log line and an audit record.
package attrs

import (
	"fmt"
	"time"
)

// ExtractString returns the string value for key, or "" when the key is
// missing or its value is not a string.
func ExtractString(attrs []any, key string) string {
	for i := 0; i < len(attrs)-1; i += 2 {
		if k, ok := attrs[i].(string); ok && k == key {
			if v, ok := attrs[i+1].(string); ok {
				return v
			}
		}
	}
	return ""
}

// First returns the first non-empty string value among keys, in order.
func First(attrs []any, keys ...string) string {
	for _, key := range keys {
		if v := ExtractString(attrs, key); v != "" {
			return v
		}
	}
	return ""
}

// StringMap renders every pair whose key is not in skip. Scalars are
// formatted; values of any other type are dropped. Returns nil when empty.
func StringMap(attrs []any, skip ...string) map[string]string {
	out := map[string]string{}
pairs:
	for i := 0; i < len(attrs)-1; i += 2 {
		k, ok := attrs[i].(string)
		if !ok {
			continue
		}
		for _, s := range skip {
			if k == s {
				continue pairs
			}
		}
		switch v := attrs[i+1].(type) {
		case string:
			out[k] = v
		case int, int32, int64, float64, bool:
			out[k] = fmt.Sprint(v)
		case time.Duration:
			out[k] = v.String()
		case fmt.Stringer:
			out[k] = v.String()
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
