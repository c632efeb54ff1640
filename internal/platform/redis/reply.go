package redis

import (
	"fmt"
	"strconv"
)

// ScriptReply reads positional values from a Lua table reply.
type ScriptReply []any

// AsScriptReply checks that v is a table reply with at least n entries.
func AsScriptReply(v any, n int) (ScriptReply, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected script reply %T", v)
	}
	if len(arr) < n {
		return nil, fmt.Errorf("script reply has %d values, want %d", len(arr), n)
	}
	return ScriptReply(arr), nil
}

// Int returns entry i as an int64. Lua numbers arrive as integers, bulk
// strings are parsed, and nil reads as zero.
func (r ScriptReply) Int(i int) int64 {
	switch v := r[i].(type) {
	case int64:
		return v
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

// String returns entry i as a string. nil reads as empty.
func (r ScriptReply) String(i int) string {
	switch v := r[i].(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}
