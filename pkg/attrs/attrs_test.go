package attrs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExtractString(t *testing.T) {
	list := []any{"identifier", "id_a", "count", 3, "dangling"}

	assert.Equal(t, "id_a", ExtractString(list, "identifier"))
	assert.Empty(t, ExtractString(list, "count"), "non-string values are ignored")
	assert.Empty(t, ExtractString(list, "dangling"), "odd trailing key has no value")
}

func TestFirst(t *testing.T) {
	list := []any{"ip", "203.0.113.7", "identifier", ""}

	assert.Equal(t, "203.0.113.7", First(list, "identifier", "ip"))
	assert.Empty(t, First(list, "name"))
}

func TestStringMap(t *testing.T) {
	list := []any{
		"identifier", "id_a",
		"scope", "identifier",
		"retry_after_seconds", 60,
		"degraded", true,
		"ban", 5 * time.Minute,
		"payload", []byte("x"),
	}

	got := StringMap(list, "identifier")
	assert.Equal(t, map[string]string{
		"scope":               "identifier",
		"retry_after_seconds": "60",
		"degraded":            "true",
		"ban":                 "5m0s",
	}, got)
	assert.Nil(t, StringMap([]any{"identifier", "id_a"}, "identifier"))
}
