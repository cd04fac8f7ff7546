package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "****", MaskSecret("abcd"))
	assert.Equal(t, "sk_live_****efgh", MaskSecret("sk_live_abcdefgh"))
}

func TestMaskJSONOnlyTouchesSensitiveKeys(t *testing.T) {
	out := MaskJSON(map[string]any{
		"tool":    "echo",
		"api_key": "key_123456789",
		"nested":  map[string]any{"Password": "hunter22", "count": 3},
		"tokens":  []any{"abcdefgh"},
		" ":       "dropped",
		"payload": []any{"visible"},
	})

	assert.Equal(t, "echo", out["tool"])
	assert.Equal(t, "key_****6789", out["api_key"])
	assert.Equal(t, map[string]any{"Password": "****er22", "count": 3}, out["nested"])
	assert.Equal(t, []any{"****efgh"}, out["tokens"])
	assert.Equal(t, []any{"visible"}, out["payload"])
	assert.NotContains(t, out, " ")

	assert.Nil(t, MaskJSON(nil))
}
