package jsonvalue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalSortsKeysAndIsCompact(t *testing.T) {
	v := MustParse(`{ "tool_name": "echo", "payload": {"b": 2, "a": [1, true, null, "x"]} }`)
	assert.Equal(t, `{"payload":{"a":[1,true,null,"x"],"b":2},"tool_name":"echo"}`, string(v.Canonical()))
}

func TestCanonicalIgnoresInputKeyOrder(t *testing.T) {
	a := MustParse(`{"a":1,"b":{"y":"2","x":"1"}}`)
	b := MustParse(`{"b":{"x":"1","y":"2"},"a":1}`)
	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Canonical(), b.Canonical())
}

func TestCanonicalDoesNotEscapeHTML(t *testing.T) {
	v := Object(map[string]Value{"q": String("<a&b>")})
	assert.Equal(t, `{"q":"<a&b>"}`, v.String())
}

func TestNumbersKeepLiteralText(t *testing.T) {
	v := MustParse(`{"n": 1.50, "i": 10}`)
	n, ok := v.Get("n")
	require.True(t, ok)
	f, ok := n.AsFloat()
	require.True(t, ok)
	assert.Equal(t, 1.5, f)
	assert.Equal(t, `{"i":10,"n":1.50}`, v.String())
}

func TestFromGoValues(t *testing.T) {
	v, err := From(map[string]any{"echo": map[string]any{"msg": "hi"}})
	require.NoError(t, err)
	assert.Equal(t, KindObject, v.Kind())
	assert.Equal(t, `{"echo":{"msg":"hi"}}`, v.String())
}

func TestJSONRoundTripThroughStruct(t *testing.T) {
	type envelope struct {
		RequestID string `json:"request_id"`
		Result    Value  `json:"result"`
	}
	in := envelope{RequestID: "r1", Result: Object(map[string]Value{"echo": Int(1)})}
	raw, err := json.Marshal(in)
	require.NoError(t, err)

	var out envelope
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "r1", out.RequestID)
	assert.True(t, in.Result.Equal(out.Result))
}

func TestParseRejectsTrailingData(t *testing.T) {
	_, err := Parse([]byte(`{"a":1} {"b":2}`))
	assert.Error(t, err)
}

func TestFloatPanicsOnNaN(t *testing.T) {
	assert.Panics(t, func() {
		zero := 0.0
		Float(zero / zero)
	})
}
