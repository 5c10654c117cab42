package formula

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_JSON(t *testing.T) {
	testCases := []struct {
		name    string
		value   Value
		encoded string
	}{
		{name: "Int", value: IntValue(3), encoded: `3`},
		{name: "Float", value: FloatValue(2.5), encoded: `2.5`},
		{name: "Whole float", value: FloatValue(2), encoded: `2.0`},
		{name: "String", value: StringValue("Aria"), encoded: `"Aria"`},
		{name: "Bool", value: BoolValue(true), encoded: `true`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.value)
			require.NoError(t, err)
			assert.Equal(t, tc.encoded, string(data))

			var decoded Value
			require.NoError(t, json.Unmarshal(data, &decoded))
			assert.True(t, tc.value.Equal(decoded), "decoded %s(%v)", decoded.Kind(), decoded)
		})
	}
}

func TestValue_JSONInMap(t *testing.T) {
	var fields map[string]Value
	require.NoError(t, json.Unmarshal([]byte(`{"str": 14, "ratio": 0.5, "name": "x.y", "dead": false}`), &fields))

	assert.Equal(t, KindInt, fields["str"].Kind())
	assert.Equal(t, KindFloat, fields["ratio"].Kind())
	assert.Equal(t, "x.y", fields["name"].Str())
	assert.Equal(t, KindBool, fields["dead"].Kind())
}

func TestValue_NonFiniteCannotBeEncoded(t *testing.T) {
	_, err := json.Marshal(FloatValue(posInf()))
	assert.Error(t, err)
}

func posInf() float64 {
	zero := 0.0
	return 1 / zero
}

func TestValueOf(t *testing.T) {
	v, err := ValueOf(json.Number("12"))
	require.NoError(t, err)
	assert.True(t, IntValue(12).Equal(v))

	v, err = ValueOf(json.Number("1.25"))
	require.NoError(t, err)
	assert.True(t, FloatValue(1.25).Equal(v))

	v, err = ValueOf(7)
	require.NoError(t, err)
	assert.True(t, IntValue(7).Equal(v))

	_, err = ValueOf([]int{1})
	assert.Error(t, err)
}

func TestFromMap(t *testing.T) {
	r, err := FromMap(map[string]any{"str": 14.0, "name": "Aria"})
	require.NoError(t, err)

	v, ok := r.Resolve("str")
	require.True(t, ok)
	assert.Equal(t, 14.0, v.Float())

	_, ok = r.Resolve("dex")
	assert.False(t, ok)

	_, err = FromMap(map[string]any{"bad": struct{}{}})
	assert.Error(t, err)
}

func TestValue_Conversions(t *testing.T) {
	assert.Equal(t, 1.0, BoolValue(true).Float())
	assert.Equal(t, 2.5, StringValue("2.5").Float())
	assert.Equal(t, 0.0, StringValue("abc").Float())
	assert.Equal(t, "3.5", FloatValue(3.5).Str())
	assert.True(t, StringValue("x").Truthy())
	assert.False(t, IntValue(0).Truthy())
	assert.False(t, IntValue(1).Equal(FloatValue(1)))
}
