package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func searchSchema() Schema {
	return Object(map[string]Schema{
		"query": String("text").WithLength(1, 64),
		"limit": Integer("max results").WithRange(Float(1), Float(50)),
		"mode":  String("").WithEnum("fast", "deep"),
		"tags":  Array("", String("").WithPattern(`^[a-z]+$`)),
		"filter": Object(map[string]Schema{
			"lang": String(""),
		}, "lang"),
	}, "query")
}

func TestValidateAcceptsValidPayload(t *testing.T) {
	payload := map[string]any{
		"query":  "golang",
		"limit":  float64(10),
		"mode":   "deep",
		"tags":   []any{"go", "lang"},
		"filter": map[string]any{"lang": "en"},
	}
	require.NoError(t, Validate(searchSchema(), payload))
}

func TestValidateEmptySchemaAcceptsAnything(t *testing.T) {
	require.NoError(t, Validate(nil, nil))
	require.NoError(t, Validate(Schema{}, map[string]any{"x": 1}))
}

func TestValidateNilPayloadWithRequired(t *testing.T) {
	err := Validate(searchSchema(), nil)
	require.EqualError(t, err, "missing required field: query")
}

func TestValidateNilPayloadWithoutRequired(t *testing.T) {
	s := Object(map[string]Schema{"q": String("")})
	require.NoError(t, Validate(s, nil))
}

func TestValidateViolations(t *testing.T) {
	cases := []struct {
		name    string
		payload map[string]any
		want    string
	}{
		{
			name:    "type mismatch names field and type",
			payload: map[string]any{"query": "go", "limit": "ten"},
			want:    "field limit: expected integer but got string",
		},
		{
			name:    "non integral number",
			payload: map[string]any{"query": "go", "limit": 2.5},
			want:    "field limit: expected integer but got number",
		},
		{
			name:    "below minimum",
			payload: map[string]any{"query": "go", "limit": float64(0)},
			want:    "field limit: value 0 is less than minimum 1",
		},
		{
			name:    "above maximum",
			payload: map[string]any{"query": "go", "limit": 51},
			want:    "field limit: value 51 exceeds maximum 50",
		},
		{
			name:    "enum",
			payload: map[string]any{"query": "go", "mode": "slow"},
			want:    "field mode: expected one of [fast deep] but got slow",
		},
		{
			name:    "min length",
			payload: map[string]any{"query": ""},
			want:    "field query: length 0 is shorter than minLength 1",
		},
		{
			name:    "array item pattern",
			payload: map[string]any{"query": "go", "tags": []any{"ok", "Bad"}},
			want:    `field tags[1]: string "Bad" does not match pattern "^[a-z]+$"`,
		},
		{
			name:    "nested required",
			payload: map[string]any{"query": "go", "filter": map[string]any{}},
			want:    "missing required field: filter.lang",
		},
		{
			name:    "nested type",
			payload: map[string]any{"query": "go", "filter": "en"},
			want:    "field filter: expected object but got string",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(searchSchema(), tc.payload)
			require.Error(t, err)
			require.Equal(t, tc.want, err.Error())
		})
	}
}

func TestValidateIsDeterministic(t *testing.T) {
	payload := map[string]any{"query": 1, "limit": "x", "mode": 3}
	first := Validate(searchSchema(), payload)
	require.Error(t, first)
	for i := 0; i < 20; i++ {
		again := Validate(searchSchema(), payload)
		require.Equal(t, first.Error(), again.Error())
	}
}

func TestValidateJSONNumbers(t *testing.T) {
	s := Object(map[string]Schema{"n": Integer("").WithRange(Float(0), nil)})
	require.NoError(t, Validate(s, map[string]any{"n": json.Number("3")}))

	err := Validate(s, map[string]any{"n": json.Number("-1")})
	require.Error(t, err)
}

func TestValidateUnsupportedType(t *testing.T) {
	s := Schema{"type": "tuple"}
	err := Validate(s, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported schema type "tuple"`)
}

func TestValidateDecodedSchema(t *testing.T) {
	s, err := FromJSON([]byte(`{
		"type": "object",
		"properties": {
			"count": {"type": "integer", "minimum": 1},
			"names": {"type": "array", "items": {"type": "string", "maxLength": 3}}
		},
		"required": ["count"]
	}`))
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"count": 2, "names": ["abc"]}`), &payload))
	require.NoError(t, Validate(s, payload))

	require.NoError(t, json.Unmarshal([]byte(`{"count": 2, "names": ["abcd"]}`), &payload))
	require.EqualError(t, Validate(s, payload), "field names[0]: length 4 exceeds maxLength 3")
}

type units string

type window struct {
	From int `json:"from"`
	To   int `json:"to"`
}

func TestValidateGoTypedPayload(t *testing.T) {
	s := Object(map[string]Schema{
		"tags":   Array("", String("")),
		"labels": Object(map[string]Schema{"env": String("")}, "env"),
		"counts": Object(nil),
		"units":  String("").WithEnum("metric", "imperial"),
		"window": Object(map[string]Schema{"from": Integer(""), "to": Integer("")}, "from", "to"),
		"ids":    Array("", Integer("")),
	}, "tags")

	ok := map[string]any{
		"tags":   []string{"a", "b"},
		"labels": map[string]string{"env": "prod"},
		"counts": map[string]int{"x": 1},
		"units":  units("metric"),
		"window": &window{From: 1, To: 2},
		"ids":    [2]int64{4, 5},
	}
	require.NoError(t, Validate(s, ok))

	cases := []struct {
		name    string
		payload map[string]any
		want    string
	}{
		{"typed slice items", map[string]any{"tags": []int{1}}, "field tags[0]: expected string but got integer"},
		{"typed map missing key", map[string]any{"tags": []string{}, "labels": map[string]string{}}, "missing required field: labels.env"},
		{"named enum value", map[string]any{"tags": []string{}, "units": units("kelvin")}, "field units: expected one of [metric imperial] but got kelvin"},
		{"typed slice for object", map[string]any{"tags": []string{}, "counts": []string{"x"}}, "field counts: expected object but got array"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(s, tc.payload)
			require.Error(t, err)
			assert.Equal(t, tc.want, err.Error())
		})
	}
}

func TestValidateTypedSchemaContainers(t *testing.T) {
	s := Schema{
		"type": TypeObject,
		"properties": map[string]map[string]any{
			"a":     {"type": TypeString},
			"level": {"type": TypeInteger, "enum": []int{1, 2}},
		},
		"required": []any{"a"},
	}

	err := Validate(s, map[string]any{"a": 5})
	require.Error(t, err)
	assert.Equal(t, "field a: expected string but got integer", err.Error())

	err = Validate(s, map[string]any{"a": "x", "level": 9})
	require.Error(t, err)
	assert.Equal(t, "field level: expected one of [1 2] but got 9", err.Error())

	require.NoError(t, Validate(s, map[string]any{"a": "x", "level": 2}))
}
