package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStrictValidatorAcceptsAndRejects(t *testing.T) {
	v := NewStrictValidator()
	s := Object(map[string]Schema{
		"query": String("").WithLength(1, 10),
		"limit": Integer("").WithRange(Float(1), Float(5)),
	}, "query")

	require.NoError(t, v.Validate(s, map[string]any{"query": "go", "limit": 3}))

	err := v.Validate(s, map[string]any{"query": "go", "limit": 9})
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "limit", ve.Field)

	err = v.Validate(s, nil)
	require.Error(t, err)
}

func TestStrictValidatorHonoursFullDialect(t *testing.T) {
	v := NewStrictValidator()
	s := Object(map[string]Schema{"a": String("")})
	s["additionalProperties"] = false

	require.NoError(t, v.Validate(s, map[string]any{"a": "x"}))
	require.Error(t, v.Validate(s, map[string]any{"a": "x", "b": 1}))

	// DefaultValidator ignores keywords outside its dialect.
	require.NoError(t, Validate(s, map[string]any{"a": "x", "b": 1}))
}

func TestStrictValidatorCachesCompiledSchemas(t *testing.T) {
	v := NewStrictValidator()
	s := Object(map[string]Schema{"a": String("")}, "a")

	for i := 0; i < 3; i++ {
		require.NoError(t, v.Validate(s, map[string]any{"a": "x"}))
	}
	require.Len(t, v.cache, 1)
}

func TestStrictValidatorEmptySchema(t *testing.T) {
	require.NoError(t, NewStrictValidator().Validate(nil, map[string]any{"x": 1}))
}
