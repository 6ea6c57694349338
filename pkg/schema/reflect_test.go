package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type weatherInput struct {
	City  string `json:"city" jsonschema_description:"City name."`
	Units string `json:"units,omitempty" jsonschema:"enum=metric,enum=imperial"`
	Days  int    `json:"days,omitempty"`
}

func TestReflectBuildsObjectSchema(t *testing.T) {
	s, err := Reflect[weatherInput]()
	require.NoError(t, err)

	require.Equal(t, TypeObject, s.Type())
	require.Equal(t, []string{"city", "days", "units"}, s.PropertyNames())
	require.Equal(t, []string{"city"}, s.Required())
	require.Equal(t, "City name.", s.Properties()["city"].Description())
	require.NotContains(t, s, "$schema")

	require.NoError(t, Validate(s, map[string]any{"city": "Oslo", "units": "metric"}))
	require.Error(t, Validate(s, map[string]any{"city": "Oslo", "units": "kelvin"}))
	require.Error(t, Validate(s, map[string]any{"units": "metric"}))
}
