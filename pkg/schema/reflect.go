package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Reflect derives an object schema from the exported fields of T. Field
// descriptions come from `jsonschema_description` tags; fields without
// `omitempty` are required.
func Reflect[T any]() (Schema, error) {
	r := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	var zero T
	reflected := r.Reflect(&zero)

	data, err := json.Marshal(reflected)
	if err != nil {
		return nil, fmt.Errorf("marshal reflected schema: %w", err)
	}
	s, err := FromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("decode reflected schema: %w", err)
	}
	delete(s, "$schema")
	delete(s, "$id")
	return s, nil
}
