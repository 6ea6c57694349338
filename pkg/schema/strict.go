package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// StrictValidator validates payloads with a complete JSON Schema
// implementation instead of the restricted dialect of DefaultValidator.
// Compiled schemas are cached by their canonical JSON encoding.
type StrictValidator struct {
	mu    sync.Mutex
	cache map[string]*jsonschema.Schema
}

// NewStrictValidator returns an empty validator.
func NewStrictValidator() *StrictValidator {
	return &StrictValidator{cache: make(map[string]*jsonschema.Schema)}
}

// Validate implements Validator.
func (v *StrictValidator) Validate(s Schema, payload map[string]any) error {
	if s.IsEmpty() {
		return nil
	}
	compiled, err := v.compile(s)
	if err != nil {
		return &ValidationError{Msg: fmt.Sprintf("invalid schema: %v", err)}
	}

	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return &ValidationError{Msg: fmt.Sprintf("payload is not JSON encodable: %v", err)}
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return &ValidationError{Msg: fmt.Sprintf("payload is not JSON encodable: %v", err)}
	}

	if err := compiled.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			leaf := ve
			for len(leaf.Causes) > 0 {
				leaf = leaf.Causes[0]
			}
			field := strings.ReplaceAll(strings.TrimPrefix(leaf.InstanceLocation, "/"), "/", ".")
			return &ValidationError{Field: field, Msg: leaf.Message}
		}
		return &ValidationError{Msg: err.Error()}
	}
	return nil
}

func (v *StrictValidator) compile(s Schema) (*jsonschema.Schema, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	key := string(data)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cache == nil {
		v.cache = make(map[string]*jsonschema.Schema)
	}
	if compiled, ok := v.cache[key]; ok {
		return compiled, nil
	}
	compiled, err := jsonschema.CompileString("capkit://tool/schema.json", key)
	if err != nil {
		return nil, err
	}
	v.cache[key] = compiled
	return compiled, nil
}
