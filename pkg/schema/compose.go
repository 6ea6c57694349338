package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrConflict is matched by every *ConflictError.
var ErrConflict = errors.New("schema extension conflict")

// ConflictError lists every property declared by both the base schema and the
// extension.
type ConflictError struct {
	Properties []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("schema extension conflicts with base properties: %s", strings.Join(e.Properties, ", "))
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Compose merges ext into base. ext contributes extra properties and required
// names; every other keyword of base passes through untouched. A property name
// present in both is a conflict whether or not the definitions differ, and all
// conflicts are reported together. A nil or empty ext returns a copy of base.
func Compose(base, ext Schema) (Schema, error) {
	if ext.IsEmpty() {
		return base.Clone(), nil
	}

	out := base.Clone()
	if out.IsEmpty() {
		out = Schema{"type": TypeObject}
	}

	baseProps := out.Properties()
	extProps := ext.Properties()

	var conflicts []string
	for name := range extProps {
		if _, exists := baseProps[name]; exists {
			conflicts = append(conflicts, name)
		}
	}
	if len(conflicts) > 0 {
		sort.Strings(conflicts)
		return nil, &ConflictError{Properties: conflicts}
	}

	props := make(map[string]any, len(baseProps)+len(extProps))
	for name, def := range baseProps {
		props[name] = def
	}
	for name, def := range extProps {
		props[name] = def.Clone()
	}
	out["properties"] = props

	required := out.Required()
	seen := make(map[string]struct{}, len(required))
	for _, name := range required {
		seen[name] = struct{}{}
	}
	for _, name := range ext.Required() {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		required = append(required, name)
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out, nil
}
