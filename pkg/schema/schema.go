// Package schema holds the parameter schema documents used by tools, the
// composer that merges a tool's base schema with a registration extension, and
// the validators that gate payloads before a tool is invoked.
package schema

import (
	"encoding/json"
	"reflect"
	"sort"
)

// JSON Schema type names understood by the validators.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
	TypeNull    = "null"
)

// Schema is a JSON-schema-like document. Keys are JSON Schema keywords; nested
// schemas (properties, items) may be stored either as Schema or as the plain
// map[string]any produced by decoding JSON or YAML.
type Schema map[string]any

// FromJSON decodes a schema document.
func FromJSON(data []byte) (Schema, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return s, nil
}

// FromAny converts an arbitrary schema value (a struct from another SDK, a
// decoded map, raw JSON) into a Schema via a JSON round trip.
func FromAny(raw any) (Schema, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case Schema:
		return v.Clone(), nil
	case map[string]any:
		return Schema(v).Clone(), nil
	case json.RawMessage:
		return FromJSON(v)
	case []byte:
		return FromJSON(v)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	s, err := FromJSON(data)
	if err != nil {
		return nil, err
	}
	return s.compact(), nil
}

// IsEmpty reports whether the schema declares nothing.
func (s Schema) IsEmpty() bool { return len(s) == 0 }

// Type returns the declared type keyword, if any.
func (s Schema) Type() string {
	t, _ := s["type"].(string)
	return t
}

// Description returns the description keyword, if any.
func (s Schema) Description() string {
	d, _ := s["description"].(string)
	return d
}

// Properties returns the property sub-schemas. Entries that are not schema
// documents are skipped.
func (s Schema) Properties() map[string]Schema {
	raw, ok := s["properties"]
	if !ok || raw == nil {
		return nil
	}
	out := map[string]Schema{}
	if props, ok := raw.(map[string]Schema); ok {
		for name, child := range props {
			out[name] = child
		}
		return out
	}
	props, _ := asMap(raw)
	for name, def := range props {
		if child, ok := AsSchema(def); ok {
			out[name] = child
		}
	}
	return out
}

// PropertyNames returns the declared property names in sorted order.
func (s Schema) PropertyNames() []string {
	props := s.Properties()
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Required returns the required property names in declaration order.
func (s Schema) Required() []string {
	return stringSlice(s["required"])
}

// Items returns the array item schema.
func (s Schema) Items() (Schema, bool) {
	raw, ok := s["items"]
	if !ok || raw == nil {
		return nil, false
	}
	return AsSchema(raw)
}

// Enum returns the allowed values.
func (s Schema) Enum() []any {
	values, _ := asSlice(s["enum"])
	return values
}

// Clone returns a deep copy.
func (s Schema) Clone() Schema {
	if s == nil {
		return nil
	}
	return cloneValue(map[string]any(s)).(map[string]any)
}

// Without returns a copy with the named properties removed from both
// properties and required.
func (s Schema) Without(names ...string) Schema {
	out := s.Clone()
	if len(names) == 0 || out == nil {
		return out
	}
	drop := make(map[string]struct{}, len(names))
	for _, name := range names {
		drop[name] = struct{}{}
	}
	if props, ok := out["properties"].(map[string]any); ok {
		for name := range drop {
			delete(props, name)
		}
	}
	if required := out.Required(); len(required) > 0 {
		kept := make([]string, 0, len(required))
		for _, name := range required {
			if _, ok := drop[name]; !ok {
				kept = append(kept, name)
			}
		}
		if len(kept) == 0 {
			delete(out, "required")
		} else {
			out["required"] = kept
		}
	}
	return out
}

// AsSchema interprets a nested schema definition. Any map keyed by strings
// qualifies; maps other than Schema and map[string]any are copied.
func AsSchema(def any) (Schema, bool) {
	if v, ok := def.(Schema); ok {
		return v, true
	}
	m, ok := asMap(def)
	if !ok {
		return nil, false
	}
	return Schema(m), true
}

// asMap views raw as map[string]any, converting other string keyed maps.
func asMap(raw any) (map[string]any, bool) {
	switch v := raw.(type) {
	case nil:
		return nil, false
	case map[string]any:
		return v, true
	case Schema:
		return v, true
	}
	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	m, _ := cloneValue(raw).(map[string]any)
	return m, m != nil
}

// asSlice views raw as []any, converting other slices and arrays.
func asSlice(raw any) ([]any, bool) {
	switch v := raw.(type) {
	case nil:
		return nil, false
	case []any:
		return v, true
	}
	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, true
	}
	return nil, false
}

// compact removes keys whose values are null, empty strings or empty
// collections. Schemas converted from structs without omitempty tags carry
// those and they would otherwise read as constraints.
func (s Schema) compact() Schema {
	for key, value := range s {
		switch v := value.(type) {
		case nil:
			delete(s, key)
		case string:
			if v == "" {
				delete(s, key)
			}
		case []any:
			if len(v) == 0 {
				delete(s, key)
			}
		case map[string]any:
			if len(v) == 0 && key != "properties" {
				delete(s, key)
			}
			if key == "items" {
				Schema(v).compact()
			}
		}
	}
	return s
}

func stringSlice(raw any) []string {
	if v, ok := raw.([]string); ok {
		out := make([]string, len(v))
		copy(out, v)
		return out
	}
	items, ok := asSlice(raw)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if str, ok := item.(string); ok {
			out = append(out, str)
		}
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Schema:
		return cloneValue(map[string]any(val))
	case map[string]any:
		dup := make(map[string]any, len(val))
		for k, inner := range val {
			dup[k] = cloneValue(inner)
		}
		return dup
	case map[string]Schema:
		dup := make(map[string]any, len(val))
		for k, inner := range val {
			dup[k] = cloneValue(inner)
		}
		return dup
	case []any:
		dup := make([]any, len(val))
		for i, inner := range val {
			dup[i] = cloneValue(inner)
		}
		return dup
	case []string:
		dup := make([]string, len(val))
		copy(dup, val)
		return dup
	case nil, []byte:
		return v
	}
	// Other string keyed maps and slices are stored in their decoded shape
	// so every accessor sees them.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		dup := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			dup[iter.Key().String()] = cloneValue(iter.Value().Interface())
		}
		return dup
	case reflect.Slice, reflect.Array:
		dup := make([]any, rv.Len())
		for i := range dup {
			dup[i] = cloneValue(rv.Index(i).Interface())
		}
		return dup
	}
	return v
}
