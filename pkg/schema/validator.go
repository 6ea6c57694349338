package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"sync"
	"unicode/utf8"
)

// Validator validates tool payloads before execution. A nil error means the
// payload is acceptable; otherwise the error message is suitable for showing
// to whoever produced the payload.
type Validator interface {
	Validate(s Schema, payload map[string]any) error
}

// ValidationError describes the first violation found.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("field %s: %s", e.Field, e.Msg)
}

// Validate checks payload against s with the DefaultValidator.
func Validate(s Schema, payload map[string]any) error {
	return DefaultValidator{}.Validate(s, payload)
}

// DefaultValidator implements the subset of JSON Schema tools rely on: type,
// properties/required, items, enum, minimum/maximum, minLength/maxLength and
// pattern. Object properties are visited in sorted order so a payload with
// several violations always reports the same one.
type DefaultValidator struct{}

// Validate ensures that payload satisfies s. An empty schema accepts anything
// and a nil payload is treated as an empty object. Go typed values in the
// payload ([]string, map[string]int, structs, named scalars) are checked as
// the JSON values they encode to.
func (v DefaultValidator) Validate(s Schema, payload map[string]any) error {
	if s.IsEmpty() {
		return nil
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return v.validateValue(plain(payload), s, "")
}

// plain converts value into the shapes encoding/json decodes to: string keyed
// maps become map[string]any, slices and arrays []any, pointers are followed
// and named scalar types reduce to their basic kind. Structs and other
// marshalable values take a JSON round trip.
func plain(value any) any {
	switch v := value.(type) {
	case nil, string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = plain(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = plain(item)
		}
		return out
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return plain(rv.Elem().Interface())
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return roundTrip(value)
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = plain(iter.Value().Interface())
		}
		return out
	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return roundTrip(value)
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = plain(rv.Index(i).Interface())
		}
		return out
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return roundTrip(value)
}

// roundTrip encodes value and decodes it back. Values that cannot be encoded
// are returned unchanged and fail type checks by kind.
func roundTrip(value any) any {
	data, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return value
	}
	return out
}

func (v DefaultValidator) validateValue(value any, s Schema, path string) error {
	if s.IsEmpty() {
		return nil
	}

	expectedType := s.Type()
	if expectedType == "" {
		switch {
		case s["items"] != nil:
			expectedType = TypeArray
		case s["properties"] != nil || s["required"] != nil:
			expectedType = TypeObject
		}
	}

	if expectedType != "" {
		if err := validateType(value, expectedType); err != nil {
			return fieldError(path, err.Error())
		}
	}

	if enum := s.Enum(); len(enum) > 0 && !valueInEnum(value, enum) {
		return fieldError(path, fmt.Sprintf("expected one of %v but got %v", enum, value))
	}

	if err := validateString(value, s, path); err != nil {
		return err
	}
	if err := validateRange(value, s, path); err != nil {
		return err
	}

	switch expectedType {
	case TypeObject:
		obj, ok := value.(map[string]any)
		if !ok {
			return fieldError(path, fmt.Sprintf("expected object but got %s", typeName(value)))
		}
		for _, field := range s.Required() {
			if _, exists := obj[field]; !exists {
				return &ValidationError{Msg: fmt.Sprintf("missing required field: %s", joinPath(path, field))}
			}
		}
		props := s.Properties()
		keys := make([]string, 0, len(obj))
		for key := range obj {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			child, ok := props[key]
			if !ok {
				continue
			}
			if err := v.validateValue(obj[key], child, joinPath(path, key)); err != nil {
				return err
			}
		}
	case TypeArray:
		items, ok := s.Items()
		if !ok {
			return nil
		}
		arr, _ := value.([]any)
		for idx, item := range arr {
			if err := v.validateValue(item, items, indexPath(path, idx)); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateString(value any, s Schema, path string) error {
	minLength, hasMin := intKeyword(s, "minLength")
	maxLength, hasMax := intKeyword(s, "maxLength")
	pattern, _ := s["pattern"].(string)
	if !hasMin && !hasMax && pattern == "" {
		return nil
	}
	str, ok := value.(string)
	if !ok {
		return fieldError(path, fmt.Sprintf("expected string but got %s", typeName(value)))
	}
	length := utf8.RuneCountInString(str)
	if hasMin && length < minLength {
		return fieldError(path, fmt.Sprintf("length %d is shorter than minLength %d", length, minLength))
	}
	if hasMax && length > maxLength {
		return fieldError(path, fmt.Sprintf("length %d exceeds maxLength %d", length, maxLength))
	}
	if pattern != "" {
		re, err := compilePattern(pattern)
		if err != nil {
			return fieldError(path, fmt.Sprintf("invalid pattern %q: %v", pattern, err))
		}
		if !re.MatchString(str) {
			return fieldError(path, fmt.Sprintf("string %q does not match pattern %q", str, pattern))
		}
	}
	return nil
}

func validateRange(value any, s Schema, path string) error {
	minimum, hasMin := toFloat64(s["minimum"])
	maximum, hasMax := toFloat64(s["maximum"])
	if !hasMin && !hasMax {
		return nil
	}
	num, ok := toFloat64(value)
	if !ok {
		return fieldError(path, fmt.Sprintf("expected number but got %s", typeName(value)))
	}
	if hasMin && num < minimum {
		return fieldError(path, fmt.Sprintf("value %v is less than minimum %v", num, minimum))
	}
	if hasMax && num > maximum {
		return fieldError(path, fmt.Sprintf("value %v exceeds maximum %v", num, maximum))
	}
	return nil
}

var patternCache sync.Map

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if cached, ok := patternCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	patternCache.Store(pattern, re)
	return re, nil
}

func intKeyword(s Schema, key string) (int, bool) {
	raw, ok := s[key]
	if !ok || raw == nil {
		return 0, false
	}
	f, ok := toFloat64(raw)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func toFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func valueInEnum(value any, values []any) bool {
	for _, candidate := range values {
		if enumEqual(value, plain(candidate)) {
			return true
		}
	}
	return false
}

func enumEqual(a, b any) bool {
	if aNum, ok := toFloat64(a); ok {
		if bNum, ok := toFloat64(b); ok {
			return aNum == bNum
		}
	}
	return reflect.DeepEqual(a, b)
}

func joinPath(base, field string) string {
	if base == "" {
		return field
	}
	return base + "." + field
}

func indexPath(base string, idx int) string {
	if base == "" {
		return fmt.Sprintf("[%d]", idx)
	}
	return fmt.Sprintf("%s[%d]", base, idx)
}

func fieldError(path, msg string) error {
	return &ValidationError{Field: path, Msg: msg}
}

func validateType(value any, expected string) error {
	switch expected {
	case TypeString:
		if _, ok := value.(string); ok {
			return nil
		}
	case TypeNumber:
		if isNumber(value) {
			return nil
		}
	case TypeInteger:
		if isInteger(value) {
			return nil
		}
	case TypeBoolean:
		if _, ok := value.(bool); ok {
			return nil
		}
	case TypeObject:
		if _, ok := value.(map[string]any); ok {
			return nil
		}
	case TypeArray:
		if _, ok := value.([]any); ok {
			return nil
		}
	case TypeNull:
		if value == nil {
			return nil
		}
	default:
		return fmt.Errorf("unsupported schema type %q", expected)
	}
	return fmt.Errorf("expected %s but got %s", expected, typeName(value))
}

func isNumber(value any) bool {
	switch v := value.(type) {
	case float32, float64:
		return true
	case int, int8, int16, int32, int64:
		return true
	case uint, uint8, uint16, uint32, uint64:
		return true
	case json.Number:
		_, err := v.Float64()
		return err == nil
	}
	return false
}

func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64:
		return true
	case uint, uint8, uint16, uint32, uint64:
		return true
	case float32:
		return math.Trunc(float64(v)) == float64(v)
	case float64:
		return math.Trunc(v) == v
	case json.Number:
		_, err := v.Int64()
		return err == nil
	}
	return false
}

// typeName reports the JSON type of a decoded value.
func typeName(value any) string {
	switch {
	case value == nil:
		return TypeNull
	case isInteger(value):
		if _, ok := value.(float64); ok {
			return TypeNumber
		}
		return TypeInteger
	case isNumber(value):
		return TypeNumber
	}
	switch value.(type) {
	case string:
		return TypeString
	case bool:
		return TypeBoolean
	case map[string]any:
		return TypeObject
	case []any:
		return TypeArray
	}
	return "unsupported " + reflect.TypeOf(value).Kind().String()
}
