package schema

// Object builds an object schema.
func Object(properties map[string]Schema, required ...string) Schema {
	props := make(map[string]any, len(properties))
	for name, def := range properties {
		props[name] = def
	}
	s := Schema{
		"type":       TypeObject,
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = append([]string(nil), required...)
	}
	return s
}

// String defines a string property.
func String(description string) Schema {
	return property(TypeString, description)
}

// Integer defines an integer property.
func Integer(description string) Schema {
	return property(TypeInteger, description)
}

// Number defines a numeric property.
func Number(description string) Schema {
	return property(TypeNumber, description)
}

// Boolean defines a boolean property.
func Boolean(description string) Schema {
	return property(TypeBoolean, description)
}

// Array defines an array property whose elements match items.
func Array(description string, items Schema) Schema {
	s := property(TypeArray, description)
	if items != nil {
		s["items"] = items
	}
	return s
}

// WithEnum restricts the schema to the given values.
func (s Schema) WithEnum(values ...any) Schema {
	s["enum"] = values
	return s
}

// WithRange sets minimum and maximum. Nil bounds are left unset.
func (s Schema) WithRange(minimum, maximum *float64) Schema {
	if minimum != nil {
		s["minimum"] = *minimum
	}
	if maximum != nil {
		s["maximum"] = *maximum
	}
	return s
}

// WithLength sets minLength and maxLength. Negative values are left unset.
func (s Schema) WithLength(minLength, maxLength int) Schema {
	if minLength >= 0 {
		s["minLength"] = minLength
	}
	if maxLength >= 0 {
		s["maxLength"] = maxLength
	}
	return s
}

// WithPattern sets the regular expression a string must match.
func (s Schema) WithPattern(pattern string) Schema {
	s["pattern"] = pattern
	return s
}

// Float returns a pointer to f, for WithRange.
func Float(f float64) *float64 { return &f }

func property(typ, description string) Schema {
	s := Schema{"type": typ}
	if description != "" {
		s["description"] = description
	}
	return s
}
