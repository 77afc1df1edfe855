// Package schema is the validation engine for caller-defined custom events:
// a declarative property schema plus a validator returning a discriminated
// result rather than using errors for control flow.
package schema

import (
	"fmt"
	"regexp"
)

// FieldType constrains the Go representation of a property value.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeNumber FieldType = "number"
	TypeBool   FieldType = "bool"
	TypeObject FieldType = "object"
	TypeArray  FieldType = "array"
	TypeAny    FieldType = "any"
)

// Field declares validation rules for a single property.
type Field struct {
	Type     FieldType
	Required bool

	// String constraints
	MinLen  int
	MaxLen  int
	Pattern string
	Enum    []string

	// Number constraints
	Min *float64
	Max *float64
}

// Schema describes the expected shape of a custom event's properties.
type Schema struct {
	Fields map[string]Field

	// AllowUnknown permits properties the schema doesn't declare.
	AllowUnknown bool
}

// Result is the discriminated outcome of validation: either Valid, or a
// collection of field errors.
type Result struct {
	Valid  bool
	Errors *Errors
}

// Err returns the collected field errors as an error, or nil when valid.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return r.Errors.ToError()
}

// Validate checks props against the schema and returns a Result. It never
// mutates props.
func (s *Schema) Validate(props map[string]any) Result {
	errs := &Errors{}

	for name, field := range s.Fields {
		value, present := props[name]
		if !present || value == nil {
			if field.Required {
				errs.Add(FieldError{
					Field:   name,
					Message: "required property is missing",
					Type:    ErrorTypeRequired,
				})
			}
			continue
		}
		validateField(name, field, value, errs)
	}

	if !s.AllowUnknown {
		for name := range props {
			if _, declared := s.Fields[name]; !declared {
				errs.Add(FieldError{
					Field:   name,
					Message: "property is not declared in the schema",
					Type:    ErrorTypeUnknownField,
				})
			}
		}
	}

	if errs.HasErrors() {
		return Result{Valid: false, Errors: errs}
	}
	return Result{Valid: true}
}

func validateField(name string, field Field, value any, errs *Errors) {
	switch field.Type {
	case TypeString:
		str, ok := value.(string)
		if !ok {
			addTypeError(errs, name, field.Type, value)
			return
		}
		if field.MinLen > 0 && len(str) < field.MinLen {
			errs.Add(FieldError{
				Field:      name,
				Message:    fmt.Sprintf("length %d is below minimum", len(str)),
				Type:       ErrorTypeMinLength,
				Value:      str,
				Constraint: field.MinLen,
			})
		}
		if field.MaxLen > 0 && len(str) > field.MaxLen {
			errs.Add(FieldError{
				Field:      name,
				Message:    fmt.Sprintf("length %d exceeds maximum", len(str)),
				Type:       ErrorTypeMaxLength,
				Value:      str,
				Constraint: field.MaxLen,
			})
		}
		if field.Pattern != "" {
			re, err := regexp.Compile(field.Pattern)
			if err != nil || !re.MatchString(str) {
				errs.Add(FieldError{
					Field:      name,
					Message:    "value does not match pattern",
					Type:       ErrorTypePattern,
					Value:      str,
					Constraint: field.Pattern,
				})
			}
		}
		if len(field.Enum) > 0 && !containsString(field.Enum, str) {
			errs.Add(FieldError{
				Field:      name,
				Message:    "value is not one of the allowed values",
				Type:       ErrorTypeEnum,
				Value:      str,
				Constraint: field.Enum,
			})
		}

	case TypeNumber:
		num, ok := toFloat(value)
		if !ok {
			addTypeError(errs, name, field.Type, value)
			return
		}
		if field.Min != nil && num < *field.Min {
			errs.Add(FieldError{
				Field:      name,
				Message:    "value is below minimum",
				Type:       ErrorTypeMin,
				Value:      num,
				Constraint: *field.Min,
			})
		}
		if field.Max != nil && num > *field.Max {
			errs.Add(FieldError{
				Field:      name,
				Message:    "value exceeds maximum",
				Type:       ErrorTypeMax,
				Value:      num,
				Constraint: *field.Max,
			})
		}

	case TypeBool:
		if _, ok := value.(bool); !ok {
			addTypeError(errs, name, field.Type, value)
		}

	case TypeObject:
		if _, ok := value.(map[string]any); !ok {
			addTypeError(errs, name, field.Type, value)
		}

	case TypeArray:
		if _, ok := value.([]any); !ok {
			addTypeError(errs, name, field.Type, value)
		}

	case TypeAny, "":
		// No constraint
	}
}

func addTypeError(errs *Errors, name string, want FieldType, value any) {
	errs.Add(FieldError{
		Field:      name,
		Message:    fmt.Sprintf("expected %s, got %T", want, value),
		Type:       ErrorTypeType,
		Value:      value,
		Constraint: want,
	})
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
