package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// ErrValidation is wrapped by every rule violation.
var ErrValidation = errors.New("validation failed")

// Validator checks struct fields against their `validate` tags.
//
// Supported rules: required, gt, gte, lt, lte and oneof (space separated).
// Numeric rules apply to int, uint and float fields and to pointers to them;
// a nil pointer is only checked by required.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a struct
func (v *Validator) Validate(s interface{}) error {
	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return fmt.Errorf("validate expects a struct, got %s", val.Kind())
	}

	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		tag := fieldType.Tag.Get("validate")

		if tag == "" {
			continue
		}

		if err := v.validateField(field, tag); err != nil {
			return fmt.Errorf("%w: %s %v", ErrValidation, fieldName(fieldType), err)
		}
	}

	return nil
}

func fieldName(f reflect.StructField) string {
	if tag := f.Tag.Get("json"); tag != "" {
		if name := strings.Split(tag, ",")[0]; name != "" && name != "-" {
			return name
		}
	}
	return f.Name
}

// validateField validates a single field
func (v *Validator) validateField(field reflect.Value, tag string) error {
	rules := strings.Split(tag, ",")

	for _, rule := range rules {
		parts := strings.SplitN(rule, "=", 2)
		ruleName := parts[0]

		if ruleName == "required" {
			if field.IsZero() {
				return fmt.Errorf("is required")
			}
			continue
		}

		if field.Kind() == reflect.Ptr {
			if field.IsNil() {
				return nil
			}
			field = field.Elem()
		}

		if len(parts) < 2 {
			return fmt.Errorf("rule %s needs an argument", ruleName)
		}
		arg := parts[1]

		if ruleName == "oneof" {
			if !oneOf(field, strings.Fields(arg)) {
				return fmt.Errorf("must be one of %s", arg)
			}
			continue
		}

		n, ok := number(field)
		if !ok {
			return fmt.Errorf("rule %s needs a numeric field", ruleName)
		}
		limit, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return fmt.Errorf("rule %s: bad argument %q", ruleName, arg)
		}

		switch ruleName {
		case "gt":
			if !(n > limit) {
				return fmt.Errorf("must be greater than %s", arg)
			}
		case "gte":
			if !(n >= limit) {
				return fmt.Errorf("must be at least %s", arg)
			}
		case "lt":
			if !(n < limit) {
				return fmt.Errorf("must be less than %s", arg)
			}
		case "lte":
			if !(n <= limit) {
				return fmt.Errorf("must be at most %s", arg)
			}
		default:
			return fmt.Errorf("unknown rule %s", ruleName)
		}
	}

	return nil
}

func number(field reflect.Value) (float64, bool) {
	switch field.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(field.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(field.Uint()), true
	case reflect.Float32, reflect.Float64:
		return field.Float(), true
	}
	return 0, false
}

func oneOf(field reflect.Value, options []string) bool {
	var s string
	switch field.Kind() {
	case reflect.String:
		s = field.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		s = strconv.FormatInt(field.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		s = strconv.FormatUint(field.Uint(), 10)
	default:
		return false
	}
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}
