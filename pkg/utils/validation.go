package utils

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reports fields by their wire or config names rather than Go names
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "yaml"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return strings.ToLower(f.Name)
	})
	return v
}

// ValidateStruct validates a struct based on its validation tags.
// All failures are joined into one message, naming each field by its path.
func ValidateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}
	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		messages = append(messages, formatFieldError(e))
	}
	return errors.New(strings.Join(messages, "; "))
}

func formatFieldError(e validator.FieldError) string {
	field := fieldPath(e)

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_if":
		cond := strings.Fields(e.Param())
		if len(cond) == 2 {
			return fmt.Sprintf("%s is required when %s is %s", field, strings.ToLower(cond[0]), cond[1])
		}
		return fmt.Sprintf("%s is required", field)
	case "excluded_with":
		return fmt.Sprintf("%s cannot be combined with %s", field, strings.ToLower(e.Param()))
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// fieldPath drops the top-level struct name: "storage.sqlite_path", not "Config.storage.sqlite_path"
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return e.Field()
}
