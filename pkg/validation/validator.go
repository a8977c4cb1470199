package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// validate is a singleton validator instance
	validate *validator.Validate

	MaxAttributes     = 200
	MaxAttributeKey   = 128
	MaxRawIDLength    = 1024
	MaxReferences     = 10000
	attributeKeyRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.\-]*$`)
)

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
}

// Struct validates v using its `validate` struct tags.
func Struct(v any) error {
	if v == nil {
		return errors.New("value cannot be nil")
	}
	if err := validate.Struct(v); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// ValidateAttributeKey validates a fact attribute key.
func ValidateAttributeKey(key string) error {
	if key == "" {
		return errors.New("attribute key cannot be empty")
	}
	if len(key) > MaxAttributeKey {
		return fmt.Errorf("attribute key '%s' exceeds maximum length of %d characters", key, MaxAttributeKey)
	}
	if !attributeKeyRegex.MatchString(key) {
		return fmt.Errorf("attribute key '%s' is invalid (must start with letter or underscore)", key)
	}
	return nil
}

// formatValidationError converts validator errors to a more user-friendly
// format. All violations are reported, joined by "; ".
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	msgs := make([]string, 0, len(validationErrs))
	for _, e := range validationErrs {
		field := e.Namespace()
		param := e.Param()

		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s: field is required", field))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s: %q must be one of [%s]", field, e.Value(), param))
		case "min", "gte", "gt":
			msgs = append(msgs, fmt.Sprintf("%s: must be at least %s", field, param))
		case "max", "lte", "lt":
			msgs = append(msgs, fmt.Sprintf("%s: must not exceed %s", field, param))
		default:
			msgs = append(msgs, fmt.Sprintf("%s: validation failed (%s)", field, e.Tag()))
		}
	}

	return errors.New(strings.Join(msgs, "; "))
}
