// Package validation wraps go-playground/validator with the project's custom tags
// and converts failures into validation AppErrors.
package validation

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"playshelf/internal/common/errors"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// FieldError is a single failed rule
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message"`
}

// CentralizedValidator provides unified validation using go-playground/validator
type CentralizedValidator struct {
	validator *validator.Validate
}

// NewCentralizedValidator creates a validator that names fields by their json or yaml tag
func NewCentralizedValidator() *CentralizedValidator {
	v := validator.New()

	registerCustomValidators(v)

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, key := range []string{"json", "yaml"} {
			name := strings.SplitN(fld.Tag.Get(key), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return fld.Name
	})

	return &CentralizedValidator{validator: v}
}

// ValidateStruct validates a struct using struct tags. The returned AppError names
// the first failing field; all failures are listed in its message.
func (cv *CentralizedValidator) ValidateStruct(s interface{}) error {
	err := cv.validator.Struct(s)
	if err == nil {
		return nil
	}
	return cv.toAppError(err)
}

// ValidateVar validates a single variable with validation rules
func (cv *CentralizedValidator) ValidateVar(field interface{}, tag string) error {
	err := cv.validator.Var(field, tag)
	if err == nil {
		return nil
	}
	return cv.toAppError(err)
}

// Fields returns the individual failures of a struct, or nil when it is valid
func (cv *CentralizedValidator) Fields(s interface{}) []FieldError {
	err := cv.validator.Struct(s)
	if err == nil {
		return nil
	}
	return extractFieldErrors(err)
}

func (cv *CentralizedValidator) toAppError(err error) *errors.AppError {
	fieldErrors := extractFieldErrors(err)
	if len(fieldErrors) == 1 {
		return errors.ValidationError(fieldErrors[0].Field, fieldErrors[0].Message)
	}

	messages := make([]string, len(fieldErrors))
	for i, e := range fieldErrors {
		messages[i] = e.Message
	}
	return errors.ValidationError(fieldErrors[0].Field,
		fmt.Sprintf("validation failed: %s", strings.Join(messages, "; ")))
}

func extractFieldErrors(err error) []FieldError {
	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []FieldError{{Field: "unknown", Tag: "error", Message: err.Error()}}
	}

	out := make([]FieldError, 0, len(validationErrs))
	for _, fe := range validationErrs {
		out = append(out, FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: formatFieldError(fe),
		})
	}
	return out
}

func formatFieldError(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", err.Field())
	case "url", "http_url":
		return fmt.Sprintf("field '%s' must be a valid URL", err.Field())
	case "min", "gte":
		return fmt.Sprintf("field '%s' must be at least %s", err.Field(), err.Param())
	case "max", "lte":
		return fmt.Sprintf("field '%s' must be at most %s", err.Field(), err.Param())
	case "gt":
		return fmt.Sprintf("field '%s' must be greater than %s", err.Field(), err.Param())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", err.Field(), err.Param())
	case "uuid":
		return fmt.Sprintf("field '%s' must be a valid UUID", err.Field())
	case "numeric":
		return fmt.Sprintf("field '%s' must be a number", err.Field())
	case "hostname_port":
		return fmt.Sprintf("field '%s' must be host:port", err.Field())
	case "cron_schedule":
		return fmt.Sprintf("field '%s' must be a valid cron schedule", err.Field())
	case "username":
		return fmt.Sprintf("field '%s' may only contain letters, digits, '-', '_' and '.'", err.Field())
	case "duration":
		return fmt.Sprintf("field '%s' must be a valid duration", err.Field())
	default:
		return fmt.Sprintf("field '%s' failed validation: %s", err.Field(), err.Tag())
	}
}

func registerCustomValidators(v *validator.Validate) {
	// Standard five-field specs plus descriptors such as "@every 1m"
	v.RegisterValidation("cron_schedule", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})

	v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		name := fl.Field().String()
		if name == "" {
			return false
		}
		for _, r := range name {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			case r == '-', r == '_', r == '.':
			default:
				return false
			}
		}
		return true
	})

	// Accepts duration strings; time.Duration fields are validated with gt/gte instead
	v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})
}

// Global validator instance for convenience
var globalValidator = NewCentralizedValidator()

// ValidateStruct validates a struct using the global validator instance
func ValidateStruct(s interface{}) error {
	return globalValidator.ValidateStruct(s)
}

// ValidateVar validates a variable using the global validator instance
func ValidateVar(field interface{}, tag string) error {
	return globalValidator.ValidateVar(field, tag)
}
