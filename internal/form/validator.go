// Package form checks typed submissions before they reach the remote API.
package form

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pitabwire/backoffice/model"
)

var hhmmPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// Validator runs struct tag rules and model.Checker rules on submissions.
type Validator struct {
	v *validator.Validate
}

// NewValidator creates a Validator with field names taken from json tags.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		return hhmmPattern.MatchString(fl.Field().String())
	})
	return &Validator{v: v}
}

// Validate returns a VALIDATION_ERROR envelope listing every failed field,
// or nil when the submission may be sent.
func (val *Validator) Validate(sub model.Submission) error {
	var details []model.FieldError

	if err := val.v.Struct(sub); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			return fmt.Errorf("form: validate %T: %w", sub, err)
		}
		for _, fe := range ve {
			details = append(details, toFieldError(fe))
		}
	}
	if c, ok := sub.(model.Checker); ok {
		details = append(details, c.Check()...)
	}

	if len(details) > 0 {
		return model.NewValidationError(details)
	}
	return nil
}

func toFieldError(fe validator.FieldError) model.FieldError {
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	code, msg := describe(fe)
	return model.FieldError{Field: field, Code: code, Message: msg}
}

func describe(fe validator.FieldError) (string, string) {
	name := fe.Field()
	switch fe.Tag() {
	case "required":
		return "REQUIRED", name + " is required"
	case "email":
		return "INVALID_EMAIL", name + " must be a valid email address"
	case "oneof":
		return "INVALID_OPTION", fmt.Sprintf("%s must be one of: %s", name, fe.Param())
	case "hhmm":
		return "INVALID_TIME", name + " must be a time in HH:mm format"
	case "max":
		if fe.Kind() == reflect.String {
			return "TOO_LONG", fmt.Sprintf("%s must be at most %s characters", name, fe.Param())
		}
		if fe.Kind() == reflect.Slice {
			return "TOO_MANY", fmt.Sprintf("%s must have at most %s entries", name, fe.Param())
		}
		return "OUT_OF_RANGE", fmt.Sprintf("%s must be at most %s", name, fe.Param())
	case "min":
		if fe.Kind() == reflect.String {
			return "TOO_SHORT", fmt.Sprintf("%s must be at least %s characters", name, fe.Param())
		}
		return "OUT_OF_RANGE", fmt.Sprintf("%s must be at least %s", name, fe.Param())
	case "gt":
		return "OUT_OF_RANGE", fmt.Sprintf("%s must be greater than %s", name, fe.Param())
	case "gte":
		return "OUT_OF_RANGE", fmt.Sprintf("%s must be at least %s", name, fe.Param())
	case "lte":
		return "OUT_OF_RANGE", fmt.Sprintf("%s must be at most %s", name, fe.Param())
	}
	return "INVALID", name + " is invalid"
}
