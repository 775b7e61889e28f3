package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"reviewsms/internal/types"
)

// PhoneTag validates an already sanitized destination phone number.
const PhoneTag = "sms_phone"

// ValidationError describes one rejected field.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Validator wraps go-playground/validator with the service's custom tags.
// Field names in errors follow the json tags.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator and registers PhoneTag.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation(PhoneTag, func(fl validator.FieldLevel) bool {
		return types.IsValidPhone(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("registering %s validation: %v", PhoneTag, err))
	}
	return &Validator{validate: v, logger: logger}
}

// ValidateStruct returns nil or an AppError whose details carry every
// failed field under "validation_errors". The code follows the first
// failure: a missing field, an invalid phone, or a generic invalid field.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		v.logger.Error("struct validation failed unexpectedly", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
	}

	fields := make([]ValidationError, 0, len(ves))
	for _, fe := range ves {
		fields = append(fields, ValidationError{
			Field:   fe.Field(),
			Code:    fe.Tag(),
			Message: fieldMessage(fe),
		})
	}

	code := types.ErrCodeValidationInvalidField
	switch ves[0].Tag() {
	case "required":
		code = types.ErrCodeValidationMissingField
	case PhoneTag:
		code = types.ErrCodeValidationInvalidPhone
	}
	return types.NewAppErrorWithDetails(code, fields[0].Message, nil,
		map[string]any{"validation_errors": fields})
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case PhoneTag:
		return fmt.Sprintf("%s must be a valid phone number", fe.Field())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
