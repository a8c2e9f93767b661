package core

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"subsync/internal/types"
)

// Validator applies `validate` struct tags to decoded request bodies and
// reports the first violation as an AppError keyed by the JSON field name.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator that names fields by their json tag.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct returns nil when s satisfies its tags.
//
//	required        -> validation_missing_required_field
//	url, http_url   -> validation_invalid_url
//	anything else   -> validation_invalid_body
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		if v.logger != nil {
			v.logger.Error("validator misuse", "error", err)
		}
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	fe := fieldErrs[0]
	details := map[string]any{"field": fe.Field(), "rule": fe.Tag()}

	switch fe.Tag() {
	case "required":
		return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			fe.Field()+" is required", nil, details)
	case "url", "http_url":
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidURL,
			fe.Field()+" must be an absolute URL", nil, details)
	}

	if fe.Param() != "" {
		details["param"] = fe.Param()
	}
	return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidBody,
		fe.Field()+" failed "+fe.Tag()+" validation", nil, details)
}
