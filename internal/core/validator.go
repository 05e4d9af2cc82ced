package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"campaigntasks/internal/types"
)

// Validator wraps go-playground/validator. Field names in results use the
// struct's JSON names so they match what the caller sent.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// ValidationError describes one failed rule.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult collects every failed rule of one validation pass.
type ValidationResult struct {
	Errors []ValidationError
}

// IsValid reports whether no rule failed.
func (r ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Fields returns the failing field names in the order they were reported.
func (r ValidationResult) Fields() []string {
	fields := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		fields[i] = e.Field
	}
	return fields
}

// AppError converts the result into an AppError with the given code. The
// message names the failing fields and Details carries the full list.
func (r ValidationResult) AppError(code types.ErrorCode, prefix string) *types.AppError {
	if r.IsValid() {
		return nil
	}
	return types.NewAppErrorWithDetails(
		code,
		fmt.Sprintf("%s: %s", prefix, strings.Join(r.Fields(), ", ")),
		nil,
		map[string]any{"fields": r.Errors},
	)
}

// NewValidator creates a Validator.
func NewValidator(logger *slog.Logger) *Validator {
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
	return &Validator{
		validate: v,
		logger:   logger,
	}
}

// ValidateStruct runs the validate tags of s.
func (v *Validator) ValidateStruct(s any) ValidationResult {
	err := v.validate.Struct(s)
	if err == nil {
		return ValidationResult{}
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		if v.logger != nil {
			v.logger.Error("validator misuse", "error", err)
		}
		return ValidationResult{Errors: []ValidationError{{Code: "invalid", Message: err.Error()}}}
	}

	result := ValidationResult{Errors: make([]ValidationError, 0, len(fieldErrs))}
	for _, fe := range fieldErrs {
		result.Errors = append(result.Errors, ValidationError{
			Field:   fe.Field(),
			Code:    fe.Tag(),
			Message: describe(fe),
		})
	}
	return result
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
