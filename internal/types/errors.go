package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationInvalidBody     ErrorCode = "validation_invalid_body"
	ErrCodeValidationInvalidJSON     ErrorCode = "validation_invalid_json"
	ErrCodeValidationMissingField    ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidAction   ErrorCode = "validation_invalid_action"
	ErrCodeValidationInvalidCampaign ErrorCode = "validation_invalid_campaign"
	ErrCodeValidationInvalidSchedule ErrorCode = "validation_invalid_schedule_time"

	// Auth (400 for this service: every request verification failure is a
	// client error)
	ErrCodeAuthTokenMissing    ErrorCode = "auth_token_missing"
	ErrCodeAuthHeaderMalformed ErrorCode = "auth_header_malformed"
	ErrCodeAuthTokenRejected   ErrorCode = "auth_token_rejected"

	// Internal/Upstream (500)
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeInternalConfig      ErrorCode = "internal_configuration_error"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamStore       ErrorCode = "upstream_store_error"
	ErrCodeUpstreamTaskQueue   ErrorCode = "upstream_task_queue_error"
	ErrCodeUpstreamVerifier    ErrorCode = "upstream_identity_verifier_error"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "auth_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusInternalServerError
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// IsClientError reports whether the code represents a caller mistake rather
// than a server or upstream failure.
func (c ErrorCode) IsClientError() bool {
	status := c.HTTPStatus()
	return status >= 400 && status < 500
}

// AppError is the standard application error type used throughout the service.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}
