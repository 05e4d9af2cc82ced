package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"campaigntasks/internal/types"
)

// maxRequestBodySize is the maximum allowed size of a request body (1 MB).
const maxRequestBodySize = 1 << 20

// internalErrorMessage is the only message a 5xx response ever carries.
const internalErrorMessage = "Internal server error"

// ErrorBody is the body of every error response. Message is the human
// readable reason; Code is the machine readable ErrorCode.
type ErrorBody struct {
	Message   string         `json:"message"`
	Code      string         `json:"code,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// MessageBody is the body of action responses that only report an outcome.
type MessageBody struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// JSON writes data as a JSON response with the given status. If data cannot
// be marshalled a generic 500 is written instead.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(ErrorBody{
			Message:   internalErrorMessage,
			Code:      string(types.ErrCodeInternalUnexpected),
			RequestID: types.GetRequestID(r.Context()),
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error writes err as an error response.
//
// A *types.AppError anywhere in the chain selects the status through its
// code. Client errors carry the AppError message and details. Server errors
// and errors that are not AppErrors carry only internalErrorMessage; the cause
// is never exposed and must be logged by the caller.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	requestID := types.GetRequestID(r.Context())

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus()
		body := ErrorBody{
			Message:   appErr.Message,
			Code:      string(appErr.Code),
			Details:   appErr.Details,
			RequestID: requestID,
		}
		if status >= http.StatusInternalServerError {
			body.Message = internalErrorMessage
			body.Details = nil
		}
		JSON(w, r, status, body)
		return
	}

	JSON(w, r, http.StatusInternalServerError, ErrorBody{
		Message:   internalErrorMessage,
		Code:      string(types.ErrCodeInternalUnexpected),
		RequestID: requestID,
	})
}

// DecodeObject reads the request body as a single JSON object. Field values
// are left raw for the caller to interpret.
//
// It returns a validation_invalid_body AppError (400) when the body is empty,
// larger than 1 MB, not JSON, not an object, or followed by trailing data.
func DecodeObject(w http.ResponseWriter, r *http.Request) (map[string]json.RawMessage, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	var obj map[string]json.RawMessage
	if err := dec.Decode(&obj); err != nil {
		return nil, mapDecodeError(err)
	}
	if obj == nil {
		return nil, invalidBody("request body must be a JSON object", nil)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, invalidBody("request body must contain a single JSON object", err)
	}
	return obj, nil
}

func invalidBody(message string, err error) *types.AppError {
	return types.NewAppError(types.ErrCodeValidationInvalidBody, message, err)
}

// mapDecodeError translates a json.Decoder error into an AppError.
func mapDecodeError(err error) *types.AppError {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return invalidBody("request body must not exceed 1MB", err)
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON, "malformed JSON in request body", err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return invalidBody("request body must be a JSON object", err)
	}

	if errors.Is(err, io.EOF) {
		return invalidBody("request body must not be empty", err)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || strings.Contains(err.Error(), "unexpected EOF") {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON, "malformed JSON in request body", err)
	}

	return invalidBody("invalid request body", err)
}
