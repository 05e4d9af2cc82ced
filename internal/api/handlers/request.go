// Package handlers contains the HTTP handlers that turn an untrusted request
// into a validated action and run it.
//
// Every handler verifies a request in the same order and stops at the first
// failure: body, bearer header, token, required fields, action.
package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"campaigntasks/internal/auth"
	"campaigntasks/internal/core"
	"campaigntasks/internal/taskqueue"
	"campaigntasks/internal/types"
)

const invalidActionMessage = "Invalid action provided"

// decodeBody reads a non-empty JSON object. An empty object is rejected like a
// malformed one.
func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]json.RawMessage, error) {
	obj, err := core.DecodeObject(w, r)
	if err != nil {
		return nil, err
	}
	if len(obj) == 0 {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidBody, "Invalid request body", nil)
	}
	return obj, nil
}

// authenticate extracts the bearer token and verifies it. A rejected token is
// a client error carrying the verifier's reason; any other verifier failure
// is a server error.
func authenticate(r *http.Request, verifier auth.IdentityVerifier) (*auth.Identity, error) {
	token, err := auth.ExtractBearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return nil, err
	}

	identity, err := verifier.Verify(r.Context(), token)
	if err != nil {
		var verr *auth.VerificationError
		if errors.As(err, &verr) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenRejected, verr.Reason, err)
		}
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, types.NewAppError(types.ErrCodeUpstreamVerifier, "token verification failed", err)
	}
	return identity, nil
}

// stringField returns obj[key] when it is a non-blank JSON string. present
// reports whether the key was sent at all.
func stringField(obj map[string]json.RawMessage, key string) (value string, present, ok bool) {
	raw, present := obj[key]
	if !present || isNull(raw) {
		return "", false, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", true, false
	}
	s = strings.TrimSpace(s)
	return s, true, s != ""
}

// objectField returns obj[key] decoded as a non-empty JSON object. Numbers are
// kept as json.Number so that large identifiers survive unchanged.
func objectField(obj map[string]json.RawMessage, key string) (map[string]any, bool) {
	raw, present := obj[key]
	if !present || isNull(raw) {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil || len(m) == 0 {
		return nil, false
	}
	return m, true
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func missingFields(fields []string) error {
	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationMissingField,
		"Missing required fields: "+strings.Join(fields, ", "),
		nil,
		map[string]any{"fields": fields},
	)
}

func invalidAction(action string, allowed []string) error {
	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationInvalidAction,
		invalidActionMessage,
		nil,
		map[string]any{"action": action, "allowed_actions": allowed},
	)
}

// requestFailed is the response path shared by the handlers. Server errors
// are logged with their cause; the client only sees the generic message.
func requestFailed(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	var opErr *taskqueue.OperationError
	if errors.As(err, &opErr) {
		err = types.NewAppError(types.ErrCodeUpstreamTaskQueue, "task queue operation failed", err)
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) || !appErr.Code.IsClientError() {
		log.ErrorContext(r.Context(), "request failed",
			"error", err,
			"request_id", types.GetRequestID(r.Context()),
		)
	}
	core.Error(w, r, err)
}
