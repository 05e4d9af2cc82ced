// Package auth extracts and verifies the bearer identity tokens callers present
// on every action request.
package auth

import (
	"errors"
	"strings"

	"campaigntasks/internal/types"
)

// bearerScheme is matched case-sensitively.
const bearerScheme = "Bearer"

var (
	// ErrMissingToken is wrapped when no Authorization header is present.
	ErrMissingToken = errors.New("no authorization header found")
	// ErrMalformedHeader is wrapped when the header is not "Bearer <token>".
	ErrMalformedHeader = errors.New("invalid authorization header")
)

// ExtractBearerToken returns the token from an Authorization header value. The
// value must split on single spaces into exactly two parts, the first being
// "Bearer" and the second non-empty.
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", types.NewAppError(types.ErrCodeAuthTokenMissing, "No Authorization header found", ErrMissingToken)
	}

	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != bearerScheme || parts[1] == "" {
		return "", types.NewAppError(types.ErrCodeAuthHeaderMalformed,
			"Invalid Authorization header, expected 'Bearer <token>'", ErrMalformedHeader)
	}

	return parts[1], nil
}
