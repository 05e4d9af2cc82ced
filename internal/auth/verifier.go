package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"campaigntasks/internal/types"
)

// IdentityVerifier checks that a bearer token is authentic and current.
//
// A rejected token is reported as a *VerificationError whose Reason is safe to
// return to the caller. Any other error means verification could not be
// performed at all.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// Identity is the verified caller.
type Identity struct {
	Subject string
	Email   string
	Role    string
}

// VerificationError reports why a token was rejected.
type VerificationError struct {
	Reason string
	Err    error
}

func (e *VerificationError) Error() string {
	return e.Reason
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// Claims is the token payload issued by the store's auth service.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret   []byte
	audience string
	issuer   string
	leeway   time.Duration
	now      func() time.Time
}

// JWTVerifierOption configures a JWTVerifier.
type JWTVerifierOption func(*JWTVerifier)

// WithAudience requires the aud claim to contain audience.
func WithAudience(audience string) JWTVerifierOption {
	return func(v *JWTVerifier) {
		v.audience = audience
	}
}

// WithIssuer requires the iss claim to equal issuer.
func WithIssuer(issuer string) JWTVerifierOption {
	return func(v *JWTVerifier) {
		v.issuer = issuer
	}
}

// WithLeeway tolerates clock skew when checking exp and nbf.
func WithLeeway(d time.Duration) JWTVerifierOption {
	return func(v *JWTVerifier) {
		v.leeway = d
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) JWTVerifierOption {
	return func(v *JWTVerifier) {
		v.now = now
	}
}

// NewJWTVerifier creates a verifier for tokens signed with secret.
func NewJWTVerifier(secret types.SecretString, opts ...JWTVerifierOption) (*JWTVerifier, error) {
	if secret.IsEmpty() {
		return nil, errors.New("jwt verifier: signing secret must not be empty")
	}
	v := &JWTVerifier{
		secret: []byte(secret.Unmask()),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify parses token and validates its signature, algorithm and time-based
// claims, plus audience and issuer when configured.
func (v *JWTVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.leeway > 0 {
		parserOpts = append(parserOpts, jwt.WithLeeway(v.leeway))
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, &VerificationError{Reason: rejectionReason(err), Err: err}
	}
	if !parsed.Valid {
		return nil, &VerificationError{Reason: "Invalid token"}
	}

	return &Identity{
		Subject: claims.Subject,
		Email:   claims.Email,
		Role:    claims.Role,
	}, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "Token has expired"
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return "Token is not valid yet"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "Token is malformed"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "Token signature is invalid"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "Token could not be verified"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "Token audience is invalid"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "Token issuer is invalid"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "Token is missing a required claim"
	default:
		return fmt.Sprintf("Invalid token: %v", err)
	}
}
