package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"campaigntasks/internal/external"
	"campaigntasks/internal/types"
)

// RemoteVerifier asks the identity provider's user endpoint whether a token is
// valid. It is used when tokens are signed with keys this process does not
// hold.
type RemoteVerifier struct {
	http    *external.BaseClient
	userURL string
	apiKey  types.SecretString
	logger  *slog.Logger
}

// NewRemoteVerifier returns a verifier calling {baseURL}/auth/v1/user.
func NewRemoteVerifier(httpClient *http.Client, baseURL string, apiKey types.SecretString, logger *slog.Logger, opts ...external.BaseClientOption) *RemoteVerifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteVerifier{
		http:    external.NewBaseClient(httpClient, "identity", external.DefaultRetryPolicy(), "campaigntasks/1.0", opts...),
		userURL: strings.TrimRight(baseURL, "/") + "/auth/v1/user",
		apiKey:  apiKey,
		logger:  logger.With("component", "identity_verifier"),
	}
}

type remoteUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type remoteError struct {
	Message          string `json:"message"`
	Msg              string `json:"msg"`
	ErrorDescription string `json:"error_description"`
}

func (e remoteError) reason() string {
	for _, s := range []string{e.Message, e.Msg, e.ErrorDescription} {
		if s != "" {
			return s
		}
	}
	return "Invalid token"
}

// Verify implements IdentityVerifier. A 401 or 403 from the provider rejects
// the token; any other failure is returned as an upstream error.
func (v *RemoteVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.userURL, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamVerifier, "failed to build verification request", err)
	}
	req.Header.Set("apikey", v.apiKey.Unmask())
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := v.http.Do(req)
	if err != nil {
		v.logger.ErrorContext(ctx, "identity provider unreachable", "error", err)
		return nil, types.NewAppError(types.ErrCodeUpstreamVerifier, "identity provider unavailable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamVerifier, "failed to read identity provider response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var u remoteUser
		if err := json.Unmarshal(body, &u); err != nil || u.ID == "" {
			return nil, types.NewAppError(types.ErrCodeUpstreamVerifier, "identity provider returned an unreadable user", err)
		}
		return &Identity{Subject: u.ID, Email: u.Email, Role: u.Role}, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		var e remoteError
		_ = json.Unmarshal(body, &e)
		return nil, &VerificationError{Reason: e.reason()}

	default:
		v.logger.ErrorContext(ctx, "unexpected identity provider response", "status", resp.StatusCode)
		return nil, types.NewAppError(types.ErrCodeUpstreamVerifier,
			fmt.Sprintf("identity provider returned %d", resp.StatusCode), nil)
	}
}
