package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campaigntasks/internal/external"
	"campaigntasks/internal/types"
)

func newRemoteTestServer(t *testing.T, status int, body string) (*httptest.Server, *http.Header) {
	t.Helper()
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/user", r.URL.Path)
		got = r.Header.Clone()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func newTestRemoteVerifier(url string) *RemoteVerifier {
	return NewRemoteVerifier(nil, url, types.SecretString("anon-key"), nil,
		external.WithSleepFunc(func(time.Duration) {}))
}

func TestRemoteVerifier_Valid(t *testing.T) {
	srv, headers := newRemoteTestServer(t, http.StatusOK, `{"id":"user-1","email":"a@example.com","role":"authenticated"}`)

	identity, err := newTestRemoteVerifier(srv.URL).Verify(context.Background(), "tok")

	require.NoError(t, err)
	assert.Equal(t, &Identity{Subject: "user-1", Email: "a@example.com", Role: "authenticated"}, identity)
	assert.Equal(t, "Bearer tok", headers.Get("Authorization"))
	assert.Equal(t, "anon-key", headers.Get("apikey"))
}

func TestRemoteVerifier_Rejected(t *testing.T) {
	srv, _ := newRemoteTestServer(t, http.StatusUnauthorized, `{"msg":"invalid JWT: token is expired"}`)

	_, err := newTestRemoteVerifier(srv.URL).Verify(context.Background(), "tok")

	var verr *VerificationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "invalid JWT: token is expired", verr.Reason)
}

func TestRemoteVerifier_RejectedWithoutBody(t *testing.T) {
	srv, _ := newRemoteTestServer(t, http.StatusForbidden, ``)

	_, err := newTestRemoteVerifier(srv.URL).Verify(context.Background(), "tok")

	var verr *VerificationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "Invalid token", verr.Reason)
}

func TestRemoteVerifier_UpstreamFailure(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusBadGateway, body: `bad gateway`},
		{name: "unexpected status", status: http.StatusNotFound, body: `{}`},
		{name: "unreadable user", status: http.StatusOK, body: `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newRemoteTestServer(t, tt.status, tt.body)

			_, err := newTestRemoteVerifier(srv.URL).Verify(context.Background(), "tok")

			var verr *VerificationError
			assert.False(t, errors.As(err, &verr))
			var appErr *types.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, types.ErrCodeUpstreamVerifier, appErr.Code)
			assert.Equal(t, http.StatusInternalServerError, appErr.HTTPStatus())
		})
	}
}
