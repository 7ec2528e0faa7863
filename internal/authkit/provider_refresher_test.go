package authkit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokenEndpoint(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestOAuthTokenRefresherSuccess(t *testing.T) {
	t.Parallel()
	reference := time.Unix(1700000000, 0).UTC()

	server := newTokenEndpoint(t, func(writer http.ResponseWriter, request *http.Request) {
		assert.Equal(t, http.MethodPost, request.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", request.Header.Get("Content-Type"))
		assert.NoError(t, request.ParseForm())
		assert.Equal(t, "refresh_token", request.PostForm.Get("grant_type"))
		assert.Equal(t, "provider-refresh", request.PostForm.Get("refresh_token"))
		assert.Equal(t, "client-id", request.PostForm.Get("client_id"))
		assert.Equal(t, "client-secret", request.PostForm.Get("client_secret"))

		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"access_token":"new-access","expires_in":3600,"refresh_token":"rotated-refresh","id_token":"new-id","token_type":"Bearer"}`))
	})

	refresher := NewOAuthTokenRefresher(ProviderConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     server.URL,
		Clock:        fixedClock{timestamp: reference},
	})
	tokens, err := refresher.Refresh(context.Background(), "provider-refresh")
	require.NoError(t, err)
	require.Equal(t, "new-access", tokens.AccessToken)
	require.Equal(t, "new-id", tokens.IDToken)
	require.Equal(t, "rotated-refresh", tokens.RefreshToken)
	require.Equal(t, reference.UnixMilli()+3600*1000, tokens.AccessTokenExpires)
}

func TestOAuthTokenRefresherKeepsRefreshTokenWhenOmitted(t *testing.T) {
	t.Parallel()

	server := newTokenEndpoint(t, func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"access_token":"new-access","expires_in":60,"token_type":"Bearer"}`))
	})

	refresher := NewOAuthTokenRefresher(ProviderConfig{ClientID: "client-id", TokenURL: server.URL})
	tokens, err := refresher.Refresh(context.Background(), "provider-refresh")
	require.NoError(t, err)
	require.Equal(t, "provider-refresh", tokens.RefreshToken)
	require.Empty(t, tokens.IDToken)
}

func TestOAuthTokenRefresherProviderRejection(t *testing.T) {
	t.Parallel()

	server := newTokenEndpoint(t, func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(http.StatusBadRequest)
		_, _ = writer.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`))
	})

	refresher := NewOAuthTokenRefresher(ProviderConfig{ClientID: "client-id", TokenURL: server.URL})
	_, err := refresher.Refresh(context.Background(), "revoked-refresh")

	var refreshErr *RefreshError
	require.True(t, errors.As(err, &refreshErr))
	require.Equal(t, http.StatusBadRequest, refreshErr.StatusCode)
	require.Equal(t, "invalid_grant", refreshErr.ErrorCode)
	require.Equal(t, "Token has been expired or revoked.", refreshErr.Payload["error_description"])
	require.Contains(t, string(refreshErr.Body), "invalid_grant")
	require.Contains(t, refreshErr.Error(), "status 400")
}

func TestOAuthTokenRefresherMissingExpiry(t *testing.T) {
	t.Parallel()

	server := newTokenEndpoint(t, func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"access_token":"new-access","token_type":"Bearer"}`))
	})

	refresher := NewOAuthTokenRefresher(ProviderConfig{ClientID: "client-id", TokenURL: server.URL})
	_, err := refresher.Refresh(context.Background(), "provider-refresh")

	var refreshErr *RefreshError
	require.True(t, errors.As(err, &refreshErr))
	require.ErrorIs(t, err, errMissingExpiresIn)
}

func TestOAuthTokenRefresherRejectsEmptyToken(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	server := newTokenEndpoint(t, func(writer http.ResponseWriter, request *http.Request) {
		calls.Add(1)
	})

	refresher := NewOAuthTokenRefresher(ProviderConfig{ClientID: "client-id", TokenURL: server.URL})
	_, err := refresher.Refresh(context.Background(), "  ")

	var refreshErr *RefreshError
	require.True(t, errors.As(err, &refreshErr))
	require.Zero(t, calls.Load())
}

func TestOAuthTokenRefresherTimeout(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	server := newTokenEndpoint(t, func(writer http.ResponseWriter, request *http.Request) {
		select {
		case <-release:
		case <-request.Context().Done():
		}
	})
	t.Cleanup(func() { close(release) })

	refresher := NewOAuthTokenRefresher(ProviderConfig{
		ClientID: "client-id",
		TokenURL: server.URL,
		Timeout:  50 * time.Millisecond,
	})
	started := time.Now()
	_, err := refresher.Refresh(context.Background(), "provider-refresh")

	var refreshErr *RefreshError
	require.True(t, errors.As(err, &refreshErr))
	require.Zero(t, refreshErr.StatusCode)
	require.Less(t, time.Since(started), 5*time.Second)
}
