package authkit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

var (
	errMissingProviderRefreshToken = errors.New("missing provider refresh token")
	errMissingExpiresIn            = errors.New("token response missing expires_in")
)

// ProviderTokens is the provider-facing part of a session after a refresh.
type ProviderTokens struct {
	IDToken            string
	AccessToken        string
	AccessTokenExpires int64
	RefreshToken       string
}

// ProviderTokenRefresher exchanges a provider refresh token for fresh provider tokens.
type ProviderTokenRefresher interface {
	Refresh(ctx context.Context, providerRefreshToken string) (ProviderTokens, error)
}

// ProviderConfig configures the OAuth token endpoint exchange.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Timeout      time.Duration
	HTTPClient   *http.Client
	Clock        Clock
}

// OAuthTokenRefresher refreshes provider tokens with a form-encoded refresh_token grant.
type OAuthTokenRefresher struct {
	config     oauth2.Config
	httpClient *http.Client
	timeout    time.Duration
	clock      Clock
}

// NewOAuthTokenRefresher builds a refresher for the configured token endpoint.
func NewOAuthTokenRefresher(configuration ProviderConfig) *OAuthTokenRefresher {
	tokenURL := configuration.TokenURL
	if tokenURL == "" {
		tokenURL = GoogleTokenEndpoint
	}
	timeout := configuration.Timeout
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	clock := configuration.Clock
	if clock == nil {
		clock = NewSystemClock()
	}
	return &OAuthTokenRefresher{
		config: oauth2.Config{
			ClientID:     configuration.ClientID,
			ClientSecret: configuration.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
		timeout:    timeout,
		clock:      clock,
	}
}

// Refresh performs one token endpoint call; it never retries.
func (refresher *OAuthTokenRefresher) Refresh(ctx context.Context, providerRefreshToken string) (ProviderTokens, error) {
	if strings.TrimSpace(providerRefreshToken) == "" {
		return ProviderTokens{}, &RefreshError{Err: errMissingProviderRefreshToken}
	}
	requestContext, cancel := context.WithTimeout(ctx, refresher.timeout)
	defer cancel()
	requestContext = context.WithValue(requestContext, oauth2.HTTPClient, refresher.httpClient)

	token, retrieveErr := refresher.config.TokenSource(requestContext, &oauth2.Token{RefreshToken: providerRefreshToken}).Token()
	if retrieveErr != nil {
		return ProviderTokens{}, newRefreshError(retrieveErr)
	}
	receivedAt := refresher.clock.Now()

	accessTokenExpires, expiresErr := accessTokenExpiry(token, receivedAt)
	if expiresErr != nil {
		return ProviderTokens{}, &RefreshError{Err: expiresErr}
	}
	refreshedToken := token.RefreshToken
	if refreshedToken == "" {
		refreshedToken = providerRefreshToken
	}
	idToken, _ := token.Extra("id_token").(string)
	return ProviderTokens{
		IDToken:            idToken,
		AccessToken:        token.AccessToken,
		AccessTokenExpires: accessTokenExpires,
		RefreshToken:       refreshedToken,
	}, nil
}

// accessTokenExpiry returns receivedAt + expires_in seconds as unix milliseconds.
func accessTokenExpiry(token *oauth2.Token, receivedAt time.Time) (int64, error) {
	if expiresInSeconds, ok := numericExtra(token.Extra("expires_in")); ok && expiresInSeconds > 0 {
		return receivedAt.UnixMilli() + expiresInSeconds*1000, nil
	}
	if !token.Expiry.IsZero() && token.Expiry.After(receivedAt) {
		return token.Expiry.UnixMilli(), nil
	}
	return 0, errMissingExpiresIn
}

func numericExtra(value interface{}) (int64, bool) {
	switch typed := value.(type) {
	case float64:
		return int64(typed), true
	case int64:
		return typed, true
	case int:
		return int64(typed), true
	case json.Number:
		parsed, err := typed.Int64()
		return parsed, err == nil
	case string:
		parsed, err := strconv.ParseInt(typed, 10, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

func newRefreshError(err error) *RefreshError {
	refreshError := &RefreshError{Err: err}
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return refreshError
	}
	if retrieveErr.Response != nil {
		refreshError.StatusCode = retrieveErr.Response.StatusCode
	}
	refreshError.ErrorCode = retrieveErr.ErrorCode
	refreshError.Body = retrieveErr.Body
	var payload map[string]any
	if json.Unmarshal(retrieveErr.Body, &payload) == nil {
		refreshError.Payload = payload
		if refreshError.ErrorCode == "" {
			refreshError.ErrorCode, _ = payload["error"].(string)
		}
	}
	return refreshError
}
