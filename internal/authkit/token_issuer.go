package authkit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	errMissingAccessKey  = errors.New("token_issuer.missing_access_key")
	errMissingRefreshKey = errors.New("token_issuer.missing_refresh_key")
	errSharedSigningKey  = errors.New("token_issuer.shared_signing_key")
	errMissingStore      = errors.New("token_issuer.missing_store")
)

// TokenPair is an internal access/refresh token pair for one user.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// TokenIssuerConfig configures a TokenIssuer.
type TokenIssuerConfig struct {
	Issuer     string
	AccessKey  []byte
	RefreshKey []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Clock      Clock
	Logger     *zap.Logger
}

// TokenIssuer mints internal token pairs and keeps the refresh store single-slot.
type TokenIssuer struct {
	issuer     string
	accessKey  []byte
	refreshKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	store      RefreshTokenStore
	clock      Clock
	logger     *zap.Logger
}

// NewTokenIssuer validates the configuration and builds a TokenIssuer.
func NewTokenIssuer(configuration TokenIssuerConfig, store RefreshTokenStore) (*TokenIssuer, error) {
	if len(configuration.AccessKey) == 0 {
		return nil, errMissingAccessKey
	}
	if len(configuration.RefreshKey) == 0 {
		return nil, errMissingRefreshKey
	}
	if bytes.Equal(configuration.AccessKey, configuration.RefreshKey) {
		return nil, errSharedSigningKey
	}
	if store == nil {
		return nil, errMissingStore
	}
	accessTTL := configuration.AccessTTL
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	refreshTTL := configuration.RefreshTTL
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}
	clock := configuration.Clock
	if clock == nil {
		clock = NewSystemClock()
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenIssuer{
		issuer:     configuration.Issuer,
		accessKey:  configuration.AccessKey,
		refreshKey: configuration.RefreshKey,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		store:      store,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Issue mints a token pair and persists the refresh token before returning it.
func (issuer *TokenIssuer) Issue(ctx context.Context, applicationUserID string) (TokenPair, error) {
	accessToken, accessExpiresAt, accessErr := MintUserToken(issuer.clock, applicationUserID, issuer.issuer, issuer.accessKey, issuer.accessTTL)
	if accessErr != nil {
		return TokenPair{}, fmt.Errorf("token_issuer.issue.access: %w", accessErr)
	}
	refreshToken, refreshExpiresAt, refreshErr := MintUserToken(issuer.clock, applicationUserID, issuer.issuer, issuer.refreshKey, issuer.refreshTTL)
	if refreshErr != nil {
		return TokenPair{}, fmt.Errorf("token_issuer.issue.refresh: %w", refreshErr)
	}
	if replaceErr := issuer.store.Replace(ctx, applicationUserID, refreshToken, issuer.clock.Now()); replaceErr != nil {
		issuer.logger.Error("refresh token persistence failed",
			zap.String("code", "token_issuer.persist_failed"),
			zap.String("user_id", applicationUserID),
			zap.Error(replaceErr))
		return TokenPair{}, fmt.Errorf("token_issuer.issue: %w: %w", ErrStoreFailure, replaceErr)
	}
	return TokenPair{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

// VerifyAccessToken returns the user id carried by an internal access token.
func (issuer *TokenIssuer) VerifyAccessToken(token string) (string, error) {
	claims, err := ParseUserToken(issuer.clock, token, issuer.issuer, issuer.accessKey)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

// VerifyRefreshToken returns the user id carried by an internal refresh token.
func (issuer *TokenIssuer) VerifyRefreshToken(token string) (string, error) {
	claims, err := ParseUserToken(issuer.clock, token, issuer.issuer, issuer.refreshKey)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

// Reissue rotates the pair of the user holding the live refresh token.
func (issuer *TokenIssuer) Reissue(ctx context.Context, refreshToken string) (string, TokenPair, error) {
	applicationUserID, verifyErr := issuer.VerifyRefreshToken(refreshToken)
	if verifyErr != nil {
		return "", TokenPair{}, fmt.Errorf("token_issuer.reissue: %v: %w", verifyErr, ErrRefreshTokenNotFound)
	}
	record, findErr := issuer.store.FindByToken(ctx, refreshToken)
	if findErr != nil {
		return "", TokenPair{}, fmt.Errorf("token_issuer.reissue: %w", findErr)
	}
	if record.UserID != applicationUserID {
		return "", TokenPair{}, fmt.Errorf("token_issuer.reissue: user mismatch: %w", ErrRefreshTokenNotFound)
	}
	pair, issueErr := issuer.Issue(ctx, applicationUserID)
	if issueErr != nil {
		return "", TokenPair{}, issueErr
	}
	return applicationUserID, pair, nil
}

// Revoke clears the user's refresh token slot.
func (issuer *TokenIssuer) Revoke(ctx context.Context, applicationUserID string) error {
	if err := issuer.store.Delete(ctx, applicationUserID); err != nil {
		return fmt.Errorf("token_issuer.revoke: %w", err)
	}
	return nil
}
