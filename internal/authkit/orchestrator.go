package authkit

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ProviderAccount is what the provider consent flow hands over on first sign-in.
// ExpiresAt is the provider access token expiry in unix seconds.
type ProviderAccount struct {
	IDToken      string
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
	Nonce        string
}

// OrchestratorConfig configures an Orchestrator.
type OrchestratorConfig struct {
	Audience        string
	BackendAudience string
	Clock           Clock
	Logger          *zap.Logger
	Metrics         MetricsRecorder
}

// Orchestrator drives the session token state machine.
type Orchestrator struct {
	verifier        IdentityVerifier
	users           UserDirectory
	issuer          *TokenIssuer
	refresher       ProviderTokenRefresher
	audience        string
	backendAudience string
	clock           Clock
	logger          *zap.Logger
	metrics         MetricsRecorder
	refreshGroup    singleflight.Group
}

// NewOrchestrator wires the lifecycle collaborators together.
func NewOrchestrator(configuration OrchestratorConfig, verifier IdentityVerifier, users UserDirectory, issuer *TokenIssuer, refresher ProviderTokenRefresher) *Orchestrator {
	backendAudience := configuration.BackendAudience
	if backendAudience == "" {
		backendAudience = configuration.Audience
	}
	clock := configuration.Clock
	if clock == nil {
		clock = NewSystemClock()
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var metrics MetricsRecorder = noopMetrics{}
	if configuration.Metrics != nil {
		metrics = configuration.Metrics
	}
	return &Orchestrator{
		verifier:        verifier,
		users:           users,
		issuer:          issuer,
		refresher:       refresher,
		audience:        configuration.Audience,
		backendAudience: backendAudience,
		clock:           clock,
		logger:          logger,
		metrics:         metrics,
	}
}

// SignIn verifies the provider identity, upserts the user, and performs the backend exchange.
func (orchestrator *Orchestrator) SignIn(ctx context.Context, account ProviderAccount) (SessionToken, error) {
	identity, verifyErr := orchestrator.verifier.Verify(ctx, account.IDToken, orchestrator.audience)
	if verifyErr != nil {
		orchestrator.rejectSignIn("identity verification failed", verifyErr)
		return SessionToken{}, fmt.Errorf("orchestrator.sign_in: %w", verifyErr)
	}
	if account.Nonce != "" && identity.Nonce != account.Nonce {
		nonceErr := fmt.Errorf("%w: %w", ErrInvalidAssertion, ErrNonceMismatch)
		orchestrator.rejectSignIn("nonce mismatch", nonceErr)
		return SessionToken{}, fmt.Errorf("orchestrator.sign_in: %w", nonceErr)
	}

	user, upsertErr := orchestrator.upsertUser(ctx, identity)
	if upsertErr != nil {
		orchestrator.rejectSignIn("user upsert failed", upsertErr)
		return SessionToken{}, fmt.Errorf("orchestrator.sign_in: %w", upsertErr)
	}

	_, pair, exchangeErr := orchestrator.ExchangeBackendToken(ctx, account.IDToken)
	if exchangeErr != nil {
		orchestrator.rejectSignIn("backend token exchange failed", exchangeErr)
		return SessionToken{}, fmt.Errorf("orchestrator.sign_in: %w", exchangeErr)
	}

	var accessTokenExpires int64
	if account.ExpiresAt > 0 {
		accessTokenExpires = account.ExpiresAt * 1000
	}
	displayName := user.Name
	if displayName == "" {
		displayName = identity.Name
	}
	image := user.Image
	if image == "" {
		image = identity.Picture
	}

	orchestrator.metrics.Increment(metricAuthLoginSuccess)
	orchestrator.logger.Info("sign-in completed",
		zap.String("user_id", user.ID),
		zap.String("refresh_fingerprint", tokenFingerprint(pair.RefreshToken)))

	return SessionToken{
		User: SessionUser{
			Name:  displayName,
			Email: user.Email,
			Image: image,
		},
		UserID:                  user.ID,
		IDToken:                 account.IDToken,
		AccessToken:             account.AccessToken,
		RefreshToken:            account.RefreshToken,
		AccessTokenExpires:      accessTokenExpires,
		AccessTokenFromBackend:  pair.AccessToken,
		RefreshTokenFromBackend: pair.RefreshToken,
	}, nil
}

// ExchangeBackendToken converts a verified provider identity into an internal token pair.
func (orchestrator *Orchestrator) ExchangeBackendToken(ctx context.Context, idToken string) (User, TokenPair, error) {
	identity, verifyErr := orchestrator.verifier.Verify(ctx, idToken, orchestrator.backendAudience)
	if verifyErr != nil {
		return User{}, TokenPair{}, fmt.Errorf("orchestrator.exchange: %w", verifyErr)
	}
	user, findErr := orchestrator.users.FindByEmail(ctx, identity.Email)
	if findErr != nil {
		return User{}, TokenPair{}, fmt.Errorf("orchestrator.exchange: %w", findErr)
	}
	pair, issueErr := orchestrator.issuer.Issue(ctx, user.ID)
	if issueErr != nil {
		return User{}, TokenPair{}, fmt.Errorf("orchestrator.exchange: %w", issueErr)
	}
	return user, pair, nil
}

// Advance applies one request's worth of lifecycle transitions. It never fails:
// a provider refresh failure is recorded as an error marker on the token.
func (orchestrator *Orchestrator) Advance(ctx context.Context, token SessionToken) SessionToken {
	if token.Error != "" {
		return token
	}
	if token.AccessTokenValid(orchestrator.clock.Now()) {
		orchestrator.metrics.Increment(metricSessionPassThrough)
		return token
	}

	refreshed, refreshErr := orchestrator.refreshProvider(ctx, token.RefreshToken)
	if refreshErr != nil {
		orchestrator.metrics.Increment(metricProviderRefreshFailure)
		fields := []zap.Field{
			zap.String("code", "provider.refresh_failed"),
			zap.String("user_id", token.UserID),
			zap.Error(refreshErr),
		}
		var providerErr *RefreshError
		if errors.As(refreshErr, &providerErr) {
			fields = append(fields, zap.Int("status", providerErr.StatusCode), zap.String("provider_error", providerErr.ErrorCode))
		}
		orchestrator.logger.Warn("provider token refresh failed", fields...)
		token.Error = RefreshAccessTokenError
		return token
	}

	orchestrator.metrics.Increment(metricProviderRefreshSuccess)
	token.IDToken = refreshed.IDToken
	token.AccessToken = refreshed.AccessToken
	token.AccessTokenExpires = refreshed.AccessTokenExpires
	token.RefreshToken = refreshed.RefreshToken
	return token
}

// Reissue rotates the internal token pair from a live internal refresh token.
func (orchestrator *Orchestrator) Reissue(ctx context.Context, internalRefreshToken string) (string, TokenPair, error) {
	applicationUserID, pair, err := orchestrator.issuer.Reissue(ctx, internalRefreshToken)
	if err != nil {
		orchestrator.metrics.Increment(metricAuthRefreshFailure)
		orchestrator.logger.Warn("internal token reissue rejected",
			zap.String("code", "auth.refresh.rejected"),
			zap.Error(err))
		return "", TokenPair{}, err
	}
	orchestrator.metrics.Increment(metricAuthRefreshSuccess)
	return applicationUserID, pair, nil
}

// SignOut clears the user's refresh token slot.
func (orchestrator *Orchestrator) SignOut(ctx context.Context, token SessionToken) error {
	if token.UserID == "" {
		return nil
	}
	if err := orchestrator.issuer.Revoke(ctx, token.UserID); err != nil {
		return err
	}
	orchestrator.metrics.Increment(metricAuthLogoutSuccess)
	return nil
}

func (orchestrator *Orchestrator) upsertUser(ctx context.Context, identity VerifiedIdentity) (User, error) {
	existing, findErr := orchestrator.users.FindByEmail(ctx, identity.Email)
	if findErr == nil {
		return existing, nil
	}
	if !errors.Is(findErr, ErrUserNotFound) {
		return User{}, findErr
	}
	created, createErr := orchestrator.users.Create(ctx, identity.Name, identity.Email, identity.Subject, identity.Picture)
	if errors.Is(createErr, ErrUserExists) {
		return orchestrator.users.FindByEmail(ctx, identity.Email)
	}
	if createErr != nil {
		return User{}, createErr
	}
	return created, nil
}

// refreshProvider collapses concurrent refreshes of the same provider refresh token.
// The shared call is detached from the first caller's cancellation so one
// abandoned request cannot fail the others; the refresher's own timeout bounds it.
func (orchestrator *Orchestrator) refreshProvider(ctx context.Context, providerRefreshToken string) (ProviderTokens, error) {
	sharedContext := context.WithoutCancel(ctx)
	value, err, _ := orchestrator.refreshGroup.Do(HashRefreshToken(providerRefreshToken), func() (interface{}, error) {
		return orchestrator.refresher.Refresh(sharedContext, providerRefreshToken)
	})
	if err != nil {
		return ProviderTokens{}, err
	}
	return value.(ProviderTokens), nil
}

func (orchestrator *Orchestrator) rejectSignIn(message string, err error) {
	orchestrator.metrics.Increment(metricAuthLoginFailure)
	orchestrator.logger.Warn(message,
		zap.String("code", "auth.login.rejected"),
		zap.Error(err))
}
