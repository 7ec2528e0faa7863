package authkit

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultAccessTokenTTL is the lifetime of internal access tokens.
	DefaultAccessTokenTTL = 5 * 24 * time.Hour
	// DefaultRefreshTokenTTL is the lifetime of internal refresh tokens.
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
	// DefaultProviderTimeout bounds a single call to the provider token endpoint.
	DefaultProviderTimeout = 10 * time.Second
	// GoogleTokenEndpoint is Google's OAuth 2.0 token endpoint.
	GoogleTokenEndpoint = "https://oauth2.googleapis.com/token"
)

// ServerConfig configures issuers, signing secrets, cookies, and TTLs.
type ServerConfig struct {
	GoogleWebClientID      string
	GoogleClientSecret     string
	GoogleTokenEndpoint    string
	BackendAudience        string
	AccessTokenSigningKey  []byte
	RefreshTokenSigningKey []byte
	SessionSigningKey      []byte
	AppJWTIssuer           string
	CookieDomain           string
	SessionCookieName      string
	AccessTokenTTL         time.Duration
	RefreshTokenTTL        time.Duration
	ProviderTimeout        time.Duration
	NonceTTL               time.Duration
	SameSiteMode           http.SameSite
	AllowInsecureHTTP      bool
	SessionPolicy          SessionPolicy
}

// backendAudience returns the audience used by the backend token exchange.
func (configuration ServerConfig) backendAudience() string {
	if configuration.BackendAudience != "" {
		return configuration.BackendAudience
	}
	return configuration.GoogleWebClientID
}

// TokenIssuerConfig derives the issuer settings from the server configuration.
func (configuration ServerConfig) TokenIssuerConfig(clock Clock, logger *zap.Logger) TokenIssuerConfig {
	return TokenIssuerConfig{
		Issuer:     configuration.AppJWTIssuer,
		AccessKey:  configuration.AccessTokenSigningKey,
		RefreshKey: configuration.RefreshTokenSigningKey,
		AccessTTL:  configuration.AccessTokenTTL,
		RefreshTTL: configuration.RefreshTokenTTL,
		Clock:      clock,
		Logger:     logger,
	}
}

// OrchestratorConfig derives the orchestrator settings from the server configuration.
func (configuration ServerConfig) OrchestratorConfig(clock Clock, logger *zap.Logger, metrics MetricsRecorder) OrchestratorConfig {
	return OrchestratorConfig{
		Audience:        configuration.GoogleWebClientID,
		BackendAudience: configuration.backendAudience(),
		Clock:           clock,
		Logger:          logger,
		Metrics:         metrics,
	}
}

// ProviderConfig derives the provider refresher settings from the server configuration.
func (configuration ServerConfig) ProviderConfig(clock Clock) ProviderConfig {
	tokenURL := configuration.GoogleTokenEndpoint
	if tokenURL == "" {
		tokenURL = GoogleTokenEndpoint
	}
	timeout := configuration.ProviderTimeout
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	return ProviderConfig{
		ClientID:     configuration.GoogleWebClientID,
		ClientSecret: configuration.GoogleClientSecret,
		TokenURL:     tokenURL,
		Timeout:      timeout,
		Clock:        clock,
	}
}
