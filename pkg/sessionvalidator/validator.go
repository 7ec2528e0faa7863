// Package sessionvalidator lets downstream services accept the internal access
// token minted at sign-in as a bearer credential.
package sessionvalidator

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ContextKey holds the validated *Claims on the gin context.
const ContextKey = "backend_claims"

const bearerScheme = "bearer"

var (
	ErrMissingSigningKey = errors.New("session.validator.missing_signing_key")
	ErrMissingIssuer     = errors.New("session.validator.missing_issuer")
	ErrMissingToken      = errors.New("session.validator.missing_token")
	ErrInvalidToken      = errors.New("session.validator.invalid_token")
	ErrMissingUserID     = errors.New("session.validator.missing_user_id")
)

// Config holds the access token key and issuer shared with the token issuer.
type Config struct {
	SigningKey []byte
	Issuer     string
	Now        func() time.Time
}

// Claims is the payload of an internal access token.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// Expiry is zero when the token carries no exp claim.
func (claims *Claims) Expiry() time.Time {
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

type Validator struct {
	signingKey []byte
	parser     *jwt.Parser
}

func New(configuration Config) (*Validator, error) {
	if len(configuration.SigningKey) == 0 {
		return nil, fmt.Errorf("session.validator.new: %w", ErrMissingSigningKey)
	}
	if strings.TrimSpace(configuration.Issuer) == "" {
		return nil, fmt.Errorf("session.validator.new: %w", ErrMissingIssuer)
	}
	now := configuration.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Validator{
		signingKey: configuration.SigningKey,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(configuration.Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(now),
		),
	}, nil
}

// Validate checks signature, issuer and expiry and returns the token's user.
func (validator *Validator) Validate(accessToken string) (*Claims, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, ErrMissingToken
	}
	claims := &Claims{}
	if _, err := validator.parser.ParseWithClaims(accessToken, claims, func(*jwt.Token) (interface{}, error) {
		return validator.signingKey, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return nil, ErrMissingUserID
	}
	return claims, nil
}

// ValidateRequest validates the Authorization bearer credential of a request.
func (validator *Validator) ValidateRequest(request *http.Request) (*Claims, error) {
	accessToken, ok := bearerToken(request)
	if !ok {
		return nil, ErrMissingToken
	}
	return validator.Validate(accessToken)
}

// RequireBearer rejects requests without a valid access token and stores the
// claims under ContextKey.
func (validator *Validator) RequireBearer() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		claims, err := validator.ValidateRequest(contextGin.Request)
		if err != nil {
			contextGin.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}
		contextGin.Set(ContextKey, claims)
		contextGin.Next()
	}
}

// ClaimsFromContext returns the claims set by RequireBearer.
func ClaimsFromContext(contextGin *gin.Context) (*Claims, bool) {
	value, found := contextGin.Get(ContextKey)
	if !found {
		return nil, false
	}
	claims, ok := value.(*Claims)
	return claims, ok && claims != nil
}

func bearerToken(request *http.Request) (string, bool) {
	if request == nil {
		return "", false
	}
	scheme, credential, found := strings.Cut(strings.TrimSpace(request.Header.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, bearerScheme) {
		return "", false
	}
	credential = strings.TrimSpace(credential)
	return credential, credential != ""
}
