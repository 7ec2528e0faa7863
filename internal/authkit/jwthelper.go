package authkit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	errEmptySubject    = errors.New("subject must be non-empty")
	errEmptySigningKey = errors.New("signing key must be non-empty")
)

// UserTokenClaims are embedded in internal access and refresh tokens.
type UserTokenClaims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// MintUserToken creates a signed HS256 token carrying the user id.
func MintUserToken(clock Clock, applicationUserID string, issuer string, signingKey []byte, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(applicationUserID) == "" {
		return "", time.Time{}, fmt.Errorf("jwt.mint.failure: %w", errEmptySubject)
	}
	if len(signingKey) == 0 {
		return "", time.Time{}, fmt.Errorf("jwt.mint.failure: %w", errEmptySigningKey)
	}
	issuedAt := clock.Now().UTC()
	expiresAt := issuedAt.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, UserTokenClaims{
		UserID: applicationUserID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt.mint.failure: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseUserToken verifies signature, issuer, and expiry and returns the claims.
func ParseUserToken(clock Clock, tokenString string, issuer string, signingKey []byte) (*UserTokenClaims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, errors.New("jwt.parse.failure: empty token")
	}
	parsedToken, parseErr := jwt.ParseWithClaims(tokenString, &UserTokenClaims{}, func(parsed *jwt.Token) (interface{}, error) {
		return signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(clock.Now),
	)
	if parseErr != nil {
		return nil, fmt.Errorf("jwt.parse.failure: %w", parseErr)
	}
	claims, ok := parsedToken.Claims.(*UserTokenClaims)
	if !ok || !parsedToken.Valid || claims.UserID == "" {
		return nil, errors.New("jwt.parse.failure: invalid claims")
	}
	return claims, nil
}
