package authkit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionUser is the identity snapshot carried inside a session token.
type SessionUser struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Image string `json:"image,omitempty"`
}

// SessionToken is the caller-carried session state. It is never stored server side.
//
// AccessTokenFromBackend is the internal access token minted by the backend
// exchange; RefreshTokenFromBackend is its paired internal refresh token.
// AccessTokenExpires is the provider access token expiry in unix milliseconds.
type SessionToken struct {
	User                    SessionUser `json:"user"`
	UserID                  string      `json:"userId,omitempty"`
	IDToken                 string      `json:"idToken,omitempty"`
	AccessToken             string      `json:"accessToken,omitempty"`
	RefreshToken            string      `json:"refreshToken,omitempty"`
	AccessTokenExpires      int64       `json:"accessTokenExpires"`
	AccessTokenFromBackend  string      `json:"accessTokenFromBackend,omitempty"`
	RefreshTokenFromBackend string      `json:"refreshTokenFromBackend,omitempty"`
	Error                   string      `json:"error,omitempty"`
}

// ExpiresAt converts AccessTokenExpires to a time.
func (token SessionToken) ExpiresAt() time.Time {
	return time.UnixMilli(token.AccessTokenExpires).UTC()
}

// AccessTokenValid reports whether the provider access token is still usable at now.
func (token SessionToken) AccessTokenValid(now time.Time) bool {
	return token.AccessTokenExpires > 0 && now.UnixMilli() < token.AccessTokenExpires
}

var (
	// ErrSessionCookieInvalid indicates a session cookie failed signature or expiry checks.
	ErrSessionCookieInvalid = errors.New("session.cookie_invalid")

	errMissingSessionKey = errors.New("session.codec.missing_signing_key")
)

type sessionClaims struct {
	Session SessionToken `json:"session"`
	jwt.RegisteredClaims
}

// SessionCodec signs and verifies SessionToken cookies.
type SessionCodec struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	clock      Clock
}

// NewSessionCodec builds a codec signing with HS256.
func NewSessionCodec(signingKey []byte, issuer string, ttl time.Duration, clock Clock) (*SessionCodec, error) {
	if len(signingKey) == 0 {
		return nil, errMissingSessionKey
	}
	if ttl <= 0 {
		ttl = DefaultRefreshTokenTTL
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	return &SessionCodec{signingKey: signingKey, issuer: issuer, ttl: ttl, clock: clock}, nil
}

// TTL is the lifetime of an encoded session.
func (codec *SessionCodec) TTL() time.Duration {
	return codec.ttl
}

// Encode signs the session token and returns the cookie value and its expiry.
func (codec *SessionCodec) Encode(token SessionToken) (string, time.Time, error) {
	issuedAt := codec.clock.Now().UTC()
	expiresAt := issuedAt.Add(codec.ttl)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		Session: token,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    codec.issuer,
			Subject:   token.UserID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}).SignedString(codec.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("session.codec.encode: %w", err)
	}
	return signed, expiresAt, nil
}

// Decode verifies the cookie value and returns the carried session token.
func (codec *SessionCodec) Decode(value string) (SessionToken, error) {
	if strings.TrimSpace(value) == "" {
		return SessionToken{}, fmt.Errorf("session.codec.decode: empty: %w", ErrSessionCookieInvalid)
	}
	claims := &sessionClaims{}
	parsedToken, parseErr := jwt.ParseWithClaims(value, claims, func(parsed *jwt.Token) (interface{}, error) {
		return codec.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(codec.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(codec.clock.Now),
	)
	if parseErr != nil || parsedToken == nil || !parsedToken.Valid {
		return SessionToken{}, fmt.Errorf("session.codec.decode: %v: %w", parseErr, ErrSessionCookieInvalid)
	}
	return claims.Session, nil
}
