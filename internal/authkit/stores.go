package authkit

import (
	"context"
	"crypto/subtle"
	"time"
)

// User is an application user owned by the UserDirectory.
type User struct {
	ID      string
	Email   string
	Name    string
	Subject string
	Image   string
}

// UserDirectory looks up and creates application users keyed by email.
type UserDirectory interface {
	FindByEmail(ctx context.Context, email string) (User, error)
	Create(ctx context.Context, name string, email string, subject string, image string) (User, error)
}

// RefreshTokenRecord is the single live refresh token slot of a user.
type RefreshTokenRecord struct {
	UserID    string
	TokenHash string
	IssuedAt  time.Time
}

// Matches reports whether the opaque token hashes to the stored value.
func (record RefreshTokenRecord) Matches(token string) bool {
	if record.TokenHash == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(record.TokenHash), []byte(HashRefreshToken(token))) == 1
}

// RefreshTokenStore keeps at most one refresh token per user.
type RefreshTokenStore interface {
	// Replace drops any prior token of the user and stores the new one.
	Replace(ctx context.Context, applicationUserID string, token string, issuedAt time.Time) error
	// Lookup returns the live record of the user or ErrRefreshTokenNotFound.
	Lookup(ctx context.Context, applicationUserID string) (RefreshTokenRecord, error)
	// FindByToken returns the record holding the token or ErrRefreshTokenNotFound.
	FindByToken(ctx context.Context, token string) (RefreshTokenRecord, error)
	// Delete removes the user's slot; deleting an empty slot is not an error.
	Delete(ctx context.Context, applicationUserID string) error
}
