package authkit

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAssertion indicates the provider identity assertion failed verification.
	ErrInvalidAssertion = errors.New("identity.invalid_assertion")
	// ErrStoreFailure indicates the refresh token store rejected a write.
	ErrStoreFailure = errors.New("refresh_store.write_failed")
	// ErrMissingBackendToken indicates the backend token exchange never succeeded for a session.
	ErrMissingBackendToken = errors.New("session.missing_backend_token")
	// ErrRefreshTokenNotFound indicates no live refresh token matched the lookup.
	ErrRefreshTokenNotFound = errors.New("refresh_store.not_found")
	// ErrRefreshTokenEmpty indicates an empty refresh token was supplied.
	ErrRefreshTokenEmpty = errors.New("refresh_store.empty_token")
	// ErrUserNotFound indicates the user directory has no record for the lookup key.
	ErrUserNotFound = errors.New("user_directory.not_found")
	// ErrUserExists indicates a create raced with another create for the same email.
	ErrUserExists = errors.New("user_directory.exists")
	// ErrNonceMismatch indicates the assertion nonce differs from the consumed nonce.
	ErrNonceMismatch = errors.New("identity.nonce_mismatch")
)

// RefreshAccessTokenError is the terminal marker written into a session token
// when the provider refresh fails.
const RefreshAccessTokenError = "RefreshAccessTokenError"

// RefreshError describes a failed call to the provider token endpoint.
type RefreshError struct {
	StatusCode int
	ErrorCode  string
	Payload    map[string]any
	Body       []byte
	Err        error
}

func (refreshError *RefreshError) Error() string {
	switch {
	case refreshError.StatusCode != 0 && refreshError.ErrorCode != "":
		return fmt.Sprintf("provider.refresh_failed: status %d: %s", refreshError.StatusCode, refreshError.ErrorCode)
	case refreshError.StatusCode != 0:
		return fmt.Sprintf("provider.refresh_failed: status %d", refreshError.StatusCode)
	case refreshError.Err != nil:
		return fmt.Sprintf("provider.refresh_failed: %v", refreshError.Err)
	default:
		return "provider.refresh_failed"
	}
}

func (refreshError *RefreshError) Unwrap() error {
	return refreshError.Err
}
