package authkit

import (
	"crypto/sha256"
	"encoding/base64"
)

const tokenFingerprintLength = 8

// HashRefreshToken returns the storage form of a refresh token.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// tokenFingerprint is a short, non-reversible label safe to log.
func tokenFingerprint(token string) string {
	if token == "" {
		return ""
	}
	return HashRefreshToken(token)[:tokenFingerprintLength]
}
