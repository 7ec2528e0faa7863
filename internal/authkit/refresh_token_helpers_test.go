package authkit

import (
	"strings"
	"testing"
)

func TestHashRefreshTokenIsStableAndOpaque(t *testing.T) {
	t.Parallel()

	first := HashRefreshToken("token-value")
	if first != HashRefreshToken("token-value") {
		t.Fatalf("expected stable hash")
	}
	if first == HashRefreshToken("token-value-2") {
		t.Fatalf("expected distinct hashes for distinct tokens")
	}
	if strings.Contains(first, "token-value") {
		t.Fatalf("hash leaks the token")
	}
	if strings.ContainsAny(first, "+/=") {
		t.Fatalf("expected unpadded url-safe encoding, got %q", first)
	}
}

func TestRefreshTokenRecordMatches(t *testing.T) {
	t.Parallel()

	record := RefreshTokenRecord{UserID: "user-1", TokenHash: HashRefreshToken("live")}
	if !record.Matches("live") {
		t.Fatalf("expected live token to match")
	}
	if record.Matches("stale") || record.Matches("") {
		t.Fatalf("expected stale and empty tokens not to match")
	}
	if (RefreshTokenRecord{}).Matches("live") {
		t.Fatalf("expected empty record not to match")
	}
}

func TestTokenFingerprint(t *testing.T) {
	t.Parallel()

	if tokenFingerprint("") != "" {
		t.Fatalf("expected empty fingerprint for empty token")
	}
	fingerprint := tokenFingerprint("secret-token")
	if len(fingerprint) != tokenFingerprintLength {
		t.Fatalf("expected %d characters, got %q", tokenFingerprintLength, fingerprint)
	}
	if !strings.HasPrefix(HashRefreshToken("secret-token"), fingerprint) {
		t.Fatalf("expected fingerprint to be a hash prefix")
	}
}
