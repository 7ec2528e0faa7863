package authkit

import (
	"strings"
	"testing"
	"time"
)

func TestMintUserTokenRejectsEmptySubject(t *testing.T) {
	t.Parallel()

	_, _, err := MintUserToken(fixedClock{timestamp: time.Unix(1700000000, 0)}, "", "issuer", []byte("signing-key"), time.Minute)
	if err == nil {
		t.Fatalf("expected error when user ID is empty")
	}

	expected := "jwt.mint.failure: subject must be non-empty"
	if err.Error() != expected {
		t.Fatalf("expected error %q, got %q", expected, err.Error())
	}
}

func TestMintUserTokenRejectsEmptyKey(t *testing.T) {
	t.Parallel()

	_, _, err := MintUserToken(fixedClock{timestamp: time.Unix(1700000000, 0)}, "user-123", "issuer", nil, time.Minute)
	if err == nil || err.Error() != "jwt.mint.failure: signing key must be non-empty" {
		t.Fatalf("expected empty key error, got %v", err)
	}
}

func TestMintUserTokenCarriesClockTimestamps(t *testing.T) {
	t.Parallel()

	reference := time.Unix(1700000000, 0).UTC()
	clock := fixedClock{timestamp: reference}
	token, expiresAt, err := MintUserToken(clock, "user-123", "issuer", []byte("signing-key"), 2*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == "" {
		t.Fatalf("expected signed token")
	}
	expectedExpiry := reference.Add(2 * time.Minute)
	if !expiresAt.Equal(expectedExpiry) {
		t.Fatalf("expected expiry %v, got %v", expectedExpiry, expiresAt)
	}

	claims, err := ParseUserToken(clock, token, "issuer", []byte("signing-key"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "user-123" {
		t.Fatalf("unexpected user id %q", claims.UserID)
	}
	if claims.ID == "" {
		t.Fatalf("expected a token id")
	}
	if !claims.IssuedAt.Time.Equal(reference) {
		t.Fatalf("expected issued at %v, got %v", reference, claims.IssuedAt.Time)
	}
}

func TestMintUserTokenIsUniquePerCall(t *testing.T) {
	t.Parallel()

	clock := fixedClock{timestamp: time.Unix(1700000000, 0)}
	first, _, err := MintUserToken(clock, "user-123", "issuer", []byte("signing-key"), time.Minute)
	if err != nil {
		t.Fatalf("mint first: %v", err)
	}
	second, _, err := MintUserToken(clock, "user-123", "issuer", []byte("signing-key"), time.Minute)
	if err != nil {
		t.Fatalf("mint second: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct tokens within the same second")
	}
}

func TestParseUserTokenRejections(t *testing.T) {
	t.Parallel()

	reference := time.Unix(1700000000, 0).UTC()
	token, _, err := MintUserToken(fixedClock{timestamp: reference}, "user-123", "issuer", []byte("signing-key"), time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	testCases := []struct {
		name   string
		clock  Clock
		token  string
		issuer string
		key    []byte
	}{
		{name: "empty", clock: fixedClock{timestamp: reference}, token: " ", issuer: "issuer", key: []byte("signing-key")},
		{name: "wrong key", clock: fixedClock{timestamp: reference}, token: token, issuer: "issuer", key: []byte("other-key")},
		{name: "wrong issuer", clock: fixedClock{timestamp: reference}, token: token, issuer: "other", key: []byte("signing-key")},
		{name: "expired", clock: fixedClock{timestamp: reference.Add(2 * time.Minute)}, token: token, issuer: "issuer", key: []byte("signing-key")},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			_, parseErr := ParseUserToken(testCase.clock, testCase.token, testCase.issuer, testCase.key)
			if parseErr == nil || !strings.HasPrefix(parseErr.Error(), "jwt.parse.failure") {
				t.Fatalf("expected parse failure, got %v", parseErr)
			}
		})
	}
}
