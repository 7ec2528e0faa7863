package authkit

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/idtoken"
)

// GoogleTokenValidator validates Google-issued ID tokens against an audience.
type GoogleTokenValidator interface {
	Validate(ctx context.Context, idToken string, audience string) (*idtoken.Payload, error)
}

// NewGoogleTokenValidator builds a validator that fetches Google's published keys.
func NewGoogleTokenValidator(ctx context.Context) (GoogleTokenValidator, error) {
	return idtoken.NewValidator(ctx)
}

// VerifiedIdentity is the subject extracted from a verified identity assertion.
type VerifiedIdentity struct {
	Subject string
	Email   string
	Name    string
	Picture string
	Nonce   string
}

// IdentityVerifier checks a provider identity assertion for signature, audience, and expiry.
type IdentityVerifier interface {
	Verify(ctx context.Context, assertion string, expectedAudience string) (VerifiedIdentity, error)
}

// GoogleIdentityVerifier verifies Google Sign-In ID tokens.
type GoogleIdentityVerifier struct {
	validator GoogleTokenValidator
}

// NewGoogleIdentityVerifier wraps a GoogleTokenValidator.
func NewGoogleIdentityVerifier(validator GoogleTokenValidator) *GoogleIdentityVerifier {
	return &GoogleIdentityVerifier{validator: validator}
}

// Verify validates the assertion and extracts a verified identity.
func (verifier *GoogleIdentityVerifier) Verify(ctx context.Context, assertion string, expectedAudience string) (VerifiedIdentity, error) {
	if strings.TrimSpace(assertion) == "" {
		return VerifiedIdentity{}, fmt.Errorf("identity.verify: missing assertion: %w", ErrInvalidAssertion)
	}
	if verifier.validator == nil {
		return VerifiedIdentity{}, fmt.Errorf("identity.verify: validator not configured: %w", ErrInvalidAssertion)
	}
	payload, validateErr := verifier.validator.Validate(ctx, assertion, expectedAudience)
	if validateErr != nil {
		return VerifiedIdentity{}, fmt.Errorf("identity.verify: %v: %w", validateErr, ErrInvalidAssertion)
	}
	if payload == nil {
		return VerifiedIdentity{}, fmt.Errorf("identity.verify: empty payload: %w", ErrInvalidAssertion)
	}
	issuerValue, _ := payload.Claims["iss"].(string)
	if issuerValue != "https://accounts.google.com" && issuerValue != "accounts.google.com" {
		return VerifiedIdentity{}, fmt.Errorf("identity.verify: issuer %q: %w", issuerValue, ErrInvalidAssertion)
	}
	googleSub, _ := payload.Claims["sub"].(string)
	userEmail, _ := payload.Claims["email"].(string)
	emailVerified, _ := payload.Claims["email_verified"].(bool)
	if googleSub == "" || userEmail == "" || !emailVerified {
		return VerifiedIdentity{}, fmt.Errorf("identity.verify: unverified identity: %w", ErrInvalidAssertion)
	}
	userDisplayName, _ := payload.Claims["name"].(string)
	userPicture, _ := payload.Claims["picture"].(string)
	nonce, _ := payload.Claims["nonce"].(string)
	return VerifiedIdentity{
		Subject: googleSub,
		Email:   userEmail,
		Name:    userDisplayName,
		Picture: userPicture,
		Nonce:   nonce,
	}, nil
}
