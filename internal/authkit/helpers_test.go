package authkit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/api/idtoken"
)

type fixedClock struct {
	timestamp time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.timestamp
}

type manualClock struct {
	mutex   sync.Mutex
	current time.Time
}

func newManualClock(start time.Time) *manualClock {
	return &manualClock{current: start}
}

func (clock *manualClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.current
}

func (clock *manualClock) Advance(duration time.Duration) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.current = clock.current.Add(duration)
}

// stubGoogleValidator maps assertion strings to payload claims.
type stubGoogleValidator struct {
	mutex     sync.Mutex
	payloads  map[string]map[string]interface{}
	audiences []string
}

func newStubGoogleValidator() *stubGoogleValidator {
	return &stubGoogleValidator{payloads: make(map[string]map[string]interface{})}
}

func (validator *stubGoogleValidator) register(assertion string, email string, nonce string) {
	validator.mutex.Lock()
	defer validator.mutex.Unlock()
	validator.payloads[assertion] = map[string]interface{}{
		"iss":            "https://accounts.google.com",
		"sub":            "sub-" + email,
		"email":          email,
		"email_verified": true,
		"name":           "User " + email,
		"picture":        "https://example.com/" + email + ".png",
		"nonce":          nonce,
	}
}

func (validator *stubGoogleValidator) Validate(ctx context.Context, token string, audience string) (*idtoken.Payload, error) {
	validator.mutex.Lock()
	defer validator.mutex.Unlock()
	validator.audiences = append(validator.audiences, audience)
	claims, ok := validator.payloads[token]
	if !ok {
		return nil, errors.New("idtoken: invalid token")
	}
	return &idtoken.Payload{Issuer: claims["iss"].(string), Audience: audience, Subject: claims["sub"].(string), Claims: claims}, nil
}

func (validator *stubGoogleValidator) seenAudiences() []string {
	validator.mutex.Lock()
	defer validator.mutex.Unlock()
	return append([]string(nil), validator.audiences...)
}

// stubRefresher returns a fixed result and counts calls.
type stubRefresher struct {
	calls  atomic.Int32
	result ProviderTokens
	err    error
	delay  time.Duration
}

func (refresher *stubRefresher) Refresh(ctx context.Context, providerRefreshToken string) (ProviderTokens, error) {
	refresher.calls.Add(1)
	if refresher.delay > 0 {
		select {
		case <-time.After(refresher.delay):
		case <-ctx.Done():
			return ProviderTokens{}, &RefreshError{Err: ctx.Err()}
		}
	}
	if refresher.err != nil {
		return ProviderTokens{}, refresher.err
	}
	return refresher.result, nil
}

// memoryUsers is a minimal UserDirectory for package tests.
type memoryUsers struct {
	mutex   sync.Mutex
	byEmail map[string]User
	nextID  int
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{byEmail: make(map[string]User)}
}

func (users *memoryUsers) FindByEmail(ctx context.Context, email string) (User, error) {
	users.mutex.Lock()
	defer users.mutex.Unlock()
	user, ok := users.byEmail[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (users *memoryUsers) Create(ctx context.Context, name string, email string, subject string, image string) (User, error) {
	users.mutex.Lock()
	defer users.mutex.Unlock()
	if _, exists := users.byEmail[email]; exists {
		return User{}, ErrUserExists
	}
	users.nextID++
	user := User{ID: fmt.Sprintf("user-%d", users.nextID), Email: email, Name: name, Subject: subject, Image: image}
	users.byEmail[email] = user
	return user, nil
}

func (users *memoryUsers) count() int {
	users.mutex.Lock()
	defer users.mutex.Unlock()
	return len(users.byEmail)
}

// failingRefreshStore rejects writes.
type failingRefreshStore struct {
	*MemoryRefreshTokenStore
}

var errStoreUnavailable = errors.New("store unavailable")

func (failingRefreshStore) Replace(ctx context.Context, applicationUserID string, token string, issuedAt time.Time) error {
	return errStoreUnavailable
}

func newTestIssuer(clock Clock, store RefreshTokenStore) *TokenIssuer {
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		Issuer:     "tsession-test",
		AccessKey:  []byte("access-secret"),
		RefreshKey: []byte("refresh-secret"),
		Clock:      clock,
	}, store)
	if err != nil {
		panic(err)
	}
	return issuer
}
