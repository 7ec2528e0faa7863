package authkit

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"
)

const nonceByteLength = 32

var (
	// ErrNonceNotFound indicates the supplied nonce was not issued or already consumed.
	ErrNonceNotFound = errors.New("nonce.not_found")
	// ErrNonceExpired indicates the nonce expired before consumption.
	ErrNonceExpired = errors.New("nonce.expired")
)

// NonceStore issues one-time nonces that bind an identity assertion to this service.
type NonceStore interface {
	Issue(ctx context.Context) (string, error)
	Consume(ctx context.Context, nonce string) error
}

// MemoryNonceStore keeps nonces in process memory.
type MemoryNonceStore struct {
	mutex   sync.Mutex
	expires map[string]time.Time
	ttl     time.Duration
	clock   Clock
}

// NewMemoryNonceStore constructs a MemoryNonceStore with the provided TTL.
func NewMemoryNonceStore(ttl time.Duration, clock Clock) *MemoryNonceStore {
	if clock == nil {
		clock = NewSystemClock()
	}
	return &MemoryNonceStore{
		expires: make(map[string]time.Time),
		ttl:     ttl,
		clock:   clock,
	}
}

// Issue creates a nonce valid for the configured TTL.
func (store *MemoryNonceStore) Issue(ctx context.Context) (string, error) {
	buffer := make([]byte, nonceByteLength)
	if _, err := rand.Read(buffer); err != nil {
		return "", fmt.Errorf("nonce.random: %w", err)
	}
	nonce := base64.RawURLEncoding.EncodeToString(buffer)

	store.mutex.Lock()
	defer store.mutex.Unlock()
	now := store.clock.Now()
	store.purgeExpiredLocked(now)
	store.expires[nonce] = now.Add(store.ttl)
	return nonce, nil
}

// Consume validates and invalidates a nonce.
func (store *MemoryNonceStore) Consume(ctx context.Context, nonce string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	now := store.clock.Now()
	defer store.purgeExpiredLocked(now)

	expiry, ok := store.expires[nonce]
	if !ok {
		return ErrNonceNotFound
	}
	delete(store.expires, nonce)
	if now.After(expiry) {
		return ErrNonceExpired
	}
	return nil
}

func (store *MemoryNonceStore) purgeExpiredLocked(now time.Time) {
	for nonce, expiry := range store.expires {
		if now.After(expiry) {
			delete(store.expires, nonce)
		}
	}
}
