package authkit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryRefreshTokenStore is an in-memory store intended for tests and dev.
type MemoryRefreshTokenStore struct {
	mutex  sync.Mutex
	byUser map[string]RefreshTokenRecord
	byHash map[string]string
}

// NewMemoryRefreshTokenStore creates a new in-memory token store.
func NewMemoryRefreshTokenStore() *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{
		byUser: make(map[string]RefreshTokenRecord),
		byHash: make(map[string]string),
	}
}

// Replace swaps the user's slot under a single lock.
func (store *MemoryRefreshTokenStore) Replace(ctx context.Context, applicationUserID string, token string, issuedAt time.Time) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("refresh_store.replace.memory: %w", ErrRefreshTokenEmpty)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	store.dropLocked(applicationUserID)
	hashValue := HashRefreshToken(token)
	store.byUser[applicationUserID] = RefreshTokenRecord{
		UserID:    applicationUserID,
		TokenHash: hashValue,
		IssuedAt:  issuedAt.UTC(),
	}
	store.byHash[hashValue] = applicationUserID
	return nil
}

// Lookup returns the live record of the user.
func (store *MemoryRefreshTokenStore) Lookup(ctx context.Context, applicationUserID string) (RefreshTokenRecord, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record, ok := store.byUser[applicationUserID]
	if !ok {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.lookup.memory: %w", ErrRefreshTokenNotFound)
	}
	return record, nil
}

// FindByToken returns the record holding the token.
func (store *MemoryRefreshTokenStore) FindByToken(ctx context.Context, token string) (RefreshTokenRecord, error) {
	if strings.TrimSpace(token) == "" {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.memory: %w", ErrRefreshTokenEmpty)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	applicationUserID, ok := store.byHash[HashRefreshToken(token)]
	if !ok {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.memory: %w", ErrRefreshTokenNotFound)
	}
	record, ok := store.byUser[applicationUserID]
	if !ok {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.memory: %w", ErrRefreshTokenNotFound)
	}
	return record, nil
}

// Delete clears the user's slot.
func (store *MemoryRefreshTokenStore) Delete(ctx context.Context, applicationUserID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.dropLocked(applicationUserID)
	return nil
}

// Len reports the number of stored records.
func (store *MemoryRefreshTokenStore) Len() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return len(store.byUser)
}

func (store *MemoryRefreshTokenStore) dropLocked(applicationUserID string) {
	previous, ok := store.byUser[applicationUserID]
	if !ok {
		return
	}
	delete(store.byHash, previous.TokenHash)
	delete(store.byUser, applicationUserID)
}
