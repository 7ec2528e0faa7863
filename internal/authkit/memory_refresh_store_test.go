package authkit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemoryRefreshTokenStoreKeepsSingleSlot(t *testing.T) {
	t.Parallel()
	store := NewMemoryRefreshTokenStore()
	ctx := context.Background()
	issuedAt := time.Unix(1700000000, 0).UTC()

	for index := 0; index < 10; index++ {
		if err := store.Replace(ctx, "user-1", fmt.Sprintf("token-%d", index), issuedAt.Add(time.Duration(index)*time.Second)); err != nil {
			t.Fatalf("replace %d: %v", index, err)
		}
	}
	if store.Len() != 1 {
		t.Fatalf("expected exactly one record, got %d", store.Len())
	}

	record, err := store.Lookup(ctx, "user-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !record.Matches("token-9") {
		t.Fatalf("expected latest token to match")
	}
	if record.Matches("token-0") {
		t.Fatalf("expected superseded token not to match")
	}
	if record.TokenHash == "token-9" {
		t.Fatalf("expected stored value to be hashed")
	}

	if _, err := store.FindByToken(ctx, "token-0"); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Fatalf("expected superseded token lookup to fail, got %v", err)
	}
	found, err := store.FindByToken(ctx, "token-9")
	if err != nil || found.UserID != "user-1" {
		t.Fatalf("expected latest token to resolve to user-1, got %v %v", found, err)
	}
}

func TestMemoryRefreshTokenStoreConcurrentReplace(t *testing.T) {
	t.Parallel()
	store := NewMemoryRefreshTokenStore()
	ctx := context.Background()

	const writers = 32
	var waitGroup sync.WaitGroup
	for index := 0; index < writers; index++ {
		waitGroup.Add(1)
		go func(index int) {
			defer waitGroup.Done()
			_ = store.Replace(ctx, "user-1", fmt.Sprintf("token-%d", index), time.Now())
		}(index)
	}
	waitGroup.Wait()

	if store.Len() != 1 {
		t.Fatalf("expected exactly one record after concurrent replace, got %d", store.Len())
	}
	record, err := store.Lookup(ctx, "user-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	matches := 0
	for index := 0; index < writers; index++ {
		if _, findErr := store.FindByToken(ctx, fmt.Sprintf("token-%d", index)); findErr == nil {
			matches++
			if !record.Matches(fmt.Sprintf("token-%d", index)) {
				t.Fatalf("resolvable token %d does not match stored record", index)
			}
		}
	}
	if matches != 1 {
		t.Fatalf("expected exactly one resolvable token, got %d", matches)
	}
}

func TestMemoryRefreshTokenStoreIsolatesUsers(t *testing.T) {
	t.Parallel()
	store := NewMemoryRefreshTokenStore()
	ctx := context.Background()

	if err := store.Replace(ctx, "user-a", "token-a", time.Now()); err != nil {
		t.Fatalf("replace a: %v", err)
	}
	if err := store.Replace(ctx, "user-b", "token-b", time.Now()); err != nil {
		t.Fatalf("replace b: %v", err)
	}
	if err := store.Delete(ctx, "user-a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Lookup(ctx, "user-a"); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Fatalf("expected user-a slot to be empty, got %v", err)
	}
	if _, err := store.FindByToken(ctx, "token-a"); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Fatalf("expected token-a to be gone, got %v", err)
	}
	if _, err := store.Lookup(ctx, "user-b"); err != nil {
		t.Fatalf("expected user-b slot to survive, got %v", err)
	}
}
