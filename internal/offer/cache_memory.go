package offer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vcissuer/internal/sentinel"
)

type memoryEntry struct {
	offer     CredentialOffer
	expiresAt time.Time
}

// MemoryCache is an in-memory Cache for tests and local development.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Store(_ context.Context, nonce string, offer CredentialOffer, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[nonce] = memoryEntry{offer: offer, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Redeem(_ context.Context, nonce string) (*CredentialOffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[nonce]
	if !ok {
		return nil, fmt.Errorf("credential offer %q: %w", nonce, sentinel.ErrNotFound)
	}
	delete(c.entries, nonce)

	if c.now().After(entry.expiresAt) {
		return nil, fmt.Errorf("credential offer %q: %w", nonce, sentinel.ErrNotFound)
	}
	offer := entry.offer
	return &offer, nil
}
