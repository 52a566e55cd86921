package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"vcissuer/internal/sentinel"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]json.RawMessage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string]json.RawMessage)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	secret, ok := s.secrets[key]
	if !ok {
		return nil, fmt.Errorf("secret %q: %w", key, sentinel.ErrNotFound)
	}
	cp := make(json.RawMessage, len(secret))
	copy(cp, secret)
	return cp, nil
}

func (s *MemoryStore) Save(_ context.Context, key string, secrets json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make(json.RawMessage, len(secrets))
	copy(cp, secrets)
	s.secrets[key] = cp
	return nil
}

func (s *MemoryStore) Patch(_ context.Context, key string, secrets json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.secrets[key]
	if !ok {
		return fmt.Errorf("secret %q: %w", key, sentinel.ErrNotFound)
	}
	merged, err := mergeSecrets(existing, secrets)
	if err != nil {
		return err
	}
	s.secrets[key] = merged
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.secrets[key]; !ok {
		return fmt.Errorf("secret %q: %w", key, sentinel.ErrNotFound)
	}
	delete(s.secrets, key)
	return nil
}

// mergeSecrets overlays patch's top-level fields onto base.
func mergeSecrets(base, patch json.RawMessage) (json.RawMessage, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(base, &doc); err != nil {
		return nil, fmt.Errorf("decode stored secret: %w", err)
	}
	var overlay map[string]json.RawMessage
	if err := json.Unmarshal(patch, &overlay); err != nil {
		return nil, fmt.Errorf("decode secret patch: %w", err)
	}
	for k, v := range overlay {
		doc[k] = v
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("re-encode secret: %w", err)
	}
	return merged, nil
}
