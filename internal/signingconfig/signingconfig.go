// Package signingconfig resolves how an organization signs: with the issuer's
// own keypair or through the cloud signature provider.
package signingconfig

import (
	"context"
	"fmt"
	"sync"

	"vcissuer/internal/domain"
	"vcissuer/internal/sentinel"
)

// Configuration gates which signing path issuer resolution and the signing
// pipeline take for one organization.
type Configuration struct {
	OrganizationIdentifier string
	SignatureMode          domain.SignatureMode
	// CredentialID names the signing credential at the cloud provider.
	CredentialID string
	// VaultKey is the secret-store path holding the provider credentials.
	VaultKey string
}

// Provider exposes signature configurations read-only.
//
// Error Contract: Get returns sentinel.ErrNotFound (wrapped) for an unknown
// organization.
type Provider interface {
	Get(ctx context.Context, organizationIdentifier string) (*Configuration, error)
}

// MemoryProvider serves configurations from a seeded map. Organizations
// without an entry fall back to the default mode when one is set.
type MemoryProvider struct {
	mu          sync.RWMutex
	byOrg       map[string]Configuration
	defaultMode domain.SignatureMode
}

func NewMemoryProvider(defaultMode domain.SignatureMode) *MemoryProvider {
	return &MemoryProvider{
		byOrg:       make(map[string]Configuration),
		defaultMode: defaultMode,
	}
}

// Seed registers an organization's configuration.
func (p *MemoryProvider) Seed(cfg Configuration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byOrg[cfg.OrganizationIdentifier] = cfg
}

func (p *MemoryProvider) Get(_ context.Context, organizationIdentifier string) (*Configuration, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if cfg, ok := p.byOrg[organizationIdentifier]; ok {
		cp := cfg
		return &cp, nil
	}
	if p.defaultMode != "" {
		return &Configuration{
			OrganizationIdentifier: organizationIdentifier,
			SignatureMode:          p.defaultMode,
		}, nil
	}
	return nil, fmt.Errorf("signature configuration for %q: %w", organizationIdentifier, sentinel.ErrNotFound)
}
