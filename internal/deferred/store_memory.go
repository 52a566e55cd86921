package deferred

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"vcissuer/internal/domain"
	"vcissuer/internal/sentinel"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	byProc  map[uuid.UUID]*Metadata
	usedTxc map[string]bool
}

// NewMemoryStore constructs an empty in-memory metadata store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byProc:  make(map[uuid.UUID]*Metadata),
		usedTxc: make(map[string]bool),
	}
}

func (s *MemoryStore) Create(_ context.Context, m Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byProc[m.ProcedureID]; exists {
		return fmt.Errorf("metadata for procedure %s: %w", m.ProcedureID, sentinel.ErrAlreadyUsed)
	}
	cp := m
	s.byProc[m.ProcedureID] = &cp
	return nil
}

func (s *MemoryStore) FindByTransactionCode(_ context.Context, transactionCode string) (*Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.usedTxc[transactionCode] {
		return nil, fmt.Errorf("transaction code: %w", sentinel.ErrAlreadyUsed)
	}
	for _, m := range s.byProc {
		if m.TransactionCode == transactionCode {
			cp := *m
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("transaction code: %w", sentinel.ErrNotFound)
}

func (s *MemoryStore) FindByAuthServerNonce(_ context.Context, nonce string) (*Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.byProc {
		if m.AuthServerNonce == nonce && nonce != "" {
			cp := *m
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("auth server nonce: %w", sentinel.ErrNotFound)
}

func (s *MemoryStore) FindByProcedureID(_ context.Context, procedureID uuid.UUID) (*Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.byProc[procedureID]
	if !ok {
		return nil, fmt.Errorf("metadata for procedure %s: %w", procedureID, sentinel.ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) BindAuthServerNonce(_ context.Context, transactionCode, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.usedTxc[transactionCode] {
		return fmt.Errorf("transaction code: %w", sentinel.ErrAlreadyUsed)
	}
	for _, m := range s.byProc {
		if m.TransactionCode == transactionCode {
			m.AuthServerNonce = nonce
			s.usedTxc[transactionCode] = true
			return nil
		}
	}
	return fmt.Errorf("transaction code: %w", sentinel.ErrNotFound)
}

func (s *MemoryStore) UpdateFormat(_ context.Context, procedureID uuid.UUID, format domain.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byProc[procedureID]
	if !ok {
		return fmt.Errorf("metadata for procedure %s: %w", procedureID, sentinel.ErrNotFound)
	}
	m.CredentialFormat = format
	return nil
}

func (s *MemoryStore) UpdateVC(_ context.Context, procedureID uuid.UUID, vc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byProc[procedureID]
	if !ok {
		return fmt.Errorf("metadata for procedure %s: %w", procedureID, sentinel.ErrNotFound)
	}
	m.VC = vc
	return nil
}

func (s *MemoryStore) DeleteByAuthServerNonce(_ context.Context, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, m := range s.byProc {
		if m.AuthServerNonce == nonce && nonce != "" {
			delete(s.byProc, id)
			return nil
		}
	}
	return fmt.Errorf("auth server nonce: %w", sentinel.ErrNotFound)
}
