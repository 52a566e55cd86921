package procedure

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"vcissuer/internal/domain"
	"vcissuer/internal/sentinel"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu         sync.RWMutex
	procedures map[uuid.UUID]*Procedure
	now        func() time.Time
}

// NewMemoryStore constructs an empty in-memory procedure store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		procedures: make(map[uuid.UUID]*Procedure),
		now:        time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, req CreationRequest) (*Procedure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := &Procedure{
		ID:                     uuid.New(),
		OrganizationIdentifier: req.OrganizationIdentifier,
		CredentialType:         req.CredentialType,
		CredentialDecoded:      append(json.RawMessage(nil), req.CredentialDecoded...),
		OperationMode:          req.OperationMode,
		SignatureMode:          req.SignatureMode,
		Subject:                req.Subject,
		ValidUntil:             req.ValidUntil,
		Status:                 domain.StatusDraft,
		UpdatedAt:              s.now(),
	}
	s.procedures[p.ID] = p
	return copyProcedure(p), nil
}

func (s *MemoryStore) FindByID(_ context.Context, id uuid.UUID) (*Procedure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.procedures[id]
	if !ok {
		return nil, fmt.Errorf("procedure %s: %w", id, sentinel.ErrNotFound)
	}
	return copyProcedure(p), nil
}

func (s *MemoryStore) FindByCredentialID(_ context.Context, credentialID string) (*Procedure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.procedures {
		var probe struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(p.CredentialDecoded, &probe); err == nil && probe.ID == credentialID {
			return copyProcedure(p), nil
		}
	}
	return nil, fmt.Errorf("procedure for credential %q: %w", credentialID, sentinel.ErrNotFound)
}

func (s *MemoryStore) UpdateCredential(_ context.Context, id uuid.UUID, decoded json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.procedures[id]
	if !ok {
		return fmt.Errorf("procedure %s: %w", id, sentinel.ErrNotFound)
	}
	p.CredentialDecoded = append(json.RawMessage(nil), decoded...)
	p.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id uuid.UUID, status domain.ProcedureStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.procedures[id]
	if !ok {
		return fmt.Errorf("procedure %s: %w", id, sentinel.ErrNotFound)
	}
	if !domain.CanTransition(p.Status, status) {
		return fmt.Errorf("procedure %s %s -> %s: %w", id, p.Status, status, sentinel.ErrStatusRegression)
	}
	p.Status = status
	p.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) ListByOrganization(_ context.Context, organizationIdentifier string) ([]*Procedure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Procedure
	for _, p := range s.procedures {
		if p.OrganizationIdentifier == organizationIdentifier {
			out = append(out, copyProcedure(p))
		}
	}
	return out, nil
}

func copyProcedure(p *Procedure) *Procedure {
	cp := *p
	cp.CredentialDecoded = append(json.RawMessage(nil), p.CredentialDecoded...)
	return &cp
}
