package procedure

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"vcissuer/internal/domain"
)

// Store persists credential procedures. The workflow layer is the sole
// writer; every other component reads at most.
//
// Error Contract: all Find methods return sentinel.ErrNotFound (wrapped) when
// the procedure doesn't exist. Status updates that would move a procedure
// backwards return sentinel.ErrStatusRegression.
type Store interface {
	Create(ctx context.Context, req CreationRequest) (*Procedure, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Procedure, error)
	// FindByCredentialID locates a procedure by the id field of its decoded
	// credential, used to correlate batch-signed artifacts back to procedures.
	FindByCredentialID(ctx context.Context, credentialID string) (*Procedure, error)
	UpdateCredential(ctx context.Context, id uuid.UUID, decoded json.RawMessage) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ProcedureStatus) error
	ListByOrganization(ctx context.Context, organizationIdentifier string) ([]*Procedure, error)
}
