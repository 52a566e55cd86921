package procedure

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"vcissuer/internal/domain"
)

// Procedure is one credential issuance instance. CredentialDecoded always
// round-trips to a schema-valid credential for CredentialType; it is mutated
// in place as the credential is bound to its issuer and signature.
type Procedure struct {
	ID                     uuid.UUID
	OrganizationIdentifier string
	CredentialType         domain.CredentialType
	CredentialDecoded      json.RawMessage
	OperationMode          domain.OperationMode
	SignatureMode          domain.SignatureMode
	Subject                string
	ValidUntil             time.Time
	Status                 domain.ProcedureStatus
	UpdatedAt              time.Time
}

// CreationRequest carries everything needed to persist a new procedure in
// DRAFT state.
type CreationRequest struct {
	OrganizationIdentifier string
	CredentialType         domain.CredentialType
	CredentialDecoded      json.RawMessage
	OperationMode          domain.OperationMode
	SignatureMode          domain.SignatureMode
	Subject                string
	ValidUntil             time.Time
}
