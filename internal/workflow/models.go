package workflow

import (
	"encoding/json"

	"github.com/google/uuid"

	"vcissuer/internal/domain"
)

// PreSubmittedRequest is an issuance submission from the backoffice or an M2M
// caller.
type PreSubmittedRequest struct {
	Schema        string          `json:"schema"`
	Format        string          `json:"format"`
	OperationMode string          `json:"operation_mode"`
	Payload       json.RawMessage `json:"payload"`
	ResponseURI   string          `json:"response_uri,omitempty"`
}

// ExecuteResult reports what Execute did with a submission.
type ExecuteResult struct {
	ProcedureID uuid.UUID              `json:"procedure_id"`
	Status      domain.ProcedureStatus `json:"status"`
	// Delivered is true when a certification was signed and pushed to its
	// response URI synchronously.
	Delivered bool `json:"delivered"`
}

// CredentialRequest is the OID4VCI credential endpoint request body.
type CredentialRequest struct {
	Format string `json:"format,omitempty"`
	Proof  struct {
		ProofType string `json:"proof_type"`
		JWT       string `json:"jwt"`
	} `json:"proof"`
}

// CredentialResponse carries either the signed credential inline (SYNC) or a
// transaction id for later polling (ASYNC / still pending).
type CredentialResponse struct {
	Credential    string `json:"credential,omitempty"`
	Format        string `json:"format,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// SignedCredential is one artifact in a batch signed-credentials update.
type SignedCredential struct {
	VC string `json:"vc"`
}
