package deferred

import (
	"github.com/google/uuid"

	"vcissuer/internal/domain"
)

// Metadata correlates the OID4VCI protocol identifiers with a procedure
// during the window between offer creation and signed-credential delivery.
type Metadata struct {
	ProcedureID uuid.UUID
	// TransactionCode is the single-use, holder-facing code carried in the
	// activation email.
	TransactionCode string
	// AuthServerNonce is bound once the holder exchanges the transaction code
	// for a pre-authorized code; it equals the token jti afterwards.
	AuthServerNonce  string
	OperationMode    domain.OperationMode
	ResponseURI      string
	CredentialFormat domain.Format
	// VC holds the final signed artifact; empty until signing completes.
	VC string
}
