package deferred

import (
	"context"

	"github.com/google/uuid"

	"vcissuer/internal/domain"
)

// Store persists deferred credential metadata. Owned exclusively by the
// issuance/deferred workflows; nothing else writes these rows.
//
// Error Contract: all Find methods return sentinel.ErrNotFound (wrapped) when
// no row matches.
type Store interface {
	Create(ctx context.Context, m Metadata) error
	FindByTransactionCode(ctx context.Context, transactionCode string) (*Metadata, error)
	FindByAuthServerNonce(ctx context.Context, nonce string) (*Metadata, error)
	FindByProcedureID(ctx context.Context, procedureID uuid.UUID) (*Metadata, error)
	// BindAuthServerNonce attaches the auth server nonce issued for the
	// transaction code and invalidates the code for further redemptions.
	BindAuthServerNonce(ctx context.Context, transactionCode, nonce string) error
	UpdateFormat(ctx context.Context, procedureID uuid.UUID, format domain.Format) error
	UpdateVC(ctx context.Context, procedureID uuid.UUID, vc string) error
	DeleteByAuthServerNonce(ctx context.Context, nonce string) error
}
