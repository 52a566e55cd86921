package deferred

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vcissuer/internal/domain"
	"vcissuer/internal/sentinel"
)

func seedMetadata(t *testing.T, store *MemoryStore) Metadata {
	t.Helper()
	m := Metadata{
		ProcedureID:     uuid.New(),
		TransactionCode: "txc-abc123",
		OperationMode:   domain.OperationModeAsync,
		ResponseURI:     "https://client.example.com/hook",
	}
	require.NoError(t, store.Create(context.Background(), m))
	return m
}

func TestMemoryStore_FindByTransactionCode(t *testing.T) {
	store := NewMemoryStore()
	m := seedMetadata(t, store)

	found, err := store.FindByTransactionCode(context.Background(), m.TransactionCode)
	require.NoError(t, err)
	assert.Equal(t, m.ProcedureID, found.ProcedureID)

	_, err = store.FindByTransactionCode(context.Background(), "nope")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestMemoryStore_TransactionCodeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := seedMetadata(t, store)

	require.NoError(t, store.BindAuthServerNonce(ctx, m.TransactionCode, "nonce-1"))

	// once redeemed, the code is dead for both lookup and rebinding
	_, err := store.FindByTransactionCode(ctx, m.TransactionCode)
	assert.ErrorIs(t, err, sentinel.ErrAlreadyUsed)
	err = store.BindAuthServerNonce(ctx, m.TransactionCode, "nonce-2")
	assert.ErrorIs(t, err, sentinel.ErrAlreadyUsed)

	found, err := store.FindByAuthServerNonce(ctx, "nonce-1")
	require.NoError(t, err)
	assert.Equal(t, m.ProcedureID, found.ProcedureID)
}

func TestMemoryStore_UpdateFormatAndVC(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := seedMetadata(t, store)

	require.NoError(t, store.UpdateFormat(ctx, m.ProcedureID, domain.FormatCWT))
	require.NoError(t, store.UpdateVC(ctx, m.ProcedureID, "NC1ENCODED"))

	found, err := store.FindByProcedureID(ctx, m.ProcedureID)
	require.NoError(t, err)
	assert.Equal(t, domain.FormatCWT, found.CredentialFormat)
	assert.Equal(t, "NC1ENCODED", found.VC)

	err = store.UpdateVC(ctx, uuid.New(), "x")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestMemoryStore_DeleteByAuthServerNonce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := seedMetadata(t, store)

	require.NoError(t, store.BindAuthServerNonce(ctx, m.TransactionCode, "nonce-9"))
	require.NoError(t, store.DeleteByAuthServerNonce(ctx, "nonce-9"))

	_, err := store.FindByProcedureID(ctx, m.ProcedureID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	err = store.DeleteByAuthServerNonce(ctx, "nonce-9")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
