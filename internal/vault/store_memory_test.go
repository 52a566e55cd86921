package vault

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vcissuer/internal/sentinel"
)

func TestMemoryStore_SaveGetDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Save(ctx, "org/VATES-B60645900", json.RawMessage(`{"clientId":"abc"}`)))

	got, err := store.Get(ctx, "org/VATES-B60645900")
	require.NoError(t, err)
	assert.JSONEq(t, `{"clientId":"abc"}`, string(got))

	require.NoError(t, store.Delete(ctx, "org/VATES-B60645900"))
	_, err = store.Get(ctx, "org/VATES-B60645900")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "org/VATES-B60645900"), sentinel.ErrNotFound)
}

func TestMemoryStore_PatchMergesTopLevelFields(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Save(ctx, "k", json.RawMessage(`{"clientId":"abc","clientSecret":"old"}`)))
	require.NoError(t, store.Patch(ctx, "k", json.RawMessage(`{"clientSecret":"new","credentialId":"cred-1"}`)))

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"clientId":"abc","clientSecret":"new","credentialId":"cred-1"}`, string(got))

	assert.ErrorIs(t, store.Patch(ctx, "missing", json.RawMessage(`{}`)), sentinel.ErrNotFound)
}
