package chainstate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStateStoreRoundTrip(t *testing.T) {
	store := NewMemoryStateStore()
	ctx := context.Background()

	_, ok, err := store.GetBlockchainData(ctx, "ethereum")
	require.NoError(t, err)
	assert.False(t, ok)

	state := ChainState{Parameters: Parameters{ChainID: "0x1"}, Accounts: []Account{{Address: "a"}}}
	require.NoError(t, store.UpdateBlockchainData(ctx, "ethereum", state))

	got, ok, err := store.GetBlockchainData(ctx, "ethereum")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0x1", got.Parameters.ChainID)

	got.Accounts[0].Address = "mutated"
	reread, _, err := store.GetBlockchainData(ctx, "ethereum")
	require.NoError(t, err)
	assert.Equal(t, "a", reread.Accounts[0].Address)
}

func TestMemorySecretStoreIsolatesByNamespace(t *testing.T) {
	store := NewMemorySecretStore()
	ctx := context.Background()

	require.NoError(t, store.UpsertKey(ctx, SecretNamespace, "key1", []byte{1, 2, 3}))

	v, ok, err := store.GetKey(ctx, SecretNamespace, "key1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, v)

	_, ok, err = store.GetKey(ctx, "other-namespace", "key1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.DeleteKey(ctx, SecretNamespace, "key1"))
	_, ok, _ = store.GetKey(ctx, SecretNamespace, "key1")
	assert.False(t, ok)
}

func TestMemorySecretStoreCopiesValuesOnWrite(t *testing.T) {
	store := NewMemorySecretStore()
	ctx := context.Background()

	buf := []byte{9, 9, 9}
	require.NoError(t, store.UpsertKey(ctx, SecretNamespace, "k", buf))
	buf[0] = 0

	v, _, _ := store.GetKey(ctx, SecretNamespace, "k")
	assert.Equal(t, byte(9), v[0])
}
