package evmchain

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyProducesValidKey(t *testing.T) {
	v := New("0x1")
	priv, err := v.GenerateKey()
	require.NoError(t, err)
	assert.Len(t, priv, 32)

	pub, err := v.PublicKeyFromPrivate(priv)
	require.NoError(t, err)
	assert.Len(t, pub, 130)
	assert.True(t, pub[:2] == "04")
}

func TestDeriveKeyIsDeterministic(t *testing.T) {
	v := New("0x1")
	seed := sha256.Sum256([]byte("deterministic seed"))

	priv1, err := v.DeriveKey(seed[:])
	require.NoError(t, err)
	priv2, err := v.DeriveKey(seed[:])
	require.NoError(t, err)
	assert.Equal(t, priv1, priv2)
}

func TestDeriveKeyRejectsWrongLength(t *testing.T) {
	v := New("0x1")
	_, err := v.DeriveKey([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestAddressFromPublicKeyRoundTrip(t *testing.T) {
	v := New("0x1")
	priv, err := v.GenerateKey()
	require.NoError(t, err)
	pub, err := v.PublicKeyFromPrivate(priv)
	require.NoError(t, err)

	addr, err := v.AddressFromPublicKey(pub)
	require.NoError(t, err)
	assert.Len(t, addr, 40)
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	v := New("0x1")
	priv, err := v.GenerateKey()
	require.NoError(t, err)
	pub, err := v.PublicKeyFromPrivate(priv)
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("hello whiteflag"))
	sig, err := v.Sign(priv, digest[:])
	require.NoError(t, err)

	ok, err := v.Verify(pub, digest[:], sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyFailsOnTamperedDigest(t *testing.T) {
	v := New("0x1")
	priv, err := v.GenerateKey()
	require.NoError(t, err)
	pub, err := v.PublicKeyFromPrivate(priv)
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("hello whiteflag"))
	sig, err := v.Sign(priv, digest[:])
	require.NoError(t, err)

	tampered := sha256.Sum256([]byte("hello attacker"))
	ok, err := v.Verify(pub, tampered[:], sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetSenderPublicKeyRecoversSigner(t *testing.T) {
	v := New("0x1")
	priv, err := v.GenerateKey()
	require.NoError(t, err)
	wantPub, err := v.PublicKeyFromPrivate(priv)
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("tx payload"))
	sig, err := v.Sign(priv, digest[:])
	require.NoError(t, err)

	gotPub, err := v.GetSenderPublicKey(digest[:], sig)
	require.NoError(t, err)
	assert.Equal(t, wantPub, gotPub)
}

func TestRandomSeedIsThirtyTwoBytes(t *testing.T) {
	seed, err := RandomSeed()
	require.NoError(t, err)
	assert.Len(t, seed, 32)
}
