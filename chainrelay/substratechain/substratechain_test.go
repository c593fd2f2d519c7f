package substratechain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kusamaNetwork = 2

func TestGenerateKeyIsThirtyTwoBytes(t *testing.T) {
	v := New(kusamaNetwork)
	priv, err := v.GenerateKey()
	require.NoError(t, err)
	assert.Len(t, priv, 32)
}

func TestPublicKeyFromPrivateIsThirtyTwoBytesHex(t *testing.T) {
	v := New(kusamaNetwork)
	priv, err := v.GenerateKey()
	require.NoError(t, err)

	pub, err := v.PublicKeyFromPrivate(priv)
	require.NoError(t, err)
	assert.Len(t, pub, 64)
}

func TestAddressFromPublicKeyProducesSS58(t *testing.T) {
	v := New(kusamaNetwork)
	priv, err := v.GenerateKey()
	require.NoError(t, err)
	pub, err := v.PublicKeyFromPrivate(priv)
	require.NoError(t, err)

	addr, err := v.AddressFromPublicKey(pub)
	require.NoError(t, err)
	assert.NotEmpty(t, addr)
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	v := New(kusamaNetwork)
	priv, err := v.GenerateKey()
	require.NoError(t, err)
	pub, err := v.PublicKeyFromPrivate(priv)
	require.NoError(t, err)

	msg := []byte("whiteflag sign-input")
	sig, err := v.Sign(priv, msg)
	require.NoError(t, err)

	ok, err := v.Verify(pub, msg, sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyFailsOnTamperedMessage(t *testing.T) {
	v := New(kusamaNetwork)
	priv, err := v.GenerateKey()
	require.NoError(t, err)
	pub, err := v.PublicKeyFromPrivate(priv)
	require.NoError(t, err)

	sig, err := v.Sign(priv, []byte("original message"))
	require.NoError(t, err)

	ok, err := v.Verify(pub, []byte("tampered message"), sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeriveKeyRejectsWrongLength(t *testing.T) {
	v := New(kusamaNetwork)
	_, err := v.DeriveKey([]byte{1, 2})
	assert.Error(t, err)
}
