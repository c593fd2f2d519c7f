package wfcrypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashTruncation(t *testing.T) {
	full, err := Hash([]byte("whiteflag"), nil, "sha256")
	require.NoError(t, err)
	assert.Len(t, full, 64)

	n := 6
	short, err := Hash([]byte("whiteflag"), &n, "sha256")
	require.NoError(t, err)
	assert.Equal(t, full[:12], short)
}

func TestHashRejectsUnknownAlgo(t *testing.T) {
	_, err := Hash([]byte("x"), nil, "md5")
	assert.Error(t, err)
}

func TestHKDFDeterministic(t *testing.T) {
	ikm1 := []byte("input key material")
	ikm2 := append([]byte(nil), ikm1...)

	out1, err := HKDF(ikm1, []byte("salt"), []byte("info"), 32)
	require.NoError(t, err)
	out2, err := HKDF(ikm2, []byte("salt"), []byte("info"), 32)
	require.NoError(t, err)

	assert.Equal(t, out1, out2)
	assert.Len(t, out1, 32)
}

func TestHKDFZeroizesInput(t *testing.T) {
	ikm := []byte("secret-material-that-must-be-wiped")
	_, err := HKDF(ikm, nil, nil, 16)
	require.NoError(t, err)
	for _, b := range ikm {
		assert.Zero(t, b)
	}
}

func TestZeroise(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	Zeroise(buf)
	assert.Equal(t, []byte{0, 0, 0, 0}, buf)
}

func TestKeyIDLength(t *testing.T) {
	id := KeyID("ethereum", "abc123")
	assert.Len(t, id, 24)
}
