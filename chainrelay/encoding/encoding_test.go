package encoding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHexPrefixIdempotent(t *testing.T) {
	assert.Equal(t, "0xab", WithHexPrefix("0xab"))
	assert.Equal(t, "0xab", WithHexPrefix("ab"))
	assert.Equal(t, "ab", NoHexPrefix("0xab"))
	assert.Equal(t, "ab", NoHexPrefix("ab"))
}

func TestHexRoundTrip(t *testing.T) {
	for _, s := range []string{"", "00", "deadbeef", "5746010000"} {
		b, err := HexToBytes(s)
		require.NoError(t, err)
		assert.Equal(t, s, BytesToHex(b))
	}
}

func TestBase64URLRoundTrip(t *testing.T) {
	for _, b := range [][]byte{{}, []byte("hello"), {0, 1, 2, 250, 251, 252, 253, 254, 255}} {
		enc := Base64URLEncode(b)
		dec, err := Base64URLDecode(enc)
		require.NoError(t, err)
		assert.Equal(t, b, dec)
	}
}

func TestUTF8RoundTrip(t *testing.T) {
	for _, s := range []string{"", "whiteflag", "héllo wörld"} {
		assert.Equal(t, s, BytesToUTF8(UTF8ToBytes(s)))
	}
}

func TestNormalizePublicKey(t *testing.T) {
	full := "04" + "11" + repeat("22", 63)
	short := full[2:]

	got, err := NormalizePublicKey(short)
	require.NoError(t, err)
	assert.Equal(t, full, got)
	assert.Len(t, got, 130)

	got2, err := NormalizePublicKey("0x" + full)
	require.NoError(t, err)
	assert.Equal(t, full, got2)

	_, err = NormalizePublicKey("aabbcc")
	assert.Error(t, err)
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
