// Package encoding provides pure conversions between octet buffers, hex,
// base64url, and UTF-8, plus the canonical on-the-wire forms this system
// uses for hashes, addresses, and public keys.
package encoding

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// hexPrefix is the conventional 0x marker used by EVM-style chains.
const hexPrefix = "0x"

// secUncompressedPrefix is the leading byte of an uncompressed secp256k1
// public key, as two hex characters.
const secUncompressedPrefix = "04"

// WithHexPrefix prepends "0x" unless it is already present. Idempotent.
func WithHexPrefix(s string) string {
	if strings.HasPrefix(s, hexPrefix) {
		return s
	}
	return hexPrefix + s
}

// NoHexPrefix strips a leading "0x" if present. Idempotent.
func NoHexPrefix(s string) string {
	return strings.TrimPrefix(s, hexPrefix)
}

// NoAddressHexPrefix strips a leading "0x" from an address while preserving
// the original case of the remaining characters — some chains checksum
// addresses via case (e.g. EIP-55), so this must never lowercase.
func NoAddressHexPrefix(addr string) string {
	return strings.TrimPrefix(addr, hexPrefix)
}

// HexToBytes decodes canonical hex (with or without a 0x prefix) into bytes.
func HexToBytes(s string) ([]byte, error) {
	b, err := hex.DecodeString(NoHexPrefix(s))
	if err != nil {
		return nil, fmt.Errorf("encoding: invalid hex: %w", err)
	}
	return b, nil
}

// BytesToHex renders bytes as canonical lowercase hex, no 0x prefix.
func BytesToHex(b []byte) string {
	return hex.EncodeToString(b)
}

// Base64URLEncode renders bytes as unpadded base64url text, the form used
// throughout the JWS representations.
func Base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Base64URLDecode accepts both padded and unpadded base64url text.
func Base64URLDecode(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

// UTF8ToBytes is the identity conversion for UTF-8 text into its byte form.
func UTF8ToBytes(s string) []byte {
	return []byte(s)
}

// BytesToUTF8 interprets bytes as UTF-8 text.
func BytesToUTF8(b []byte) string {
	return string(b)
}

// NormalizePublicKey returns the canonical SEC-uncompressed hex form of a
// secp256k1 public key: 130 hex characters with a leading "04". A 128
// character input (the prefix byte stripped) has "04" prepended; a 130
// character input is returned as is. Any 0x prefix is stripped and the
// result is lowercased in both cases.
func NormalizePublicKey(hexKey string) (string, error) {
	k := strings.ToLower(NoHexPrefix(hexKey))
	switch len(k) {
	case 130:
		if !strings.HasPrefix(k, secUncompressedPrefix) {
			return "", fmt.Errorf("encoding: 130-char public key missing 04 prefix")
		}
		return k, nil
	case 128:
		return secUncompressedPrefix + k, nil
	default:
		return "", fmt.Errorf("encoding: public key has unexpected length %d", len(k))
	}
}
