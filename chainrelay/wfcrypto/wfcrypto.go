// Package wfcrypto provides the hashing, key-derivation, and memory
// zeroization primitives shared by every chain component.
package wfcrypto

import (
	"crypto/sha256"
	"fmt"
	"io"
	"runtime"

	"github.com/whiteflag/relay/chainrelay/encoding"
	"golang.org/x/crypto/hkdf"
)

// Hash hashes data with the named algorithm (only "sha256" is supported
// today) and returns lowercase hex. If lengthBytes is non-nil, the hex
// output is truncated to 2*lengthBytes characters.
func Hash(data []byte, lengthBytes *int, algo string) (string, error) {
	if algo != "" && algo != "sha256" {
		return "", fmt.Errorf("wfcrypto: unsupported hash algorithm %q", algo)
	}
	sum := sha256.Sum256(data)
	h := encoding.BytesToHex(sum[:])
	if lengthBytes != nil {
		n := 2 * *lengthBytes
		if n < 0 {
			n = 0
		}
		if n > len(h) {
			n = len(h)
		}
		h = h[:n]
	}
	return h, nil
}

// HKDF implements RFC 5869 key derivation over SHA-256, zeroizing the input
// key material once the extract phase has consumed it.
func HKDF(ikm, salt, info []byte, l int) ([]byte, error) {
	defer Zeroise(ikm)

	reader := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, l)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("wfcrypto: hkdf expand failed: %w", err)
	}
	return out, nil
}

// Zeroise overwrites every byte of buf with 0 and returns it. Callers defer
// this immediately after any private-key material is no longer needed.
func Zeroise(buf []byte) []byte {
	for i := range buf {
		buf[i] = 0
	}
	runtime.KeepAlive(buf)
	return buf
}

// KeyID computes the secret-store lookup key for a chain name and address:
// truncate(sha256(chainName||address), 24 hex chars).
func KeyID(chainName, address string) string {
	n := 12
	id, _ := Hash([]byte(chainName+address), &n, "sha256")
	return id
}
