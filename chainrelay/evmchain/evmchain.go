// Package evmchain implements the secp256k1 key-material and signing
// operations for EVM-style chains: key generation/derivation, address and
// public-key recovery, and ECDSA transaction signing.
package evmchain

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/whiteflag/relay/chainrelay/chainerr"
	"github.com/whiteflag/relay/chainrelay/encoding"
)

// SignAlg is the JWS algorithm identifier used for EVM-chain signatures.
const SignAlg = "ES256K"

// Variant implements the chain-capability operations for EVM-style chains.
type Variant struct {
	chainIDHex string
}

func New(chainIDHex string) *Variant {
	return &Variant{chainIDHex: chainIDHex}
}

func (v *Variant) Name() string   { return "evm" }
func (v *Variant) SignAlg() string { return SignAlg }

// GenerateKey returns a cryptographically random 32-byte secp256k1 private
// key.
func (v *Variant) GenerateKey() ([]byte, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, chainerr.NewFatal(chainerr.ErrCodeInvalidPath, "failed to generate secp256k1 key", err)
	}
	defer priv.D.SetInt64(0)
	return crypto.FromECDSA(priv), nil
}

// DeriveKey returns the given 32-byte seed unchanged as the private key
// (EVM private keys are themselves 32-byte scalars; HKDF-derived seeds are
// used as-is, matching the "derive deterministically from seed" contract).
func (v *Variant) DeriveKey(seed []byte) ([]byte, error) {
	if len(seed) != 32 {
		return nil, chainerr.NewNonRetryable(chainerr.ErrCodeInvalidPath, fmt.Sprintf("evmchain: seed must be 32 bytes, got %d", len(seed)), nil)
	}
	if _, err := crypto.ToECDSA(seed); err != nil {
		return nil, chainerr.NewNonRetryable(chainerr.ErrCodeInvalidPath, "evmchain: seed is not a valid secp256k1 scalar", err)
	}
	return append([]byte(nil), seed...), nil
}

// PublicKeyFromPrivate returns the canonical SEC-uncompressed public key hex
// (130 chars, leading 04, no 0x).
func (v *Variant) PublicKeyFromPrivate(priv []byte) (string, error) {
	key, err := crypto.ToECDSA(priv)
	if err != nil {
		return "", chainerr.NewNonRetryable(chainerr.ErrCodeInvalidPath, "evmchain: invalid private key", err)
	}
	pub := crypto.FromECDSAPub(&key.PublicKey)
	return encoding.NormalizePublicKey(encoding.BytesToHex(pub))
}

// AddressFromPublicKey derives the 20-byte EVM address (canonical form:
// lowercase hex, no 0x) from an uncompressed public key.
func (v *Variant) AddressFromPublicKey(pubKeyHex string) (string, error) {
	pubBytes, err := encoding.HexToBytes(pubKeyHex)
	if err != nil {
		return "", chainerr.NewNonRetryable(chainerr.ErrCodeInvalidAddress, "evmchain: invalid public key hex", err)
	}
	pub, err := crypto.UnmarshalPubkey(pubBytes)
	if err != nil {
		return "", chainerr.NewNonRetryable(chainerr.ErrCodeInvalidAddress, "evmchain: cannot unmarshal public key", err)
	}
	addr := crypto.PubkeyToAddress(*pub)
	return strings.ToLower(encoding.NoHexPrefix(addr.Hex())), nil
}

// Sign produces a 65-byte [R||S||V] ECDSA signature over a 32-byte digest.
func (v *Variant) Sign(priv []byte, digest []byte) (string, error) {
	key, err := crypto.ToECDSA(priv)
	if err != nil {
		return "", chainerr.NewNonRetryable(chainerr.ErrCodeInvalidPath, "evmchain: invalid private key", err)
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return "", chainerr.NewNonRetryable(chainerr.ErrCodeInvalidSignature, "evmchain: signing failed", err)
	}
	return encoding.BytesToHex(sig), nil
}

// Verify checks a 65-byte [R||S||V] signature over digest against
// pubKeyHex.
func (v *Variant) Verify(pubKeyHex string, digest []byte, sigHex string) (bool, error) {
	pubBytes, err := encoding.HexToBytes(pubKeyHex)
	if err != nil {
		return false, chainerr.NewNonRetryable(chainerr.ErrCodeInvalidAddress, "evmchain: invalid public key hex", err)
	}
	sigBytes, err := encoding.HexToBytes(sigHex)
	if err != nil {
		return false, chainerr.NewNonRetryable(chainerr.ErrCodeInvalidSignature, "evmchain: invalid signature hex", err)
	}
	if len(sigBytes) == 65 {
		sigBytes = sigBytes[:64]
	}
	return crypto.VerifySignature(pubBytes, digest, sigBytes), nil
}

// GetSenderPublicKey recovers the signer's public key from a signed
// transaction's hash and [R||S||V] signature, used by the block listener to
// populate MetaHeader.originatorPubKey (§4.7a).
func (v *Variant) GetSenderPublicKey(digest []byte, sigHex string) (string, error) {
	sigBytes, err := encoding.HexToBytes(sigHex)
	if err != nil {
		return "", chainerr.NewNonRetryable(chainerr.ErrCodeInvalidSignature, "evmchain: invalid signature hex", err)
	}
	pub, err := crypto.SigToPub(digest, sigBytes)
	if err != nil {
		return "", chainerr.NewNonRetryable(chainerr.ErrCodeInvalidSignature, "evmchain: failed to recover public key", err)
	}
	return encoding.NormalizePublicKey(encoding.BytesToHex(crypto.FromECDSAPub(pub)))
}

// RandomSeed returns 32 cryptographically random bytes, for account
// creation when no private key is supplied.
func RandomSeed() ([]byte, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, chainerr.NewFatal(chainerr.ErrCodeInvalidPath, "evmchain: failed to read random seed", err)
	}
	return seed, nil
}
