// Package substratechain implements the sr25519 (Schnorr on Ristretto255)
// key-material and signing operations for substrate-like chains, and SS58
// address encoding.
package substratechain

import (
	"crypto/rand"

	"github.com/ChainSafe/go-schnorrkel"
	subkey "github.com/vedhavyas/go-subkey"

	"github.com/whiteflag/relay/chainrelay/chainerr"
	"github.com/whiteflag/relay/chainrelay/encoding"
)

// SignAlg is the JWS algorithm identifier used for substrate-chain
// signatures.
const SignAlg = "Sr25519"

const signingContextLabel = "substrate"

// Variant implements the chain-capability operations for substrate-like
// chains, parameterized by the SS58 network identifier (e.g. 0 for
// Polkadot, 2 for Kusama).
type Variant struct {
	network uint8
}

func New(network uint8) *Variant {
	return &Variant{network: network}
}

func (v *Variant) Name() string    { return "substrate" }
func (v *Variant) SignAlg() string { return SignAlg }

func (v *Variant) GenerateKey() ([]byte, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, chainerr.NewFatal(chainerr.ErrCodeInvalidPath, "substratechain: failed to read random seed", err)
	}
	return seed, nil
}

// DeriveKey returns the given 32-byte seed unchanged; it is used directly
// as the sr25519 mini secret.
func (v *Variant) DeriveKey(seed []byte) ([]byte, error) {
	if len(seed) != 32 {
		return nil, chainerr.NewNonRetryable(chainerr.ErrCodeInvalidPath, "substratechain: seed must be 32 bytes", nil)
	}
	return append([]byte(nil), seed...), nil
}

func miniSecret(priv []byte) (*schnorrkel.MiniSecretKey, error) {
	if len(priv) != 32 {
		return nil, chainerr.NewNonRetryable(chainerr.ErrCodeInvalidPath, "substratechain: private key must be 32 bytes", nil)
	}
	var raw [32]byte
	copy(raw[:], priv)
	msk, err := schnorrkel.NewMiniSecretKeyFromRaw(raw)
	if err != nil {
		return nil, chainerr.NewNonRetryable(chainerr.ErrCodeInvalidPath, "substratechain: invalid sr25519 seed", err)
	}
	return msk, nil
}

// PublicKeyFromPrivate returns the raw 32-byte sr25519 public key as hex
// (no SEC prefix — that convention is secp256k1-specific).
func (v *Variant) PublicKeyFromPrivate(priv []byte) (string, error) {
	msk, err := miniSecret(priv)
	if err != nil {
		return "", err
	}
	pub, err := msk.Public()
	if err != nil {
		return "", chainerr.NewNonRetryable(chainerr.ErrCodeInvalidPath, "substratechain: failed to derive public key", err)
	}
	encoded := pub.Encode()
	return encoding.BytesToHex(encoded[:]), nil
}

// AddressFromPublicKey SS58-encodes a raw public key for this variant's
// network.
func (v *Variant) AddressFromPublicKey(pubKeyHex string) (string, error) {
	pubBytes, err := encoding.HexToBytes(pubKeyHex)
	if err != nil {
		return "", chainerr.NewNonRetryable(chainerr.ErrCodeInvalidAddress, "substratechain: invalid public key hex", err)
	}
	if len(pubBytes) != 32 {
		return "", chainerr.NewNonRetryable(chainerr.ErrCodeInvalidAddress, "substratechain: public key must be 32 bytes", nil)
	}
	return subkey.SS58Encode(pubBytes, v.network), nil
}

// Sign produces an sr25519 signature over msg under the given signing
// context label.
func (v *Variant) Sign(priv []byte, msg []byte) (string, error) {
	msk, err := miniSecret(priv)
	if err != nil {
		return "", err
	}
	secret := msk.ExpandEd25519()
	sig, err := secret.Sign(schnorrkel.NewSigningContext([]byte(signingContextLabel), msg))
	if err != nil {
		return "", chainerr.NewNonRetryable(chainerr.ErrCodeInvalidSignature, "substratechain: signing failed", err)
	}
	encoded := sig.Encode()
	return encoding.BytesToHex(encoded[:]), nil
}

// Verify checks an sr25519 signature over msg against pubKeyHex.
func (v *Variant) Verify(pubKeyHex string, msg []byte, sigHex string) (bool, error) {
	pubBytes, err := encoding.HexToBytes(pubKeyHex)
	if err != nil {
		return false, chainerr.NewNonRetryable(chainerr.ErrCodeInvalidAddress, "substratechain: invalid public key hex", err)
	}
	if len(pubBytes) != 32 {
		return false, chainerr.NewNonRetryable(chainerr.ErrCodeInvalidAddress, "substratechain: public key must be 32 bytes", nil)
	}
	var pubArr [32]byte
	copy(pubArr[:], pubBytes)
	pub := schnorrkel.NewPublicKey(pubArr)

	sigBytes, err := encoding.HexToBytes(sigHex)
	if err != nil {
		return false, chainerr.NewNonRetryable(chainerr.ErrCodeInvalidSignature, "substratechain: invalid signature hex", err)
	}
	if len(sigBytes) != 64 {
		return false, chainerr.NewNonRetryable(chainerr.ErrCodeInvalidSignature, "substratechain: signature must be 64 bytes", nil)
	}
	var sigArr [64]byte
	copy(sigArr[:], sigBytes)
	sig, err := schnorrkel.NewSignature(sigArr)
	if err != nil {
		return false, chainerr.NewNonRetryable(chainerr.ErrCodeInvalidSignature, "substratechain: malformed signature", err)
	}

	return pub.Verify(sig, schnorrkel.NewSigningContext([]byte(signingContextLabel), msg)), nil
}
