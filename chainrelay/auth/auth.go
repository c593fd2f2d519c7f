// Package auth implements the authentication signer (C8): requesting a
// Whiteflag authentication signature over an account, and verifying one
// presented by a counterparty.
package auth

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/whiteflag/relay/chainrelay/chainerr"
	"github.com/whiteflag/relay/chainrelay/chainstate"
	"github.com/whiteflag/relay/chainrelay/jws"
	"github.com/whiteflag/relay/chainrelay/wfcrypto"
)

// SignerVariant is the chain-specific signing capability authentication
// needs. evmchain.Variant and substratechain.Variant both satisfy this
// structurally. Sign/Verify operate on a 32-byte SHA-256 digest of the
// sign-input, never the raw sign-input bytes, so the secp256k1 variant's
// fixed-digest-length contract is met uniformly across chains.
type SignerVariant interface {
	SignAlg() string
	Sign(priv []byte, digest []byte) (string, error)
	Verify(pubKeyHex string, digest []byte, sigHex string) (bool, error)
	AddressFromPublicKey(pubKeyHex string) (string, error)
}

// AccountLookup resolves an account by address, matching account.Manager.Get.
type AccountLookup interface {
	Get(ctx context.Context, address string) (chainstate.Account, error)
}

// KeyFetcher resolves the raw private key for an address, matching
// account.Manager.PrivateKey.
type KeyFetcher interface {
	PrivateKey(ctx context.Context, address string) ([]byte, error)
}

// Signer requests and verifies authentication signatures for one chain.
type Signer struct {
	variant  SignerVariant
	accounts AccountLookup
	keys     KeyFetcher
	log      *zap.Logger
}

func New(variant SignerVariant, accounts AccountLookup, keys KeyFetcher, log *zap.Logger) *Signer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Signer{variant: variant, accounts: accounts, keys: keys, log: log}
}

// RequestSignature looks up the account at payload.Addr, replaces
// payload.Addr with its canonical form, signs the resulting sign-input
// with the chain's algorithm, and returns a flattened JWS. The private key
// buffer is zeroized immediately after signing, success or failure.
func (s *Signer) RequestSignature(ctx context.Context, payload chainstate.WfSignPayload) (jws.Flattened, error) {
	acct, err := s.accounts.Get(ctx, payload.Addr)
	if err != nil {
		return jws.Flattened{}, fmt.Errorf("auth: resolve account: %w", err)
	}
	payload.Addr = acct.Address

	priv, err := s.keys.PrivateKey(ctx, acct.Address)
	if err != nil {
		return jws.Flattened{}, fmt.Errorf("auth: fetch private key: %w", err)
	}

	full := jws.CreateSignInput(payload.ToMap(), s.variant.SignAlg(), true, nil)
	signInput, err := jws.SerializeSignInput(full)
	if err != nil {
		wfcrypto.Zeroise(priv)
		return jws.Flattened{}, fmt.Errorf("auth: build sign-input: %w", err)
	}

	digest := sha256.Sum256([]byte(signInput))
	sig, signErr := s.variant.Sign(priv, digest[:])
	wfcrypto.Zeroise(priv)
	if signErr != nil {
		return jws.Flattened{}, fmt.Errorf("auth: sign: %w", signErr)
	}
	full.Signature = sig

	flat, err := jws.FromFull(full).ToFlattened()
	if err != nil {
		return jws.Flattened{}, fmt.Errorf("auth: flatten jws: %w", err)
	}
	return flat, nil
}

// VerifySignature reconstructs the sign-input from raw (a decoded
// flattened JWS), verifies it against publicKey with the chain's
// algorithm, and cross-checks the address the public key derives to
// against address. Every mismatch is accumulated into a single
// *sign-error* rather than failing fast on the first one.
func (s *Signer) VerifySignature(raw map[string]interface{}, address, publicKey string) error {
	full, err := jws.Decode(raw)
	if err != nil {
		return fmt.Errorf("auth: decode jws: %w", err)
	}

	signInput, err := jws.SerializeSignInput(jws.Full{Protected: full.Protected, Payload: full.Payload})
	if err != nil {
		return fmt.Errorf("auth: build sign-input: %w", err)
	}

	var mismatches []string

	digest := sha256.Sum256([]byte(signInput))
	ok, err := s.variant.Verify(publicKey, digest[:], full.Signature)
	if err != nil {
		mismatches = append(mismatches, "signature verification error: "+err.Error())
	} else if !ok {
		mismatches = append(mismatches, "signature does not verify against publicKey")
	}

	derivedAddress, err := s.variant.AddressFromPublicKey(publicKey)
	if err != nil {
		mismatches = append(mismatches, "could not derive address from publicKey: "+err.Error())
	} else if derivedAddress != address {
		mismatches = append(mismatches, fmt.Sprintf("address mismatch: expected %s, publicKey derives %s", address, derivedAddress))
	}

	if len(mismatches) > 0 {
		return chainerr.NewNonRetryable(chainerr.ErrCodeInvalidSignature, "auth: sign-error: "+strings.Join(mismatches, "; "), nil)
	}
	return nil
}
