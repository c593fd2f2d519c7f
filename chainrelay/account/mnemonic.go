package account

import (
	"context"
	"fmt"

	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"github.com/whiteflag/relay/chainrelay/chainstate"
	"github.com/whiteflag/relay/chainrelay/wfcrypto"
)

// evmDerivationPath is BIP44 m/44'/60'/0'/0/0, the conventional Ethereum
// account path. Substrate-like chains have no BIP44 registry entry of their
// own in this relay's scope, so the same path is reused: DeriveKey on both
// variants treats its input as an opaque 32-byte scalar, not a chain-specific
// seed format.
var evmDerivationPath = []uint32{
	bip32.FirstHardenedChild + 44,
	bip32.FirstHardenedChild + 60,
	bip32.FirstHardenedChild + 0,
	0,
	0,
}

// GenerateMnemonic returns a new BIP39 mnemonic with the given word count
// (12, 15, 18, 21, or 24).
func GenerateMnemonic(wordCount int) (string, error) {
	bits, err := entropyBitsForWordCount(wordCount)
	if err != nil {
		return "", err
	}
	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return "", fmt.Errorf("account: generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("account: generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

func entropyBitsForWordCount(wordCount int) (int, error) {
	switch wordCount {
	case 12:
		return 128, nil
	case 15:
		return 160, nil
	case 18:
		return 192, nil
	case 21:
		return 224, nil
	case 24:
		return 256, nil
	default:
		return 0, fmt.Errorf("account: unsupported mnemonic word count %d", wordCount)
	}
}

// seedFromMnemonic validates mnemonic and stretches it (with passphrase)
// into a 64-byte BIP39 seed.
func seedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("account: invalid mnemonic")
	}
	return bip39.NewSeed(mnemonic, passphrase), nil
}

// deriveHDKey walks a BIP32 derivation path from the master key seeded by
// seed, returning the final child's raw 32-byte private key.
func deriveHDKey(seed []byte, path []uint32) ([]byte, error) {
	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("account: derive master key: %w", err)
	}
	for _, idx := range path {
		key, err = key.NewChildKey(idx)
		if err != nil {
			return nil, fmt.Errorf("account: derive child key: %w", err)
		}
	}
	return key.Key, nil
}

// CreateFromMnemonic derives an account along evmDerivationPath from a
// mnemonic phrase, generating one if mnemonic is empty, and returns both the
// mnemonic (so the caller can display/persist it out of band — it is never
// stored by this manager) and the resulting account. The BIP39 seed is
// zeroized before return and the derived key is zeroized by Create; the
// mnemonic and passphrase strings and the intermediate BIP32 keys are not.
func (m *Manager) CreateFromMnemonic(ctx context.Context, mnemonic, passphrase string) (string, chainstate.Account, error) {
	generated := mnemonic == ""
	if generated {
		var err error
		mnemonic, err = GenerateMnemonic(24)
		if err != nil {
			return "", chainstate.Account{}, err
		}
	}

	seed, err := seedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return "", chainstate.Account{}, err
	}
	defer wfcrypto.Zeroise(seed)

	hdKey, err := deriveHDKey(seed, evmDerivationPath)
	if err != nil {
		return "", chainstate.Account{}, err
	}

	acct, err := m.Create(ctx, hdKey)
	if err != nil {
		return "", chainstate.Account{}, err
	}
	return mnemonic, acct, nil
}
