// Package account implements the account manager (C5): lifecycle of
// on-chain accounts, private-key isolation via the secret store, and
// periodic balance/nonce refresh.
package account

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/whiteflag/relay/chainrelay/chainerr"
	"github.com/whiteflag/relay/chainrelay/chainstate"
	"github.com/whiteflag/relay/chainrelay/rpc"
	"github.com/whiteflag/relay/chainrelay/wfcrypto"
)

// KeyVariant is the chain-specific key-material capability this manager is
// built against. evmchain.Variant and substratechain.Variant both satisfy
// this structurally.
type KeyVariant interface {
	GenerateKey() ([]byte, error)
	DeriveKey(seed []byte) ([]byte, error)
	PublicKeyFromPrivate(priv []byte) (string, error)
	AddressFromPublicKey(pubKeyHex string) (string, error)
}

// Manager is the per-chain account lifecycle manager.
type Manager struct {
	chainName string
	variant   KeyVariant
	state     chainstate.StateStore
	secrets   chainstate.SecretStore
	node      *rpc.NodeClient
	log       *zap.Logger

	refreshInterval time.Duration
	stopRefresh     chan struct{}
}

func New(chainName string, variant KeyVariant, state chainstate.StateStore, secrets chainstate.SecretStore, node *rpc.NodeClient, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		chainName:       chainName,
		variant:         variant,
		state:           state,
		secrets:         secrets,
		node:            node,
		log:             log,
		refreshInterval: rpc.StatusInterval,
	}
}

// Get returns the account at address, or a no-resource error.
func (m *Manager) Get(ctx context.Context, address string) (chainstate.Account, error) {
	state, ok, err := m.state.GetBlockchainData(ctx, m.chainName)
	if err != nil {
		return chainstate.Account{}, err
	}
	if !ok {
		return chainstate.Account{}, chainerr.NewNonRetryable(chainerr.ErrCodeAccountNotFound, "no chain state for "+m.chainName, nil)
	}
	acct, _, found := state.FindAccount(address)
	if !found {
		return chainstate.Account{}, chainerr.NewNonRetryable(chainerr.ErrCodeAccountNotFound, "no account at address "+address, nil)
	}
	return acct, nil
}

// Create derives an account from seedOrKey (or generates a random 32-byte
// seed if nil), persists it to state, and stores the private key under its
// keyId. seedOrKey is zeroized before returning regardless of outcome.
func (m *Manager) Create(ctx context.Context, seedOrKey []byte) (chainstate.Account, error) {
	defer wfcrypto.Zeroise(seedOrKey)

	var priv []byte
	var err error
	if len(seedOrKey) > 0 {
		priv, err = m.variant.DeriveKey(seedOrKey)
	} else {
		priv, err = m.variant.GenerateKey()
	}
	if err != nil {
		return chainstate.Account{}, err
	}
	defer wfcrypto.Zeroise(priv)

	pubKey, err := m.variant.PublicKeyFromPrivate(priv)
	if err != nil {
		return chainstate.Account{}, err
	}
	address, err := m.variant.AddressFromPublicKey(pubKey)
	if err != nil {
		return chainstate.Account{}, err
	}

	state, ok, err := m.state.GetBlockchainData(ctx, m.chainName)
	if err != nil {
		return chainstate.Account{}, err
	}
	if !ok {
		state = chainstate.ChainState{}
	}
	if _, _, exists := state.FindAccount(address); exists {
		return chainstate.Account{}, chainerr.NewNonRetryable(chainerr.ErrCodeAddressMismatch, "account already exists at address "+address, nil)
	}

	keyID := wfcrypto.KeyID(m.chainName, address)
	if err := m.secrets.UpsertKey(ctx, chainstate.SecretNamespace, keyID, priv); err != nil {
		return chainstate.Account{}, fmt.Errorf("account: persist key: %w", err)
	}

	acct := chainstate.Account{Address: address, PublicKey: pubKey}
	state.Accounts = append(state.Accounts, acct)
	if err := m.state.UpdateBlockchainData(ctx, m.chainName, state); err != nil {
		return chainstate.Account{}, fmt.Errorf("account: persist state: %w", err)
	}

	m.Reschedule(ctx)
	return acct, nil
}

// Update merges fields into the existing account via recursive update
// semantics, keyed by address.
func (m *Manager) Update(ctx context.Context, address string, fields map[string]interface{}) (chainstate.Account, error) {
	state, ok, err := m.state.GetBlockchainData(ctx, m.chainName)
	if err != nil {
		return chainstate.Account{}, err
	}
	if !ok {
		return chainstate.Account{}, chainerr.NewNonRetryable(chainerr.ErrCodeAccountNotFound, "no chain state for "+m.chainName, nil)
	}
	acct, idx, found := state.FindAccount(address)
	if !found {
		return chainstate.Account{}, chainerr.NewNonRetryable(chainerr.ErrCodeAccountNotFound, "no account at address "+address, nil)
	}

	current := accountToMap(acct)
	merged := chainstate.RecursiveMerge(current, fields)
	updated := mapToAccount(merged, acct)

	state.Accounts[idx] = updated
	if err := m.state.UpdateBlockchainData(ctx, m.chainName, state); err != nil {
		return chainstate.Account{}, fmt.Errorf("account: persist state: %w", err)
	}
	return updated, nil
}

// Delete removes the account from state. The secret key is left in the
// store; it is addressable only by keyId and becomes unreachable once no
// account references its address, matching the write-only-from-C5 contract.
func (m *Manager) Delete(ctx context.Context, address string) error {
	state, ok, err := m.state.GetBlockchainData(ctx, m.chainName)
	if err != nil {
		return err
	}
	if !ok {
		return chainerr.NewNonRetryable(chainerr.ErrCodeAccountNotFound, "no chain state for "+m.chainName, nil)
	}
	_, idx, found := state.FindAccount(address)
	if !found {
		return chainerr.NewNonRetryable(chainerr.ErrCodeAccountNotFound, "no account at address "+address, nil)
	}
	state.Accounts = append(state.Accounts[:idx], state.Accounts[idx+1:]...)
	if err := m.state.UpdateBlockchainData(ctx, m.chainName, state); err != nil {
		return err
	}

	m.Reschedule(ctx)
	return nil
}

// GetAddress derives the canonical address for a public key.
func (m *Manager) GetAddress(publicKey string) (string, error) {
	return m.variant.AddressFromPublicKey(publicKey)
}

// GetPublicKey looks up the persisted public key for an address.
func (m *Manager) GetPublicKey(ctx context.Context, address string) (string, error) {
	acct, err := m.Get(ctx, address)
	if err != nil {
		return "", err
	}
	return acct.PublicKey, nil
}

// PrivateKey fetches and returns the raw private key for an address, for
// use by the sender (C6) and authentication signer (C8) only. Callers MUST
// zeroize the returned buffer after use.
func (m *Manager) PrivateKey(ctx context.Context, address string) ([]byte, error) {
	keyID := wfcrypto.KeyID(m.chainName, address)
	key, ok, err := m.secrets.GetKey(ctx, chainstate.SecretNamespace, keyID)
	if err != nil {
		return nil, fmt.Errorf("account: fetch key: %w", err)
	}
	if !ok {
		return nil, chainerr.NewFatal(chainerr.ErrCodeSecretStoreUnavailable, "no private key for "+address, nil)
	}
	return key, nil
}

func accountToMap(a chainstate.Account) map[string]interface{} {
	m := map[string]interface{}{"address": a.Address, "publicKey": a.PublicKey}
	if a.Balance != nil {
		m["balance"] = *a.Balance
	}
	if a.TransactionCount != nil {
		m["transactionCount"] = *a.TransactionCount
	}
	return m
}

func mapToAccount(m map[string]interface{}, fallback chainstate.Account) chainstate.Account {
	out := fallback
	if v, ok := m["address"].(string); ok {
		out.Address = v
	}
	if v, ok := m["publicKey"].(string); ok {
		out.PublicKey = v
	}
	if v, ok := m["balance"].(string); ok {
		out.Balance = &v
	}
	switch v := m["transactionCount"].(type) {
	case uint64:
		out.TransactionCount = &v
	case int:
		u := uint64(v)
		out.TransactionCount = &u
	}
	return out
}
