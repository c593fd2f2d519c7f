package chainstate

import "context"

// StateStore is the external whole-record persistence collaborator. A
// single record per chain name; every material change is re-upserted.
// Implementations MUST be safe for concurrent use and idempotent under
// repeated identical upserts.
type StateStore interface {
	GetBlockchainData(ctx context.Context, chain string) (ChainState, bool, error)
	UpdateBlockchainData(ctx context.Context, chain string, state ChainState) error
}

// SecretNamespace is the fixed namespace private keys are stored under.
const SecretNamespace = "blockchainKeys"

// SecretStore is the external secret-key collaborator. Write-only from the
// account manager (C5), read-only from the sender and auth signer (C6/C8).
// Entries are addressable only by keyId, never by address directly.
type SecretStore interface {
	GetKey(ctx context.Context, namespace, keyID string) ([]byte, bool, error)
	UpsertKey(ctx context.Context, namespace, keyID string, value []byte) error
	DeleteKey(ctx context.Context, namespace, keyID string) error
}

// QueueReader is the external opaque queue read-through collaborator,
// referenced by the boundary API for out-of-band message paths.
type QueueReader interface {
	GetQueue(ctx context.Context, name string) ([]byte, error)
}
