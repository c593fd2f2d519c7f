// Package chainstate defines the per-chain persisted data model and the
// external storage/queue/secret interfaces the core is wired against. The
// concrete implementations of these interfaces live outside this module;
// the relay only depends on the shapes below.
package chainstate

import (
	"strconv"
	"time"
)

// Parameters is the node identity snapshot captured at init and refreshed
// by C4. The RPC URL is always stored with credentials elided.
type Parameters struct {
	RPCURL          string `json:"rpcUrl"`
	ChainID         string `json:"chainId"`
	NetworkID       string `json:"networkId"`
	ProtocolVersion string `json:"protocolVersion"`
	NodeSoftware    string `json:"nodeSoftware"`
}

// Status is the volatile node/chain snapshot refreshed by C4 and C7.
type Status struct {
	UpdatedAt      time.Time `json:"updatedAt"`
	PeerCount      int64     `json:"peerCount"`
	Syncing        bool      `json:"syncing"`
	GasPrice       string    `json:"gasPrice"`
	HighestBlock   uint64    `json:"highestBlock"`
	CurrentBlock   uint64    `json:"currentBlock"`
}

// Account is the persisted, public view of an on-chain account. The
// private key never appears here; it lives only in the secret store under
// KeyID.
type Account struct {
	Address          string `json:"address"`
	PublicKey        string `json:"publicKey"`
	Balance          *string `json:"balance,omitempty"`
	TransactionCount *uint64 `json:"transactionCount,omitempty"`
}

// ChainState is the per-chain root record.
type ChainState struct {
	Parameters Parameters `json:"parameters"`
	Status     Status     `json:"status"`
	Accounts   []Account  `json:"accounts"`
}

// FindAccount returns the account at address and its index, or ok=false.
func (s *ChainState) FindAccount(address string) (Account, int, bool) {
	for i, a := range s.Accounts {
		if a.Address == address {
			return a, i, true
		}
	}
	return Account{}, -1, false
}

// Config is the per-chain configuration record, populated by the (external)
// configuration loader and otherwise treated as an opaque value object.
type Config struct {
	Name        string `json:"name"`
	RPCProtocol string `json:"rpcProtocol"`
	RPCHost     string `json:"rpcHost"`
	RPCPort     int    `json:"rpcPort"`
	RPCPath     string `json:"rpcPath"`
	RPCUsername string `json:"rpcUsername,omitempty"`
	RPCPassword string `json:"rpcPassword,omitempty"`
	RPCTimeout  time.Duration `json:"rpcTimeout"`
	ChainID     string `json:"chainId"`

	CreateAccount bool `json:"createAccount"`

	BlockRetrievalStart    uint64        `json:"blockRetrievalStart"`
	BlockRetrievalEnd      uint64        `json:"blockRetrievalEnd"`
	BlockRetrievalRestart  uint64        `json:"blockRetrievalRestart"`
	BlockRetrievalInterval time.Duration `json:"blockRetrievalInterval"`
	BlockMaxRetries        int           `json:"blockMaxRetries"`
	TransactionBatchSize   int           `json:"transactionBatchSize"`

	TraceRawTransaction bool `json:"traceRawTransaction"`
}

// RPCURL composes the node URL with credentials included, for use only when
// actually dialing the node. ElidedRPCURL must be used anywhere the URL is
// logged, persisted, or otherwise made externally visible.
func (c Config) RPCURL() string {
	auth := ""
	if c.RPCUsername != "" {
		auth = c.RPCUsername + ":" + c.RPCPassword + "@"
	}
	return c.RPCProtocol + "://" + auth + c.RPCHost + portSuffix(c.RPCPort) + c.RPCPath
}

// ElidedRPCURL composes the node URL with credentials elided, safe for logs
// and persisted state.
func (c Config) ElidedRPCURL() string {
	return c.RPCProtocol + "://" + c.RPCHost + portSuffix(c.RPCPort) + c.RPCPath
}

func portSuffix(port int) string {
	if port == 0 {
		return ""
	}
	return ":" + strconv.Itoa(port)
}
