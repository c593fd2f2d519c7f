// Package sender implements the transaction sender (C6): builds, signs,
// and submits an outgoing transaction, then resolves its disposition
// through an explicit state machine driven by receipt polling.
package sender

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/whiteflag/relay/chainrelay/chainerr"
	"github.com/whiteflag/relay/chainrelay/chainstate"
	"github.com/whiteflag/relay/chainrelay/encoding"
	"github.com/whiteflag/relay/chainrelay/metrics"
	"github.com/whiteflag/relay/chainrelay/rpc"
	"github.com/whiteflag/relay/chainrelay/wfcrypto"
)

// MaxRetries bounds the receipt-poll budget in AWAIT_RECEIPT before the
// send resolves DONE_PARTIAL.
const MaxRetries = 8

// PollInterval is the spacing between receipt-poll attempts. It is a var
// (not a const) so tests can shrink it; production callers should leave it
// at its default.
var PollInterval = 2 * time.Second

// SignerVariant is the chain-specific signing capability the sender is
// built against. evmchain.Variant and substratechain.Variant both satisfy
// this structurally. Sign receives a 32-byte SHA-256 digest of the
// canonical transaction payload, never the raw payload itself, so the
// secp256k1 variant's fixed-digest-length contract is met uniformly
// across chains.
type SignerVariant interface {
	Sign(priv []byte, digest []byte) (string, error)
}

// KeyFetcher resolves the raw private key for an address, matching
// account.Manager.PrivateKey. Callers must not retain the returned buffer
// past use.
type KeyFetcher interface {
	PrivateKey(ctx context.Context, address string) ([]byte, error)
}

// Sender builds, signs, and submits transactions for one chain.
type Sender struct {
	chainName string
	variant   SignerVariant
	node      *rpc.NodeClient
	accounts  KeyFetcher
	log       *zap.Logger
	metrics   *metrics.InMemory
}

func New(chainName string, variant SignerVariant, node *rpc.NodeClient, accounts KeyFetcher, log *zap.Logger) *Sender {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sender{chainName: chainName, variant: variant, node: node, accounts: accounts, log: log}
}

// SetMetrics attaches a metrics sink that every subsequent Send records its
// outcome and duration to. Optional; nil-safe if never called.
func (s *Sender) SetMetrics(m *metrics.InMemory) {
	s.metrics = m
}

// RawTransaction is the unsigned transaction object assembled before
// signing. Value and GasPrice carry the node's 0x-prefixed hex strings;
// Nonce and GasLimit are plain integers and marshal as JSON numbers, not
// hex.
type RawTransaction struct {
	To       string `json:"to"`
	Value    string `json:"value"`
	Data     string `json:"data"`
	Nonce    uint64 `json:"nonce"`
	GasLimit uint64 `json:"gasLimit"`
	GasPrice string `json:"gasPrice"`
}

// Send builds, signs, and submits a transaction from acct to toAddress,
// then resolves its disposition, returning the transaction hash and (when
// known) the block number it was included in.
func (s *Sender) Send(ctx context.Context, acct chainstate.Account, toAddress, value, data string) (txHash string, blockNumber *uint64, sendErr error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordTransactionSend(time.Since(start), sendErr == nil)
		}
	}()

	nonce, err := s.node.GetTransactionCount(ctx, acct.Address)
	if err != nil {
		return "", nil, fmt.Errorf("sender: fetch nonce: %w", err)
	}
	gasLimit, err := s.node.EstimateGas(ctx, acct.Address, toAddress, value, data)
	if err != nil {
		return "", nil, fmt.Errorf("sender: estimate gas: %w", err)
	}
	gasPrice, err := s.node.GetGasPrice(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("sender: fetch gas price: %w", err)
	}

	raw := RawTransaction{To: toAddress, Value: value, Data: data, Nonce: nonce, GasLimit: gasLimit, GasPrice: gasPrice}
	payload, err := json.Marshal(raw)
	if err != nil {
		return "", nil, fmt.Errorf("sender: serialize transaction: %w", err)
	}

	priv, err := s.accounts.PrivateKey(ctx, acct.Address)
	if err != nil {
		return "", nil, fmt.Errorf("sender: fetch private key: %w", err)
	}
	digest := sha256.Sum256(payload)
	sig, signErr := s.variant.Sign(priv, digest[:])
	wfcrypto.Zeroise(priv)
	if signErr != nil {
		return "", nil, fmt.Errorf("sender: sign transaction: %w", signErr)
	}

	signedHex := encoding.BytesToHex(payload) + "." + sig
	hash, submitErr := s.node.SendSignedTransaction(ctx, signedHex)
	if submitErr != nil {
		s.logDisposition(hash, StateFailed)
		return "", nil, chainerr.NewRetryable(chainerr.ErrCodeRPCUnavailable, "sender: submit failed", submitErr)
	}

	return s.resolveDisposition(ctx, hash)
}

// resolveDisposition drives the SENT/AWAIT_RECEIPT/DONE/DONE_PARTIAL state
// machine by polling getTransactionReceipt until a receipt is found or
// MaxRetries is exhausted. DONE and DONE_PARTIAL are each reached at most
// once per call since the function returns immediately on reaching them.
func (s *Sender) resolveDisposition(ctx context.Context, txHash string) (string, *uint64, error) {
	s.logDisposition(txHash, StateSent)
	s.logDisposition(txHash, StateAwaitReceipt)

	for attempt := 0; attempt < MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return txHash, nil, ctx.Err()
			case <-time.After(PollInterval):
			}
		}

		raw, err := s.node.GetTransactionReceipt(ctx, txHash)
		if err != nil {
			s.log.Warn("receipt poll failed, staying in await-receipt", zap.String("txHash", txHash), zap.Error(err))
			continue
		}

		blockNumber, found, err := parseReceiptBlockNumber(raw)
		if err != nil {
			s.log.Warn("receipt parse failed, staying in await-receipt", zap.String("txHash", txHash), zap.Error(err))
			continue
		}
		if found {
			s.logDisposition(txHash, StateDone)
			return txHash, &blockNumber, nil
		}
	}

	s.logDisposition(txHash, StateDonePartial)
	return txHash, nil, nil
}

func (s *Sender) logDisposition(txHash string, state State) {
	s.log.Info("sender disposition changed", zap.String("chain", s.chainName), zap.String("txHash", txHash), zap.String("state", string(state)))
}

type receiptJSON struct {
	BlockNumber *string `json:"blockNumber"`
}

// parseReceiptBlockNumber reports whether raw is a non-null receipt with a
// known block number.
func parseReceiptBlockNumber(raw json.RawMessage) (uint64, bool, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false, nil
	}
	var r receiptJSON
	if err := json.Unmarshal(raw, &r); err != nil {
		return 0, false, fmt.Errorf("parse receipt: %w", err)
	}
	if r.BlockNumber == nil {
		return 0, false, nil
	}
	var n uint64
	if _, err := fmt.Sscanf(*r.BlockNumber, "0x%x", &n); err != nil {
		return 0, false, fmt.Errorf("parse receipt block number %q: %w", *r.BlockNumber, err)
	}
	return n, true, nil
}
