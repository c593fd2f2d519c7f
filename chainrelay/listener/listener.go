// Package listener implements the block listener (C7): a single-threaded
// cooperative loop per chain that advances a monotonically non-decreasing
// block cursor, decodes Whiteflag transactions, and emits them on the
// receive bus.
package listener

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/whiteflag/relay/chainrelay/bus"
	"github.com/whiteflag/relay/chainrelay/chainerr"
	"github.com/whiteflag/relay/chainrelay/chainstate"
	"github.com/whiteflag/relay/chainrelay/encoding"
	"github.com/whiteflag/relay/chainrelay/metrics"
	"github.com/whiteflag/relay/chainrelay/rpc"
	"github.com/whiteflag/relay/chainrelay/sender"
)

// BlockStackSize bounds consecutive blocks advanced per iteration, to keep
// call-stack and context growth bounded.
const BlockStackSize = 100

// BlockRetryDelay is the WAITING_RETRY spacing between retrying the same
// block. A var (not const) so tests can shrink it.
var BlockRetryDelay = 10 * time.Second

const (
	DefaultRetrievalInterval = 6000 * time.Millisecond
	MinRetrievalInterval     = 500 * time.Millisecond
	DefaultRewindDepth       = uint64(100)
)

// State is the listener's iteration state.
type State string

const (
	StateScheduled      State = "SCHEDULED"
	StateFetchingHeight State = "FETCHING_HEIGHT"
	StateProcessingBlock State = "PROCESSING_BLOCK"
	StateWaitingRetry   State = "WAITING_RETRY"
	StateStopped        State = "STOPPED"
)

// computeStartBlock derives the block cursor to resume from, given the
// live chain height, the last-persisted cursor, an optional configured
// start, and the rewind depth.
//
// Branch 1 and the unbounded fallbacks are literal. Branch 2 resolves an
// inconsistency between this system's stated rule ("highest - rewind - 1")
// and its own worked example: with highest=1000, current=500, rewind=100,
// the literal formula yields 899, but the documented expectation is 999
// (highest-1) — "resume far-behind": once the recorded cursor is further
// behind the tip than the rewind window, it is treated as stale and
// discarded outright rather than partially honored. The chosen reading
// (gap-from-tip exceeds rewind ⇒ resume at the tip) is the only one
// consistent with all three worked examples and is documented as the
// resolution of this ambiguity.
func computeStartBlock(highest, current, configuredStart, rewind uint64) (uint64, error) {
	if configuredStart > 0 {
		return configuredStart - 1, nil
	}
	if highest > current && highest-current > rewind {
		if highest == 0 {
			return 0, chainerr.NewFatal(chainerr.ErrCodeBlockNotFound, "listener: cannot determine starting block", nil)
		}
		return highest - 1, nil
	}
	if current > 0 {
		return current, nil
	}
	if highest > 0 {
		return highest - 1, nil
	}
	return 0, chainerr.NewFatal(chainerr.ErrCodeBlockNotFound, "listener: cannot determine starting block", nil)
}

// PubKeyRecoverer recovers the signer's public key from a digest and
// signature, satisfied by evmchain.Variant. Substrate chains have no
// recovery step and pass nil.
type PubKeyRecoverer interface {
	GetSenderPublicKey(digest []byte, sigHex string) (string, error)
}

// Listener runs the block-retrieval loop for a single chain.
type Listener struct {
	chainName string
	node      *rpc.NodeClient
	state     chainstate.StateStore
	bus       bus.Bus
	metrics   metrics.ChainMetrics
	recoverer PubKeyRecoverer
	config    chainstate.Config
	log       *zap.Logger

	cursor    uint64
	iterState State
	stopCh    chan struct{}
}

func New(chainName string, node *rpc.NodeClient, state chainstate.StateStore, b bus.Bus, m metrics.ChainMetrics, recoverer PubKeyRecoverer, config chainstate.Config, log *zap.Logger) *Listener {
	if log == nil {
		log = zap.NewNop()
	}
	return &Listener{
		chainName: chainName,
		node:      node,
		state:     state,
		bus:       b,
		metrics:   m,
		recoverer: recoverer,
		config:    config,
		log:       log,
		iterState: StateScheduled,
	}
}

func (l *Listener) State() State { return l.iterState }
func (l *Listener) Cursor() uint64 { return l.cursor }

func (l *Listener) setState(s State) {
	if s != l.iterState {
		l.log.Info("listener state changed", zap.String("chain", l.chainName), zap.String("from", string(l.iterState)), zap.String("to", string(s)))
	}
	l.iterState = s
}

// initCursor resolves the starting block and, unless a configured start
// was already honored, rewinds per computeStartBlock before the first
// iteration.
func (l *Listener) initCursor(ctx context.Context) error {
	cs, ok, err := l.state.GetBlockchainData(ctx, l.chainName)
	if err != nil {
		return err
	}
	current := uint64(0)
	if ok {
		current = cs.Status.CurrentBlock
	}

	var highest uint64
	if l.config.BlockRetrievalStart == 0 {
		highest, err = l.node.GetBlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("listener: fetch initial height: %w", err)
		}
	}

	rewind := l.config.BlockRetrievalRestart
	if rewind == 0 {
		rewind = DefaultRewindDepth
	}

	start, err := computeStartBlock(highest, current, l.config.BlockRetrievalStart, rewind)
	if err != nil {
		return err
	}
	l.cursor = start
	return nil
}

func (l *Listener) retrievalInterval() time.Duration {
	interval := l.config.BlockRetrievalInterval
	if interval < MinRetrievalInterval {
		interval = DefaultRetrievalInterval
	}
	return interval
}

func (l *Listener) batchSize() int {
	if l.config.TransactionBatchSize <= 0 {
		return 64
	}
	return l.config.TransactionBatchSize
}

// Run drives the SCHEDULED → FETCHING_HEIGHT → PROCESSING_BLOCK loop until
// ctx is cancelled or Stop is called.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.initCursor(ctx); err != nil {
		return err
	}
	l.stopCh = make(chan struct{})
	l.setState(StateScheduled)

	timer := time.NewTimer(l.retrievalInterval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			l.setState(StateStopped)
			return nil
		case <-l.stopCh:
			l.setState(StateStopped)
			return nil
		case <-timer.C:
			l.iterate(ctx)
			timer.Reset(l.retrievalInterval())
		}
	}
}

func (l *Listener) Stop() {
	if l.stopCh != nil {
		close(l.stopCh)
	}
}

func (l *Listener) iterate(ctx context.Context) {
	l.setState(StateFetchingHeight)
	highest, err := l.node.GetBlockNumber(ctx)
	if err != nil {
		l.log.Warn("fetch height failed", zap.String("chain", l.chainName), zap.Error(err))
		l.setState(StateScheduled)
		return
	}

	if highest == l.cursor || l.cursor > highest {
		l.setState(StateScheduled)
		return
	}

	end := highest
	if l.config.BlockRetrievalEnd > 0 && l.config.BlockRetrievalEnd < end {
		end = l.config.BlockRetrievalEnd
	}

	l.setState(StateProcessingBlock)
	l.processRange(ctx, end)
	l.persistStatus(ctx, highest)
	l.setState(StateScheduled)
}

func (l *Listener) processRange(ctx context.Context, end uint64) {
	processed := 0
	for n := l.cursor + 1; n <= end && processed < BlockStackSize; n++ {
		if !l.processBlock(ctx, n) {
			return
		}
		processed++
	}
}

// processBlock processes block n, retrying on failure per the
// WAITING_RETRY contract, and skipping past it once blockMaxRetries is
// exceeded. Returns false only when ctx is cancelled mid-retry.
func (l *Listener) processBlock(ctx context.Context, n uint64) bool {
	retries := 0
	for {
		start := time.Now()
		count, err := l.tryProcessBlock(ctx, n)
		if err == nil {
			l.cursor = n
			if l.metrics != nil {
				l.metrics.RecordBlockProcessed(n, count, time.Since(start))
			}
			return true
		}

		retries++
		if l.config.BlockMaxRetries > 0 && retries > l.config.BlockMaxRetries {
			l.log.Warn("block retries exceeded, skipping", zap.String("chain", l.chainName), zap.Uint64("block", n), zap.Int("retries", retries), zap.Error(err))
			if l.metrics != nil {
				l.metrics.RecordBlockSkipped(n)
			}
			l.cursor = n
			return true
		}

		l.setState(StateWaitingRetry)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(BlockRetryDelay):
		}
		l.setState(StateProcessingBlock)
	}
}

func (l *Listener) persistStatus(ctx context.Context, highest uint64) {
	cs, ok, err := l.state.GetBlockchainData(ctx, l.chainName)
	if err != nil {
		l.log.Warn("listener: read state for status persist failed", zap.Error(err))
		return
	}
	if !ok {
		cs = chainstate.ChainState{}
	}
	cs.Status.CurrentBlock = l.cursor
	cs.Status.HighestBlock = highest
	cs.Status.UpdatedAt = time.Now().UTC()
	if err := l.state.UpdateBlockchainData(ctx, l.chainName, cs); err != nil {
		l.log.Warn("listener: persist status failed", zap.Error(err))
	}
}

type blockJSON struct {
	Timestamp    string   `json:"timestamp"`
	Transactions []string `json:"transactions"`
}

type txJSON struct {
	Hash        string `json:"hash"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	Input       string `json:"input"`
	Nonce       string `json:"nonce"`
	Gas         string `json:"gas"`
	GasPrice    string `json:"gasPrice"`
	BlockNumber string `json:"blockNumber"`
	V           string `json:"v"`
	R           string `json:"r"`
	S           string `json:"s"`
}

// tryProcessBlock fetches block n and processes every transaction in
// ordered, bounded-parallel batches. A block is never marked processed
// (the caller never advances the cursor) until every message in it has
// been emitted.
func (l *Listener) tryProcessBlock(ctx context.Context, n uint64) (int, error) {
	raw, err := l.node.GetBlockByNumber(ctx, hexQuantity(n), false)
	if err != nil {
		return 0, err
	}
	var block blockJSON
	if err := json.Unmarshal(raw, &block); err != nil {
		return 0, fmt.Errorf("listener: parse block %d: %w", n, err)
	}
	if len(block.Transactions) == 0 {
		return 0, nil
	}

	total := 0
	size := l.batchSize()
	for i := 0; i < len(block.Transactions); i += size {
		end := i + size
		if end > len(block.Transactions) {
			end = len(block.Transactions)
		}
		count, err := l.processBatch(ctx, block.Transactions[i:end], block.Timestamp)
		if err != nil {
			return 0, fmt.Errorf("listener: block %d batch [%d:%d]: %w", n, i, end, err)
		}
		total += count
	}
	return total, nil
}

// processBatch fetches and decodes every hash in the batch concurrently,
// bounded by the batch size, then emits any decoded messages in their
// original transaction-index order.
func (l *Listener) processBatch(ctx context.Context, hashes []string, blockTimestamp string) (int, error) {
	results := make([]*chainstate.WfMessage, len(hashes))
	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(l.batchSize()))

	for i, hash := range hashes {
		i, hash := i, hash
		if err := sem.Acquire(gctx, 1); err != nil {
			return 0, err
		}
		g.Go(func() error {
			defer sem.Release(1)
			msg, err := l.fetchAndDecode(gctx, hash, blockTimestamp)
			if err != nil {
				return err
			}
			results[i] = msg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	count := 0
	for _, msg := range results {
		if msg == nil {
			continue
		}
		bus.MessageReceived(l.bus, *msg)
		count++
	}
	return count, nil
}

// fetchAndDecode fetches a transaction by hash and, if its data begins
// with the Whiteflag identifier, decodes it into a WfMessage. Non-Whiteflag
// transactions return (nil, nil): discarded, not an error.
func (l *Listener) fetchAndDecode(ctx context.Context, hash, blockTimestamp string) (*chainstate.WfMessage, error) {
	raw, err := l.node.GetTransaction(ctx, hash)
	if err != nil {
		return nil, err
	}
	var tx txJSON
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, fmt.Errorf("parse transaction %s: %w", hash, err)
	}

	if !strings.HasPrefix(strings.ToLower(tx.Input), chainstate.WhiteflagPrefix) {
		return nil, nil
	}

	blockNumber, err := parseHexUint(tx.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("parse blockNumber for %s: %w", hash, err)
	}

	meta := chainstate.MetaHeader{
		Blockchain:        l.chainName,
		BlockNumber:       blockNumber,
		TransactionHash:   encoding.NoHexPrefix(tx.Hash),
		OriginatorAddress: encoding.NoAddressHexPrefix(tx.From),
		EncodedMessage:    encoding.NoHexPrefix(tx.Input),
	}

	if blockTimestamp != "" {
		if ts, err := parseHexUint(blockTimestamp); err == nil {
			meta.TransactionTime = time.Unix(int64(ts), 0).UTC().Format("2006-01-02T15:04:05.000Z07:00")
		}
	}

	if l.recoverer != nil {
		pubKey, err := recoverEVMPubKey(l.recoverer, tx)
		if err != nil {
			l.log.Warn("originator public key recovery failed", zap.String("txHash", hash), zap.Error(err))
		} else {
			meta.OriginatorPubKey = pubKey
		}
	}

	return &chainstate.WfMessage{
		MetaHeader:    meta,
		MessageHeader: map[string]interface{}{},
		MessageBody:   map[string]interface{}{},
	}, nil
}

// recoverEVMPubKey reconstructs the digest this relay's own sender would
// have hashed for an equivalent transaction and recovers the signer's
// public key from it. This mirrors sender.RawTransaction's canonical
// encoding rather than real chain-specific RLP, so recovery is exact for
// transactions this relay itself originated and best-effort otherwise — an
// explicit, documented simplification (see DESIGN.md).
func recoverEVMPubKey(recoverer PubKeyRecoverer, tx txJSON) (string, error) {
	nonce, err := parseHexUint(tx.Nonce)
	if err != nil {
		return "", err
	}
	gasLimit, err := parseHexUint(tx.Gas)
	if err != nil {
		return "", err
	}
	raw := sender.RawTransaction{To: tx.To, Value: tx.Value, Data: tx.Input, Nonce: nonce, GasLimit: gasLimit, GasPrice: tx.GasPrice}
	payload, err := json.Marshal(raw)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(payload)

	sigHex, err := buildSigHex(tx.R, tx.S, tx.V)
	if err != nil {
		return "", err
	}
	return recoverer.GetSenderPublicKey(digest[:], sigHex)
}

func buildSigHex(rHex, sHex, vHex string) (string, error) {
	r, err := encoding.HexToBytes(evenHex(rHex))
	if err != nil {
		return "", fmt.Errorf("parse r: %w", err)
	}
	s, err := encoding.HexToBytes(evenHex(sHex))
	if err != nil {
		return "", fmt.Errorf("parse s: %w", err)
	}
	vBytes, err := encoding.HexToBytes(evenHex(vHex))
	if err != nil || len(vBytes) == 0 {
		return "", fmt.Errorf("parse v: %w", err)
	}
	v := vBytes[len(vBytes)-1]
	if v >= 27 {
		v -= 27
	}
	sig := append(append(leftPad(r, 32), leftPad(s, 32)...), v)
	return encoding.BytesToHex(sig), nil
}

func leftPad(b []byte, n int) []byte {
	if len(b) >= n {
		return b[len(b)-n:]
	}
	out := make([]byte, n)
	copy(out[n-len(b):], b)
	return out
}

// evenHex pads an odd-length 0x-prefixed hex quantity with a leading zero
// nibble, matching the JSON-RPC quantity encoding which strips leading
// zeros.
func evenHex(s string) string {
	body := encoding.NoHexPrefix(s)
	if len(body)%2 == 1 {
		body = "0" + body
	}
	return body
}

func hexQuantity(n uint64) string {
	return "0x" + strconv.FormatUint(n, 16)
}

func parseHexUint(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("listener: empty hex quantity")
	}
	var v uint64
	if _, err := fmt.Sscanf(s, "0x%x", &v); err != nil {
		return 0, fmt.Errorf("listener: malformed hex quantity %q: %w", s, err)
	}
	return v, nil
}
