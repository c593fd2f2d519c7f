package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/whiteflag/relay/chainrelay/chainerr"
	"github.com/whiteflag/relay/chainrelay/metrics"
)

// Timing constants for NodeClient, per the relay's node-integration contract.
const (
	DefaultTimeout    = 10 * time.Second
	MinTimeout        = 500 * time.Millisecond
	SendTimeoutFactor = 5

	ConnectRetries = 2
	StatusInterval = 60 * time.Second
	InfoInterval   = time.Hour
)

// NodeInfo is the semi-static node metadata refreshed every InfoInterval.
type NodeInfo struct {
	ProtocolVersion string
	PeerCount       int64
}

// NodeStatus is the dynamic node state refreshed every StatusInterval.
type NodeStatus struct {
	BlockNumber uint64
	GasPrice    string
	IsSyncing   bool
}

// NodeClient wraps a raw Client with the typed, timeout-bounded operations
// every chain adapter calls, plus the init handshake and periodic
// refreshers the node integration contract requires.
type NodeClient struct {
	rpc            Client
	chainID        string
	timeout        time.Duration
	log            *zap.Logger
	stopRefreshers chan struct{}
	initialized    bool
	metrics        *metrics.InMemory
}

// NewNodeClient wraps rpc for the named chain. timeout is T_rpc; if zero or
// below MinTimeout, DefaultTimeout is used.
func NewNodeClient(rpcClient Client, configuredChainID string, timeout time.Duration, log *zap.Logger) *NodeClient {
	if timeout < MinTimeout {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &NodeClient{
		rpc:     rpcClient,
		chainID: configuredChainID,
		timeout: timeout,
		log:     log,
	}
}

// Init verifies the configured chain ID against the node's reported chain
// ID, retrying failed calls up to ConnectRetries times spaced by
// StatusInterval. A reported chain ID that differs from the configured one
// is fatal at once, without further retries. Init does not start the
// periodic info/status refreshers; StartRefreshers does that.
func (n *NodeClient) Init(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt <= ConnectRetries; attempt++ {
		reported, err := n.GetChainID(ctx)
		if err != nil {
			lastErr = err
		} else if reported != n.chainID {
			lastErr = chainerr.NewFatal(chainerr.ErrCodeInvalidTransaction,
				fmt.Sprintf("configured chain id %s does not match reported chain id %s", n.chainID, reported), nil)
			break
		} else {
			n.initialized = true
			return nil
		}

		if attempt < ConnectRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(StatusInterval):
			}
		}
	}
	return chainerr.NewFatal(chainerr.ErrCodeRPCUnavailable, "node init failed after retries", lastErr)
}

// StartRefreshers launches the background updateNodeInfo/updateNodeStatus
// loops described by the init contract. Call after a successful Init.
// Stop via StopRefreshers or by cancelling ctx.
func (n *NodeClient) StartRefreshers(ctx context.Context, onInfo func(NodeInfo), onStatus func(NodeStatus)) {
	n.stopRefreshers = make(chan struct{})

	go n.refreshLoop(ctx, InfoInterval, func(ctx context.Context) {
		info, err := n.fetchNodeInfo(ctx)
		if err != nil {
			n.log.Warn("updateNodeInfo failed", zap.Error(err))
			return
		}
		if onInfo != nil {
			onInfo(info)
		}
	})

	go n.refreshLoop(ctx, StatusInterval, func(ctx context.Context) {
		status, err := n.fetchNodeStatus(ctx)
		if err != nil {
			n.log.Warn("updateNodeStatus failed", zap.Error(err))
			return
		}
		if onStatus != nil {
			onStatus(status)
		}
	})
}

// SetMetrics attaches a metrics sink that every subsequent RPC call records
// its duration and outcome to. Optional; nil-safe if never called.
func (n *NodeClient) SetMetrics(m *metrics.InMemory) {
	n.metrics = m
}

func (n *NodeClient) StopRefreshers() {
	if n.stopRefreshers != nil {
		close(n.stopRefreshers)
	}
}

func (n *NodeClient) refreshLoop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stopRefreshers:
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

func (n *NodeClient) fetchNodeInfo(ctx context.Context) (NodeInfo, error) {
	version, err := n.GetProtocolVersion(ctx)
	if err != nil {
		return NodeInfo{}, err
	}
	peers, err := n.GetPeerCount(ctx)
	if err != nil {
		return NodeInfo{}, err
	}
	return NodeInfo{ProtocolVersion: version, PeerCount: peers}, nil
}

func (n *NodeClient) fetchNodeStatus(ctx context.Context) (NodeStatus, error) {
	blockNumber, err := n.GetBlockNumber(ctx)
	if err != nil {
		return NodeStatus{}, err
	}
	gasPrice, err := n.GetGasPrice(ctx)
	if err != nil {
		return NodeStatus{}, err
	}
	syncing, err := n.IsSyncing(ctx)
	if err != nil {
		return NodeStatus{}, err
	}
	return NodeStatus{BlockNumber: blockNumber, GasPrice: gasPrice, IsSyncing: syncing}, nil
}

func (n *NodeClient) withTimeout(ctx context.Context, factor int) (context.Context, context.CancelFunc) {
	d := n.timeout
	if factor > 1 {
		d = time.Duration(factor) * d
	}
	return context.WithTimeout(ctx, d)
}

func (n *NodeClient) call(ctx context.Context, method string, params interface{}, factor int) (json.RawMessage, error) {
	if !n.initialized && method != "eth_chainId" {
		return nil, chainerr.NewNonRetryable(chainerr.ErrCodeRPCUnavailable, "node client used before successful init", nil)
	}
	cctx, cancel := n.withTimeout(ctx, factor)
	defer cancel()

	start := time.Now()
	result, err := n.rpc.Call(cctx, method, params)
	n.recordCall(method, start, err == nil)
	if err != nil {
		if cctx.Err() != nil {
			return nil, chainerr.NewRetryable(chainerr.ErrCodeRPCTimeout, fmt.Sprintf("rpc %s timed out", method), err)
		}
		return nil, chainerr.NewRetryable(chainerr.ErrCodeRPCUnavailable, fmt.Sprintf("rpc %s failed", method), err)
	}
	return result, nil
}

func (n *NodeClient) recordCall(method string, start time.Time, success bool) {
	if n.metrics != nil {
		n.metrics.RecordRPCCall(method, time.Since(start), success)
	}
}

func (n *NodeClient) GetBalance(ctx context.Context, address string) (string, error) {
	var out string
	return out, n.callInto(ctx, "eth_getBalance", []interface{}{address, "latest"}, 1, &out)
}

func (n *NodeClient) GetTransactionCount(ctx context.Context, address string) (uint64, error) {
	return n.callHexUint(ctx, "eth_getTransactionCount", []interface{}{address, "latest"})
}

func (n *NodeClient) GetBlockNumber(ctx context.Context) (uint64, error) {
	return n.callHexUint(ctx, "eth_blockNumber", []interface{}{})
}

func (n *NodeClient) GetBlockByNumber(ctx context.Context, number string, includeTx bool) (json.RawMessage, error) {
	return n.call(ctx, "eth_getBlockByNumber", []interface{}{number, includeTx}, 1)
}

func (n *NodeClient) GetTransaction(ctx context.Context, hash string) (json.RawMessage, error) {
	return n.call(ctx, "eth_getTransactionByHash", []interface{}{hash}, 1)
}

func (n *NodeClient) GetTransactionReceipt(ctx context.Context, hash string) (json.RawMessage, error) {
	return n.call(ctx, "eth_getTransactionReceipt", []interface{}{hash}, 1)
}

func (n *NodeClient) GetChainID(ctx context.Context) (string, error) {
	var out string
	cctx, cancel := n.withTimeout(ctx, 1)
	defer cancel()
	start := time.Now()
	result, err := n.rpc.Call(cctx, "eth_chainId", []interface{}{})
	n.recordCall("eth_chainId", start, err == nil)
	if err != nil {
		return "", chainerr.NewRetryable(chainerr.ErrCodeRPCUnavailable, "eth_chainId failed", err)
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return "", fmt.Errorf("rpc: parse chain id: %w", err)
	}
	return out, nil
}

func (n *NodeClient) GetNetworkID(ctx context.Context) (string, error) {
	var out string
	return out, n.callInto(ctx, "net_version", []interface{}{}, 1, &out)
}

func (n *NodeClient) GetProtocolVersion(ctx context.Context) (string, error) {
	var out string
	return out, n.callInto(ctx, "eth_protocolVersion", []interface{}{}, 1, &out)
}

func (n *NodeClient) GetPeerCount(ctx context.Context) (int64, error) {
	v, err := n.callHexUint(ctx, "net_peerCount", []interface{}{})
	return int64(v), err
}

func (n *NodeClient) GetGasPrice(ctx context.Context) (string, error) {
	var out string
	return out, n.callInto(ctx, "eth_gasPrice", []interface{}{}, 1, &out)
}

// EstimateGas estimates the gas limit for a candidate call, used by the
// transaction sender to fill in gasLimit before signing.
func (n *NodeClient) EstimateGas(ctx context.Context, from, to, value, data string) (uint64, error) {
	call := map[string]interface{}{"from": from, "to": to, "value": value, "data": data}
	return n.callHexUint(ctx, "eth_estimateGas", []interface{}{call})
}

func (n *NodeClient) IsSyncing(ctx context.Context) (bool, error) {
	result, err := n.call(ctx, "eth_syncing", []interface{}{}, 1)
	if err != nil {
		return false, err
	}
	var asBool bool
	if err := json.Unmarshal(result, &asBool); err == nil {
		return asBool, nil
	}
	return true, nil
}

func (n *NodeClient) SendSignedTransaction(ctx context.Context, rawTxHex string) (string, error) {
	var out string
	return out, n.callInto(ctx, "eth_sendRawTransaction", []interface{}{rawTxHex}, SendTimeoutFactor, &out)
}

func (n *NodeClient) callInto(ctx context.Context, method string, params interface{}, factor int, out interface{}) error {
	result, err := n.call(ctx, method, params, factor)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(result, out); err != nil {
		return fmt.Errorf("rpc: parse %s response: %w", method, err)
	}
	return nil
}

func (n *NodeClient) callHexUint(ctx context.Context, method string, params interface{}) (uint64, error) {
	var hexStr string
	if err := n.callInto(ctx, method, params, 1, &hexStr); err != nil {
		return 0, err
	}
	var value uint64
	if _, err := fmt.Sscanf(hexStr, "0x%x", &value); err != nil {
		return 0, chainerr.NewNonRetryable(chainerr.ErrCodeInvalidTransaction, fmt.Sprintf("rpc: malformed hex quantity from %s: %q", method, hexStr), err)
	}
	return value, nil
}
