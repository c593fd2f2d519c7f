package sender

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whiteflag/relay/chainrelay/chainstate"
	"github.com/whiteflag/relay/chainrelay/evmchain"
	"github.com/whiteflag/relay/chainrelay/metrics"
	"github.com/whiteflag/relay/chainrelay/rpc"
)

type fakeRPC struct {
	receipts    []json.RawMessage
	receiptIdx  int
	estimateErr error
	sendErr     error
}

func (f *fakeRPC) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	switch method {
	case "eth_chainId":
		return json.RawMessage(`"0x1"`), nil
	case "eth_getTransactionCount":
		return json.RawMessage(`"0x5"`), nil
	case "eth_estimateGas":
		if f.estimateErr != nil {
			return nil, f.estimateErr
		}
		return json.RawMessage(`"0x5208"`), nil
	case "eth_gasPrice":
		return json.RawMessage(`"0x3b9aca00"`), nil
	case "eth_sendRawTransaction":
		if f.sendErr != nil {
			return nil, f.sendErr
		}
		return json.RawMessage(`"0xabc123"`), nil
	case "eth_getTransactionReceipt":
		if f.receiptIdx >= len(f.receipts) {
			return json.RawMessage(`null`), nil
		}
		r := f.receipts[f.receiptIdx]
		f.receiptIdx++
		return r, nil
	}
	return json.RawMessage(`null`), nil
}

func (f *fakeRPC) CallBatch(ctx context.Context, requests []rpc.Request) ([]json.RawMessage, error) {
	return nil, nil
}

func (f *fakeRPC) Close() error { return nil }

type fakeKeyFetcher struct {
	priv []byte
}

func (f *fakeKeyFetcher) PrivateKey(ctx context.Context, address string) ([]byte, error) {
	return append([]byte(nil), f.priv...), nil
}

func newEVMAccount(t *testing.T) (chainstate.Account, []byte) {
	t.Helper()
	v := evmchain.New("0x1")
	priv, err := v.GenerateKey()
	require.NoError(t, err)
	pub, err := v.PublicKeyFromPrivate(priv)
	require.NoError(t, err)
	addr, err := v.AddressFromPublicKey(pub)
	require.NoError(t, err)
	return chainstate.Account{Address: addr, PublicKey: pub}, priv
}

func TestSendResolvesDoneOnFirstReceipt(t *testing.T) {
	acct, priv := newEVMAccount(t)
	fake := &fakeRPC{receipts: []json.RawMessage{json.RawMessage(`{"blockNumber":"0x2a"}`)}}
	node := rpc.NewNodeClient(fake, "0x1", time.Second, nil)
	require.NoError(t, node.Init(context.Background()))

	s := New("ethereum", evmchain.New("0x1"), node, &fakeKeyFetcher{priv: priv}, nil)

	hash, block, err := s.Send(context.Background(), acct, "0xdead", "0x0", "0x5746")
	require.NoError(t, err)
	assert.Equal(t, "0xabc123", hash)
	require.NotNil(t, block)
	assert.Equal(t, uint64(42), *block)
}

func TestSendResolvesDonePartialAfterMaxRetries(t *testing.T) {
	acct, priv := newEVMAccount(t)
	fake := &fakeRPC{} // every receipt poll returns null
	node := rpc.NewNodeClient(fake, "0x1", time.Second, nil)
	require.NoError(t, node.Init(context.Background()))

	s := New("ethereum", evmchain.New("0x1"), node, &fakeKeyFetcher{priv: priv}, nil)
	origPoll := PollInterval
	PollInterval = time.Millisecond
	defer func() { PollInterval = origPoll }()

	hash, block, err := s.Send(context.Background(), acct, "0xdead", "0x0", "0x5746")
	require.NoError(t, err)
	assert.Equal(t, "0xabc123", hash)
	assert.Nil(t, block)
}

func TestSendFailsWhenSubmitErrors(t *testing.T) {
	acct, priv := newEVMAccount(t)
	fake := &fakeRPC{sendErr: assert.AnError}
	node := rpc.NewNodeClient(fake, "0x1", time.Second, nil)
	require.NoError(t, node.Init(context.Background()))

	s := New("ethereum", evmchain.New("0x1"), node, &fakeKeyFetcher{priv: priv}, nil)

	_, _, err := s.Send(context.Background(), acct, "0xdead", "0x0", "0x5746")
	assert.Error(t, err)
}

func TestSendLeavesKeyFetcherStoredKeyIntact(t *testing.T) {
	acct, priv := newEVMAccount(t)
	fake := &fakeRPC{receipts: []json.RawMessage{json.RawMessage(`{"blockNumber":"0x1"}`)}}
	node := rpc.NewNodeClient(fake, "0x1", time.Second, nil)
	require.NoError(t, node.Init(context.Background()))

	fetcher := &fakeKeyFetcher{priv: priv}
	s := New("ethereum", evmchain.New("0x1"), node, fetcher, nil)

	_, _, err := s.Send(context.Background(), acct, "0xdead", "0x0", "0x5746")
	require.NoError(t, err)
	// fetcher.priv itself is the manager-owned copy; the sender must
	// zeroize its own local copy, not the fetcher's, so fetcher.priv is
	// left untouched for a subsequent send.
	assert.NotZero(t, fetcher.priv[0])
}

func TestSendRecordsTransactionMetricsOnSuccess(t *testing.T) {
	acct, priv := newEVMAccount(t)
	fake := &fakeRPC{receipts: []json.RawMessage{json.RawMessage(`{"blockNumber":"0x2a"}`)}}
	node := rpc.NewNodeClient(fake, "0x1", time.Second, nil)
	require.NoError(t, node.Init(context.Background()))

	s := New("ethereum", evmchain.New("0x1"), node, &fakeKeyFetcher{priv: priv}, nil)
	m := metrics.NewInMemory()
	s.SetMetrics(m)

	_, _, err := s.Send(context.Background(), acct, "0xdead", "0x0", "0x5746")
	require.NoError(t, err)

	stats := m.Snapshot().TransactionSends
	assert.Equal(t, int64(1), stats.TotalCalls)
	assert.Equal(t, int64(1), stats.SuccessfulCalls)
}

func TestSendRecordsTransactionMetricsOnFailure(t *testing.T) {
	acct, priv := newEVMAccount(t)
	fake := &fakeRPC{sendErr: assert.AnError}
	node := rpc.NewNodeClient(fake, "0x1", time.Second, nil)
	require.NoError(t, node.Init(context.Background()))

	s := New("ethereum", evmchain.New("0x1"), node, &fakeKeyFetcher{priv: priv}, nil)
	m := metrics.NewInMemory()
	s.SetMetrics(m)

	_, _, err := s.Send(context.Background(), acct, "0xdead", "0x0", "0x5746")
	require.Error(t, err)

	stats := m.Snapshot().TransactionSends
	assert.Equal(t, int64(1), stats.TotalCalls)
	assert.Equal(t, int64(1), stats.FailedCalls)
}

func TestParseReceiptBlockNumberHandlesNullAndMalformed(t *testing.T) {
	_, found, err := parseReceiptBlockNumber(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = parseReceiptBlockNumber(json.RawMessage(`{"blockNumber":"not-hex"}`))
	assert.Error(t, err)
}
