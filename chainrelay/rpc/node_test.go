package rpc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whiteflag/relay/chainrelay/metrics"
)

// fakeClient is a minimal Client stub keyed by method name, used to unit
// test NodeClient without a network round trip.
type fakeClient struct {
	responses map[string]json.RawMessage
	errs      map[string]error
	calls     []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{responses: map[string]json.RawMessage{}, errs: map[string]error{}}
}

func (f *fakeClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	f.calls = append(f.calls, method)
	if err, ok := f.errs[method]; ok {
		return nil, err
	}
	if resp, ok := f.responses[method]; ok {
		return resp, nil
	}
	return json.RawMessage(`null`), nil
}

func (f *fakeClient) CallBatch(ctx context.Context, requests []Request) ([]json.RawMessage, error) {
	return nil, nil
}

func (f *fakeClient) Close() error { return nil }

func TestNodeClientInitSucceedsOnMatchingChainID(t *testing.T) {
	fake := newFakeClient()
	fake.responses["eth_chainId"] = json.RawMessage(`"0x1"`)

	node := NewNodeClient(fake, "0x1", time.Second, nil)
	require.NoError(t, node.Init(context.Background()))
	assert.True(t, node.initialized)
}

func TestNodeClientInitFailsOnChainIDMismatch(t *testing.T) {
	fake := newFakeClient()
	fake.responses["eth_chainId"] = json.RawMessage(`"0x2"`)

	node := NewNodeClient(fake, "0x1", time.Second, nil)
	err := node.Init(context.Background())
	assert.Error(t, err)
	assert.False(t, node.initialized)
}

func TestNodeClientRejectsCallsBeforeInit(t *testing.T) {
	fake := newFakeClient()
	node := NewNodeClient(fake, "0x1", time.Second, nil)

	_, err := node.GetBlockNumber(context.Background())
	assert.Error(t, err)
}

func TestNodeClientGetBalance(t *testing.T) {
	fake := newFakeClient()
	fake.responses["eth_chainId"] = json.RawMessage(`"0x1"`)
	fake.responses["eth_getBalance"] = json.RawMessage(`"0x56bc75e2d63100000"`)

	node := NewNodeClient(fake, "0x1", time.Second, nil)
	require.NoError(t, node.Init(context.Background()))

	balance, err := node.GetBalance(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "0x56bc75e2d63100000", balance)
}

func TestNodeClientGetBlockNumberParsesHexQuantity(t *testing.T) {
	fake := newFakeClient()
	fake.responses["eth_chainId"] = json.RawMessage(`"0x1"`)
	fake.responses["eth_blockNumber"] = json.RawMessage(`"0xff"`)

	node := NewNodeClient(fake, "0x1", time.Second, nil)
	require.NoError(t, node.Init(context.Background()))

	n, err := node.GetBlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(255), n)
}

func TestNodeClientEstimateGas(t *testing.T) {
	fake := newFakeClient()
	fake.responses["eth_chainId"] = json.RawMessage(`"0x1"`)
	fake.responses["eth_estimateGas"] = json.RawMessage(`"0x5208"`)

	node := NewNodeClient(fake, "0x1", time.Second, nil)
	require.NoError(t, node.Init(context.Background()))

	gas, err := node.EstimateGas(context.Background(), "0xfrom", "0xto", "0x0", "0x")
	require.NoError(t, err)
	assert.Equal(t, uint64(21000), gas)
}

func TestNodeClientSendSignedTransactionUsesExtendedTimeout(t *testing.T) {
	fake := newFakeClient()
	fake.responses["eth_chainId"] = json.RawMessage(`"0x1"`)
	fake.responses["eth_sendRawTransaction"] = json.RawMessage(`"0xdeadbeef"`)

	node := NewNodeClient(fake, "0x1", time.Second, nil)
	require.NoError(t, node.Init(context.Background()))

	hash, err := node.SendSignedTransaction(context.Background(), "0xraw")
	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeef", hash)
}

func TestNodeClientRecordsMetricsWhenAttached(t *testing.T) {
	fake := newFakeClient()
	fake.responses["eth_chainId"] = json.RawMessage(`"0x1"`)
	fake.errs["eth_blockNumber"] = assert.AnError

	node := NewNodeClient(fake, "0x1", time.Second, nil)
	m := metrics.NewInMemory()
	node.SetMetrics(m)
	require.NoError(t, node.Init(context.Background()))

	_, err := node.GetBlockNumber(context.Background())
	assert.Error(t, err)

	snap := m.Snapshot()
	chainIDStats := snap.RPCByMethod["eth_chainId"]
	assert.Equal(t, int64(1), chainIDStats.TotalCalls)
	assert.Equal(t, int64(1), chainIDStats.SuccessfulCalls)

	blockNumberStats := snap.RPCByMethod["eth_blockNumber"]
	assert.Equal(t, int64(1), blockNumberStats.TotalCalls)
	assert.Equal(t, int64(1), blockNumberStats.FailedCalls)
}

func TestNodeClientMetricsOptedOutByDefault(t *testing.T) {
	fake := newFakeClient()
	fake.responses["eth_chainId"] = json.RawMessage(`"0x1"`)

	node := NewNodeClient(fake, "0x1", time.Second, nil)
	require.NoError(t, node.Init(context.Background()))
	assert.Nil(t, node.metrics)
}
