package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecordRPCCallAggregatesPerMethod(t *testing.T) {
	m := NewInMemory()
	m.RecordRPCCall("eth_gasPrice", 10*time.Millisecond, true)
	m.RecordRPCCall("eth_gasPrice", 20*time.Millisecond, false)

	snap := m.Snapshot()
	stats := snap.RPCByMethod["eth_gasPrice"]
	assert.Equal(t, int64(2), stats.TotalCalls)
	assert.Equal(t, int64(1), stats.SuccessfulCalls)
	assert.Equal(t, int64(1), stats.FailedCalls)
	assert.Equal(t, 0.5, stats.SuccessRate())
	assert.Equal(t, 15*time.Millisecond, stats.AvgDuration())
}

func TestRecordBlockProcessedAndSkipped(t *testing.T) {
	m := NewInMemory()
	m.RecordBlockProcessed(100, 3, 50*time.Millisecond)
	m.RecordBlockProcessed(101, 0, 10*time.Millisecond)
	m.RecordBlockSkipped(102)

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.BlocksProcessed)
	assert.Equal(t, int64(1), snap.BlocksSkipped)
	assert.Equal(t, int64(3), snap.MessagesEmitted)
}

func TestMethodStatsSuccessRateWithNoCalls(t *testing.T) {
	var s MethodStats
	assert.Equal(t, 1.0, s.SuccessRate())
	assert.Equal(t, time.Duration(0), s.AvgDuration())
}
