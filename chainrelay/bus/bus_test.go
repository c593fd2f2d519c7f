package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/whiteflag/relay/chainrelay/chainstate"
)

func TestRecorderPreservesEmissionOrder(t *testing.T) {
	rec := NewRecorder()

	MessageReceived(rec, chainstate.WfMessage{MetaHeader: chainstate.MetaHeader{BlockNumber: 1, TransactionHash: "tx1"}})
	MessageReceived(rec, chainstate.WfMessage{MetaHeader: chainstate.MetaHeader{BlockNumber: 1, TransactionHash: "tx2"}})
	MessageReceived(rec, chainstate.WfMessage{MetaHeader: chainstate.MetaHeader{BlockNumber: 2, TransactionHash: "tx3"}})

	msgs := rec.Messages()
	assert.Len(t, msgs, 3)
	assert.Equal(t, "tx1", msgs[0].MetaHeader.TransactionHash)
	assert.Equal(t, "tx2", msgs[1].MetaHeader.TransactionHash)
	assert.Equal(t, "tx3", msgs[2].MetaHeader.TransactionHash)
}

func TestRecorderIgnoresOtherEventsInMessages(t *testing.T) {
	rec := NewRecorder()
	rec.Emit("somethingElse", "payload")
	assert.Empty(t, rec.Messages())
	assert.Len(t, rec.Events, 1)
}
