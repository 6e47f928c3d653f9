package broker_test

import (
	"testing"

	"github.com/architeacher/amqp-broker/pkg/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNopStoreIsEntirelyInert(t *testing.T) {
	t.Parallel()

	var s broker.NopStore

	assert.NoError(t, s.RecordMessage("q", &broker.Message{}))
	assert.NoError(t, s.RemoveMessage("q", "id"))
	assert.NoError(t, s.SnapshotExchanges(nil))
	assert.NoError(t, s.SnapshotQueues(nil))
	assert.NoError(t, s.SnapshotBindings(nil))
	assert.NoError(t, s.Close())
}

func TestNopStoreRecoverReturnsDefaultExchanges(t *testing.T) {
	t.Parallel()

	var s broker.NopStore

	state, err := s.Recover()
	require.NoError(t, err)
	assert.Empty(t, state.Queues)
	assert.Empty(t, state.Bindings)

	for _, name := range []string{"", "amq.direct", "amq.fanout", "amq.topic", "amq.headers"} {
		assert.Contains(t, state.Exchanges, name)
		assert.True(t, state.Exchanges[name].Durable)
	}
}
