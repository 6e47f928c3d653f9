package broker

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChannel(t *testing.T) *Channel {
	t.Helper()

	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})

	conn := newConnection(nil, server)
	return newChannel(conn, 1)
}

func TestChannelCanDispatchNoQos(t *testing.T) {
	t.Parallel()

	ch := newTestChannel(t)
	assert.True(t, ch.canDispatch())
}

func TestChannelCanDispatchRespectsPrefetch(t *testing.T) {
	t.Parallel()

	ch := newTestChannel(t)
	ch.qos = qos{PrefetchCount: 2}

	assert.True(t, ch.canDispatch())
	ch.addUnacked(ch.nextDeliveryTag(), newUnackedEntry(1, &Message{ID: "m1"}, "q", "ctag"))
	assert.True(t, ch.canDispatch())
	ch.addUnacked(ch.nextDeliveryTag(), newUnackedEntry(2, &Message{ID: "m2"}, "q", "ctag"))
	assert.False(t, ch.canDispatch())
}

func TestChannelCanDispatchClosedOrFlowStopped(t *testing.T) {
	t.Parallel()

	ch := newTestChannel(t)
	ch.state = channelClosing
	assert.False(t, ch.canDispatch())

	ch.state = channelOpen
	ch.flowActive = false
	assert.False(t, ch.canDispatch())
}

func TestChannelNextDeliveryTagIncrements(t *testing.T) {
	t.Parallel()

	ch := newTestChannel(t)
	assert.Equal(t, uint64(1), ch.nextDeliveryTag())
	assert.Equal(t, uint64(2), ch.nextDeliveryTag())
	assert.Equal(t, uint64(3), ch.nextDeliveryTag())
}

func TestChannelRemoveUnackedSingle(t *testing.T) {
	t.Parallel()

	ch := newTestChannel(t)
	ch.addUnacked(1, newUnackedEntry(1, &Message{ID: "m1"}, "q", "ctag"))
	ch.addUnacked(2, newUnackedEntry(2, &Message{ID: "m2"}, "q", "ctag"))

	e, ok := ch.removeUnacked(1)
	require.True(t, ok)
	assert.Equal(t, "m1", e.Message.ID)
	assert.Equal(t, 1, ch.unackedCount())

	_, ok = ch.removeUnacked(1)
	assert.False(t, ok)
}

func TestChannelRemoveUnackedUpToMultiple(t *testing.T) {
	t.Parallel()

	ch := newTestChannel(t)
	ch.addUnacked(1, newUnackedEntry(1, &Message{ID: "m1"}, "q", "ctag"))
	ch.addUnacked(2, newUnackedEntry(2, &Message{ID: "m2"}, "q", "ctag"))
	ch.addUnacked(3, newUnackedEntry(3, &Message{ID: "m3"}, "q", "ctag"))

	entries := ch.removeUnackedUpTo(2)
	require.Len(t, entries, 2)
	assert.Equal(t, "m1", entries[0].Message.ID)
	assert.Equal(t, "m2", entries[1].Message.ID)
	assert.Equal(t, 1, ch.unackedCount())

	_, ok := ch.removeUnacked(3)
	assert.True(t, ok)
}

func TestChannelDrainAllUnacked(t *testing.T) {
	t.Parallel()

	ch := newTestChannel(t)
	ch.addUnacked(1, newUnackedEntry(1, &Message{ID: "m1"}, "q", "ctag"))
	ch.addUnacked(2, newUnackedEntry(2, &Message{ID: "m2"}, "q", "ctag"))

	entries := ch.drainAllUnacked()
	assert.Len(t, entries, 2)
	assert.Equal(t, 0, ch.unackedCount())
	assert.Empty(t, ch.drainAllUnacked())
}
