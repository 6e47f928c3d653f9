package broker

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBrokerConn(t *testing.T) (*Broker, *Connection) {
	t.Helper()

	b := New(Config{})
	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})

	return b, newConnection(b, server)
}

// TestCompletePublishOnlyRoutesWithinSourceExchange guards against
// route() (or its caller) matching bindings that belong to a different
// exchange than the one being published to.
func TestCompletePublishOnlyRoutesWithinSourceExchange(t *testing.T) {
	t.Parallel()

	b, conn := newTestBrokerConn(t)
	ch := newChannel(conn, 1)

	b.mu.Lock()
	require.Nil(t, b.exchangeDeclareLocked(exchangeDeclare{Exchange: "orders", Type: string(ExchangeDirect)}))
	require.Nil(t, b.exchangeDeclareLocked(exchangeDeclare{Exchange: "events", Type: string(ExchangeDirect)}))
	_, aerr := b.queueDeclareLocked(conn, queueDeclare{Queue: "orders-q"})
	require.Nil(t, aerr)
	_, aerr = b.queueDeclareLocked(conn, queueDeclare{Queue: "events-q"})
	require.Nil(t, aerr)
	require.Nil(t, b.queueBindLocked(queueBind{Queue: "orders-q", Exchange: "orders", RoutingKey: "rk"}))
	require.Nil(t, b.queueBindLocked(queueBind{Queue: "events-q", Exchange: "events", RoutingKey: "rk"}))

	ch.pending = &pendingPublish{Exchange: "orders", RoutingKey: "rk"}
	b.completePublish(conn, ch)
	b.mu.Unlock()

	assert.Len(t, b.queues["orders-q"].Messages, 1)
	assert.Empty(t, b.queues["events-q"].Messages)
}

// TestQueueDeclareCreatesImplicitDefaultBinding guards the default
// exchange loopback: declaring a queue must bind it to the default
// exchange under its own name without an explicit Queue.Bind.
func TestQueueDeclareCreatesImplicitDefaultBinding(t *testing.T) {
	t.Parallel()

	b, conn := newTestBrokerConn(t)
	ch := newChannel(conn, 1)

	b.mu.Lock()
	_, aerr := b.queueDeclareLocked(conn, queueDeclare{Queue: "orders-q"})
	require.Nil(t, aerr)

	ch.pending = &pendingPublish{Exchange: "", RoutingKey: "orders-q"}
	b.completePublish(conn, ch)
	b.mu.Unlock()

	require.Len(t, b.queues["orders-q"].Messages, 1)
}

// TestCompletePublishImmediateWithoutMandatoryIsSilentlyDropped
// guards spec.md §4.3: immediate is a wire-accepted no-op, only
// mandatory triggers Basic.Return on an unroutable publish.
func TestCompletePublishImmediateWithoutMandatoryIsSilentlyDropped(t *testing.T) {
	t.Parallel()

	b, conn := newTestBrokerConn(t)
	ch := newChannel(conn, 1)

	b.mu.Lock()
	defer b.mu.Unlock()

	ch.pending = &pendingPublish{Exchange: "", RoutingKey: "no-such-queue", Mandatory: false, Immediate: true}

	// Mandatory is false, so completePublish must return without ever
	// writing a Basic.Return — if it tried, this call would deadlock on
	// the unbuffered net.Pipe with nothing reading the other end.
	b.completePublish(conn, ch)
}

func TestQueueBindRejectsDefaultExchange(t *testing.T) {
	t.Parallel()

	b, conn := newTestBrokerConn(t)

	b.mu.Lock()
	_, aerr := b.queueDeclareLocked(conn, queueDeclare{Queue: "q"})
	require.Nil(t, aerr)
	err := b.queueBindLocked(queueBind{Queue: "q", Exchange: "", RoutingKey: "rk"})
	b.mu.Unlock()

	require.NotNil(t, err)
	assert.Equal(t, uint16(ReplyAccessRefused), err.ReplyCode)
}

func TestExchangeDeclareRejectsReservedPrefix(t *testing.T) {
	t.Parallel()

	b, _ := newTestBrokerConn(t)

	b.mu.Lock()
	err := b.exchangeDeclareLocked(exchangeDeclare{Exchange: "amq.custom", Type: string(ExchangeDirect)})
	b.mu.Unlock()

	require.NotNil(t, err)
	assert.Equal(t, uint16(ReplyAccessRefused), err.ReplyCode)
}

func TestExchangeDeleteRejectsDefaultExchange(t *testing.T) {
	t.Parallel()

	b, _ := newTestBrokerConn(t)

	b.mu.Lock()
	err := b.exchangeDeleteLocked(exchangeDelete{Exchange: ""})
	b.mu.Unlock()

	require.NotNil(t, err)
	assert.Equal(t, uint16(ReplyAccessRefused), err.ReplyCode)
}
