package broker_test

import (
	"testing"
	"time"

	"github.com/architeacher/amqp-broker/pkg/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusPublishSubscribe(t *testing.T) {
	t.Parallel()

	bus := broker.NewEventBus()
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	bus.Publish(broker.EventMessagePublished, "msg-1")

	select {
	case ev := <-ch:
		assert.Equal(t, broker.EventMessagePublished, ev.Kind)
		assert.Equal(t, "msg-1", ev.Data)
	case <-time.After(time.Second):
		t.Fatal("expected event was not received")
	}
}

func TestEventBusUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	bus := broker.NewEventBus()
	ch, unsubscribe := bus.Subscribe()
	unsubscribe()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestEventBusDoesNotBlockOnFullSubscriber(t *testing.T) {
	t.Parallel()

	bus := broker.NewEventBus()
	_, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish(broker.EventMessagePublished, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber mailbox")
	}
}

func TestEventBusMultipleSubscribersEachReceive(t *testing.T) {
	t.Parallel()

	bus := broker.NewEventBus()
	ch1, unsub1 := bus.Subscribe()
	ch2, unsub2 := bus.Subscribe()
	defer unsub1()
	defer unsub2()

	bus.Publish(broker.EventQueueCreated, "q1")

	for _, ch := range []<-chan broker.Event{ch1, ch2} {
		select {
		case ev := <-ch:
			require.Equal(t, broker.EventQueueCreated, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}
