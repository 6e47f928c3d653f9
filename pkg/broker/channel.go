package broker

import "time"

type channelState int

const (
	channelOpen channelState = iota
	channelClosing
	channelClosed
)

// qos holds a channel's prefetch settings (spec.md §3).
type qos struct {
	PrefetchSize  uint32
	PrefetchCount uint16
	Global        bool
}

// pendingPublish is the channel's "pending message" slot used while
// assembling a Basic.Publish across method + header + body frames
// (spec.md §4.2 "Multi-frame message assembly").
type pendingPublish struct {
	Exchange   string
	RoutingKey string
	Mandatory  bool
	Immediate  bool

	headerSeen bool
	bodySize   uint64
	properties Properties
	content    []byte
}

// Channel is a logical session multiplexed on a connection. Every
// method on Channel assumes the owning Broker's lock is already held by
// the caller — see broker.go's dispatch methods, which are the only
// callers.
type Channel struct {
	Number uint16
	connID string
	conn   *Connection

	state      channelState
	flowActive bool
	qos        qos

	deliveryTagCounter uint64
	unackedOrder       []uint64
	unacked            map[uint64]*UnackedEntry

	pending *pendingPublish
}

func newChannel(conn *Connection, number uint16) *Channel {
	return &Channel{
		Number:     number,
		connID:     conn.ID,
		conn:       conn,
		state:      channelOpen,
		flowActive: true,
		unacked:    make(map[uint64]*UnackedEntry),
	}
}

func (ch *Channel) key() connKey {
	return connKey{ConnID: ch.connID, Channel: ch.Number}
}

func (ch *Channel) unackedCount() int {
	return len(ch.unacked)
}

// canDispatch reports whether this channel may currently receive a
// delivery, per spec.md §4.4's three conditions: the channel is open,
// flow is active, and the unacked count is below a non-zero prefetch
// limit. All three are checked here.
func (ch *Channel) canDispatch() bool {
	if ch.state != channelOpen || !ch.flowActive {
		return false
	}
	if ch.qos.PrefetchCount == 0 {
		return true
	}

	return uint16(ch.unackedCount()) < ch.qos.PrefetchCount
}

func (ch *Channel) nextDeliveryTag() uint64 {
	ch.deliveryTagCounter++
	return ch.deliveryTagCounter
}

func (ch *Channel) addUnacked(tag uint64, entry *UnackedEntry) {
	ch.unacked[tag] = entry
	ch.unackedOrder = append(ch.unackedOrder, tag)
}

// removeUnacked deletes a single unacked entry and returns it.
func (ch *Channel) removeUnacked(tag uint64) (*UnackedEntry, bool) {
	e, ok := ch.unacked[tag]
	if !ok {
		return nil, false
	}
	delete(ch.unacked, tag)
	for i, t := range ch.unackedOrder {
		if t == tag {
			ch.unackedOrder = append(ch.unackedOrder[:i], ch.unackedOrder[i+1:]...)
			break
		}
	}

	return e, true
}

// removeUnackedUpTo removes every unacked entry with tag <= upTo,
// implementing Basic.Ack/Nack's multiple=true semantics, and returns
// them in delivery (ascending tag) order.
func (ch *Channel) removeUnackedUpTo(upTo uint64) []*UnackedEntry {
	var out []*UnackedEntry
	var remaining []uint64

	for _, tag := range ch.unackedOrder {
		if tag <= upTo {
			out = append(out, ch.unacked[tag])
			delete(ch.unacked, tag)
		} else {
			remaining = append(remaining, tag)
		}
	}
	ch.unackedOrder = remaining

	return out
}

// drainAllUnacked removes and returns every unacked entry, in delivery
// order, used by Channel.Close/connection loss and Basic.Recover
// (spec.md §4.4, §4.2).
func (ch *Channel) drainAllUnacked() []*UnackedEntry {
	out := make([]*UnackedEntry, 0, len(ch.unackedOrder))
	for _, tag := range ch.unackedOrder {
		out = append(out, ch.unacked[tag])
	}
	ch.unacked = make(map[uint64]*UnackedEntry)
	ch.unackedOrder = nil

	return out
}

func newUnackedEntry(tag uint64, msg *Message, queue, consumerTag string) *UnackedEntry {
	return &UnackedEntry{
		DeliveryTag: tag,
		Message:     msg,
		QueueName:   queue,
		ConsumerTag: consumerTag,
		DeliveredAt: time.Now(),
	}
}
