package broker

import (
	"time"

	"github.com/google/uuid"
)

// ExchangeType is a closed sum over the exchange kinds this broker
// understands. Headers exchanges are accepted on declare but never
// match (spec.md §4.3).
type ExchangeType string

const (
	ExchangeDirect  ExchangeType = "direct"
	ExchangeFanout  ExchangeType = "fanout"
	ExchangeTopic   ExchangeType = "topic"
	ExchangeHeaders ExchangeType = "headers"
)

// Exchange is a routing endpoint; see spec.md §3.
type Exchange struct {
	Name       string
	Type       ExchangeType
	Durable    bool
	AutoDelete bool
	Internal   bool
	Arguments  Table
	IsDefault  bool
}

// Queue is an ordered message buffer with consumers; see spec.md §3.
type Queue struct {
	Name                  string
	Durable               bool
	Exclusive             bool
	AutoDelete            bool
	Arguments             Table
	ExclusiveConnectionID string

	Messages        []*Message
	ConsumerTags    []string // insertion order, for round-robin fairness
	everHadConsumer bool
}

// Binding connects an exchange to a queue with a routing key/pattern;
// see spec.md §3.
type Binding struct {
	Source      string
	Destination string
	RoutingKey  string
	Arguments   Table
}

func (b Binding) key() string {
	return b.Source + "\x00" + b.Destination + "\x00" + b.RoutingKey
}

// Consumer is a durable subscription on a queue, owned by a channel;
// see spec.md §3.
type Consumer struct {
	Tag        string
	QueueName  string
	ChannelKey connKey
	NoLocal    bool
	NoAck      bool
	Exclusive  bool
	Arguments  Table
}

// connKey identifies a channel by (connectionID, channelNumber) so the
// broker's entity tables can cross-reference channels by value instead
// of holding pointers back into connection state (spec.md §9, "Cyclic
// entity references").
type connKey struct {
	ConnID  string
	Channel uint16
}

// Message is a single published message; see spec.md §3.
type Message struct {
	ID         string
	Exchange   string
	RoutingKey string
	Mandatory  bool
	Immediate  bool
	Properties Properties
	Content    []byte
	Timestamp  time.Time

	Redelivered bool
}

// NewMessage builds a Message, defaulting ID to properties.messageId
// when present, otherwise a fresh uuid (spec.md §3).
func NewMessage(exchange, routingKey string, mandatory, immediate bool, props Properties, content []byte) *Message {
	id := uuid.NewString()
	if props.HasMessageID() && props.MessageID != "" {
		id = props.MessageID
	}

	return &Message{
		ID:         id,
		Exchange:   exchange,
		RoutingKey: routingKey,
		Mandatory:  mandatory,
		Immediate:  immediate,
		Properties: props,
		Content:    content,
		Timestamp:  time.Now(),
	}
}

// IsPersistent reports whether this message was published with
// deliveryMode 2; the queue's durability is checked separately by the
// caller (spec.md §4.5).
func (m *Message) IsPersistent() bool {
	return m.Properties.hasDeliveryMode && m.Properties.DeliveryMode == 2
}

// UnackedEntry tracks a delivered-but-not-yet-acknowledged message on a
// channel; see spec.md §3.
type UnackedEntry struct {
	DeliveryTag uint64
	Message     *Message
	QueueName   string
	ConsumerTag string
	DeliveredAt time.Time
}
