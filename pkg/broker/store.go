package broker

// Store is the persistence seam: the broker calls it on every durable
// mutation and during startup recovery. pkg/broker/persistence provides
// the append-log-plus-snapshot implementation; NopStore is the default
// for an in-memory broker (spec.md §7 "Non-goals" permits running
// without persistence enabled).
type Store interface {
	// RecordMessage durably appends a persisted message to the named
	// queue's log before the broker acknowledges the publish upstream.
	RecordMessage(queue string, msg *Message) error

	// RemoveMessage marks a previously recorded message as consumed
	// (acked) so compaction can drop it.
	RemoveMessage(queue string, messageID string) error

	// SnapshotExchanges, SnapshotQueues, SnapshotBindings persist the
	// current entity graph so recovery does not need to replay the
	// entire message log to rebuild topology.
	SnapshotExchanges(exchanges map[string]*Exchange) error
	SnapshotQueues(queues map[string]*Queue) error
	SnapshotBindings(bindings []Binding) error

	// Recover replays snapshots and the message log in the order
	// required by spec.md §7 ("Recovery order") and returns the
	// reconstructed entity graph.
	Recover() (*RecoveredState, error)

	// Close flushes and releases any underlying file handles.
	Close() error
}

// RecoveredState is what Store.Recover hands back to the broker at
// startup so it can repopulate its in-memory tables.
type RecoveredState struct {
	Exchanges map[string]*Exchange
	Queues    map[string]*Queue
	Bindings  []Binding
}

// NopStore performs no persistence at all: RecordMessage/RemoveMessage
// are no-ops, snapshots are discarded, and Recover returns only the
// five default exchanges, with no queues or bindings. This is the
// default Store when WithStore isn't used.
type NopStore struct{}

func (NopStore) RecordMessage(string, *Message) error         { return nil }
func (NopStore) RemoveMessage(string, string) error           { return nil }
func (NopStore) SnapshotExchanges(map[string]*Exchange) error { return nil }
func (NopStore) SnapshotQueues(map[string]*Queue) error       { return nil }
func (NopStore) SnapshotBindings([]Binding) error              { return nil }
func (NopStore) Recover() (*RecoveredState, error) {
	exchanges := map[string]*Exchange{
		"":           {Name: "", Type: ExchangeDirect, Durable: true, IsDefault: true},
		"amq.direct":  {Name: "amq.direct", Type: ExchangeDirect, Durable: true, IsDefault: true},
		"amq.fanout":  {Name: "amq.fanout", Type: ExchangeFanout, Durable: true, IsDefault: true},
		"amq.topic":   {Name: "amq.topic", Type: ExchangeTopic, Durable: true, IsDefault: true},
		"amq.headers": {Name: "amq.headers", Type: ExchangeHeaders, Durable: true, IsDefault: true},
	}

	return &RecoveredState{Exchanges: exchanges, Queues: map[string]*Queue{}}, nil
}
func (NopStore) Close() error { return nil }
