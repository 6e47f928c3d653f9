package broker

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Broker owns the entire entity graph — exchanges, queues, bindings,
// consumers, and the connections/channels that reference them — behind
// a single coarse lock. spec.md §5 sanctions either a command-queue
// actor or a coarse broker-wide mutex; this implementation takes the
// mutex, since its correctness is far easier to reason about without
// being able to compile or run the code.
type Broker struct {
	cfg Config

	logger              Logger
	metrics             Metrics
	store               Store
	credentialValidator CredentialValidator
	eventBus            *EventBus
	admitter            func(net.Conn) bool

	mu               sync.Mutex
	exchanges        map[string]*Exchange
	queues           map[string]*Queue
	bindings         []Binding
	consumers        map[consumerKey]*Consumer
	consumersByQueue map[string][]consumerKey
	dispatchCursor   map[string]int
	connections      map[string]*Connection

	listener  net.Listener
	wg        sync.WaitGroup
	stopOnce  sync.Once
	stopped   chan struct{}
}

type consumerKey struct {
	Ch  connKey
	Tag string
}

// New constructs a Broker. It does not start listening; call Start.
func New(cfg Config, opts ...BrokerOption) *Broker {
	o := defaultBrokerOptions()
	for _, opt := range opts {
		opt(&o)
	}

	b := &Broker{
		cfg:                 cfg.withDefaults(),
		logger:               o.logger,
		metrics:               o.metrics,
		store:                 o.store,
		credentialValidator:   o.validator,
		eventBus:              o.eventBus,
		admitter:              o.admitter,
		exchanges:             make(map[string]*Exchange),
		queues:                make(map[string]*Queue),
		consumers:             make(map[consumerKey]*Consumer),
		consumersByQueue:      make(map[string][]consumerKey),
		dispatchCursor:        make(map[string]int),
		connections:           make(map[string]*Connection),
		stopped:               make(chan struct{}),
	}

	b.exchanges[""] = &Exchange{Name: "", Type: ExchangeDirect, Durable: true, IsDefault: true}

	return b
}

// ListenAddr returns the configured listen address, useful for logging
// before Start has bound the socket.
func (b *Broker) ListenAddr() string {
	return b.cfg.ListenAddr
}

// Start recovers persisted state (if a Store is configured), binds the
// listener, and begins accepting connections. It returns once the
// listener is up; serving happens on background goroutines.
func (b *Broker) Start(ctx context.Context) error {
	if err := b.recover(); err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	ln, err := net.Listen("tcp", b.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	b.listener = ln

	b.logger.Info().Str("addr", ln.Addr().String()).Msg("broker listening")
	b.eventBus.Publish(EventBrokerStarted, ln.Addr().String())

	b.wg.Add(1)
	go b.acceptLoop(ctx)

	return nil
}

func (b *Broker) acceptLoop(ctx context.Context) {
	defer b.wg.Done()

	for {
		conn, err := b.listener.Accept()
		if err != nil {
			select {
			case <-b.stopped:
				return
			default:
				b.logger.Warn().Err(err).Msg("accept failed")
				b.eventBus.Publish(EventBrokerError, err.Error())
				return
			}
		}

		if b.admitter != nil && !b.admitter(conn) {
			b.logger.Warn().Str("remote", conn.RemoteAddr().String()).Msg("connection rejected by admission control")
			_ = conn.Close()

			continue
		}

		c := newConnection(b, conn)
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			c.serve()
		}()
	}
}

// Stop closes the listener and every open connection, then waits for
// their goroutines to exit or ctx to be cancelled.
func (b *Broker) Stop(ctx context.Context) error {
	b.stopOnce.Do(func() {
		close(b.stopped)
		if b.listener != nil {
			_ = b.listener.Close()
		}

		b.mu.Lock()
		conns := make([]*Connection, 0, len(b.connections))
		for _, c := range b.connections {
			conns = append(conns, c)
		}
		b.mu.Unlock()

		for _, c := range conns {
			c.writeMethod(0, ClassConnection, MethodConnectionClose, encodeConnectionClose(ReplyConnectionForced, "broker shutting down", 0, 0))
			_ = c.conn.Close()
		}
	})

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	err := b.store.Close()
	b.eventBus.Publish(EventBrokerStopped, nil)

	return err
}

func (b *Broker) recover() error {
	state, err := b.store.Recover()
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for name, ex := range state.Exchanges {
		b.exchanges[name] = ex
	}
	for name, q := range state.Queues {
		b.queues[name] = q
	}
	b.bindings = append(b.bindings, state.Bindings...)

	return nil
}

// --- Connection/channel lifecycle hooks, called from connection.go ---

func (b *Broker) onConnectionOpen(c *Connection) {
	b.mu.Lock()
	b.connections[c.ID] = c
	b.mu.Unlock()

	b.metrics.IncConnectionsOpened()
	b.eventBus.Publish(EventConnectionOpen, c.ID)
}

func (b *Broker) onConnectionClose(c *Connection) {
	b.mu.Lock()
	for _, ch := range c.channels {
		b.teardownChannelLocked(c, ch)
	}
	delete(b.connections, c.ID)
	b.releaseExclusiveQueuesLocked(c.ID)
	b.mu.Unlock()

	b.metrics.IncConnectionsClosed()
	b.eventBus.Publish(EventConnectionClose, c.ID)
}

func (b *Broker) onChannelOpen(c *Connection, ch *Channel) {
	b.metrics.IncChannelsOpened()
	b.eventBus.Publish(EventChannelOpen, ch.key())
}

// teardownChannelLocked cancels the channel's consumers and requeues
// its unacked messages to the head of their queues (spec.md §4.4,
// "Unacked message disposition on channel or connection loss"). Caller
// must hold b.mu.
func (b *Broker) teardownChannelLocked(c *Connection, ch *Channel) {
	key := ch.key()

	for ck, cons := range b.consumers {
		if ck.Ch == key {
			b.removeConsumerLocked(ck, cons)
		}
	}

	for _, entry := range ch.drainAllUnacked() {
		b.requeueToHeadLocked(entry.QueueName, entry.Message)
	}

	b.metrics.IncChannelsClosed()
	b.eventBus.Publish(EventChannelClose, key)
}

func (b *Broker) releaseExclusiveQueuesLocked(connID string) {
	for name, q := range b.queues {
		if q.Exclusive && q.ExclusiveConnectionID == connID {
			delete(b.queues, name)
			b.removeBindingsForQueueLocked(name)
			b.eventBus.Publish(EventQueueDeleted, name)
		}
	}
}

func (b *Broker) forceCloseChannel(conn *Connection, ch *Channel, err *AMQPError) {
	b.mu.Lock()
	b.teardownChannelLocked(conn, ch)
	b.mu.Unlock()

	conn.writeMethod(ch.Number, ClassChannel, MethodChannelClose, encodeChannelClose(err.ReplyCode, err.ReplyText, err.ClassID, err.MethodID))
	conn.closeChannel(ch.Number)
}

func (b *Broker) closeChannelLocked(conn *Connection, ch *Channel, err *AMQPError) {
	b.teardownChannelLocked(conn, ch)
	conn.writeMethod(ch.Number, ClassChannel, MethodChannelClose, encodeChannelClose(err.ReplyCode, err.ReplyText, err.ClassID, err.MethodID))
	conn.closeChannel(ch.Number)
}

// --- Method dispatch ---

func (b *Broker) dispatchChannelMethod(conn *Connection, ch *Channel, classID, methodID uint16, args []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	var amqpErr *AMQPError

	switch classID {
	case ClassChannel:
		amqpErr = b.handleChannelMethod(conn, ch, methodID, args)
	case ClassExchange:
		amqpErr = b.handleExchangeMethod(conn, ch, methodID, args)
	case ClassQueue:
		amqpErr = b.handleQueueMethod(conn, ch, methodID, args)
	case ClassBasic:
		amqpErr = b.handleBasicMethod(conn, ch, methodID, args)
	default:
		amqpErr = NewCommandInvalid(classID, methodID, "unknown class")
	}

	if amqpErr == nil {
		return false
	}
	if amqpErr.Scope == ScopeConnection {
		conn.closeWithError(amqpErr)
		return true
	}

	b.closeChannelLocked(conn, ch, amqpErr)

	return false
}

func (b *Broker) handleChannelMethod(conn *Connection, ch *Channel, methodID uint16, args []byte) *AMQPError {
	switch methodID {
	case MethodChannelFlow:
		active, err := decodeChannelFlow(args)
		if err != nil {
			return err.(*AMQPError)
		}
		ch.flowActive = active
		conn.writeMethod(ch.Number, ClassChannel, MethodChannelFlowOk, encodeChannelFlowOk(active))
		b.eventBus.Publish(EventChannelFlow, struct {
			Key    connKey
			Active bool
		}{ch.key(), active})

		return nil
	case MethodChannelClose:
		cc, derr := decodeChannelClose(args)
		if derr != nil {
			return derr.(*AMQPError)
		}
		b.logger.Info().Str("conn", conn.ID).Uint16("reply_code", cc.ReplyCode).Msg("client closed channel")
		b.teardownChannelLocked(conn, ch)
		conn.writeMethod(ch.Number, ClassChannel, MethodChannelCloseOk, nil)
		conn.closeChannel(ch.Number)

		return nil
	case MethodChannelCloseOk:
		return nil
	default:
		return NewCommandInvalid(ClassChannel, methodID, "unexpected channel method")
	}
}

func (b *Broker) handleExchangeMethod(conn *Connection, ch *Channel, methodID uint16, args []byte) *AMQPError {
	switch methodID {
	case MethodExchangeDeclare:
		d, err := decodeExchangeDeclare(args)
		if err != nil {
			return err.(*AMQPError)
		}

		if amqpErr := b.exchangeDeclareLocked(d); amqpErr != nil {
			return amqpErr
		}
		if !d.NoWait {
			conn.writeMethod(ch.Number, ClassExchange, MethodExchangeDeclareOk, nil)
		}

		return nil
	case MethodExchangeDelete:
		d, err := decodeExchangeDelete(args)
		if err != nil {
			return err.(*AMQPError)
		}
		if amqpErr := b.exchangeDeleteLocked(d); amqpErr != nil {
			return amqpErr
		}
		if !d.NoWait {
			conn.writeMethod(ch.Number, ClassExchange, MethodExchangeDeleteOk, nil)
		}

		return nil
	default:
		return NewCommandInvalid(ClassExchange, methodID, "unexpected exchange method")
	}
}

func (b *Broker) exchangeDeclareLocked(d exchangeDeclare) *AMQPError {
	if existing, ok := b.exchanges[d.Exchange]; ok {
		if d.Passive {
			return nil
		}
		if existing.Type != ExchangeType(d.Type) || existing.Durable != d.Durable || existing.AutoDelete != d.AutoDelete {
			return NewPreconditionFailed(ClassExchange, MethodExchangeDeclare, "exchange declared with different parameters")
		}

		return nil
	}
	if d.Passive {
		return NewNotFound(ClassExchange, MethodExchangeDeclare, fmt.Sprintf("exchange %q not found", d.Exchange))
	}

	if strings.HasPrefix(d.Exchange, "amq.") {
		return NewAccessRefused(ScopeChannel, ClassExchange, MethodExchangeDeclare, fmt.Sprintf("exchange name %q uses the reserved amq.* prefix", d.Exchange))
	}

	switch ExchangeType(d.Type) {
	case ExchangeDirect, ExchangeFanout, ExchangeTopic, ExchangeHeaders:
	default:
		return NewCommandInvalid(ClassExchange, MethodExchangeDeclare, fmt.Sprintf("unknown exchange type %q", d.Type))
	}

	b.exchanges[d.Exchange] = &Exchange{
		Name:       d.Exchange,
		Type:       ExchangeType(d.Type),
		Durable:    d.Durable,
		AutoDelete: d.AutoDelete,
		Internal:   d.Internal,
		Arguments:  d.Arguments,
	}
	b.eventBus.Publish(EventExchangeCreated, d.Exchange)
	if err := b.store.SnapshotExchanges(b.exchanges); err != nil {
		b.logger.Warn().Err(err).Msg("snapshot exchanges failed")
	}

	return nil
}

func (b *Broker) exchangeDeleteLocked(d exchangeDelete) *AMQPError {
	ex, ok := b.exchanges[d.Exchange]
	if !ok {
		return NewNotFound(ClassExchange, MethodExchangeDelete, fmt.Sprintf("exchange %q not found", d.Exchange))
	}
	if ex.IsDefault {
		return NewAccessRefused(ScopeChannel, ClassExchange, MethodExchangeDelete, fmt.Sprintf("exchange %q is a default exchange and cannot be deleted", d.Exchange))
	}

	if d.IfUnused {
		for _, bind := range b.bindings {
			if bind.Source == d.Exchange {
				return NewPreconditionFailed(ClassExchange, MethodExchangeDelete, "exchange in use")
			}
		}
	}

	delete(b.exchanges, d.Exchange)
	b.removeBindingsForExchangeLocked(d.Exchange)
	b.eventBus.Publish(EventExchangeDeleted, d.Exchange)
	_ = b.store.SnapshotExchanges(b.exchanges)

	return nil
}

func (b *Broker) handleQueueMethod(conn *Connection, ch *Channel, methodID uint16, args []byte) *AMQPError {
	switch methodID {
	case MethodQueueDeclare:
		d, err := decodeQueueDeclare(args)
		if err != nil {
			return err.(*AMQPError)
		}
		q, amqpErr := b.queueDeclareLocked(conn, d)
		if amqpErr != nil {
			return amqpErr
		}
		if !d.NoWait {
			conn.writeMethod(ch.Number, ClassQueue, MethodQueueDeclareOk, encodeQueueDeclareOk(q.Name, uint32(len(q.Messages)), uint32(len(q.ConsumerTags))))
		}

		return nil
	case MethodQueueBind:
		d, err := decodeQueueBind(args)
		if err != nil {
			return err.(*AMQPError)
		}
		if amqpErr := b.queueBindLocked(d); amqpErr != nil {
			return amqpErr
		}
		if !d.NoWait {
			conn.writeMethod(ch.Number, ClassQueue, MethodQueueBindOk, nil)
		}

		return nil
	case MethodQueueUnbind:
		d, err := decodeQueueUnbind(args)
		if err != nil {
			return err.(*AMQPError)
		}
		b.removeBindingLocked(d.Exchange, d.Queue, d.RoutingKey)
		conn.writeMethod(ch.Number, ClassQueue, MethodQueueUnbindOk, nil)

		return nil
	case MethodQueuePurge:
		d, err := decodeQueuePurge(args)
		if err != nil {
			return err.(*AMQPError)
		}
		n, amqpErr := b.queuePurgeLocked(d.Queue)
		if amqpErr != nil {
			return amqpErr
		}
		if !d.NoWait {
			conn.writeMethod(ch.Number, ClassQueue, MethodQueuePurgeOk, encodeQueuePurgeOk(n))
		}

		return nil
	case MethodQueueDelete:
		d, err := decodeQueueDelete(args)
		if err != nil {
			return err.(*AMQPError)
		}
		n, amqpErr := b.queueDeleteLocked(d)
		if amqpErr != nil {
			return amqpErr
		}
		if !d.NoWait {
			conn.writeMethod(ch.Number, ClassQueue, MethodQueueDeleteOk, encodeQueueDeleteOk(n))
		}

		return nil
	default:
		return NewCommandInvalid(ClassQueue, methodID, "unexpected queue method")
	}
}

func (b *Broker) queueDeclareLocked(conn *Connection, d queueDeclare) (*Queue, *AMQPError) {
	name := d.Queue
	if name == "" {
		name = "amq.gen-" + uuid.NewString()
	}

	if existing, ok := b.queues[name]; ok {
		if d.Passive {
			return existing, nil
		}
		if existing.Durable != d.Durable || existing.Exclusive != d.Exclusive || existing.AutoDelete != d.AutoDelete {
			return nil, NewPreconditionFailed(ClassQueue, MethodQueueDeclare, "queue declared with different parameters")
		}
		if existing.Exclusive && existing.ExclusiveConnectionID != conn.ID {
			return nil, NewResourceLocked(ClassQueue, MethodQueueDeclare, "queue is exclusive to another connection")
		}

		return existing, nil
	}
	if d.Passive {
		return nil, NewNotFound(ClassQueue, MethodQueueDeclare, fmt.Sprintf("queue %q not found", name))
	}

	q := &Queue{
		Name:       name,
		Durable:    d.Durable,
		Exclusive:  d.Exclusive,
		AutoDelete: d.AutoDelete,
		Arguments:  d.Arguments,
	}
	if d.Exclusive {
		q.ExclusiveConnectionID = conn.ID
	}
	b.queues[name] = q
	b.eventBus.Publish(EventQueueCreated, name)
	_ = b.store.SnapshotQueues(b.queues)

	// spec.md §3: every queue declare implicitly binds the queue to the
	// default exchange under its own name, so publishing to exchange=""
	// with that routing key reaches it without an explicit Queue.Bind.
	defaultBind := Binding{Source: "", Destination: name, RoutingKey: name}
	bound := false
	for _, existing := range b.bindings {
		if existing.key() == defaultBind.key() {
			bound = true
			break
		}
	}
	if !bound {
		b.bindings = append(b.bindings, defaultBind)
		b.eventBus.Publish(EventBindingCreated, defaultBind)
		_ = b.store.SnapshotBindings(b.bindings)
	}

	return q, nil
}

func (b *Broker) queueBindLocked(d queueBind) *AMQPError {
	if d.Exchange == "" {
		return NewAccessRefused(ScopeChannel, ClassQueue, MethodQueueBind, "cannot bind to the default exchange")
	}
	if _, ok := b.queues[d.Queue]; !ok {
		return NewNotFound(ClassQueue, MethodQueueBind, fmt.Sprintf("queue %q not found", d.Queue))
	}
	if _, ok := b.exchanges[d.Exchange]; !ok {
		return NewNotFound(ClassQueue, MethodQueueBind, fmt.Sprintf("exchange %q not found", d.Exchange))
	}

	bind := Binding{Source: d.Exchange, Destination: d.Queue, RoutingKey: d.RoutingKey, Arguments: d.Arguments}
	for _, existing := range b.bindings {
		if existing.key() == bind.key() {
			return nil
		}
	}
	b.bindings = append(b.bindings, bind)
	b.eventBus.Publish(EventBindingCreated, bind)
	_ = b.store.SnapshotBindings(b.bindings)

	return nil
}

func (b *Broker) removeBindingLocked(exchange, queue, routingKey string) {
	target := Binding{Source: exchange, Destination: queue, RoutingKey: routingKey}.key()
	out := b.bindings[:0]
	for _, bind := range b.bindings {
		if bind.key() == target {
			b.eventBus.Publish(EventBindingDeleted, bind)
			continue
		}
		out = append(out, bind)
	}
	b.bindings = out
	_ = b.store.SnapshotBindings(b.bindings)
}

func (b *Broker) removeBindingsForQueueLocked(queue string) {
	out := b.bindings[:0]
	for _, bind := range b.bindings {
		if bind.Destination == queue {
			b.eventBus.Publish(EventBindingDeleted, bind)
			continue
		}
		out = append(out, bind)
	}
	b.bindings = out
}

func (b *Broker) removeBindingsForExchangeLocked(exchange string) {
	out := b.bindings[:0]
	for _, bind := range b.bindings {
		if bind.Source == exchange {
			b.eventBus.Publish(EventBindingDeleted, bind)
			continue
		}
		out = append(out, bind)
	}
	b.bindings = out
}

func (b *Broker) queuePurgeLocked(name string) (uint32, *AMQPError) {
	q, ok := b.queues[name]
	if !ok {
		return 0, NewNotFound(ClassQueue, MethodQueuePurge, fmt.Sprintf("queue %q not found", name))
	}

	n := uint32(len(q.Messages))
	q.Messages = nil
	b.eventBus.Publish(EventQueuePurged, name)

	return n, nil
}

func (b *Broker) queueDeleteLocked(d queueDelete) (uint32, *AMQPError) {
	q, ok := b.queues[d.Queue]
	if !ok {
		return 0, NewNotFound(ClassQueue, MethodQueueDelete, fmt.Sprintf("queue %q not found", d.Queue))
	}
	if d.IfUnused && len(q.ConsumerTags) > 0 {
		return 0, NewPreconditionFailed(ClassQueue, MethodQueueDelete, "queue in use")
	}
	if d.IfEmpty && len(q.Messages) > 0 {
		return 0, NewPreconditionFailed(ClassQueue, MethodQueueDelete, "queue not empty")
	}

	n := uint32(len(q.Messages))
	delete(b.queues, d.Queue)
	b.removeBindingsForQueueLocked(d.Queue)
	for ck, cons := range b.consumers {
		if cons.QueueName == d.Queue {
			b.removeConsumerLocked(ck, cons)
		}
	}
	b.eventBus.Publish(EventQueueDeleted, d.Queue)
	_ = b.store.SnapshotQueues(b.queues)

	return n, nil
}

// channelFor resolves a connKey to its live Channel/Connection pair.
// Caller must hold b.mu.
func (b *Broker) channelFor(k connKey) (*Channel, *Connection, bool) {
	conn, ok := b.connections[k.ConnID]
	if !ok {
		return nil, nil, false
	}
	ch, ok := conn.channels[k.Channel]
	if !ok {
		return nil, nil, false
	}

	return ch, conn, true
}

func (b *Broker) removeConsumerLocked(ck consumerKey, cons *Consumer) {
	delete(b.consumers, ck)
	tags := b.consumersByQueue[cons.QueueName]
	for i, t := range tags {
		if t == ck {
			b.consumersByQueue[cons.QueueName] = append(tags[:i], tags[i+1:]...)
			break
		}
	}
	b.eventBus.Publish(EventConsumerCancelled, cons.Tag)

	if q, ok := b.queues[cons.QueueName]; ok {
		for i, t := range q.ConsumerTags {
			if t == cons.Tag {
				q.ConsumerTags = append(q.ConsumerTags[:i], q.ConsumerTags[i+1:]...)
				break
			}
		}
		if q.AutoDelete && q.everHadConsumer && len(q.ConsumerTags) == 0 {
			delete(b.queues, cons.QueueName)
			b.removeBindingsForQueueLocked(cons.QueueName)
			b.eventBus.Publish(EventQueueDeleted, cons.QueueName)
		}
	}
}
