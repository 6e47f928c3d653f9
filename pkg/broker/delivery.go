package broker

import "fmt"

// handleContentFrame assembles a Basic.Publish's content header and
// body frames into the channel's pending-publish slot, completing the
// publish once the full body has arrived (spec.md §4.2).
func (b *Broker) handleContentFrame(conn *Connection, ch *Channel, frame *Frame) *AMQPError {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.pending == nil {
		return NewUnexpectedFrame(ClassBasic, MethodBasicPublish, "content frame without preceding Basic.Publish")
	}

	switch frame.Type {
	case FrameHeader:
		if ch.pending.headerSeen {
			return NewUnexpectedFrame(ClassBasic, MethodBasicPublish, "duplicate content header")
		}
		_, bodySize, props, err := DecodeContentHeader(frame.Payload)
		if err != nil {
			return NewSyntaxError(ClassBasic, MethodBasicPublish, err.Error())
		}
		ch.pending.headerSeen = true
		ch.pending.bodySize = bodySize
		ch.pending.properties = props
		if bodySize == 0 {
			b.completePublish(conn, ch)
		}
	case FrameBody:
		if !ch.pending.headerSeen {
			return NewUnexpectedFrame(ClassBasic, MethodBasicPublish, "body frame before content header")
		}
		ch.pending.content = append(ch.pending.content, frame.Payload...)
		if uint64(len(ch.pending.content)) >= ch.pending.bodySize {
			b.completePublish(conn, ch)
		}
	}

	return nil
}

func (b *Broker) handleBasicMethod(conn *Connection, ch *Channel, methodID uint16, args []byte) *AMQPError {
	switch methodID {
	case MethodBasicQos:
		q, err := decodeBasicQos(args)
		if err != nil {
			return err.(*AMQPError)
		}
		ch.qos = qos{PrefetchSize: q.PrefetchSize, PrefetchCount: q.PrefetchCount, Global: q.Global}
		conn.writeMethod(ch.Number, ClassBasic, MethodBasicQosOk, nil)
		b.dispatchQueueForChannelLocked(ch)

		return nil
	case MethodBasicConsume:
		return b.basicConsumeLocked(conn, ch, args)
	case MethodBasicCancel:
		tag, noWait, err := decodeBasicCancel(args)
		if err != nil {
			return err.(*AMQPError)
		}
		ck := consumerKey{Ch: ch.key(), Tag: tag}
		if cons, ok := b.consumers[ck]; ok {
			b.removeConsumerLocked(ck, cons)
		}
		if !noWait {
			conn.writeMethod(ch.Number, ClassBasic, MethodBasicCancelOk, encodeBasicCancelOk(tag))
		}

		return nil
	case MethodBasicPublish:
		p, err := decodeBasicPublish(args)
		if err != nil {
			return err.(*AMQPError)
		}
		if _, ok := b.exchanges[p.Exchange]; !ok {
			return NewNotFound(ClassBasic, MethodBasicPublish, fmt.Sprintf("exchange %q not found", p.Exchange))
		}
		ch.pending = &pendingPublish{Exchange: p.Exchange, RoutingKey: p.RoutingKey, Mandatory: p.Mandatory, Immediate: p.Immediate}

		return nil
	case MethodBasicGet:
		return b.basicGetLocked(conn, ch, args)
	case MethodBasicAck:
		tag, multiple, err := decodeBasicAck(args)
		if err != nil {
			return err.(*AMQPError)
		}
		b.ackLocked(ch, tag, multiple)

		return nil
	case MethodBasicReject:
		tag, requeue, err := decodeBasicReject(args)
		if err != nil {
			return err.(*AMQPError)
		}
		b.rejectLocked(ch, tag, requeue, false)

		return nil
	case MethodBasicNack:
		tag, multiple, requeue, err := decodeBasicNack(args)
		if err != nil {
			return err.(*AMQPError)
		}
		b.rejectLocked(ch, tag, requeue, multiple)

		return nil
	case MethodBasicRecover:
		requeue, err := decodeBasicRecover(args)
		if err != nil {
			return err.(*AMQPError)
		}
		b.recoverLocked(ch, requeue)
		conn.writeMethod(ch.Number, ClassBasic, MethodBasicRecoverOk, encodeBasicRecoverOk())

		return nil
	default:
		return NewCommandInvalid(ClassBasic, methodID, "unexpected basic method")
	}
}

func (b *Broker) basicConsumeLocked(conn *Connection, ch *Channel, args []byte) *AMQPError {
	d, err := decodeBasicConsume(args)
	if err != nil {
		return err.(*AMQPError)
	}

	q, ok := b.queues[d.Queue]
	if !ok {
		return NewNotFound(ClassBasic, MethodBasicConsume, fmt.Sprintf("queue %q not found", d.Queue))
	}
	if q.Exclusive && q.ExclusiveConnectionID != conn.ID {
		return NewResourceLocked(ClassBasic, MethodBasicConsume, "queue is exclusive to another connection")
	}

	tag := d.ConsumerTag
	if tag == "" {
		tag = fmt.Sprintf("amq.ctag-%s-%d-%d", conn.ID, ch.Number, len(q.ConsumerTags))
	}

	ck := consumerKey{Ch: ch.key(), Tag: tag}
	if _, exists := b.consumers[ck]; exists {
		return NewCommandInvalid(ClassBasic, MethodBasicConsume, "duplicate consumer tag")
	}

	cons := &Consumer{
		Tag:        tag,
		QueueName:  d.Queue,
		ChannelKey: ch.key(),
		NoLocal:    d.NoLocal,
		NoAck:      d.NoAck,
		Exclusive:  d.Exclusive,
		Arguments:  d.Arguments,
	}
	b.consumers[ck] = cons
	b.consumersByQueue[d.Queue] = append(b.consumersByQueue[d.Queue], ck)
	q.ConsumerTags = append(q.ConsumerTags, tag)
	q.everHadConsumer = true

	if !d.NoWait {
		conn.writeMethod(ch.Number, ClassBasic, MethodBasicConsumeOk, encodeBasicConsumeOk(tag))
	}
	b.eventBus.Publish(EventConsumerCreated, tag)

	b.dispatchQueueLocked(d.Queue)

	return nil
}

func (b *Broker) basicGetLocked(conn *Connection, ch *Channel, args []byte) *AMQPError {
	queue, noAck, err := decodeBasicGet(args)
	if err != nil {
		return err.(*AMQPError)
	}

	q, ok := b.queues[queue]
	if !ok {
		return NewNotFound(ClassBasic, MethodBasicGet, fmt.Sprintf("queue %q not found", queue))
	}
	if len(q.Messages) == 0 {
		conn.writeMethod(ch.Number, ClassBasic, MethodBasicGetEmpty, encodeBasicGetEmpty())
		return nil
	}

	msg := q.Messages[0]
	q.Messages = q.Messages[1:]
	remaining := uint32(len(q.Messages))

	tag := ch.nextDeliveryTag()
	if !noAck {
		ch.addUnacked(tag, newUnackedEntry(tag, msg, queue, ""))
	} else {
		b.removeFromStoreIfPersistent(queue, msg)
	}

	conn.writeMethod(ch.Number, ClassBasic, MethodBasicGetOk, encodeBasicGetOk(tag, msg.Redelivered, msg.Exchange, msg.RoutingKey, remaining))
	conn.writeContentHeader(ch.Number, ClassBasic, uint64(len(msg.Content)), msg.Properties)
	conn.writeBody(ch.Number, msg.Content)

	b.metrics.IncMessagesDelivered(queue)
	b.eventBus.Publish(EventMessageDelivered, msg.ID)

	return nil
}

// completePublish is called once a pending Basic.Publish has received
// its full content header and body (spec.md §4.2's multi-frame
// assembly). Caller must hold b.mu.
func (b *Broker) completePublish(conn *Connection, ch *Channel) {
	p := ch.pending
	ch.pending = nil

	msg := NewMessage(p.Exchange, p.RoutingKey, p.Mandatory, p.Immediate, p.properties, p.content)
	b.metrics.IncMessagesPublished(p.Exchange)
	b.eventBus.Publish(EventMessagePublished, msg.ID)

	ex := b.exchanges[p.Exchange]
	var exchangeBindings []Binding
	for _, bind := range b.bindings {
		if bind.Source == p.Exchange {
			exchangeBindings = append(exchangeBindings, bind)
		}
	}
	destinations := route(ex, exchangeBindings, p.RoutingKey)
	b.metrics.IncMessagesRouted(p.Exchange, len(destinations) > 0)
	b.eventBus.Publish(EventMessageRouted, struct {
		ID           string
		Destinations []string
	}{msg.ID, destinations})

	if len(destinations) == 0 {
		// immediate is accepted on the wire but treated as a no-op
		// (spec.md §4.3); only mandatory triggers Basic.Return.
		if p.Mandatory {
			conn.writeMethod(ch.Number, ClassBasic, MethodBasicReturn, encodeBasicReturn(ReplyNoRoute, "NO_ROUTE", p.Exchange, p.RoutingKey))
			conn.writeContentHeader(ch.Number, ClassBasic, uint64(len(msg.Content)), msg.Properties)
			conn.writeBody(ch.Number, msg.Content)
			b.metrics.IncMessagesReturned(p.Exchange)
			b.eventBus.Publish(EventMessageReturned, msg.ID)
		}

		return
	}

	for _, queueName := range destinations {
		q, ok := b.queues[queueName]
		if !ok {
			continue
		}

		if q.Durable && msg.IsPersistent() {
			if err := b.store.RecordMessage(queueName, msg); err != nil {
				b.logger.Warn().Err(err).Str("queue", queueName).Msg("persist message failed")
			}
		}

		q.Messages = append(q.Messages, msg)
		b.metrics.ObserveQueueDepth(queueName, len(q.Messages))
		b.dispatchQueueLocked(queueName)
	}
}

// dispatchQueueLocked delivers as many queued messages as current
// consumers' prefetch budgets allow, round-robin across consumers in
// subscription order (spec.md §4.4). Caller must hold b.mu.
func (b *Broker) dispatchQueueLocked(queueName string) {
	q, ok := b.queues[queueName]
	if !ok {
		return
	}

	for len(q.Messages) > 0 {
		ck, ch, conn, ok := b.nextDispatchableConsumerLocked(queueName)
		if !ok {
			return
		}

		msg := q.Messages[0]
		q.Messages = q.Messages[1:]
		b.metrics.ObserveQueueDepth(queueName, len(q.Messages))
		b.deliverLocked(conn, ch, queueName, ck.Tag, msg)
	}
}

// dispatchQueueForChannelLocked re-evaluates dispatch for every queue a
// channel consumes from, used after Basic.Qos widens its prefetch.
func (b *Broker) dispatchQueueForChannelLocked(ch *Channel) {
	seen := make(map[string]struct{})
	for ck, cons := range b.consumers {
		if ck.Ch != ch.key() {
			continue
		}
		if _, done := seen[cons.QueueName]; done {
			continue
		}
		seen[cons.QueueName] = struct{}{}
		b.dispatchQueueLocked(cons.QueueName)
	}
}

// nextDispatchableConsumerLocked finds the next consumer for queueName,
// starting after the last dispatch cursor, that currently has dispatch
// budget available.
func (b *Broker) nextDispatchableConsumerLocked(queueName string) (consumerKey, *Channel, *Connection, bool) {
	tags := b.consumersByQueue[queueName]
	if len(tags) == 0 {
		return consumerKey{}, nil, nil, false
	}

	start := b.dispatchCursor[queueName] % len(tags)
	for i := 0; i < len(tags); i++ {
		idx := (start + i) % len(tags)
		ck := tags[idx]
		ch, conn, ok := b.channelFor(ck.Ch)
		if !ok || !ch.canDispatch() {
			continue
		}

		b.dispatchCursor[queueName] = (idx + 1) % len(tags)

		return ck, ch, conn, true
	}

	return consumerKey{}, nil, nil, false
}

func (b *Broker) deliverLocked(conn *Connection, ch *Channel, queueName, consumerTag string, msg *Message) {
	cons := b.consumers[consumerKey{Ch: ch.key(), Tag: consumerTag}]

	tag := ch.nextDeliveryTag()
	if cons == nil || !cons.NoAck {
		ch.addUnacked(tag, newUnackedEntry(tag, msg, queueName, consumerTag))
	} else {
		b.removeFromStoreIfPersistent(queueName, msg)
	}

	conn.writeMethod(ch.Number, ClassBasic, MethodBasicDeliver, encodeBasicDeliver(consumerTag, tag, msg.Redelivered, msg.Exchange, msg.RoutingKey))
	conn.writeContentHeader(ch.Number, ClassBasic, uint64(len(msg.Content)), msg.Properties)
	conn.writeBody(ch.Number, msg.Content)

	b.metrics.IncMessagesDelivered(queueName)
	b.eventBus.Publish(EventMessageDelivered, msg.ID)
}

func (b *Broker) removeFromStoreIfPersistent(queueName string, msg *Message) {
	if !msg.IsPersistent() {
		return
	}
	if err := b.store.RemoveMessage(queueName, msg.ID); err != nil {
		b.logger.Warn().Err(err).Str("queue", queueName).Msg("remove persisted message failed")
	}
}

func (b *Broker) ackLocked(ch *Channel, tag uint64, multiple bool) {
	var entries []*UnackedEntry
	if multiple {
		entries = ch.removeUnackedUpTo(tag)
	} else if e, ok := ch.removeUnacked(tag); ok {
		entries = []*UnackedEntry{e}
	}

	for _, e := range entries {
		b.removeFromStoreIfPersistent(e.QueueName, e.Message)
		b.metrics.IncMessagesAcked(e.QueueName)
		b.eventBus.Publish(EventMessageAcked, e.Message.ID)
	}
}

// rejectLocked implements both Basic.Reject (multiple is always false)
// and Basic.Nack (multiple may be true), per spec.md §4.4.
func (b *Broker) rejectLocked(ch *Channel, tag uint64, requeue, multiple bool) {
	var entries []*UnackedEntry
	if multiple {
		entries = ch.removeUnackedUpTo(tag)
	} else if e, ok := ch.removeUnacked(tag); ok {
		entries = []*UnackedEntry{e}
	}

	for _, e := range entries {
		if requeue {
			b.requeueToHeadLocked(e.QueueName, e.Message)
			b.metrics.IncMessagesNacked(e.QueueName)
			b.eventBus.Publish(EventMessageNacked, e.Message.ID)
		} else {
			b.removeFromStoreIfPersistent(e.QueueName, e.Message)
			b.metrics.IncMessagesRejected(e.QueueName)
			b.eventBus.Publish(EventMessageRejected, e.Message.ID)
		}
	}
}

// recoverLocked implements Basic.Recover. Per a documented Open
// Question decision (DESIGN.md), requeue=false is kept bug-compatible
// with the reference behavior this was distilled from: messages are
// still requeued to the tail rather than redelivered in place.
func (b *Broker) recoverLocked(ch *Channel, requeue bool) {
	entries := ch.drainAllUnacked()
	for _, e := range entries {
		e.Message.Redelivered = true
		if q, ok := b.queues[e.QueueName]; ok {
			if requeue {
				q.Messages = append([]*Message{e.Message}, q.Messages...)
			} else {
				q.Messages = append(q.Messages, e.Message)
			}
		}
	}
	for _, e := range entries {
		b.dispatchQueueLocked(e.QueueName)
	}
}

func (b *Broker) requeueToHeadLocked(queueName string, msg *Message) {
	q, ok := b.queues[queueName]
	if !ok {
		return
	}
	msg.Redelivered = true
	q.Messages = append([]*Message{msg}, q.Messages...)
	b.dispatchQueueLocked(queueName)
}
