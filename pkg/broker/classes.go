package broker

import "encoding/binary"

// Class ids.
const (
	ClassConnection uint16 = 10
	ClassChannel    uint16 = 20
	ClassExchange   uint16 = 40
	ClassQueue      uint16 = 50
	ClassBasic      uint16 = 60
)

// Method ids, grouped by class, matching the AMQP 0-9-1 method table.
const (
	MethodConnectionStart    uint16 = 10
	MethodConnectionStartOk  uint16 = 11
	MethodConnectionTune     uint16 = 30
	MethodConnectionTuneOk   uint16 = 31
	MethodConnectionOpen     uint16 = 40
	MethodConnectionOpenOk   uint16 = 41
	MethodConnectionClose    uint16 = 50
	MethodConnectionCloseOk  uint16 = 51

	MethodChannelOpen    uint16 = 10
	MethodChannelOpenOk  uint16 = 11
	MethodChannelFlow    uint16 = 20
	MethodChannelFlowOk  uint16 = 21
	MethodChannelClose   uint16 = 40
	MethodChannelCloseOk uint16 = 41

	MethodExchangeDeclare   uint16 = 10
	MethodExchangeDeclareOk uint16 = 11
	MethodExchangeDelete    uint16 = 20
	MethodExchangeDeleteOk  uint16 = 21

	MethodQueueDeclare   uint16 = 10
	MethodQueueDeclareOk uint16 = 11
	MethodQueueBind      uint16 = 20
	MethodQueueBindOk    uint16 = 21
	MethodQueuePurge     uint16 = 30
	MethodQueuePurgeOk   uint16 = 31
	MethodQueueUnbind    uint16 = 50
	MethodQueueUnbindOk  uint16 = 51
	MethodQueueDelete    uint16 = 40
	MethodQueueDeleteOk  uint16 = 41

	MethodBasicQos          uint16 = 10
	MethodBasicQosOk        uint16 = 11
	MethodBasicConsume      uint16 = 20
	MethodBasicConsumeOk    uint16 = 21
	MethodBasicCancel       uint16 = 30
	MethodBasicCancelOk     uint16 = 31
	MethodBasicPublish      uint16 = 40
	MethodBasicReturn       uint16 = 50
	MethodBasicDeliver      uint16 = 60
	MethodBasicGet          uint16 = 70
	MethodBasicGetOk        uint16 = 71
	MethodBasicGetEmpty     uint16 = 72
	MethodBasicAck          uint16 = 80
	MethodBasicReject       uint16 = 90
	MethodBasicRecover      uint16 = 110
	MethodBasicRecoverOk    uint16 = 111
	MethodBasicNack         uint16 = 120
)

// --- Connection ---

func encodeConnectionStart(serverProps Table, mechanisms, locales string) []byte {
	var out []byte
	out = append(out, 0, 9) // version-major, version-minor
	tbl, _ := EncodeTable(serverProps)
	out = append(out, tbl...)
	out = append(out, encodeLongString(mechanisms)...)
	out = append(out, encodeLongString(locales)...)

	return out
}

type connectionStartOk struct {
	ClientProperties Table
	Mechanism        string
	Response         string
	Locale           string
}

func decodeConnectionStartOk(args []byte) (connectionStartOk, error) {
	var out connectionStartOk

	t, n, err := DecodeTable(args)
	if err != nil {
		return out, err
	}
	out.ClientProperties = t
	args = args[n:]

	s, n, err := decodeShortString(args)
	if err != nil {
		return out, err
	}
	out.Mechanism = s
	args = args[n:]

	r, n, err := decodeLongString(args)
	if err != nil {
		return out, err
	}
	out.Response = r
	args = args[n:]

	l, _, err := decodeShortString(args)
	if err != nil {
		return out, err
	}
	out.Locale = l

	return out, nil
}

func encodeConnectionTune(channelMax uint16, frameMax uint32, heartbeat uint16) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint16(out[0:2], channelMax)
	binary.BigEndian.PutUint32(out[2:6], frameMax)
	binary.BigEndian.PutUint16(out[6:8], heartbeat)

	return out
}

type connectionTuneOk struct {
	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  uint16
}

func decodeConnectionTuneOk(args []byte) (connectionTuneOk, error) {
	if len(args) < 8 {
		return connectionTuneOk{}, NewSyntaxError(ClassConnection, MethodConnectionTuneOk, "truncated tune-ok")
	}

	return connectionTuneOk{
		ChannelMax: binary.BigEndian.Uint16(args[0:2]),
		FrameMax:   binary.BigEndian.Uint32(args[2:6]),
		Heartbeat:  binary.BigEndian.Uint16(args[6:8]),
	}, nil
}

type connectionOpen struct {
	VirtualHost string
}

func decodeConnectionOpen(args []byte) (connectionOpen, error) {
	vh, _, err := decodeShortString(args)
	if err != nil {
		return connectionOpen{}, err
	}

	return connectionOpen{VirtualHost: vh}, nil
}

func encodeConnectionOpenOk() []byte {
	return encodeShortString("")
}

type connectionClose struct {
	ReplyCode uint16
	ReplyText string
	ClassID   uint16
	MethodID  uint16
}

func decodeConnectionClose(args []byte) (connectionClose, error) {
	if len(args) < 2 {
		return connectionClose{}, NewSyntaxError(ClassConnection, MethodConnectionClose, "truncated close")
	}
	code := binary.BigEndian.Uint16(args)
	args = args[2:]

	text, n, err := decodeShortString(args)
	if err != nil {
		return connectionClose{}, err
	}
	args = args[n:]

	if len(args) < 4 {
		return connectionClose{}, NewSyntaxError(ClassConnection, MethodConnectionClose, "truncated close ids")
	}

	return connectionClose{
		ReplyCode: code,
		ReplyText: text,
		ClassID:   binary.BigEndian.Uint16(args[0:2]),
		MethodID:  binary.BigEndian.Uint16(args[2:4]),
	}, nil
}

func encodeConnectionClose(replyCode uint16, replyText string, classID, methodID uint16) []byte {
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, replyCode)
	out = append(out, encodeShortString(replyText)...)
	ids := make([]byte, 4)
	binary.BigEndian.PutUint16(ids[0:2], classID)
	binary.BigEndian.PutUint16(ids[2:4], methodID)

	return append(out, ids...)
}

// --- Channel ---

func encodeChannelOpenOk() []byte {
	return encodeLongString("")
}

func decodeChannelFlow(args []byte) (bool, error) {
	if len(args) < 1 {
		return false, NewSyntaxError(ClassChannel, MethodChannelFlow, "truncated flow")
	}

	return unpackBit(args[0], 0), nil
}

func encodeChannelFlowOk(active bool) []byte {
	return []byte{packBits(active)}
}

func decodeChannelClose(args []byte) (connectionClose, error) {
	cc, err := decodeConnectionClose(args)
	return cc, err
}

func encodeChannelClose(replyCode uint16, replyText string, classID, methodID uint16) []byte {
	return encodeConnectionClose(replyCode, replyText, classID, methodID)
}

// --- Exchange ---

type exchangeDeclare struct {
	Exchange   string
	Type       string
	Passive    bool
	Durable    bool
	AutoDelete bool
	Internal   bool
	NoWait     bool
	Arguments  Table
}

func decodeExchangeDeclare(args []byte) (exchangeDeclare, error) {
	if len(args) < 2 {
		return exchangeDeclare{}, NewSyntaxError(ClassExchange, MethodExchangeDeclare, "truncated")
	}
	args = args[2:] // reserved-1

	name, n, err := decodeShortString(args)
	if err != nil {
		return exchangeDeclare{}, err
	}
	args = args[n:]

	typ, n, err := decodeShortString(args)
	if err != nil {
		return exchangeDeclare{}, err
	}
	args = args[n:]

	if len(args) < 1 {
		return exchangeDeclare{}, NewSyntaxError(ClassExchange, MethodExchangeDeclare, "truncated flags")
	}
	flags := args[0]
	args = args[1:]

	tbl, _, err := DecodeTable(args)
	if err != nil {
		return exchangeDeclare{}, err
	}

	return exchangeDeclare{
		Exchange:   name,
		Type:       typ,
		Passive:    unpackBit(flags, 0),
		Durable:    unpackBit(flags, 1),
		AutoDelete: unpackBit(flags, 2),
		Internal:   unpackBit(flags, 3),
		NoWait:     unpackBit(flags, 4),
		Arguments:  tbl,
	}, nil
}

type exchangeDelete struct {
	Exchange string
	IfUnused bool
	NoWait   bool
}

func decodeExchangeDelete(args []byte) (exchangeDelete, error) {
	if len(args) < 2 {
		return exchangeDelete{}, NewSyntaxError(ClassExchange, MethodExchangeDelete, "truncated")
	}
	args = args[2:]

	name, n, err := decodeShortString(args)
	if err != nil {
		return exchangeDelete{}, err
	}
	args = args[n:]

	if len(args) < 1 {
		return exchangeDelete{}, NewSyntaxError(ClassExchange, MethodExchangeDelete, "truncated flags")
	}
	flags := args[0]

	return exchangeDelete{Exchange: name, IfUnused: unpackBit(flags, 0), NoWait: unpackBit(flags, 1)}, nil
}

// --- Queue ---

type queueDeclare struct {
	Queue      string
	Passive    bool
	Durable    bool
	Exclusive  bool
	AutoDelete bool
	NoWait     bool
	Arguments  Table
}

func decodeQueueDeclare(args []byte) (queueDeclare, error) {
	if len(args) < 2 {
		return queueDeclare{}, NewSyntaxError(ClassQueue, MethodQueueDeclare, "truncated")
	}
	args = args[2:]

	name, n, err := decodeShortString(args)
	if err != nil {
		return queueDeclare{}, err
	}
	args = args[n:]

	if len(args) < 1 {
		return queueDeclare{}, NewSyntaxError(ClassQueue, MethodQueueDeclare, "truncated flags")
	}
	flags := args[0]
	args = args[1:]

	tbl, _, err := DecodeTable(args)
	if err != nil {
		return queueDeclare{}, err
	}

	return queueDeclare{
		Queue:      name,
		Passive:    unpackBit(flags, 0),
		Durable:    unpackBit(flags, 1),
		Exclusive:  unpackBit(flags, 2),
		AutoDelete: unpackBit(flags, 3),
		NoWait:     unpackBit(flags, 4),
		Arguments:  tbl,
	}, nil
}

func encodeQueueDeclareOk(name string, messageCount, consumerCount uint32) []byte {
	out := encodeShortString(name)
	counts := make([]byte, 8)
	binary.BigEndian.PutUint32(counts[0:4], messageCount)
	binary.BigEndian.PutUint32(counts[4:8], consumerCount)

	return append(out, counts...)
}

type queueBind struct {
	Queue      string
	Exchange   string
	RoutingKey string
	NoWait     bool
	Arguments  Table
}

func decodeQueueBind(args []byte) (queueBind, error) {
	if len(args) < 2 {
		return queueBind{}, NewSyntaxError(ClassQueue, MethodQueueBind, "truncated")
	}
	args = args[2:]

	q, n, err := decodeShortString(args)
	if err != nil {
		return queueBind{}, err
	}
	args = args[n:]

	ex, n, err := decodeShortString(args)
	if err != nil {
		return queueBind{}, err
	}
	args = args[n:]

	rk, n, err := decodeShortString(args)
	if err != nil {
		return queueBind{}, err
	}
	args = args[n:]

	if len(args) < 1 {
		return queueBind{}, NewSyntaxError(ClassQueue, MethodQueueBind, "truncated flags")
	}
	noWait := unpackBit(args[0], 0)
	args = args[1:]

	tbl, _, err := DecodeTable(args)
	if err != nil {
		return queueBind{}, err
	}

	return queueBind{Queue: q, Exchange: ex, RoutingKey: rk, NoWait: noWait, Arguments: tbl}, nil
}

type queueUnbind struct {
	Queue      string
	Exchange   string
	RoutingKey string
	Arguments  Table
}

func decodeQueueUnbind(args []byte) (queueUnbind, error) {
	if len(args) < 2 {
		return queueUnbind{}, NewSyntaxError(ClassQueue, MethodQueueUnbind, "truncated")
	}
	args = args[2:]

	q, n, err := decodeShortString(args)
	if err != nil {
		return queueUnbind{}, err
	}
	args = args[n:]

	ex, n, err := decodeShortString(args)
	if err != nil {
		return queueUnbind{}, err
	}
	args = args[n:]

	rk, n, err := decodeShortString(args)
	if err != nil {
		return queueUnbind{}, err
	}
	args = args[n:]

	tbl, _, err := DecodeTable(args)
	if err != nil {
		return queueUnbind{}, err
	}

	return queueUnbind{Queue: q, Exchange: ex, RoutingKey: rk, Arguments: tbl}, nil
}

type queuePurge struct {
	Queue  string
	NoWait bool
}

func decodeQueuePurge(args []byte) (queuePurge, error) {
	if len(args) < 2 {
		return queuePurge{}, NewSyntaxError(ClassQueue, MethodQueuePurge, "truncated")
	}
	args = args[2:]

	q, n, err := decodeShortString(args)
	if err != nil {
		return queuePurge{}, err
	}
	args = args[n:]

	noWait := false
	if len(args) >= 1 {
		noWait = unpackBit(args[0], 0)
	}

	return queuePurge{Queue: q, NoWait: noWait}, nil
}

func encodeQueuePurgeOk(messageCount uint32) []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, messageCount)

	return out
}

type queueDelete struct {
	Queue    string
	IfUnused bool
	IfEmpty  bool
	NoWait   bool
}

func decodeQueueDelete(args []byte) (queueDelete, error) {
	if len(args) < 2 {
		return queueDelete{}, NewSyntaxError(ClassQueue, MethodQueueDelete, "truncated")
	}
	args = args[2:]

	q, n, err := decodeShortString(args)
	if err != nil {
		return queueDelete{}, err
	}
	args = args[n:]

	flags := byte(0)
	if len(args) >= 1 {
		flags = args[0]
	}

	return queueDelete{
		Queue:    q,
		IfUnused: unpackBit(flags, 0),
		IfEmpty:  unpackBit(flags, 1),
		NoWait:   unpackBit(flags, 2),
	}, nil
}

func encodeQueueDeleteOk(messageCount uint32) []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, messageCount)

	return out
}

// --- Basic ---

type basicQos struct {
	PrefetchSize  uint32
	PrefetchCount uint16
	Global        bool
}

func decodeBasicQos(args []byte) (basicQos, error) {
	if len(args) < 7 {
		return basicQos{}, NewSyntaxError(ClassBasic, MethodBasicQos, "truncated")
	}

	return basicQos{
		PrefetchSize:  binary.BigEndian.Uint32(args[0:4]),
		PrefetchCount: binary.BigEndian.Uint16(args[4:6]),
		Global:        unpackBit(args[6], 0),
	}, nil
}

type basicConsume struct {
	Queue       string
	ConsumerTag string
	NoLocal     bool
	NoAck       bool
	Exclusive   bool
	NoWait      bool
	Arguments   Table
}

func decodeBasicConsume(args []byte) (basicConsume, error) {
	if len(args) < 2 {
		return basicConsume{}, NewSyntaxError(ClassBasic, MethodBasicConsume, "truncated")
	}
	args = args[2:]

	q, n, err := decodeShortString(args)
	if err != nil {
		return basicConsume{}, err
	}
	args = args[n:]

	tag, n, err := decodeShortString(args)
	if err != nil {
		return basicConsume{}, err
	}
	args = args[n:]

	if len(args) < 1 {
		return basicConsume{}, NewSyntaxError(ClassBasic, MethodBasicConsume, "truncated flags")
	}
	flags := args[0]
	args = args[1:]

	tbl, _, err := DecodeTable(args)
	if err != nil {
		return basicConsume{}, err
	}

	return basicConsume{
		Queue:       q,
		ConsumerTag: tag,
		NoLocal:     unpackBit(flags, 0),
		NoAck:       unpackBit(flags, 1),
		Exclusive:   unpackBit(flags, 2),
		NoWait:      unpackBit(flags, 3),
		Arguments:   tbl,
	}, nil
}

func encodeBasicConsumeOk(tag string) []byte {
	return encodeShortString(tag)
}

func decodeBasicCancel(args []byte) (tag string, noWait bool, err error) {
	tag, n, err := decodeShortString(args)
	if err != nil {
		return "", false, err
	}
	args = args[n:]
	if len(args) >= 1 {
		noWait = unpackBit(args[0], 0)
	}

	return tag, noWait, nil
}

func encodeBasicCancelOk(tag string) []byte {
	return encodeShortString(tag)
}

type basicPublish struct {
	Exchange   string
	RoutingKey string
	Mandatory  bool
	Immediate  bool
}

func decodeBasicPublish(args []byte) (basicPublish, error) {
	if len(args) < 2 {
		return basicPublish{}, NewSyntaxError(ClassBasic, MethodBasicPublish, "truncated")
	}
	args = args[2:]

	ex, n, err := decodeShortString(args)
	if err != nil {
		return basicPublish{}, err
	}
	args = args[n:]

	rk, n, err := decodeShortString(args)
	if err != nil {
		return basicPublish{}, err
	}
	args = args[n:]

	flags := byte(0)
	if len(args) >= 1 {
		flags = args[0]
	}

	return basicPublish{
		Exchange:   ex,
		RoutingKey: rk,
		Mandatory:  unpackBit(flags, 0),
		Immediate:  unpackBit(flags, 1),
	}, nil
}

func encodeBasicReturn(replyCode uint16, replyText, exchange, routingKey string) []byte {
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, replyCode)
	out = append(out, encodeShortString(replyText)...)
	out = append(out, encodeShortString(exchange)...)
	out = append(out, encodeShortString(routingKey)...)

	return out
}

func encodeBasicDeliver(consumerTag string, deliveryTag uint64, redelivered bool, exchange, routingKey string) []byte {
	out := encodeShortString(consumerTag)
	tagBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(tagBytes, deliveryTag)
	out = append(out, tagBytes...)
	out = append(out, packBits(redelivered))
	out = append(out, encodeShortString(exchange)...)
	out = append(out, encodeShortString(routingKey)...)

	return out
}

func decodeBasicGet(args []byte) (queue string, noAck bool, err error) {
	if len(args) < 2 {
		return "", false, NewSyntaxError(ClassBasic, MethodBasicGet, "truncated")
	}
	args = args[2:]

	q, n, err := decodeShortString(args)
	if err != nil {
		return "", false, err
	}
	args = args[n:]

	if len(args) >= 1 {
		noAck = unpackBit(args[0], 0)
	}

	return q, noAck, nil
}

func encodeBasicGetOk(deliveryTag uint64, redelivered bool, exchange, routingKey string, messageCount uint32) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, deliveryTag)
	out = append(out, packBits(redelivered))
	out = append(out, encodeShortString(exchange)...)
	out = append(out, encodeShortString(routingKey)...)
	count := make([]byte, 4)
	binary.BigEndian.PutUint32(count, messageCount)
	out = append(out, count...)

	return out
}

func encodeBasicGetEmpty() []byte {
	return encodeShortString("")
}

func decodeBasicAck(args []byte) (deliveryTag uint64, multiple bool, err error) {
	if len(args) < 9 {
		return 0, false, NewSyntaxError(ClassBasic, MethodBasicAck, "truncated")
	}

	return binary.BigEndian.Uint64(args[0:8]), unpackBit(args[8], 0), nil
}

func decodeBasicReject(args []byte) (deliveryTag uint64, requeue bool, err error) {
	if len(args) < 9 {
		return 0, false, NewSyntaxError(ClassBasic, MethodBasicReject, "truncated")
	}

	return binary.BigEndian.Uint64(args[0:8]), unpackBit(args[8], 0), nil
}

func decodeBasicNack(args []byte) (deliveryTag uint64, multiple, requeue bool, err error) {
	if len(args) < 9 {
		return 0, false, false, NewSyntaxError(ClassBasic, MethodBasicNack, "truncated")
	}

	return binary.BigEndian.Uint64(args[0:8]), unpackBit(args[8], 0), unpackBit(args[8], 1), nil
}

func decodeBasicRecover(args []byte) (requeue bool, err error) {
	if len(args) < 1 {
		return false, NewSyntaxError(ClassBasic, MethodBasicRecover, "truncated")
	}

	return unpackBit(args[0], 0), nil
}

func encodeBasicRecoverOk() []byte {
	return nil
}
