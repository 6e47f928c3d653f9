package broker

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

type connState int

const (
	connAwaitingHeader connState = iota
	connAwaitingStartOk
	connAwaitingTuneOk
	connAwaitingOpen
	connOpen
	connClosing
	connClosed
)

// Connection is a single client TCP connection: its handshake state,
// negotiated limits, and the channels multiplexed on it (spec.md §3).
type Connection struct {
	ID     string
	broker *Broker
	conn   net.Conn
	reader *FrameReader

	writeMu sync.Mutex

	state            connState
	channelMax       uint16
	frameMax         uint32
	heartbeat        time.Duration
	clientProperties Table
	virtualHost      string
	lastHeartbeat    time.Time

	channels map[uint16]*Channel

	closeOnce sync.Once
	closed    chan struct{}
}

func newConnection(b *Broker, c net.Conn) *Connection {
	return &Connection{
		ID:       uuid.NewString(),
		broker:   b,
		conn:     c,
		reader:   NewFrameReader(c, 0),
		state:    connAwaitingHeader,
		channels: make(map[uint16]*Channel),
		closed:   make(chan struct{}),
	}
}

// serve runs the connection's handshake and frame loop. It returns once
// the connection is closed, by either peer or a protocol error.
func (c *Connection) serve() {
	defer c.teardown()

	if err := c.handshake(); err != nil {
		var amqpErr *AMQPError
		if errors.As(err, &amqpErr) {
			c.closeWithError(amqpErr)
		} else {
			c.broker.logger.Warn().Str("conn", c.ID).Err(err).Msg("handshake failed")
		}
		return
	}

	c.broker.onConnectionOpen(c)
	defer c.broker.onConnectionClose(c)

	var heartbeatStop chan struct{}
	if c.heartbeat > 0 {
		heartbeatStop = make(chan struct{})
		go c.heartbeatLoop(heartbeatStop)
		defer close(heartbeatStop)
	}

	for {
		frame, err := c.reader.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.broker.logger.Debug().Str("conn", c.ID).Err(err).Msg("connection read error")
			}
			return
		}

		c.lastHeartbeat = time.Now()

		if done := c.handleFrame(frame); done {
			return
		}
	}
}

func (c *Connection) handshake() error {
	if err := c.reader.ReadProtocolHeader(); err != nil {
		_, _ = c.conn.Write(ProtocolHeader)
		return fmt.Errorf("protocol header: %w", err)
	}

	c.state = connAwaitingStartOk
	cfg := c.broker.cfg
	serverProps := Table{
		"product":  "amqp-broker",
		"version":  cfg.ServerVersion,
		"platform": "Go",
		"capabilities": Table{
			"publisher_confirms":           false,
			"basic.nack":                   true,
			"consumer_cancel_notify":       true,
			"per_consumer_qos":             true,
			"authentication_failure_close": true,
			"connection.blocked":           false,
		},
	}
	c.writeMethod(0, ClassConnection, MethodConnectionStart, encodeConnectionStart(serverProps, "PLAIN AMQPLAIN", "en_US"))

	frame, err := c.reader.ReadFrame()
	if err != nil {
		return err
	}
	classID, methodID, args, err := DecodeMethodHeader(frame.Payload)
	if err != nil {
		return err
	}
	if classID != ClassConnection || methodID != MethodConnectionStartOk {
		return NewCommandInvalid(classID, methodID, fmt.Sprintf("expected Connection.Start-Ok, got %d/%d", classID, methodID))
	}
	startOk, err := decodeConnectionStartOk(args)
	if err != nil {
		return err
	}

	if err := c.broker.credentialValidator.Validate(startOk.Mechanism, startOk.Response); err != nil {
		return NewAccessRefused(ScopeConnection, ClassConnection, MethodConnectionStartOk, err.Error())
	}
	c.clientProperties = startOk.ClientProperties

	c.state = connAwaitingTuneOk
	c.writeMethod(0, ClassConnection, MethodConnectionTune, encodeConnectionTune(cfg.ChannelMax, cfg.FrameMax, uint16(cfg.Heartbeat.Seconds())))

	frame, err = c.reader.ReadFrame()
	if err != nil {
		return err
	}
	classID, methodID, args, err = DecodeMethodHeader(frame.Payload)
	if err != nil {
		return err
	}
	if classID != ClassConnection || methodID != MethodConnectionTuneOk {
		return NewCommandInvalid(classID, methodID, fmt.Sprintf("expected Connection.Tune-Ok, got %d/%d", classID, methodID))
	}
	tuneOk, err := decodeConnectionTuneOk(args)
	if err != nil {
		return err
	}

	c.channelMax = negotiateUint16(tuneOk.ChannelMax, cfg.ChannelMax)
	c.frameMax = negotiateUint32(tuneOk.FrameMax, cfg.FrameMax)
	heartbeatSecs := negotiateUint16(tuneOk.Heartbeat, uint16(cfg.Heartbeat.Seconds()))
	c.heartbeat = time.Duration(heartbeatSecs) * time.Second
	c.reader.maxSize = c.frameMax

	c.state = connAwaitingOpen
	frame, err = c.reader.ReadFrame()
	if err != nil {
		return err
	}
	classID, methodID, args, err = DecodeMethodHeader(frame.Payload)
	if err != nil {
		return err
	}
	if classID != ClassConnection || methodID != MethodConnectionOpen {
		return NewCommandInvalid(classID, methodID, fmt.Sprintf("expected Connection.Open, got %d/%d", classID, methodID))
	}
	open, err := decodeConnectionOpen(args)
	if err != nil {
		return err
	}
	c.virtualHost = open.VirtualHost

	c.writeMethod(0, ClassConnection, MethodConnectionOpenOk, encodeConnectionOpenOk())
	c.state = connOpen
	c.lastHeartbeat = time.Now()

	return nil
}

// negotiateUint16 implements spec.md §4.2 step 3: min(clientValue ||
// serverDefault, serverValue), where a client value of zero means "no
// limit from my side" so the server value wins.
func negotiateUint16(clientValue, serverValue uint16) uint16 {
	if clientValue == 0 {
		return serverValue
	}
	if clientValue < serverValue {
		return clientValue
	}

	return serverValue
}

func negotiateUint32(clientValue, serverValue uint32) uint32 {
	if clientValue == 0 {
		return serverValue
	}
	if clientValue < serverValue {
		return clientValue
	}

	return serverValue
}

func (c *Connection) heartbeatLoop(stop chan struct{}) {
	interval := c.heartbeat / 2
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if time.Since(c.lastHeartbeat) > 2*c.heartbeat {
				c.broker.logger.Warn().Str("conn", c.ID).Msg("heartbeat timeout, closing connection")
				_ = c.conn.Close()
				return
			}
			c.writeRaw(EncodeHeartbeat())
		}
	}
}

// handleFrame dispatches a single frame and reports whether the
// connection should stop serving.
func (c *Connection) handleFrame(frame *Frame) bool {
	switch frame.Type {
	case FrameHeartbeat:
		c.writeRaw(EncodeHeartbeat())
		return false
	case FrameMethod:
		return c.handleMethodFrame(frame)
	case FrameHeader, FrameBody:
		return c.handleContentFrame(frame)
	default:
		c.closeWithError(NewFrameError(fmt.Sprintf("unknown frame type %d", frame.Type)))
		return true
	}
}

func (c *Connection) handleMethodFrame(frame *Frame) bool {
	classID, methodID, args, err := DecodeMethodHeader(frame.Payload)
	if err != nil {
		c.closeWithError(err)
		return true
	}

	if frame.Channel == 0 {
		if classID == ClassConnection {
			return c.handleConnectionMethod(methodID, args)
		}
		c.closeWithError(NewCommandInvalid(classID, methodID, "method not valid on channel 0"))
		return true
	}

	if classID == ClassChannel && methodID == MethodChannelOpen {
		return c.handleChannelOpen(frame.Channel)
	}

	ch, ok := c.channels[frame.Channel]
	if !ok {
		c.closeWithError(NewChannelError(classID, methodID, "channel not open"))
		return true
	}

	return c.broker.dispatchChannelMethod(c, ch, classID, methodID, args)
}

func (c *Connection) handleConnectionMethod(methodID uint16, args []byte) bool {
	switch methodID {
	case MethodConnectionClose:
		cc, err := decodeConnectionClose(args)
		if err != nil {
			c.closeWithError(err)
			return true
		}
		c.broker.logger.Info().Str("conn", c.ID).Uint16("reply_code", cc.ReplyCode).Msg("client closed connection")
		c.writeMethod(0, ClassConnection, MethodConnectionCloseOk, nil)
		return true
	case MethodConnectionCloseOk:
		return true
	default:
		c.closeWithError(NewCommandInvalid(ClassConnection, methodID, "unexpected connection method"))
		return true
	}
}

func (c *Connection) handleChannelOpen(number uint16) bool {
	if _, exists := c.channels[number]; exists {
		c.closeWithError(NewChannelError(ClassChannel, MethodChannelOpen, "channel already open"))
		return true
	}

	ch := newChannel(c, number)
	c.channels[number] = ch
	c.broker.onChannelOpen(c, ch)
	c.writeMethod(number, ClassChannel, MethodChannelOpenOk, encodeChannelOpenOk())

	return false
}

func (c *Connection) handleContentFrame(frame *Frame) bool {
	ch, ok := c.channels[frame.Channel]
	if !ok {
		c.closeWithError(NewCommandInvalid(0, 0, "content frame on unopened channel"))
		return true
	}

	if err := c.broker.handleContentFrame(c, ch, frame); err != nil {
		c.reportChannelOrConnError(ch, err)
		return err.Scope == ScopeConnection
	}

	return false
}

// closeChannel removes a channel from the connection's table after the
// broker has finished tearing down its entity-side state.
func (c *Connection) closeChannel(number uint16) {
	delete(c.channels, number)
}

func (c *Connection) reportChannelOrConnError(ch *Channel, err *AMQPError) {
	if err.Scope == ScopeConnection {
		c.closeWithError(err)
		return
	}

	c.broker.forceCloseChannel(c, ch, err)
}

func (c *Connection) closeWithError(err error) {
	var amqpErr *AMQPError
	if !errors.As(err, &amqpErr) {
		amqpErr = NewInternalError(err)
	}

	c.broker.logger.Warn().Str("conn", c.ID).Err(amqpErr).Msg("closing connection")
	c.writeMethod(0, ClassConnection, MethodConnectionClose, encodeConnectionClose(amqpErr.ReplyCode, amqpErr.ReplyText, amqpErr.ClassID, amqpErr.MethodID))
}

func (c *Connection) writeMethod(channel uint16, classID, methodID uint16, args []byte) {
	c.writeRaw(EncodeMethodFrame(channel, classID, methodID, args))
}

func (c *Connection) writeContentHeader(channel uint16, classID uint16, bodySize uint64, props Properties) {
	payload := EncodeContentHeader(classID, bodySize, props)
	c.writeRaw(EncodeFrame(&Frame{Type: FrameHeader, Channel: channel, Payload: payload}))
}

func (c *Connection) writeBody(channel uint16, content []byte) {
	maxPayload := int(c.frameMax) - 8
	if maxPayload <= 0 {
		maxPayload = len(content)
	}
	if maxPayload <= 0 {
		c.writeRaw(EncodeFrame(&Frame{Type: FrameBody, Channel: channel, Payload: content}))
		return
	}

	for off := 0; off < len(content); off += maxPayload {
		end := off + maxPayload
		if end > len(content) {
			end = len(content)
		}
		c.writeRaw(EncodeFrame(&Frame{Type: FrameBody, Channel: channel, Payload: content[off:end]}))
	}
	if len(content) == 0 {
		c.writeRaw(EncodeFrame(&Frame{Type: FrameBody, Channel: channel, Payload: nil}))
	}
}

func (c *Connection) writeRaw(b []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.conn.Write(b); err != nil {
		c.broker.logger.Debug().Str("conn", c.ID).Err(err).Msg("write failed")
	}
}

func (c *Connection) teardown() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
		close(c.closed)
	})
}
