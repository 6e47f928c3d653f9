package broker

import (
	"net"
	"time"
)

// Config holds the broker's listen address and protocol defaults. Zero
// values are replaced with spec.md §4.2's negotiation defaults by
// New.
type Config struct {
	ListenAddr    string
	ServerVersion string

	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  time.Duration
}

const (
	defaultChannelMax = 2047
	defaultFrameMax   = 131072
	defaultHeartbeat  = 60 * time.Second
)

func (c Config) withDefaults() Config {
	if c.ChannelMax == 0 {
		c.ChannelMax = defaultChannelMax
	}
	if c.FrameMax == 0 {
		c.FrameMax = defaultFrameMax
	}
	if c.Heartbeat == 0 {
		c.Heartbeat = defaultHeartbeat
	}
	if c.ServerVersion == "" {
		c.ServerVersion = "0.1.0"
	}

	return c
}

type brokerOptions struct {
	logger    Logger
	metrics   Metrics
	store     Store
	validator CredentialValidator
	eventBus  *EventBus
	admitter  func(net.Conn) bool
}

func defaultBrokerOptions() brokerOptions {
	return brokerOptions{
		logger:    NopLogger{},
		metrics:   NopMetrics{},
		store:     NopStore{},
		validator: AllowAllValidator{},
		eventBus:  NewEventBus(),
	}
}

// BrokerOption configures a Broker at construction time.
type BrokerOption func(*brokerOptions)

// WithLogger sets the broker's logger.
func WithLogger(l Logger) BrokerOption {
	return func(o *brokerOptions) { o.logger = l }
}

// WithMetrics sets the broker's metrics sink.
func WithMetrics(m Metrics) BrokerOption {
	return func(o *brokerOptions) { o.metrics = m }
}

// WithStore sets the persistence backend. Without this option the
// broker runs purely in memory.
func WithStore(s Store) BrokerOption {
	return func(o *brokerOptions) { o.store = s }
}

// WithCredentialValidator sets the SASL credential validator used
// during Connection.Start-Ok.
func WithCredentialValidator(v CredentialValidator) BrokerOption {
	return func(o *brokerOptions) { o.validator = v }
}

// WithEventBus attaches a pre-existing EventBus, letting a caller
// subscribe before the broker starts emitting.
func WithEventBus(b *EventBus) BrokerOption {
	return func(o *brokerOptions) { o.eventBus = b }
}

// WithAdmitter installs a connection admission hook consulted right
// after Accept and before any protocol bytes are read; returning false
// closes the connection immediately. Used to plug in rate limiting
// without this package depending on a specific limiter implementation.
func WithAdmitter(f func(net.Conn) bool) BrokerOption {
	return func(o *brokerOptions) { o.admitter = f }
}
