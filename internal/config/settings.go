package config

import (
	"time"
)

// Compile time variables are set by -ldflags.
var (
	ServiceVersion string
	CommitSHA      string
)

const (
	Development = 1 << iota
	Sandbox
	Staging
	Production
)

type (
	ServiceConfig struct {
		AppConfig      AppConfig            `json:"app_config"`
		Logging        LoggingConfig        `json:"logging"`
		Telemetry      Telemetry            `json:"telemetry"`
		Broker         BrokerConfig         `json:"broker"`
		Persistence    PersistenceConfig    `json:"persistence"`
		RateLimiting   RateLimitingConfig   `json:"rate_limiting"`
		Auth           AuthConfig           `json:"auth"`
		CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
	}

	AppConfig struct {
		ServiceName    string `envconfig:"APP_SERVICE_NAME" default:"amqp-broker" json:"service_name"`
		ServiceVersion string `envconfig:"APP_SERVICE_VERSION" default:"0.0.0" json:"service_version"`
		CommitSHA      string `envconfig:"APP_COMMIT_SHA" default:"unknown" json:"commit_sha"`
		Env            string `envconfig:"APP_ENVIRONMENT" default:"unknown" json:"env"`
	}

	LoggingConfig struct {
		Level  string `envconfig:"LOGGING_LEVEL" default:"info" json:"level"`
		Format string `envconfig:"LOGGING_FORMAT" default:"json" json:"format"`
	}

	Telemetry struct {
		ExporterType string `envconfig:"OTEL_EXPORTER" default:"stdout" json:"exporter_type"`

		OtelGRPCHost string `envconfig:"OTEL_HOST" json:"otel_grpc_host"`
		OtelGRPCPort string `envconfig:"OTEL_PORT" default:"4317" json:"otel_grpc_port"`

		Metrics Metrics `json:"metrics"`
		Traces  Traces  `json:"traces"`
	}

	Metrics struct {
		Enabled bool `envconfig:"METRICS_ENABLED" default:"false" json:"enabled"`
		Port    int  `envconfig:"METRICS_PORT" default:"9090" json:"port"`
	}

	Traces struct {
		Enabled      bool    `envconfig:"TRACES_ENABLED" default:"false" json:"enabled"`
		SamplerRatio float64 `envconfig:"TRACES_SAMPLER_RATIO" default:"1" json:"sampler_ratio"`
	}

	// BrokerConfig holds the wire-protocol listener settings and the
	// connection-tuning defaults negotiated during Connection.Tune.
	BrokerConfig struct {
		Host          string        `envconfig:"BROKER_HOST" default:"0.0.0.0" json:"host"`
		Port          int           `envconfig:"BROKER_PORT" default:"5672" json:"port"`
		ChannelMax    int           `envconfig:"BROKER_CHANNEL_MAX" default:"2047" json:"channel_max"`
		FrameMax      int           `envconfig:"BROKER_FRAME_MAX" default:"131072" json:"frame_max"`
		Heartbeat     time.Duration `envconfig:"BROKER_HEARTBEAT" default:"60s" json:"heartbeat"`
		ShutdownGrace time.Duration `envconfig:"BROKER_SHUTDOWN_GRACE" default:"30s" json:"shutdown_grace"`
	}

	// PersistenceConfig controls the append-log-plus-snapshot durability
	// layer (pkg/broker/persistence).
	PersistenceConfig struct {
		Enabled         bool          `envconfig:"PERSISTENCE_ENABLED" default:"true" json:"enabled"`
		DataDir         string        `envconfig:"PERSISTENCE_DATA_DIR" default:"/var/lib/amqp-broker" json:"data_dir"`
		CompactInterval time.Duration `envconfig:"PERSISTENCE_COMPACT_INTERVAL" default:"10m" json:"compact_interval"`
	}

	RateLimitingConfig struct {
		Enabled           bool          `envconfig:"RATE_LIMITING_ENABLED" default:"true" json:"enabled"`
		ConnectionsPerSec int           `envconfig:"RATE_LIMITING_CONNECTIONS_PER_SEC" default:"50" json:"connections_per_second"`
		BurstSize         int           `envconfig:"RATE_LIMITING_BURST_SIZE" default:"100" json:"burst_size"`
		MaxKeys           int           `envconfig:"RATE_LIMITING_MAX_KEYS" default:"10000" json:"max_keys"`
		CleanupInterval   time.Duration `envconfig:"RATE_LIMITING_CLEANUP_INTERVAL" default:"1m" json:"cleanup_interval"`
	}

	AuthConfig struct {
		Enabled        bool          `envconfig:"AUTH_ENABLED" default:"false" json:"enabled"`
		Mechanism      string        `envconfig:"AUTH_MECHANISM" default:"PLAIN" json:"mechanism"`
		Username       string        `envconfig:"AUTH_USERNAME" default:"guest" json:"username"`
		Password       string        `envconfig:"AUTH_PASSWORD" default:"guest" json:"password,omitempty"`
		UsePaseto      bool          `envconfig:"AUTH_USE_PASETO" default:"false" json:"use_paseto"`
		PasetoKeyHex   string        `envconfig:"AUTH_PASETO_KEY_HEX" default:"" json:"paseto_key_hex,omitempty"`
		PasetoIssuer   string        `envconfig:"AUTH_PASETO_ISSUER" default:"amqp-broker" json:"paseto_issuer"`
		TokenKeyCacheTTL time.Duration `envconfig:"AUTH_TOKEN_KEY_CACHE_TTL" default:"1h" json:"token_key_cache_ttl"`
	}

	CircuitBreakerConfig struct {
		MaxRequests uint32        `envconfig:"CB_MAX_REQUESTS" default:"1" json:"max_requests"`
		Interval    time.Duration `envconfig:"CB_INTERVAL" default:"10s" json:"interval"`
		Timeout     time.Duration `envconfig:"CB_TIMEOUT" default:"5s" json:"timeout"`
	}
)
