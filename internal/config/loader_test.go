package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInit(t *testing.T) {
	t.Setenv("APP_ENVIRONMENT", "sandbox")
	t.Setenv("APP_SERVICE_VERSION", "1.0.0")
	t.Setenv("APP_COMMIT_SHA", "1234xwz")
	t.Setenv("LOGGING_LEVEL", "debug")
	t.Setenv("BROKER_PORT", "5673")
	t.Setenv("AUTH_USERNAME", "john.doe")

	cfg, err := Init()
	assert.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "sandbox", cfg.AppConfig.Env)
	assert.Equal(t, "amqp-broker", cfg.AppConfig.ServiceName)
	assert.Equal(t, "1.0.0", cfg.AppConfig.ServiceVersion)
	assert.Equal(t, "1234xwz", cfg.AppConfig.CommitSHA)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 5673, cfg.Broker.Port)
	assert.Equal(t, "john.doe", cfg.Auth.Username)
}

func TestInitDefaults(t *testing.T) {
	cfg, err := Init()
	assert.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Broker.Host)
	assert.Equal(t, 5672, cfg.Broker.Port)
	assert.Equal(t, 2047, cfg.Broker.ChannelMax)
	assert.Equal(t, 131072, cfg.Broker.FrameMax)
	assert.True(t, cfg.Persistence.Enabled)
	assert.Equal(t, "/var/lib/amqp-broker", cfg.Persistence.DataDir)
	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, "PLAIN", cfg.Auth.Mechanism)
}

func TestDumpConfig(t *testing.T) {
	cfg, err := Init()
	assert.NoError(t, err)

	loader := NewLoader(cfg)
	assert.NotPanics(t, func() {
		loader.DumpConfig()
	})
}
