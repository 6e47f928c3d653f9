package auth_test

import (
	"testing"
	"time"

	"aidanwoods.dev/go-paseto/v2"
	"github.com/architeacher/amqp-broker/internal/auth"
	"github.com/architeacher/amqp-broker/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAuthConfig(t *testing.T, key paseto.V4SymmetricKey, issuer string) config.AuthConfig {
	t.Helper()

	return config.AuthConfig{
		Enabled:      true,
		UsePaseto:    true,
		PasetoKeyHex: key.ExportHex(),
		PasetoIssuer: issuer,
	}
}

func signToken(t *testing.T, key paseto.V4SymmetricKey, issuer string, exp time.Time) string {
	t.Helper()

	token := paseto.NewToken()
	token.SetIssuedAt(time.Now())
	token.SetExpiration(exp)
	token.SetIssuer(issuer)
	token.SetAudience(issuer)

	return token.V4Encrypt(key, nil)
}

func TestPasetoValidatorAcceptsValidToken(t *testing.T) {
	t.Parallel()

	key := paseto.NewV4SymmetricKey()
	v, err := auth.NewPasetoValidator(testAuthConfig(t, key, "amqp-broker"))
	require.NoError(t, err)

	token := signToken(t, key, "amqp-broker", time.Now().Add(time.Hour))
	assert.NoError(t, v.Validate("PASETO", token))
}

func TestPasetoValidatorRejectsWrongMechanism(t *testing.T) {
	t.Parallel()

	key := paseto.NewV4SymmetricKey()
	v, err := auth.NewPasetoValidator(testAuthConfig(t, key, "amqp-broker"))
	require.NoError(t, err)

	assert.Error(t, v.Validate("PLAIN", "whatever"))
}

func TestPasetoValidatorRejectsExpiredToken(t *testing.T) {
	t.Parallel()

	key := paseto.NewV4SymmetricKey()
	v, err := auth.NewPasetoValidator(testAuthConfig(t, key, "amqp-broker"))
	require.NoError(t, err)

	token := signToken(t, key, "amqp-broker", time.Now().Add(-time.Hour))
	assert.Error(t, v.Validate("PASETO", token))
}

func TestPasetoValidatorRejectsWrongIssuer(t *testing.T) {
	t.Parallel()

	key := paseto.NewV4SymmetricKey()
	v, err := auth.NewPasetoValidator(testAuthConfig(t, key, "amqp-broker"))
	require.NoError(t, err)

	token := signToken(t, key, "someone-else", time.Now().Add(time.Hour))
	assert.Error(t, v.Validate("PASETO", token))
}

func TestPasetoValidatorRejectsTokenSignedWithDifferentKey(t *testing.T) {
	t.Parallel()

	key := paseto.NewV4SymmetricKey()
	other := paseto.NewV4SymmetricKey()
	v, err := auth.NewPasetoValidator(testAuthConfig(t, key, "amqp-broker"))
	require.NoError(t, err)

	token := signToken(t, other, "amqp-broker", time.Now().Add(time.Hour))
	assert.Error(t, v.Validate("PASETO", token))
}

func TestNewPasetoValidatorRejectsMalformedKey(t *testing.T) {
	t.Parallel()

	_, err := auth.NewPasetoValidator(config.AuthConfig{PasetoKeyHex: "not-hex", PasetoIssuer: "amqp-broker"})
	assert.Error(t, err)
}
