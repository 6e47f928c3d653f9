package broker_test

import (
	"testing"

	"github.com/architeacher/amqp-broker/pkg/broker"
	"github.com/stretchr/testify/assert"
)

func TestAllowAllValidatorAlwaysSucceeds(t *testing.T) {
	t.Parallel()

	v := broker.AllowAllValidator{}
	assert.NoError(t, v.Validate("PLAIN", "anything"))
	assert.NoError(t, v.Validate("AMQPLAIN", ""))
}

func TestPlainValidatorAcceptsMatchingCredentials(t *testing.T) {
	t.Parallel()

	v := broker.PlainValidator{Username: "guest", Password: "secret"}
	resp := "\x00guest\x00secret"
	assert.NoError(t, v.Validate("PLAIN", resp))
}

func TestPlainValidatorRejectsWrongCredentials(t *testing.T) {
	t.Parallel()

	v := broker.PlainValidator{Username: "guest", Password: "secret"}
	assert.Error(t, v.Validate("PLAIN", "\x00guest\x00wrong"))
}

func TestPlainValidatorRejectsOtherMechanism(t *testing.T) {
	t.Parallel()

	v := broker.PlainValidator{Username: "guest", Password: "secret"}
	assert.Error(t, v.Validate("AMQPLAIN", "\x00guest\x00secret"))
}

func TestPlainValidatorRejectsMalformedResponse(t *testing.T) {
	t.Parallel()

	v := broker.PlainValidator{Username: "guest", Password: "secret"}
	assert.Error(t, v.Validate("PLAIN", "not-nul-terminated"))
}
