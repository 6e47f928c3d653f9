package broker_test

import (
	"errors"
	"testing"

	"github.com/architeacher/amqp-broker/pkg/broker"
	"github.com/stretchr/testify/assert"
)

func TestNewSyntaxErrorFields(t *testing.T) {
	t.Parallel()

	err := broker.NewSyntaxError(broker.ClassBasic, broker.MethodBasicPublish, "bad args")
	assert.Equal(t, uint16(broker.ReplySyntaxError), err.ReplyCode)
	assert.Equal(t, "bad args", err.ReplyText)
	assert.Equal(t, broker.ScopeChannel, err.Scope)
	assert.Contains(t, err.Error(), "SYNTAX_ERROR")
}

func TestNewFrameErrorIsConnectionScoped(t *testing.T) {
	t.Parallel()

	err := broker.NewFrameError("oversized frame")
	assert.Equal(t, broker.ScopeConnection, err.Scope)
	assert.Equal(t, uint16(broker.ReplyFrameError), err.ReplyCode)
}

func TestNewErrorDefaultsReplyTextWhenEmpty(t *testing.T) {
	t.Parallel()

	err := broker.NewNotFound(broker.ClassQueue, broker.MethodQueueDeclare, "")
	assert.Equal(t, "NOT_FOUND", err.ReplyText)
}

func TestNewInternalErrorWrapsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("disk full")
	err := broker.NewInternalError(cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk full")
}
