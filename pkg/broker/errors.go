package broker

import "fmt"

// Reply codes used throughout the broker, as defined by AMQP 0-9-1 and
// narrowed to the subset this implementation emits.
const (
	ReplySuccess          = 200
	ReplyContentTooLarge  = 311
	ReplyNoRoute          = 313
	ReplyConnectionForced = 320
	ReplyInvalidPath      = 402
	ReplyAccessRefused    = 403
	ReplyNotFound         = 404
	ReplyResourceLocked   = 405
	ReplyPreconditionFail = 406
	ReplyFrameError       = 501
	ReplySyntaxError      = 502
	ReplyCommandInvalid   = 503
	ReplyChannelError     = 504
	ReplyUnexpectedFrame  = 505
	ReplyNotImplemented   = 540
	ReplyInternalError    = 541
)

var replyText = map[uint16]string{
	ReplySuccess:          "",
	ReplyContentTooLarge:  "CONTENT_TOO_LARGE",
	ReplyNoRoute:          "NO_CONSUMERS",
	ReplyConnectionForced: "CONNECTION_FORCED",
	ReplyInvalidPath:      "INVALID_PATH",
	ReplyAccessRefused:    "ACCESS_REFUSED",
	ReplyNotFound:         "NOT_FOUND",
	ReplyResourceLocked:   "RESOURCE_LOCKED",
	ReplyPreconditionFail: "PRECONDITION_FAILED",
	ReplyFrameError:       "FRAME_ERROR",
	ReplySyntaxError:      "SYNTAX_ERROR",
	ReplyCommandInvalid:   "COMMAND_INVALID",
	ReplyChannelError:     "CHANNEL_ERROR",
	ReplyUnexpectedFrame:  "UNEXPECTED_FRAME",
	ReplyNotImplemented:   "NOT_IMPLEMENTED",
	ReplyInternalError:    "INTERNAL_ERROR",
}

// Scope tells a frame-processing loop whether an AMQPError should close
// just a channel or tear down the whole connection.
type Scope int

const (
	ScopeChannel Scope = iota
	ScopeConnection
)

// AMQPError is the typed error carried through method dispatch; it maps
// directly onto the fields of a Channel.Close/Connection.Close method.
type AMQPError struct {
	ReplyCode uint16
	ReplyText string
	ClassID   uint16
	MethodID  uint16
	Scope     Scope
	Cause     error
}

func (e *AMQPError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%d): %s: %v", replyText[e.ReplyCode], e.ReplyCode, e.ReplyText, e.Cause)
	}

	return fmt.Sprintf("%s (%d): %s", replyText[e.ReplyCode], e.ReplyCode, e.ReplyText)
}

func (e *AMQPError) Unwrap() error {
	return e.Cause
}

func newError(code uint16, scope Scope, classID, methodID uint16, text string) *AMQPError {
	if text == "" {
		text = replyText[code]
	}

	return &AMQPError{
		ReplyCode: code,
		ReplyText: text,
		ClassID:   classID,
		MethodID:  methodID,
		Scope:     scope,
	}
}

func NewFrameError(text string) *AMQPError {
	return newError(ReplyFrameError, ScopeConnection, 0, 0, text)
}

func NewSyntaxError(classID, methodID uint16, text string) *AMQPError {
	return newError(ReplySyntaxError, ScopeChannel, classID, methodID, text)
}

func NewCommandInvalid(classID, methodID uint16, text string) *AMQPError {
	return newError(ReplyCommandInvalid, ScopeConnection, classID, methodID, text)
}

func NewChannelError(classID, methodID uint16, text string) *AMQPError {
	return newError(ReplyChannelError, ScopeChannel, classID, methodID, text)
}

func NewUnexpectedFrame(classID, methodID uint16, text string) *AMQPError {
	return newError(ReplyUnexpectedFrame, ScopeChannel, classID, methodID, text)
}

func NewPreconditionFailed(classID, methodID uint16, text string) *AMQPError {
	return newError(ReplyPreconditionFail, ScopeChannel, classID, methodID, text)
}

func NewAccessRefused(scope Scope, classID, methodID uint16, text string) *AMQPError {
	return newError(ReplyAccessRefused, scope, classID, methodID, text)
}

func NewNotFound(classID, methodID uint16, text string) *AMQPError {
	return newError(ReplyNotFound, ScopeChannel, classID, methodID, text)
}

func NewResourceLocked(classID, methodID uint16, text string) *AMQPError {
	return newError(ReplyResourceLocked, ScopeChannel, classID, methodID, text)
}

func NewInternalError(cause error) *AMQPError {
	err := newError(ReplyInternalError, ScopeConnection, 0, 0, "internal error")
	err.Cause = cause

	return err
}
