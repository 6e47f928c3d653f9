package runtime

import (
	"os"
)

// ServiceOption customizes ServiceCtx construction. Only one service
// variant exists for this process (the broker listener), unlike the
// HTTP/publisher/subscriber trio this was adapted from.
type ServiceOption func(*ServiceCtx)

func WithServiceTermination(ch chan os.Signal) ServiceOption {
	return func(ctx *ServiceCtx) {
		ctx.shutdownChannel = ch
	}
}

func WithWaitingForServer() ServiceOption {
	return func(ctx *ServiceCtx) {
		ctx.serverReady = make(chan struct{})
	}
}
