package infrastructure

import (
	"context"
	"net/http"
)

// NoOpMetrics implements broker.Metrics without recording anything,
// used when telemetry.metrics.enabled is false.
type NoOpMetrics struct{}

func (n *NoOpMetrics) IncConnectionsOpened()                  {}
func (n *NoOpMetrics) IncConnectionsClosed()                  {}
func (n *NoOpMetrics) IncChannelsOpened()                     {}
func (n *NoOpMetrics) IncChannelsClosed()                     {}
func (n *NoOpMetrics) IncMessagesPublished(string)             {}
func (n *NoOpMetrics) IncMessagesRouted(string, bool)          {}
func (n *NoOpMetrics) IncMessagesDelivered(string)             {}
func (n *NoOpMetrics) IncMessagesAcked(string)                 {}
func (n *NoOpMetrics) IncMessagesNacked(string)                {}
func (n *NoOpMetrics) IncMessagesRejected(string)              {}
func (n *NoOpMetrics) IncMessagesReturned(string)              {}
func (n *NoOpMetrics) ObserveQueueDepth(string, int)           {}

func (n *NoOpMetrics) Handler() http.Handler {
	return http.NotFoundHandler()
}

func (n *NoOpMetrics) Shutdown(_ context.Context) error {
	return nil
}
