package infrastructure

import (
	"context"
	"fmt"
	"net/http"

	"github.com/architeacher/amqp-broker/internal/config"
	"github.com/architeacher/amqp-broker/pkg/broker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const metricsNamespace = "amqp_broker"

// OTELMetrics implements broker.Metrics on top of an OTLP meter
// provider; its instruments are exported over OTLP/gRPC. Handler()
// serves the default Prometheus registry, which does not hold these
// instruments. Grounded on
// the teacher's internal/infrastructure/metrics.go construction, with
// the HTTP/analysis-pipeline instruments replaced by broker instruments.
type OTELMetrics struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	logger        *Logger

	connectionsOpened metric.Int64Counter
	connectionsClosed metric.Int64Counter
	channelsOpened    metric.Int64Counter
	channelsClosed    metric.Int64Counter
	messagesPublished metric.Int64Counter
	messagesRouted    metric.Int64Counter
	messagesDelivered metric.Int64Counter
	messagesAcked     metric.Int64Counter
	messagesNacked    metric.Int64Counter
	messagesRejected  metric.Int64Counter
	messagesReturned  metric.Int64Counter
	queueDepth        metric.Int64Histogram
}

func NewMetrics(ctx context.Context, cfg config.ServiceConfig, logger *Logger) (broker.Metrics, error) {
	if !cfg.Telemetry.Metrics.Enabled {
		logger.Info().Msg("metrics disabled, using NoOp implementation")

		return &NoOpMetrics{}, nil
	}

	return NewOTELMetrics(ctx, cfg, logger)
}

func NewOTELMetrics(ctx context.Context, cfg config.ServiceConfig, logger *Logger) (*OTELMetrics, error) {
	endpoint := fmt.Sprintf("%s:%s", cfg.Telemetry.OtelGRPCHost, cfg.Telemetry.OtelGRPCPort)

	conn, err := grpc.NewClient(
		endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to OTEL collector: %w", err)
	}

	exporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.AppConfig.ServiceName),
			semconv.ServiceVersionKey.String(cfg.AppConfig.ServiceVersion),
			semconv.ServiceInstanceIDKey.String(cfg.AppConfig.CommitSHA),
			semconv.DeploymentEnvironmentKey.String(cfg.AppConfig.Env),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(meterProvider)

	meter := meterProvider.Meter(
		metricsNamespace,
		metric.WithInstrumentationVersion(cfg.AppConfig.ServiceVersion),
	)

	provider := &OTELMetrics{
		meterProvider: meterProvider,
		meter:         meter,
		logger:        logger,
	}

	if err := provider.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	logger.Info().
		Str("otel_endpoint", endpoint).
		Msg("OTEL metrics provider initialized successfully")

	return provider, nil
}

func (om *OTELMetrics) initializeMetrics() error {
	var err error

	om.connectionsOpened, err = om.meter.Int64Counter(
		"connections_opened_total",
		metric.WithDescription("Total number of AMQP connections opened"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create connections_opened_total counter: %w", err)
	}

	om.connectionsClosed, err = om.meter.Int64Counter(
		"connections_closed_total",
		metric.WithDescription("Total number of AMQP connections closed"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create connections_closed_total counter: %w", err)
	}

	om.channelsOpened, err = om.meter.Int64Counter(
		"channels_opened_total",
		metric.WithDescription("Total number of channels opened"),
		metric.WithUnit("{channel}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create channels_opened_total counter: %w", err)
	}

	om.channelsClosed, err = om.meter.Int64Counter(
		"channels_closed_total",
		metric.WithDescription("Total number of channels closed"),
		metric.WithUnit("{channel}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create channels_closed_total counter: %w", err)
	}

	om.messagesPublished, err = om.meter.Int64Counter(
		"messages_published_total",
		metric.WithDescription("Total number of Basic.Publish methods received"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create messages_published_total counter: %w", err)
	}

	om.messagesRouted, err = om.meter.Int64Counter(
		"messages_routed_total",
		metric.WithDescription("Total number of messages routed into at least one queue"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create messages_routed_total counter: %w", err)
	}

	om.messagesDelivered, err = om.meter.Int64Counter(
		"messages_delivered_total",
		metric.WithDescription("Total number of Basic.Deliver/Basic.Get-ok frames sent to consumers"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create messages_delivered_total counter: %w", err)
	}

	om.messagesAcked, err = om.meter.Int64Counter(
		"messages_acked_total",
		metric.WithDescription("Total number of messages acknowledged"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create messages_acked_total counter: %w", err)
	}

	om.messagesNacked, err = om.meter.Int64Counter(
		"messages_nacked_total",
		metric.WithDescription("Total number of messages negatively acknowledged with requeue (Basic.Reject or Basic.Nack)"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create messages_nacked_total counter: %w", err)
	}

	om.messagesRejected, err = om.meter.Int64Counter(
		"messages_rejected_total",
		metric.WithDescription("Total number of messages rejected without requeue (Basic.Reject or Basic.Nack)"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create messages_rejected_total counter: %w", err)
	}

	om.messagesReturned, err = om.meter.Int64Counter(
		"messages_returned_total",
		metric.WithDescription("Total number of Basic.Return frames sent for unroutable mandatory publishes"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create messages_returned_total counter: %w", err)
	}

	om.queueDepth, err = om.meter.Int64Histogram(
		"queue_depth",
		metric.WithDescription("Observed queue depth at the time of a depth-affecting operation"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create queue_depth histogram: %w", err)
	}

	return nil
}

func (om *OTELMetrics) IncConnectionsOpened() { om.connectionsOpened.Add(context.Background(), 1) }
func (om *OTELMetrics) IncConnectionsClosed() { om.connectionsClosed.Add(context.Background(), 1) }
func (om *OTELMetrics) IncChannelsOpened()    { om.channelsOpened.Add(context.Background(), 1) }
func (om *OTELMetrics) IncChannelsClosed()    { om.channelsClosed.Add(context.Background(), 1) }

func (om *OTELMetrics) IncMessagesPublished(exchange string) {
	om.messagesPublished.Add(context.Background(), 1, metric.WithAttributes(ExchangeAttr(exchange)))
}

func (om *OTELMetrics) IncMessagesRouted(exchange string, matched bool) {
	result := "matched"
	if !matched {
		result = "unmatched"
	}

	om.messagesRouted.Add(context.Background(), 1, metric.WithAttributes(ExchangeAttr(exchange), ResultAttr(result)))
}

func (om *OTELMetrics) IncMessagesDelivered(queue string) {
	om.messagesDelivered.Add(context.Background(), 1, metric.WithAttributes(QueueAttr(queue)))
}

func (om *OTELMetrics) IncMessagesAcked(queue string) {
	om.messagesAcked.Add(context.Background(), 1, metric.WithAttributes(QueueAttr(queue)))
}

func (om *OTELMetrics) IncMessagesNacked(queue string) {
	om.messagesNacked.Add(context.Background(), 1, metric.WithAttributes(QueueAttr(queue)))
}

func (om *OTELMetrics) IncMessagesRejected(queue string) {
	om.messagesRejected.Add(context.Background(), 1, metric.WithAttributes(QueueAttr(queue)))
}

func (om *OTELMetrics) IncMessagesReturned(exchange string) {
	om.messagesReturned.Add(context.Background(), 1, metric.WithAttributes(ExchangeAttr(exchange)))
}

func (om *OTELMetrics) ObserveQueueDepth(queue string, depth int) {
	om.queueDepth.Record(context.Background(), int64(depth), metric.WithAttributes(QueueAttr(queue)))
}

func (om *OTELMetrics) Handler() http.Handler {
	return promhttp.Handler()
}

func (om *OTELMetrics) Shutdown(ctx context.Context) error {
	if err := om.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown meter provider: %w", err)
	}

	return nil
}
