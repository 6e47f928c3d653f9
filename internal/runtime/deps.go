package runtime

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/architeacher/amqp-broker/internal/auth"
	"github.com/architeacher/amqp-broker/internal/config"
	"github.com/architeacher/amqp-broker/internal/infrastructure"
	"github.com/architeacher/amqp-broker/internal/ratelimit"
	"github.com/architeacher/amqp-broker/pkg/broker"
	"github.com/architeacher/amqp-broker/pkg/broker/persistence"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// metricsServer is the small plain-net/http server exposing the
// Prometheus handler backing telemetry.metrics; the broker's own
// listener speaks only AMQP, so metrics get their own port.
type metricsServer struct {
	srv *http.Server
}

func newMetricsServer(port int, metrics broker.Metrics) *metricsServer {
	type handlerProvider interface {
		Handler() http.Handler
	}

	mux := http.NewServeMux()

	if hp, ok := metrics.(handlerProvider); ok {
		mux.Handle("/metrics", hp.Handler())
	}

	return &metricsServer{
		srv: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}
}

func (m *metricsServer) start() {
	go func() {
		_ = m.srv.ListenAndServe()
	}()
}

func (m *metricsServer) shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}

// Dependencies bundles everything dispatcher.ServiceCtx needs to start
// and stop the broker, adapted from the HTTP-service-oriented
// Dependencies this was grounded on: one listener, one store, one
// metrics/tracing pair instead of a web/publisher/subscriber trio.
type Dependencies struct {
	cfg          *config.ServiceConfig
	configLoader *config.Loader

	logger  *infrastructure.Logger
	metrics broker.Metrics

	tracerProvider *sdktrace.TracerProvider

	store     broker.Store
	admitter  *ratelimit.Admitter
	Broker    *broker.Broker

	metricsServer *metricsServer
}

func initializeDependencies(ctx context.Context) (*Dependencies, error) {
	cfg, err := config.Init()
	if err != nil {
		return nil, fmt.Errorf("unable to load service configuration: %w", err)
	}

	appLogger := infrastructure.NewLogger(cfg.Logging)

	appLogger.Info().Msg("initializing dependencies...")

	deps := &Dependencies{
		cfg:          cfg,
		configLoader: config.NewLoader(cfg),
		logger:       appLogger,
	}

	metrics, err := infrastructure.NewMetrics(ctx, *cfg, appLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	deps.metrics = metrics
	deps.metricsServer = newMetricsServer(cfg.Telemetry.Metrics.Port, metrics)

	tp, err := infrastructure.NewTracerProvider(ctx, *cfg, appLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	deps.tracerProvider = tp

	var store broker.Store = broker.NopStore{}
	if cfg.Persistence.Enabled {
		store, err = persistence.New(cfg.Persistence.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize persistence store: %w", err)
		}
	}
	deps.store = store

	credentialValidator, err := buildCredentialValidator(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential validator: %w", err)
	}

	admitter, err := ratelimit.NewAdmitter(cfg.RateLimiting)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize connection admitter: %w", err)
	}
	deps.admitter = admitter

	brokerCfg := broker.Config{
		ListenAddr:    net.JoinHostPort(cfg.Broker.Host, fmt.Sprintf("%d", cfg.Broker.Port)),
		ServerVersion: cfg.AppConfig.ServiceVersion,
		ChannelMax:    uint16(cfg.Broker.ChannelMax),
		FrameMax:      uint32(cfg.Broker.FrameMax),
		Heartbeat:     cfg.Broker.Heartbeat,
	}

	deps.Broker = broker.New(brokerCfg,
		broker.WithLogger(appLogger),
		broker.WithMetrics(metrics),
		broker.WithStore(store),
		broker.WithCredentialValidator(credentialValidator),
		broker.WithAdmitter(admitter.Allow),
	)

	appLogger.Info().Msg("dependencies initialized successfully")

	return deps, nil
}

func buildCredentialValidator(cfg config.AuthConfig) (broker.CredentialValidator, error) {
	if !cfg.Enabled {
		return broker.AllowAllValidator{}, nil
	}

	if cfg.UsePaseto {
		return auth.NewPasetoValidator(cfg)
	}

	return broker.PlainValidator{Username: cfg.Username, Password: cfg.Password}, nil
}
