package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// ServiceCtx owns the broker's lifecycle: build dependencies, start
// accepting connections, watch for config-dump signals, and shut down
// on SIGINT/SIGTERM. Adapted from the HTTP-server ServiceCtx this was
// grounded on, with ListenAndServe/Shutdown replaced by broker.Start/Stop.
type ServiceCtx struct {
	deps *Dependencies

	shutdownChannel chan os.Signal

	serverCtx      context.Context
	serverStopFunc context.CancelFunc

	serverReady chan struct{}
}

func New(opt ...ServiceOption) *ServiceCtx {
	if len(opt) != 0 {
		sCtx := ServiceCtx{}

		for i := range opt {
			opt[i](&sCtx)
		}

		return &sCtx
	}

	return &ServiceCtx{
		shutdownChannel: make(chan os.Signal, 1),
	}
}

func (c *ServiceCtx) Run() {
	c.build()
	c.startService()
	c.monitorConfigChanges()
	c.shutdownHook()
	c.shutdown()
}

// build initializes the service components.
func (c *ServiceCtx) build() {
	c.serverCtx, c.serverStopFunc = context.WithCancel(context.Background())

	deps, err := initializeDependencies(c.serverCtx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	c.deps = deps
}

// startService starts the broker's listener and the metrics server.
func (c *ServiceCtx) startService() {
	c.deps.metricsServer.start()

	go func() {
		c.deps.logger.Info().
			Str("address", c.deps.Broker.ListenAddr()).
			Msg("broker starting up")

		if c.serverReady != nil {
			c.serverReady <- struct{}{}
		}

		if err := c.deps.Broker.Start(c.serverCtx); err != nil {
			c.deps.logger.Error().Err(err).Msg("broker stopped")
			c.serverStopFunc()

			return
		}
	}()
}

func (c *ServiceCtx) shutdownHook() {
	signal.Notify(c.shutdownChannel, syscall.SIGINT, syscall.SIGTERM)
}

func (c *ServiceCtx) monitorConfigChanges() {
	reloadErrors := c.deps.configLoader.WatchConfigSignals(c.serverCtx)

	go func() {
		for err := range reloadErrors {
			if err != nil {
				c.deps.logger.Error().Err(err).Msg("failed to reload config")
				continue
			}
		}

		c.deps.logger.Info().Msg("stopping config monitor")
	}()
}

func (c *ServiceCtx) shutdown() {
	// Waits for one of the following shutdown conditions to happen.
	select {
	case <-c.serverCtx.Done():
	case <-c.shutdownChannel:
		defer close(c.shutdownChannel)
	}

	c.deps.logger.Info().Msg("received shutdown signal")

	// Cancel context so underlying processes start cleanup.
	c.serverStopFunc()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.deps.cfg.Broker.ShutdownGrace)

	go func() {
		<-shutdownCtx.Done()

		if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
			c.deps.logger.Error().Msg("graceful shutdown timed out.. forcing exit.")
			cancel()
			os.Exit(1)
		}
	}()

	c.cleanup(shutdownCtx)

	c.deps.logger.Info().Msg("broker shutdown completed")
}

// WaitForServer returns once the start-up goroutine signals readiness,
// which happens just before Broker.Start is called, so the listener may
// not be bound yet. It only blocks when ServiceCtx was instantiated with
// WithWaitingForServer.
func (c *ServiceCtx) WaitForServer() {
	if c.serverReady != nil {
		<-c.serverReady
		close(c.serverReady)
	}
}

func (c *ServiceCtx) cleanup(shutdownCtx context.Context) {
	c.deps.logger.Info().Msg("cleaning up resources...")

	if err := c.deps.Broker.Stop(shutdownCtx); err != nil {
		c.deps.logger.Error().Err(err).Msg("unable to gracefully stop broker")
	}

	if err := c.deps.store.Close(); err != nil {
		c.deps.logger.Error().Err(err).Msg("failed to close persistence store")
	}

	if err := c.deps.metricsServer.shutdown(shutdownCtx); err != nil {
		c.deps.logger.Error().Err(err).Msg("failed to shut down metrics server")
	}

	if err := c.deps.tracerProvider.Shutdown(shutdownCtx); err != nil {
		c.deps.logger.Error().Err(err).Msg("failed to shut down tracer provider")
	}

	c.deps.logger.Info().Msg("cleanup completed")
}
