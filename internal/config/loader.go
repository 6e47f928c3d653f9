package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kelseyhightower/envconfig"
)

// Loader handles configuration loading and signal-driven config dumps.
// Unlike the secrets-repository-backed loader this was adapted from,
// there is no external store to poll: all configuration comes from the
// environment at process start, and SIGHUP simply re-dumps the
// in-memory config for operator inspection rather than reloading it.
type Loader struct {
	cfg              *ServiceConfig
	configSignalChan chan os.Signal
	reloadErrors     chan error
}

// NewLoader creates a new config loader instance.
func NewLoader(cfg *ServiceConfig) *Loader {
	return &Loader{
		cfg:              cfg,
		configSignalChan: make(chan os.Signal, 1),
		reloadErrors:     make(chan error, 1),
	}
}

// WatchConfigSignals monitors SIGHUP (dump current config) and SIGUSR1
// (dump current config) until ctx is cancelled. It returns a channel
// the caller can log from, kept for shape parity with reload-capable
// loaders even though this one never produces an error.
func (l *Loader) WatchConfigSignals(ctx context.Context) <-chan error {
	signal.Notify(l.configSignalChan, syscall.SIGHUP, syscall.SIGUSR1)

	go func() {
		defer signal.Stop(l.configSignalChan)
		defer close(l.configSignalChan)
		defer close(l.reloadErrors)

		for {
			select {
			case <-ctx.Done():
				return
			case <-l.configSignalChan:
				l.DumpConfig()
			}
		}
	}()

	return l.reloadErrors
}

// DumpConfig outputs the current configuration to stdout as JSON.
func (l *Loader) DumpConfig() {
	configJSON, err := json.MarshalIndent(l.cfg, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stdout, "Error marshaling config: %v\n", err)

		return
	}

	fmt.Fprintf(os.Stdout, "\n=== Configuration Dump ===\n%s\n=== End Configuration ===\n\n", string(configJSON))
}

// Init loads config from environment variables.
func Init() (*ServiceConfig, error) {
	cfg := &ServiceConfig{}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("unable to parse service configuration: %w", err)
	}

	if len(ServiceVersion) != 0 {
		cfg.AppConfig.ServiceVersion = ServiceVersion
	}
	if len(CommitSHA) != 0 {
		cfg.AppConfig.CommitSHA = CommitSHA
	}

	return cfg, nil
}
