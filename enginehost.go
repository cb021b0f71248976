// Package enginehost runs a set of processing engines under a supervising
// control plane: a progress watchdog, operator-interrupt handling and a
// coordinated, run-once shutdown.
//
// Example usage:
//
//	cfg := enginehost.DefaultConfig()
//	cfg.Engines = 4
//	cfg.Daemon = true
//	code, err := enginehost.Run(context.Background(), cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	os.Exit(code)
package enginehost

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/bft-labs/enginehost/internal/cliconfig"
	"github.com/bft-labs/enginehost/pkg/host"
	"github.com/bft-labs/enginehost/pkg/lifecycle"
)

// Config holds the host configuration.
// Use DefaultConfig() to get a Config with sensible defaults.
type Config = host.Config

// Option configures optional behavior of the host.
type Option = host.Option

// Exit statuses returned by Run.
const (
	ExitOK          = lifecycle.ExitOK
	ExitInterrupted = lifecycle.ExitInterrupted
	ExitFatal       = lifecycle.ExitFatal
)

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	var cfg Config
	cfg.SetDefaults()
	return cfg
}

// Run starts the host and blocks until its shutdown sequence has finished.
// It returns the exit status; the error is only set when the host could
// not be created.
func Run(ctx context.Context, cfg Config, opts ...Option) (int, error) {
	h, err := host.New(cfg, opts...)
	if err != nil {
		return ExitFatal, err
	}
	defer h.Coordinator().AtExit()
	return h.Run(ctx), nil
}

// Logger returns a console logger on stderr.
func Logger() zerolog.Logger {
	return cliconfig.Logger()
}
