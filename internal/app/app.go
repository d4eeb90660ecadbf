// Package app assembles the auction service. It builds the store, cache,
// blob and notification dependencies from configuration and runs one of the
// operating modes: the HTTP API (serve), the deadline watcher (watch), or
// offline key generation (keygen).
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gavelhouse/gavel/internal/config"
)

// App carries what every mode needs: configuration, the process logger, the
// build version reported by the status endpoint, and the cleanup functions
// collected while wiring.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	version string
	closers []func()
}

// New builds an App. An empty version is reported as "dev", matching an
// unstamped build.
func New(cfg *config.Config, logger *slog.Logger, version string) *App {
	if version == "" {
		version = "dev"
	}
	return &App{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "app")),
		version: version,
	}
}

// Run selects the operating mode, wires the backing services that mode
// needs, and blocks until the context is cancelled or the mode returns.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting gavel",
		slog.String("mode", a.cfg.Mode),
		slog.String("version", a.version),
		slog.String("log_level", a.cfg.LogLevel),
	)
	// Credentials are masked; the dump is for diagnosing layered overrides.
	a.logger.DebugContext(ctx, "effective configuration",
		slog.Any("config", config.RedactedConfig(a.cfg)))

	switch mode := strings.ToLower(a.cfg.Mode); mode {
	case "keygen":
		// Key generation is offline and must not touch the backing
		// services, so it skips wiring entirely.
		return a.KeygenMode(ctx)
	case "serve", "watch":
		deps, cleanup, err := Wire(ctx, a.cfg)
		if err != nil {
			return fmt.Errorf("app: wire dependencies: %w", err)
		}
		a.closers = append(a.closers, cleanup)
		if mode == "serve" {
			return a.ServeMode(ctx, deps)
		}
		return a.WatchMode(ctx, deps)
	default:
		return fmt.Errorf("app: unknown mode %q (expected serve, watch or keygen)", a.cfg.Mode)
	}
}

// Close runs the collected cleanup functions in reverse order. Calling it
// again is a no-op.
func (a *App) Close() {
	a.logger.Info("shutting down", slog.Int("cleanups", len(a.closers)))
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
