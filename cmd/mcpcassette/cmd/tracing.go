package cmd

import (
	"context"
	"log/slog"

	"github.com/mcpcassette/mcpcassette/internal/config"
	"github.com/mcpcassette/mcpcassette/internal/observability"
)

// maybeEnableTracing starts stdout OpenTelemetry tracing/metrics when
// either --trace or the config's observability.trace is set, returning a
// no-op-safe shutdown func to defer.
func maybeEnableTracing(ctx context.Context, cfg *config.Config, logger *slog.Logger) func(context.Context) error {
	if !traceFlag && !cfg.Observability.Trace {
		return func(context.Context) error { return nil }
	}
	t, err := observability.EnableTracing(ctx)
	if err != nil {
		logger.Warn("tracing: failed to start, continuing without it", "error", err)
		return func(context.Context) error { return nil }
	}
	return t.Shutdown
}
